package wework

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"
)

// MsgType 消息类型常量
const (
	MsgTypeText  = "text"
	MsgTypeImage = "image"
	MsgTypeVoice = "voice"
	MsgTypeVideo = "video"
	MsgTypeFile  = "file"
	MsgTypeEvent = "event"
)

// Event 解密后的回调消息，按 MsgType 区分的封闭联合类型
// 具体类型为 *TextMessage、*ImageMessage、*VoiceMessage、*VideoMessage、*FileMessage、*AppEvent
type Event interface {
	Header() EventHeader
	isEvent()
}

// EventHeader 所有消息类型共有的字段
type EventHeader struct {
	ToUserName   string
	FromUserName string
	CreateTime   int64
	MsgType      string
	MsgID        string
	AgentID      int64
}

// Header 返回公共字段
func (h EventHeader) Header() EventHeader { return h }

func (EventHeader) isEvent() {}

// TextMessage 文本消息
type TextMessage struct {
	EventHeader
	Content string
}

// ImageMessage 图片消息
type ImageMessage struct {
	EventHeader
	MediaID string
	PicURL  string
}

// VoiceMessage 语音消息
type VoiceMessage struct {
	EventHeader
	MediaID     string
	Format      string
	Recognition string
}

// VideoMessage 视频消息
type VideoMessage struct {
	EventHeader
	MediaID      string
	ThumbMediaID string
	Title        string
	Description  string
}

// FileMessage 文件消息
type FileMessage struct {
	EventHeader
	MediaID string
	Title   string
	FileExt string
}

// AppEvent 事件推送（subscribe、enter_agent、location、click 等）
type AppEvent struct {
	EventHeader
	Event     string
	EventKey  string
	Latitude  float64
	Longitude float64
	Precision float64
}

// rawEvent 明文消息的全部字段，JSON 和 XML 共用
type rawEvent struct {
	XMLName      xml.Name   `xml:"xml" json:"-"`
	ToUserName   string     `xml:"ToUserName" json:"ToUserName"`
	FromUserName string     `xml:"FromUserName" json:"FromUserName"`
	CreateTime   int64      `xml:"CreateTime" json:"CreateTime"`
	MsgType      string     `xml:"MsgType" json:"MsgType"`
	MsgID        flexString `xml:"MsgId" json:"MsgId"`
	AgentID      int64      `xml:"AgentID" json:"AgentID"`
	Content      string     `xml:"Content" json:"Content"`
	MediaID      string     `xml:"MediaId" json:"MediaId"`
	PicURL       string     `xml:"PicUrl" json:"PicUrl"`
	Format       string     `xml:"Format" json:"Format"`
	Recognition  string     `xml:"Recognition" json:"Recognition"`
	ThumbMediaID string     `xml:"ThumbMediaId" json:"ThumbMediaId"`
	Title        string     `xml:"Title" json:"Title"`
	Description  string     `xml:"Description" json:"Description"`
	FileExt      string     `xml:"FileExt" json:"FileExt"`
	Event        string     `xml:"Event" json:"Event"`
	EventKey     string     `xml:"EventKey" json:"EventKey"`
	Latitude     float64    `xml:"Latitude" json:"Latitude"`
	Longitude    float64    `xml:"Longitude" json:"Longitude"`
	Precision    float64    `xml:"Precision" json:"Precision"`
}

// flexString 兼容 MsgId 以字符串或数字形式出现
type flexString string

// UnmarshalJSON 接受字符串、数字或 null
func (s *flexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	if string(data) == "null" {
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = flexString(n.String())
	return nil
}

// ParseEvent 将解密后的明文解析为具体消息类型
// 以 '<' 开头的明文按 XML 解析，其余按 JSON 解析
func ParseEvent(plaintext []byte) (Event, error) {
	var raw rawEvent
	if isXML(plaintext) {
		if err := xml.Unmarshal(plaintext, &raw); err != nil {
			return nil, fmt.Errorf("unmarshal xml event: %w", err)
		}
	} else {
		if err := json.Unmarshal(plaintext, &raw); err != nil {
			return nil, fmt.Errorf("unmarshal json event: %w", err)
		}
	}

	h := EventHeader{
		ToUserName:   raw.ToUserName,
		FromUserName: raw.FromUserName,
		CreateTime:   raw.CreateTime,
		MsgType:      raw.MsgType,
		MsgID:        string(raw.MsgID),
		AgentID:      raw.AgentID,
	}

	switch raw.MsgType {
	case MsgTypeText:
		return &TextMessage{EventHeader: h, Content: raw.Content}, nil
	case MsgTypeImage:
		return &ImageMessage{EventHeader: h, MediaID: raw.MediaID, PicURL: raw.PicURL}, nil
	case MsgTypeVoice:
		return &VoiceMessage{EventHeader: h, MediaID: raw.MediaID, Format: raw.Format, Recognition: raw.Recognition}, nil
	case MsgTypeVideo:
		return &VideoMessage{
			EventHeader:  h,
			MediaID:      raw.MediaID,
			ThumbMediaID: raw.ThumbMediaID,
			Title:        raw.Title,
			Description:  raw.Description,
		}, nil
	case MsgTypeFile:
		return &FileMessage{EventHeader: h, MediaID: raw.MediaID, Title: raw.Title, FileExt: raw.FileExt}, nil
	case MsgTypeEvent:
		return &AppEvent{
			EventHeader: h,
			Event:       raw.Event,
			EventKey:    raw.EventKey,
			Latitude:    raw.Latitude,
			Longitude:   raw.Longitude,
			Precision:   raw.Precision,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMsgType, strconv.Quote(raw.MsgType))
	}
}

func isXML(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '<'
}
