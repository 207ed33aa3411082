// Package outbound 负责把文本回复发送到企业微信：解析目标、格式化、调用发送接口
package outbound

import (
	"errors"
	"regexp"
	"strings"

	"go-wecom-callback/internal/adapter/client"
)

// TargetKind 接收方类型
type TargetKind string

const (
	TargetUser  TargetKind = "user"
	TargetParty TargetKind = "party"
	TargetTag   TargetKind = "tag"
)

// ErrInvalidTarget 目标字符串为空或前缀后没有 ID
var ErrInvalidTarget = errors.New("invalid wecom target")

// Target 解析后的接收方
type Target struct {
	Kind     TargetKind
	ID       string
	Original string
}

var userIDRegex = regexp.MustCompile(`^[A-Za-z0-9\-_]+$`)

// ParseTarget 解析目标字符串
// 支持 "USERID"、"user:USERID"、"party:PARTYID"、"tag:TAGID"
func ParseTarget(raw string) (Target, error) {
	trimmed := strings.TrimSpace(raw)

	for _, kind := range []TargetKind{TargetUser, TargetParty, TargetTag} {
		prefix := string(kind) + ":"
		if rest, ok := strings.CutPrefix(trimmed, prefix); ok {
			if id := strings.TrimSpace(rest); id != "" {
				return Target{Kind: kind, ID: id, Original: trimmed}, nil
			}
		}
	}

	if trimmed == "" {
		return Target{}, ErrInvalidTarget
	}
	return Target{Kind: TargetUser, ID: trimmed, Original: trimmed}, nil
}

// Display 用于日志展示
func (t Target) Display() string {
	switch t.Kind {
	case TargetParty:
		return "部门: " + t.ID
	case TargetTag:
		return "标签: " + t.ID
	default:
		return t.Original
	}
}

// Recipient 转换为发送接口的接收方字段
func (t Target) Recipient() client.Recipient {
	switch t.Kind {
	case TargetParty:
		return client.Recipient{ToParty: t.ID}
	case TargetTag:
		return client.Recipient{ToTag: t.ID}
	default:
		return client.Recipient{ToUser: t.ID}
	}
}

// LooksLikeUserID 判断字符串是否像企业微信成员 UserID
func LooksLikeUserID(raw string) bool {
	return userIDRegex.MatchString(strings.TrimSpace(raw))
}
