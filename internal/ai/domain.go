package ai

// ChatRequest 转发给 AI 助手的会话请求
type ChatRequest struct {
	AccountID string `json:"account_id"`
	UserID    string `json:"user_id"`
	MsgID     string `json:"msg_id,omitempty"`
	Content   string `json:"content"`
	Source    string `json:"source"` // "wecom"
}

// ChatResponse AI 助手响应，三项均为空表示不回复
// 有附件时 Reply 作为附件说明发送
type ChatResponse struct {
	Reply      string      `json:"reply"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Card       *Card       `json:"card,omitempty"`
}

// Attachment 回复附带的文件，Data 在 JSON 中为 Base64
type Attachment struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// Card 以文本卡片形式回复的链接
type Card struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	BtnText     string `json:"btn_text,omitempty"`
}
