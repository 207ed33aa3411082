package outbound

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestToWeComMarkdown(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bold", "**重要** 通知", "*重要* 通知"},
		{"headings", "## 标题\n### 小节", "# 标题\n# 小节"},
		{"code block", "看这里\n```go\nfmt.Println()\n```\n结束", "看这里\n`代码块`\n结束"},
		{"inline code kept", "use `go test`", "use `go test`"},
		{"link kept", "[文档](https://example.com)", "[文档](https://example.com)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToWeComMarkdown(tt.in))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))

	long := strings.Repeat("测", 5000)
	out := Truncate(long, MaxMessageLength)
	assert.Equal(t, MaxMessageLength, utf8.RuneCountInString(out))
	assert.True(t, strings.HasSuffix(out, truncatedSuffix))
	assert.True(t, utf8.ValidString(out))
}

func TestChunkText(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{"fits", "a\nb", 10, []string{"a\nb"}},
		{"split on newline", "aaa\nbbb\nccc", 8, []string{"aaa\nbbb", "ccc"}},
		{"long line hard split", "abcdefgh\nij", 3, []string{"abc", "def", "gh", "ij"}},
		{"runes", "甲乙丙丁\n戊", 4, []string{"甲乙丙丁", "戊"}},
		{"blank lines dropped", "aaa\n\n\n\nbbb", 4, []string{"aaa", "bbb"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ChunkText(tt.text, tt.limit)
			assert.Equal(t, tt.want, got)
			for _, chunk := range got {
				assert.LessOrEqual(t, utf8.RuneCountInString(chunk), tt.limit)
			}
		})
	}
}
