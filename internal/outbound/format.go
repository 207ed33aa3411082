package outbound

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxMessageLength 文本与 Markdown 消息的长度上限
const MaxMessageLength = 4096

const truncatedSuffix = "\n...(已截断)"

var (
	fencedCodeRegex = regexp.MustCompile("(?s)```.*?```")
	subHeadingRegex = regexp.MustCompile(`(?m)^#{2,} `)
	boldRegex       = regexp.MustCompile(`\*\*([^*]+)\*\*`)
)

// ToWeComMarkdown 将通用 Markdown 转换为企业微信支持的子集
// 代码块替换为占位符，多级标题降为一级，**加粗** 改为 *加粗*
func ToWeComMarkdown(markdown string) string {
	result := fencedCodeRegex.ReplaceAllString(markdown, "`代码块`")
	result = subHeadingRegex.ReplaceAllString(result, "# ")
	result = boldRegex.ReplaceAllString(result, "*$1*")
	return result
}

// Truncate 超过 maxLength 个字符时截断并追加提示
func Truncate(text string, maxLength int) string {
	if utf8.RuneCountInString(text) <= maxLength {
		return text
	}
	keep := maxLength - utf8.RuneCountInString(truncatedSuffix)
	if keep < 0 {
		keep = 0
	}
	runes := []rune(text)
	return string(runes[:keep]) + truncatedSuffix
}

// ChunkText 按换行把文本切分为每块不超过 limit 个字符
// 单行超过 limit 时按字符硬切分
func ChunkText(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var (
		chunks  []string
		current strings.Builder
		size    int
	)
	flush := func() {
		if chunk := strings.Trim(current.String(), "\n"); strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
		current.Reset()
		size = 0
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		n := utf8.RuneCountInString(line)
		if size+n > limit {
			flush()
		}
		for n > limit {
			runes := []rune(line)
			chunks = append(chunks, string(runes[:limit]))
			line = string(runes[limit:])
			n -= limit
		}
		current.WriteString(line)
		size += n
	}
	flush()

	return chunks
}
