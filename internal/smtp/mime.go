package smtp

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jhillyerd/enmime"

	"tempinbox/backend/internal/domain"
)

// ErrEmptyMessage 原始邮件内容为空。
var ErrEmptyMessage = errors.New("empty message")

// maxSenderRunes 与 emails.sender 列宽一致
const maxSenderRunes = 512

// MIMEParser 基于 enmime 的默认解析器。
type MIMEParser struct{}

// Parse 实现 service.Parser 接口。
func (MIMEParser) Parse(raw []byte) (*domain.ParsedEmail, error) {
	return ParseEmail(raw)
}

// ParseEmail 解析邮件，提取发件人、主题、纯文本与 HTML 正文。
func ParseEmail(raw []byte) (*domain.ParsedEmail, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyMessage
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse mail: %w", err)
	}

	parsed := &domain.ParsedEmail{
		Sender:    senderOf(env),
		Subject:   env.GetHeader("Subject"),
		Text:      env.Text,
		HTML:      env.HTML,
		MessageID: strings.TrimSpace(env.GetHeader("Message-ID")),
	}

	// enmime 在缺少 text/plain 时会把 HTML 转成纯文本，这里只保留原文
	if parsed.HTML != "" && !hasPlainTextPart(env.Root) {
		parsed.Text = ""
	}

	// 数据库只接受合法 UTF-8，非法字节在这里替换掉，否则写库失败会被当成可重试错误
	parsed.Sender = truncateRunes(validUTF8(parsed.Sender), maxSenderRunes)
	parsed.Subject = validUTF8(parsed.Subject)
	parsed.Text = validUTF8(parsed.Text)
	parsed.HTML = validUTF8(parsed.HTML)
	parsed.MessageID = validUTF8(parsed.MessageID)

	return parsed, nil
}

// senderOf 取第一个 From 地址，优先使用地址本身，其次显示名。
//
// 头部无法按地址列表解析时退回到解码后的原始头部文本。
func senderOf(env *enmime.Envelope) string {
	list, err := env.AddressList("From")
	if err == nil && len(list) > 0 && list[0] != nil {
		if list[0].Address != "" {
			return list[0].Address
		}
		return strings.TrimSpace(list[0].Name)
	}
	return unquote(strings.TrimSpace(env.GetHeader("From")))
}

// unquote 去掉只有显示名时包裹的引号
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return strings.TrimSpace(strings.ReplaceAll(s[1:len(s)-1], `\"`, `"`))
	}
	return s
}

func validUTF8(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func hasPlainTextPart(root *enmime.Part) bool {
	if root == nil {
		return false
	}
	match := root.BreadthMatchFirst(func(p *enmime.Part) bool {
		return strings.EqualFold(p.ContentType, "text/plain") && !strings.EqualFold(p.Disposition, "attachment")
	})
	return match != nil
}
