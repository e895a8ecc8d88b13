package domain

import "strings"

// MailboxAddress 由用户名与固定域名组成的临时邮箱地址。
//
// 仅用于校验与格式化，不会被持久化。
type MailboxAddress struct {
	Username string
	Domain   string
}

// NewMailboxAddress 使用已通过校验的用户名构造邮箱地址。
func NewMailboxAddress(username, domain string) MailboxAddress {
	return MailboxAddress{
		Username: strings.ToLower(username),
		Domain:   strings.ToLower(strings.TrimPrefix(domain, "@")),
	}
}

// String 返回完整地址，如 "alice@temp.mail"。
func (a MailboxAddress) String() string {
	return a.Username + "@" + a.Domain
}

// UsernameFromAddress 提取地址中第一个 @ 之前的部分并转为小写。
//
// 没有 @ 时整个字符串都视为用户名。
func UsernameFromAddress(address string) string {
	local, _, _ := strings.Cut(address, "@")
	return strings.ToLower(local)
}

// DomainFromAddress 提取地址中第一个 @ 之后的部分并转为小写。
func DomainFromAddress(address string) string {
	_, domain, ok := strings.Cut(address, "@")
	if !ok {
		return ""
	}
	return strings.ToLower(domain)
}

// SanitizeUsername 转为小写并删除 [a-z0-9-] 以外的字符。
//
// 供输入框一类的客户端逻辑使用；服务端收信路径不做字符清洗。
func SanitizeUsername(raw string) string {
	raw = strings.ToLower(raw)
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if isUsernameRune(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isUsernameRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-'
}
