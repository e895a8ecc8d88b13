package domain

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail  = errors.New("invalid email format")
	ErrEmailTooLong  = errors.New("email address too long")
	ErrDomainTooLong = errors.New("domain too long (max 253 chars)")
	ErrInvalidDomain = errors.New("invalid domain format")
)

// 验证常量
const (
	// RFC 5321 地址长度限制
	MaxEmailLength  = 254 // 整个邮箱地址最大长度
	MaxDomainLength = 253 // 域名最大长度
)

// 域名验证（支持子域名）
var domainRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?(\.[a-zA-Z0-9][a-zA-Z0-9-]{0,61}[a-zA-Z0-9]?)*$`)

// ValidateDomain 验证域名格式
func ValidateDomain(domain string) error {
	if domain == "" {
		return ErrInvalidDomain
	}

	if len(domain) > MaxDomainLength {
		return ErrDomainTooLong
	}

	if !domainRegex.MatchString(domain) {
		return ErrInvalidDomain
	}

	// 每个标签不超过 63 字符
	for _, label := range strings.Split(domain, ".") {
		if len(label) > 63 || strings.HasSuffix(label, "-") {
			return ErrInvalidDomain
		}
	}

	return nil
}

// ParseRecipient 校验信封收件人并返回 "local@domain" 形式的小写地址。
//
// 只检查结构，不对本地部分做字符限制，准入由 Admit 决定。
func ParseRecipient(address string) (string, error) {
	address = strings.ToLower(strings.TrimSpace(address))
	address = strings.TrimSuffix(strings.TrimPrefix(address, "<"), ">")

	if address == "" {
		return "", ErrInvalidEmail
	}
	if len(address) > MaxEmailLength {
		return "", ErrEmailTooLong
	}

	parsed, err := mail.ParseAddress(address)
	if err != nil {
		return "", ErrInvalidEmail
	}

	local, domain, ok := strings.Cut(parsed.Address, "@")
	if !ok || local == "" || strings.Contains(domain, "@") {
		return "", ErrInvalidEmail
	}
	if err := ValidateDomain(domain); err != nil {
		return "", err
	}

	return parsed.Address, nil
}
