package domain

import (
	"sort"
	"strings"
)

// RejectReason 用户名被拒绝的原因。
type RejectReason string

const (
	// RejectNone 表示未拒绝。
	RejectNone RejectReason = ""
	// RejectEmpty 未提供用户名。
	RejectEmpty RejectReason = "empty"
	// RejectReserved 用户名属于保留字。
	RejectReserved RejectReason = "reserved"
	// RejectInvalid 用户名包含 [a-z0-9-] 以外的字符，仅在查询路径上检查。
	RejectInvalid RejectReason = "invalid"
)

// Message 返回面向用户的提示文本。
func (r RejectReason) Message() string {
	switch r {
	case RejectEmpty:
		return "username must not be empty"
	case RejectReserved:
		return "this username is not allowed"
	case RejectInvalid:
		return "username may only contain lowercase letters, digits and hyphens"
	default:
		return ""
	}
}

// reservedUsernames 进程级只读保留用户名集合，初始化后不再修改。
var reservedUsernames = func() map[string]struct{} {
	names := []string{"admin", "user", "root", "support", "info", "test", "webmaster", "administrator"}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}()

// ReservedUsernames 返回排序后的保留用户名副本。
func ReservedUsernames() []string {
	out := make([]string, 0, len(reservedUsernames))
	for n := range reservedUsernames {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// IsReserved 判断用户名是否为保留字（不区分大小写）。
func IsReserved(username string) bool {
	_, ok := reservedUsernames[strings.ToLower(username)]
	return ok
}

// Decision 用户名准入结果。
//
// 拒绝是正常的控制流结果，不是错误。
type Decision struct {
	Admitted bool
	Username string
	Reason   RejectReason
}

// Admit 收信路径使用的准入检查：转小写后判断是否为空或保留字。
//
// 不校验字符集，信封收件人除大小写外原样信任。
func Admit(raw string) Decision {
	username := strings.ToLower(raw)
	if username == "" {
		return Decision{Reason: RejectEmpty}
	}
	if IsReserved(username) {
		return Decision{Username: username, Reason: RejectReserved}
	}
	return Decision{Admitted: true, Username: username}
}

// AdmitStrict 查询路径使用的准入检查，在 Admit 的基础上要求字符集为 [a-z0-9-]。
func AdmitStrict(raw string) Decision {
	d := Admit(raw)
	if !d.Admitted {
		return d
	}
	for _, r := range d.Username {
		if !isUsernameRune(r) {
			return Decision{Username: d.Username, Reason: RejectInvalid}
		}
	}
	return d
}
