package filesystem

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"unicode"
)

// invalidChars 在任一主流平台上都不能出现在文件名中的字符
var invalidChars = []string{"<", ">", ":", "\"", "|", "?", "*", "\\", "/"}

// PlatformUtils 平台兼容性工具
type PlatformUtils struct{}

// NewPlatformUtils 创建平台工具实例
func NewPlatformUtils() *PlatformUtils {
	return &PlatformUtils{}
}

// SanitizeFilename 清理文件名，确保跨平台兼容
//
// 返回空字符串表示输入无法构成合法文件名。
func (p *PlatformUtils) SanitizeFilename(filename string) string {
	// 1. 移除控制字符（包括 NUL）
	filename = p.removeControlChars(filename)

	// 2. 替换不允许的字符，路径分隔符也在其中
	for _, char := range invalidChars {
		filename = strings.ReplaceAll(filename, char, "_")
	}

	// 3. 移除前后空格和点，"." 与 ".." 会变为空
	filename = strings.Trim(filename, " .")

	// 4. 限制长度
	return p.limitLength(filename, 200)
}

// removeControlChars 移除控制字符
func (p *PlatformUtils) removeControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// limitLength 限制字符串长度，保留扩展名
func (p *PlatformUtils) limitLength(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}

	ext := filepath.Ext(s)
	nameWithoutExt := strings.TrimSuffix(s, ext)

	availableLen := maxLen - len(ext)
	if availableLen <= 0 {
		return s[:maxLen]
	}

	return nameWithoutExt[:availableLen] + ext
}

// ValidatePath 验证路径是否安全
func (p *PlatformUtils) ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path is empty")
	}

	if len(path) > 2000 {
		return fmt.Errorf("path too long: %d characters", len(path))
	}

	for _, part := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return fmt.Errorf("path traversal detected: %s", path)
		}
	}

	return nil
}

// IsCaseSensitive 检查当前文件系统是否大小写敏感
func (p *PlatformUtils) IsCaseSensitive() bool {
	switch runtime.GOOS {
	case "windows", "darwin":
		return false
	default:
		return true
	}
}

// NormalizePath 转换为清理过的绝对路径
func (p *PlatformUtils) NormalizePath(path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return filepath.Clean(absPath)
}

// Within 判断 target 是否位于 root 目录之内
func (p *PlatformUtils) Within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
