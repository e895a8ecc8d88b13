package filesystem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tempinbox/backend/internal/domain"
)

// ErrRawNotFound 原始邮件不存在
var ErrRawNotFound = errors.New("raw message not found")

// Store 原始邮件归档，按收件人分目录保存 .eml 文件
//
// 目录结构: {basePath}/{recipient}/{YYYY-MM-DD}/{emailID}.eml
type Store struct {
	basePath      string
	platformUtils *PlatformUtils
}

// NewStore 创建文件系统归档实例
func NewStore(basePath string) (*Store, error) {
	platformUtils := NewPlatformUtils()

	if err := platformUtils.ValidatePath(basePath); err != nil {
		return nil, fmt.Errorf("invalid base path: %w", err)
	}

	normalizedPath := platformUtils.NormalizePath(basePath)

	if err := os.MkdirAll(normalizedPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Store{
		basePath:      normalizedPath,
		platformUtils: platformUtils,
	}, nil
}

// BasePath 返回归档根目录
func (s *Store) BasePath() string {
	return s.basePath
}

// SaveRaw 保存原始邮件，先写临时文件再重命名，读取方不会看到半截内容
func (s *Store) SaveRaw(ctx context.Context, email *domain.Email, raw []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.rawPath(email)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create message directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".incoming-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write raw message: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close raw message: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to store raw message: %w", err)
	}
	return nil
}

// GetRaw 读取原始邮件
func (s *Store) GetRaw(email *domain.Email) ([]byte, error) {
	path, err := s.rawPath(email)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrRawNotFound
		}
		return nil, fmt.Errorf("failed to read raw message: %w", err)
	}
	return content, nil
}

// Health 检查根目录是否可写
func (s *Store) Health() error {
	f, err := os.CreateTemp(s.basePath, ".health-*")
	if err != nil {
		return fmt.Errorf("archive not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// rawPath 计算邮件的归档路径，并确认其不会逃逸出根目录
func (s *Store) rawPath(email *domain.Email) (string, error) {
	recipient := s.platformUtils.SanitizeFilename(strings.ToLower(email.Recipient))
	id := s.platformUtils.SanitizeFilename(email.ID)
	if recipient == "" || id == "" {
		return "", fmt.Errorf("invalid archive key: recipient=%q id=%q", email.Recipient, email.ID)
	}

	day := email.CreatedAt.UTC().Format("2006-01-02")
	path := filepath.Join(s.basePath, recipient, day, id+".eml")
	if !s.platformUtils.Within(s.basePath, path) {
		return "", fmt.Errorf("archive path escapes base directory: %s", path)
	}
	return path, nil
}
