package storage

import (
	"context"
	"errors"

	"tempinbox/backend/internal/domain"
)

var (
	// ErrEmailNotFound 邮件未找到错误
	ErrEmailNotFound = errors.New("email not found")
	// ErrEmailExists 邮件 ID 冲突
	ErrEmailExists = errors.New("email already exists")
)

// EmailRepository 定义邮件数据存取操作。
//
// 记录只追加不修改，也没有删除操作。
type EmailRepository interface {
	// InsertEmail 原子地写入单条记录，失败时不会留下部分数据。
	InsertEmail(ctx context.Context, email *domain.Email) error
	// ListEmailsByRecipient 按 created_at 倒序返回收件人的邮件摘要，同一时间按 id 倒序。
	ListEmailsByRecipient(ctx context.Context, recipient string) ([]domain.EmailSummary, error)
	// GetEmail 根据 ID 获取完整邮件，不存在时返回 ErrEmailNotFound。
	GetEmail(ctx context.Context, id string) (*domain.Email, error)
}

// NewMailPublisher 在邮件写入后发布通知。
type NewMailPublisher interface {
	PublishNewMail(ctx context.Context, email *domain.Email) error
}

// RawArchive 保存原始邮件内容。
type RawArchive interface {
	SaveRaw(ctx context.Context, email *domain.Email, raw []byte) error
}

// Store 定义完整的存储接口。
type Store interface {
	EmailRepository

	// 工具方法
	Close() error
	Health() error
}
