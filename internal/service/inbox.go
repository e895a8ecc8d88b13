package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/storage"
)

var (
	// ErrUsernameRejected 用户名未通过准入检查。
	ErrUsernameRejected = errors.New("username rejected")
	// ErrStoreUnavailable 存储暂时不可用。
	ErrStoreUnavailable = errors.New("store unavailable")
)

// RejectedError 携带拒绝原因的错误，errors.Is 可匹配 ErrUsernameRejected。
type RejectedError struct {
	Decision domain.Decision
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("username %q rejected: %s", e.Decision.Username, e.Decision.Reason)
}

// Is 支持 errors.Is(err, ErrUsernameRejected)。
func (e *RejectedError) Is(target error) bool {
	return target == ErrUsernameRejected
}

// InboxService 提供只读的收件箱查询。
type InboxService struct {
	repo       storage.EmailRepository
	mailDomain string
	logger     *zap.Logger
}

// NewInboxService 创建收件箱查询服务。
func NewInboxService(repo storage.EmailRepository, mailDomain string, logger *zap.Logger) *InboxService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InboxService{
		repo:       repo,
		mailDomain: mailDomain,
		logger:     logger,
	}
}

// Domain 返回收件地址使用的域名。
func (s *InboxService) Domain() string {
	return s.mailDomain
}

// Admit 对查询路径上的用户名做准入检查。
func (s *InboxService) Admit(username string) (domain.Decision, error) {
	decision := domain.AdmitStrict(username)
	if !decision.Admitted {
		return decision, &RejectedError{Decision: decision}
	}
	return decision, nil
}

// ListByAddress 返回 username@domain 的邮件摘要，最新的在前。
//
// 收件箱为空时返回空切片而不是 nil。
func (s *InboxService) ListByAddress(ctx context.Context, username string) ([]domain.EmailSummary, error) {
	decision, err := s.Admit(username)
	if err != nil {
		return nil, err
	}

	recipient := domain.NewMailboxAddress(decision.Username, s.mailDomain).String()
	summaries, err := s.repo.ListEmailsByRecipient(ctx, recipient)
	if err != nil {
		s.logger.Error("Failed to list emails",
			zap.String("recipient", recipient),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if summaries == nil {
		summaries = []domain.EmailSummary{}
	}
	return summaries, nil
}

// GetDetail 返回完整邮件，不存在时返回 storage.ErrEmailNotFound。
func (s *InboxService) GetDetail(ctx context.Context, id string) (*domain.Email, error) {
	if id == "" {
		return nil, storage.ErrEmailNotFound
	}

	email, err := s.repo.GetEmail(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrEmailNotFound) {
			return nil, storage.ErrEmailNotFound
		}
		s.logger.Error("Failed to load email",
			zap.String("email_id", id),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return email, nil
}
