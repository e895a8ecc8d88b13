package memory

import (
	"context"
	"sort"
	"sync"

	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/storage"
)

// Store 使用内存保存邮件数据，主要用于开发验证。
type Store struct {
	mu          sync.RWMutex
	emails      map[string]*entry   // emailID -> entry
	byRecipient map[string][]string // recipient -> emailIDs，按写入顺序
	seq         uint64
}

type entry struct {
	email domain.Email
	seq   uint64
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		emails:      make(map[string]*entry),
		byRecipient: make(map[string][]string),
	}
}

// InsertEmail 保存一封邮件。
func (s *Store) InsertEmail(ctx context.Context, email *domain.Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.emails[email.ID]; ok {
		return storage.ErrEmailExists
	}

	s.seq++
	s.emails[email.ID] = &entry{email: *email, seq: s.seq}
	s.byRecipient[email.Recipient] = append(s.byRecipient[email.Recipient], email.ID)
	return nil
}

// ListEmailsByRecipient 返回收件人的邮件摘要，最新的在前。
func (s *Store) ListEmailsByRecipient(ctx context.Context, recipient string) ([]domain.EmailSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	ids := s.byRecipient[recipient]
	entries := make([]*entry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, s.emails[id])
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.email.CreatedAt.Equal(b.email.CreatedAt) {
			return a.email.CreatedAt.After(b.email.CreatedAt)
		}
		return a.seq > b.seq
	})

	summaries := make([]domain.EmailSummary, 0, len(entries))
	for _, e := range entries {
		summaries = append(summaries, e.email.Summary())
	}
	return summaries, nil
}

// GetEmail 根据 ID 获取邮件副本。
func (s *Store) GetEmail(ctx context.Context, id string) (*domain.Email, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	e, ok := s.emails[id]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrEmailNotFound
	}

	email := e.email
	return &email, nil
}

// Close 内存存储无需释放资源。
func (s *Store) Close() error {
	return nil
}

// Health 内存存储始终可用。
func (s *Store) Health() error {
	return nil
}
