package hybrid

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/monitoring"
	"tempinbox/backend/internal/storage"
	"tempinbox/backend/internal/storage/redis"
)

const (
	cacheKindEmail = "email"
	cacheKindInbox = "inbox"
)

// Cache 混合存储所需的缓存能力，由 redis.Cache 实现
type Cache interface {
	CacheEmail(ctx context.Context, email *domain.Email) error
	GetCachedEmail(ctx context.Context, id string) (*domain.Email, error)
	InboxVersion(ctx context.Context, recipient string) (int64, error)
	CacheEmailList(ctx context.Context, recipient string, version int64, list []domain.EmailSummary) (bool, error)
	GetCachedEmailList(ctx context.Context, recipient string) ([]domain.EmailSummary, error)
	InvalidateEmailList(ctx context.Context, recipient string) error
	Ping(ctx context.Context) error
	Close() error
}

// Store 混合存储实现，结合关系型数据库和 Redis
//
// 数据库是唯一的事实来源；缓存故障只记录日志，不会让请求失败。
type Store struct {
	db      storage.Store
	cache   Cache
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewStore 创建混合存储实例
func NewStore(db storage.Store, cache Cache, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:     db,
		cache:  cache,
		logger: logger,
	}
}

// SetMetrics 设置监控指标
func (s *Store) SetMetrics(metrics *monitoring.Metrics) {
	s.metrics = metrics
}

// InsertEmail 写入数据库后回填详情缓存，并使收件箱列表失效
func (s *Store) InsertEmail(ctx context.Context, email *domain.Email) error {
	if err := s.db.InsertEmail(ctx, email); err != nil {
		return err
	}

	if err := s.cache.InvalidateEmailList(ctx, email.Recipient); err != nil {
		s.cacheFailure("invalidate", err)
	}
	if err := s.cache.CacheEmail(ctx, email); err != nil {
		s.cacheFailure("write", err)
	}
	return nil
}

// ListEmailsByRecipient 优先读取缓存的列表，未命中时回源并回填
//
// 版本号必须在读库之前取得；读库期间有新邮件写入时放弃回填。
func (s *Store) ListEmailsByRecipient(ctx context.Context, recipient string) ([]domain.EmailSummary, error) {
	list, err := s.cache.GetCachedEmailList(ctx, recipient)
	if err == nil {
		s.metrics.RecordCacheHit(cacheKindInbox)
		return list, nil
	}
	s.cacheMiss(cacheKindInbox, err)

	version, versionErr := s.cache.InboxVersion(ctx, recipient)

	list, err = s.db.ListEmailsByRecipient(ctx, recipient)
	if err != nil {
		return nil, err
	}

	if versionErr != nil {
		s.cacheFailure("read", versionErr)
		return list, nil
	}

	stored, err := s.cache.CacheEmailList(ctx, recipient, version, list)
	if err != nil {
		s.cacheFailure("write", err)
	} else if !stored {
		s.logger.Debug("Skipped stale inbox refill", zap.String("recipient", recipient))
	}
	return list, nil
}

// GetEmail 优先读取缓存的详情，未命中时回源并回填
func (s *Store) GetEmail(ctx context.Context, id string) (*domain.Email, error) {
	email, err := s.cache.GetCachedEmail(ctx, id)
	if err == nil {
		s.metrics.RecordCacheHit(cacheKindEmail)
		return email, nil
	}
	s.cacheMiss(cacheKindEmail, err)

	email, err = s.db.GetEmail(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.cache.CacheEmail(ctx, email); err != nil {
		s.cacheFailure("write", err)
	}
	return email, nil
}

// Close 关闭存储连接
func (s *Store) Close() error {
	return errors.Join(s.db.Close(), s.cache.Close())
}

// Health 健康检查，只有数据库故障视为不健康
func (s *Store) Health() error {
	if err := s.db.Health(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := s.cache.Ping(context.Background()); err != nil {
		s.logger.Warn("Redis ping failed", zap.Error(err))
	}
	return nil
}

func (s *Store) cacheMiss(kind string, err error) {
	s.metrics.RecordCacheMiss(kind)
	if !errors.Is(err, redis.ErrCacheMiss) {
		s.cacheFailure("read", err)
	}
}

func (s *Store) cacheFailure(op string, err error) {
	s.logger.Warn("Cache operation failed",
		zap.String("op", op),
		zap.Error(err),
	)
	s.metrics.RecordError("cache_"+op, "hybrid")
}

var _ storage.Store = (*Store)(nil)
