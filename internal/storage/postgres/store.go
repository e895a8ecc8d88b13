package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tempinbox/backend/internal/config"
	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/storage"
)

// Store 基于 GORM 的关系型存储实现，支持 PostgreSQL 与 MySQL
type Store struct {
	db *gorm.DB
}

// PoolConfig 连接池参数，零值字段使用默认值
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (p PoolConfig) withDefaults() PoolConfig {
	if p.MaxOpenConns <= 0 {
		p.MaxOpenConns = 25
	}
	if p.MaxIdleConns <= 0 {
		p.MaxIdleConns = 5
	}
	if p.ConnMaxLifetime <= 0 {
		p.ConnMaxLifetime = 5 * time.Minute
	}
	return p
}

// datetimePrecision created_at 保留到微秒，与迁移脚本的 DATETIME(6) 一致
const datetimePrecision = 6

// mysqlDialector 默认的 datetime(3) 只保留毫秒，同一毫秒内的邮件顺序会乱
func mysqlDialector(dsn string) gorm.Dialector {
	precision := datetimePrecision
	return mysql.New(mysql.Config{
		DSN:                      dsn,
		DefaultDatetimePrecision: &precision,
	})
}

// NewFromConfig 按 database.type 选择驱动
func NewFromConfig(cfg config.DatabaseConfig) (*Store, error) {
	pool := PoolConfig{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}

	switch strings.ToLower(cfg.Type) {
	case "postgres", "postgresql":
		return NewStoreWithDialector(postgres.Open(cfg.DSN), pool)
	case "mysql":
		return NewStoreWithDialector(mysqlDialector(cfg.DSN), pool)
	default:
		return nil, fmt.Errorf("unsupported database type: %q", cfg.Type)
	}
}

// NewStoreWithDialector 使用指定的GORM dialector创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector, pool PoolConfig) (*Store, error) {
	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	pool = pool.withDefaults()
	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate 自动迁移数据库表结构
func (s *Store) migrate() error {
	return s.db.AutoMigrate(&domain.Email{})
}

// InsertEmail 写入一封邮件，ID 冲突返回 storage.ErrEmailExists
func (s *Store) InsertEmail(ctx context.Context, email *domain.Email) error {
	err := s.db.WithContext(ctx).Create(email).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return storage.ErrEmailExists
	}
	return err
}

// ListEmailsByRecipient 按创建时间倒序列出收件人的邮件摘要
func (s *Store) ListEmailsByRecipient(ctx context.Context, recipient string) ([]domain.EmailSummary, error) {
	summaries := make([]domain.EmailSummary, 0)
	err := s.db.WithContext(ctx).
		Model(&domain.Email{}).
		Select("id", "sender", "subject", "created_at").
		Where("recipient = ?", recipient).
		Order("created_at DESC, id DESC").
		Scan(&summaries).Error
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

// GetEmail 根据 ID 获取完整邮件
func (s *Store) GetEmail(ctx context.Context, id string) (*domain.Email, error) {
	var email domain.Email
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrEmailNotFound
		}
		return nil, err
	}
	return &email, nil
}

// Health 检查数据库连接
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ storage.Store = (*Store)(nil)
