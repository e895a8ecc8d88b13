// Package bootstrap 按配置组装存储层，供各个命令共用。
package bootstrap

import (
	"fmt"

	"go.uber.org/zap"

	"tempinbox/backend/internal/config"
	"tempinbox/backend/internal/monitoring"
	"tempinbox/backend/internal/storage"
	"tempinbox/backend/internal/storage/filesystem"
	"tempinbox/backend/internal/storage/hybrid"
	"tempinbox/backend/internal/storage/memory"
	"tempinbox/backend/internal/storage/postgres"
	"tempinbox/backend/internal/storage/redis"
)

// Stores 组装好的存储组件
type Stores struct {
	Store   storage.Store
	Cache   *redis.Cache      // 未启用 Redis 时为 nil
	Archive *filesystem.Store // 未配置归档目录时为 nil
}

// OpenStores 根据配置选择存储实现
//
//   - database.type 为空: 内存存储，Redis 配置被忽略
//   - 配置了数据库: GORM 存储，启用 Redis 时外包一层混合缓存
func OpenStores(cfg *config.Config, metrics *monitoring.Metrics, log *zap.Logger) (*Stores, error) {
	if log == nil {
		log = zap.NewNop()
	}
	stores := &Stores{}

	if cfg.Database.Type == "" {
		if cfg.Redis.Enabled {
			log.Warn("Redis requires a database, ignoring redis.enabled")
		}
		stores.Store = memory.NewStore()
		log.Info("Using memory storage")
	} else {
		sqlStore, err := postgres.NewFromConfig(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		log.Info("Using database storage", zap.String("type", cfg.Database.Type))
		stores.Store = sqlStore

		if cfg.Redis.Enabled {
			client, err := redis.NewClient(cfg.Redis, log)
			if err != nil {
				_ = sqlStore.Close()
				return nil, fmt.Errorf("failed to initialize redis: %w", err)
			}
			stores.Cache = redis.NewCache(client, cfg.Redis.CacheTTL)

			hybridStore := hybrid.NewStore(sqlStore, stores.Cache, log)
			hybridStore.SetMetrics(metrics)
			stores.Store = hybridStore
		}
	}

	if cfg.Storage.RawPath != "" {
		archive, err := filesystem.NewStore(cfg.Storage.RawPath)
		if err != nil {
			_ = stores.Store.Close()
			return nil, fmt.Errorf("failed to initialize raw archive: %w", err)
		}
		log.Info("Raw message archive enabled", zap.String("path", archive.BasePath()))
		stores.Archive = archive
	}

	return stores, nil
}

// Close 关闭存储连接
func (s *Stores) Close() error {
	return s.Store.Close()
}
