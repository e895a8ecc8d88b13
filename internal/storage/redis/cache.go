package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"tempinbox/backend/internal/domain"
)

// ErrCacheMiss 缓存中不存在该键
var ErrCacheMiss = errors.New("cache miss")

const (
	emailKeyPrefix        = "email:"
	inboxKeyPrefix        = "inbox:"
	inboxVersionKeyPrefix = "inbox:ver:"
	newMailChannelFmt     = "emails:new:%s"
	newMailPattern        = "emails:new:*"

	minInboxVersionTTL = 24 * time.Hour
)

// refillInboxScript 只有版本号与读库前一致时才写入列表
//
// KEYS[1] 版本号键，KEYS[2] 列表键；ARGV[1] 版本号，ARGV[2] 列表 JSON，ARGV[3] 过期毫秒数
var refillInboxScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then
	current = '0'
end
if current ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// NewMailEvent 新邮件通知消息体
type NewMailEvent struct {
	Recipient string              `json:"recipient"`
	Email     domain.EmailSummary `json:"email"`
}

// Cache Redis 缓存实现
//
// 邮件详情写入后不可变，可以长期缓存；收件箱列表在有新邮件时失效。
// 每个收件人有一个版本号，新邮件写入时递增，回填列表前比对版本号，
// 避免并发回填把写入前的旧列表写回缓存。
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache 创建 Redis 缓存实例
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{
		client: client,
		ttl:    ttl,
	}
}

// ========== 邮件详情 ==========

// CacheEmail 缓存邮件详情
func (c *Cache) CacheEmail(ctx context.Context, email *domain.Email) error {
	data, err := json.Marshal(email)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, emailKeyPrefix+email.ID, data, c.ttl).Err()
}

// GetCachedEmail 获取缓存的邮件详情
func (c *Cache) GetCachedEmail(ctx context.Context, id string) (*domain.Email, error) {
	data, err := c.client.Get(ctx, emailKeyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}

	var email domain.Email
	if err := json.Unmarshal(data, &email); err != nil {
		return nil, err
	}
	return &email, nil
}

// ========== 收件箱列表 ==========

// InboxVersion 返回收件人列表的当前版本号，不存在时为 0
//
// 回源读库之前调用，结果传给 CacheEmailList。
func (c *Cache) InboxVersion(ctx context.Context, recipient string) (int64, error) {
	version, err := c.client.Get(ctx, inboxVersionKeyPrefix+recipient).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return version, err
}

// CacheEmailList 缓存收件箱列表
//
// 版本号已变化说明期间有新邮件写入，此时放弃回填并返回 false。
func (c *Cache) CacheEmailList(ctx context.Context, recipient string, version int64, list []domain.EmailSummary) (bool, error) {
	data, err := json.Marshal(list)
	if err != nil {
		return false, err
	}

	stored, err := refillInboxScript.Run(ctx, c.client,
		[]string{inboxVersionKeyPrefix + recipient, inboxKeyPrefix + recipient},
		version, data, c.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return stored == 1, nil
}

// GetCachedEmailList 获取缓存的收件箱列表
func (c *Cache) GetCachedEmailList(ctx context.Context, recipient string) ([]domain.EmailSummary, error) {
	data, err := c.client.Get(ctx, inboxKeyPrefix+recipient).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, err
	}

	list := make([]domain.EmailSummary, 0)
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// InvalidateEmailList 递增版本号并删除收件箱列表缓存
func (c *Cache) InvalidateEmailList(ctx context.Context, recipient string) error {
	versionKey := inboxVersionKeyPrefix + recipient
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey)
		pipe.Expire(ctx, versionKey, c.versionTTL())
		pipe.Del(ctx, inboxKeyPrefix+recipient)
		return nil
	})
	return err
}

// versionTTL 版本号至少比列表缓存活得久
func (c *Cache) versionTTL() time.Duration {
	if ttl := 2 * c.ttl; ttl > minInboxVersionTTL {
		return ttl
	}
	return minInboxVersionTTL
}

// ========== 新邮件通知 ==========

// PublishNewMail 发布新邮件通知
func (c *Cache) PublishNewMail(ctx context.Context, email *domain.Email) error {
	data, err := json.Marshal(NewMailEvent{
		Recipient: email.Recipient,
		Email:     email.Summary(),
	})
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, fmt.Sprintf(newMailChannelFmt, email.Recipient), data).Err()
}

// SubscribeNewMail 订阅所有收件人的新邮件通知
func (c *Cache) SubscribeNewMail(ctx context.Context) *redis.PubSub {
	return c.client.PSubscribe(ctx, newMailPattern)
}

// DecodeNewMail 解析订阅收到的通知
func DecodeNewMail(msg *redis.Message) (NewMailEvent, error) {
	var event NewMailEvent
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		return event, err
	}
	if event.Recipient == "" {
		event.Recipient = strings.TrimPrefix(msg.Channel, "emails:new:")
	}
	return event, nil
}

// Ping 测试 Redis 连接
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close 关闭连接
func (c *Cache) Close() error {
	return c.client.Close()
}
