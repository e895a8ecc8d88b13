package smtp

import (
	"errors"
	"sync"

	"golang.org/x/time/rate"
)

var (
	// ErrTooManyConnections 并发会话数已达上限。
	ErrTooManyConnections = errors.New("too many concurrent connections")
	// ErrConnectionRateExceeded 新建会话速率超限。
	ErrConnectionRateExceeded = errors.New("connection rate exceeded")
)

// ConnectionLimiter SMTP 连接限流器
//
// 同时限制并发会话数与新建会话速率。
type ConnectionLimiter struct {
	maxConns int
	current  int
	mu       sync.Mutex
	limiter  *rate.Limiter
}

// NewConnectionLimiter 创建连接限流器
//
// 参数:
//   - maxConns: 最大并发连接数，<= 0 表示不限制
//   - perSecond: 每秒允许新建的连接数，<= 0 表示不限制
//   - burst: 允许的突发连接数
func NewConnectionLimiter(maxConns int, perSecond float64, burst int) *ConnectionLimiter {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &ConnectionLimiter{
		maxConns: maxConns,
		limiter:  rate.NewLimiter(limit, burst),
	}
}

// Acquire 获取连接许可，成功后必须调用 Release
func (l *ConnectionLimiter) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxConns > 0 && l.current >= l.maxConns {
		return ErrTooManyConnections
	}

	if !l.limiter.Allow() {
		return ErrConnectionRateExceeded
	}

	l.current++
	return nil
}

// Release 释放连接
func (l *ConnectionLimiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current > 0 {
		l.current--
	}
}

// Current 当前连接数
func (l *ConnectionLimiter) Current() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}
