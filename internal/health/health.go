package health

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// CheckResult 单项检查结果
type CheckResult struct {
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Report 健康报告
type Report struct {
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Uptime    string        `json:"uptime"`
	Checks    []CheckResult `json:"checks"`
}

// HealthChecker 健康检查器
//
// 存活检查只关心进程本身；就绪检查覆盖存储等外部依赖。
type HealthChecker struct {
	handler   healthcheck.Handler
	logger    *zap.Logger
	startTime time.Time

	mu     sync.RWMutex
	checks map[string]healthcheck.Check
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}

	hc := &HealthChecker{
		handler:   healthcheck.NewHandler(),
		logger:    logger,
		startTime: time.Now(),
		checks:    make(map[string]healthcheck.Check),
	}

	hc.handler.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))

	return hc
}

// AddReadinessCheck 注册就绪检查，单次检查超时 2 秒
func (hc *HealthChecker) AddReadinessCheck(name string, check func() error) {
	wrapped := healthcheck.Timeout(check, 2*time.Second)

	hc.mu.Lock()
	hc.checks[name] = wrapped
	hc.mu.Unlock()

	hc.handler.AddReadinessCheck(name, wrapped)
}

// LiveHandler 存活检查处理器
func (hc *HealthChecker) LiveHandler() http.HandlerFunc {
	return hc.handler.LiveEndpoint
}

// ReadyHandler 就绪检查处理器
func (hc *HealthChecker) ReadyHandler() http.HandlerFunc {
	return hc.handler.ReadyEndpoint
}

// CheckHealth 执行全部就绪检查并生成报告
func (hc *HealthChecker) CheckHealth() *Report {
	hc.mu.RLock()
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	hc.mu.RUnlock()
	sort.Strings(names)

	report := &Report{
		Status:    StatusOK,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(hc.startTime).Round(time.Second).String(),
		Checks:    make([]CheckResult, 0, len(names)),
	}

	for _, name := range names {
		hc.mu.RLock()
		check := hc.checks[name]
		hc.mu.RUnlock()

		start := time.Now()
		err := check()
		result := CheckResult{
			Name:     name,
			Status:   StatusOK,
			Duration: time.Since(start),
		}
		if err != nil {
			result.Status = StatusError
			result.Message = fmt.Sprint(err)
			report.Status = StatusError
			hc.logger.Warn("Health check failed",
				zap.String("check", name),
				zap.Error(err),
			)
		}
		report.Checks = append(report.Checks, result)
	}

	return report
}

// IsHealthy 全部检查通过时返回 true
func (hc *HealthChecker) IsHealthy() bool {
	return hc.CheckHealth().Status == StatusOK
}
