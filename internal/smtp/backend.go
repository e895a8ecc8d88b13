package smtp

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"tempinbox/backend/internal/config"
	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/monitoring"
	"tempinbox/backend/internal/service"
)

// Ingester 处理一封发往单个收件人的原始邮件。
type Ingester interface {
	Normalize(ctx context.Context, raw []byte, recipient string) service.IngestResult
}

// Backend 实现 go-smtp 的 Backend 接口。
//
// 只接收发往配置域名的邮件，不提供任何外发或中继能力。
// 域名内的任意用户名都会在 RCPT 阶段被接受，保留用户名在 DATA 阶段静默丢弃，
// 以免向发件方暴露黑名单。
type Backend struct {
	ingester        Ingester
	domain          string
	maxMessageBytes int64
	limiter         *ConnectionLimiter
	metrics         *monitoring.Metrics
	logger          *zap.Logger
}

// NewBackend 创建 SMTP Backend。
func NewBackend(ingester Ingester, mailDomain string, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		ingester:        ingester,
		domain:          strings.ToLower(mailDomain),
		maxMessageBytes: 10 << 20,
		logger:          logger,
	}
}

// SetLimiter 设置连接限流器（可选）
func (b *Backend) SetLimiter(limiter *ConnectionLimiter) {
	b.limiter = limiter
}

// SetMetrics 设置监控指标
func (b *Backend) SetMetrics(metrics *monitoring.Metrics) {
	b.metrics = metrics
}

// SetMaxMessageBytes 设置单封邮件读取上限
func (b *Backend) SetMaxMessageBytes(n int64) {
	if n > 0 {
		b.maxMessageBytes = n
	}
}

// NewServer 按配置创建 SMTP 服务器。
func NewServer(b *Backend, cfg config.SMTPConfig) *gosmtp.Server {
	b.SetMaxMessageBytes(cfg.MaxMessageBytes)

	s := gosmtp.NewServer(b)
	s.Addr = cfg.BindAddr
	s.Domain = cfg.Hostname
	s.ReadTimeout = cfg.ReadTimeout
	s.WriteTimeout = cfg.WriteTimeout
	s.MaxMessageBytes = cfg.MaxMessageBytes
	s.MaxRecipients = cfg.MaxRecipients
	s.AllowInsecureAuth = false
	return s
}

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	remote := ""
	if c != nil && c.Conn() != nil {
		remote = c.Conn().RemoteAddr().String()
	}

	if b.limiter != nil {
		if err := b.limiter.Acquire(); err != nil {
			b.logger.Warn("SMTP session refused",
				zap.String("remote", remote),
				zap.Error(err),
			)
			b.metrics.RecordSMTPSessionRejected(limiterReason(err))
			return nil, &gosmtp.SMTPError{
				Code:         421,
				EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
				Message:      "too many connections, try again later",
			}
		}
	}

	b.metrics.SMTPSessionOpened()
	return &session{
		backend: b,
		remote:  remote,
	}, nil
}

type session struct {
	backend    *Backend
	remote     string
	from       string
	recipients []string
	closed     bool
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = normalizeAddress(from)
	return nil
}

// Rcpt 处理 RCPT 命令。
//
// 只接受配置域名下的地址，其余一律以 550 拒绝，防止成为开放中继。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr, err := domain.ParseRecipient(to)
	if err != nil {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}

	if domain.DomainFromAddress(addr) != s.backend.domain {
		s.backend.logger.Debug("Relay attempt rejected",
			zap.String("remote", s.remote),
			zap.String("recipient", addr),
		)
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "relay access denied - domain not managed by this server",
		}
	}

	s.recipients = append(s.recipients, addr)
	return nil
}

// Data 处理邮件内容。
//
// 丢弃与解析失败都视为已投递；只有存储失败返回 451 让对端重试。
func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(io.LimitReader(r, s.backend.maxMessageBytes))
	if err != nil {
		return err
	}

	s.backend.logger.Debug("Message received",
		zap.String("remote", s.remote),
		zap.String("from", s.from),
		zap.Strings("recipients", s.recipients),
		zap.Int("size", len(raw)),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	transient := false
	for _, rcpt := range s.recipients {
		result := s.backend.ingester.Normalize(ctx, raw, rcpt)
		if result.Transient() {
			transient = true
		}
	}

	if transient {
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "temporary storage failure, try again later",
		}
	}
	return nil
}

// Reset 重置状态。
func (s *session) Reset() {
	s.from = ""
	s.recipients = nil
}

// Logout 会话结束。
func (s *session) Logout() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.backend.limiter != nil {
		s.backend.limiter.Release()
	}
	s.backend.metrics.SMTPSessionClosed()
	return nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}

func limiterReason(err error) string {
	switch {
	case errors.Is(err, ErrTooManyConnections):
		return "max_connections"
	case errors.Is(err, ErrConnectionRateExceeded):
		return "rate"
	default:
		return "unknown"
	}
}
