package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/monitoring"
	"tempinbox/backend/internal/storage"
)

var (
	// ErrParseFailure 原始邮件无法解析，重试也不会成功。
	ErrParseFailure = errors.New("parse failure")
	// ErrStoreFailure 写入存储失败，可由投递方重试。
	ErrStoreFailure = errors.New("store failure")
)

// Parser 将原始 MIME 内容解析为结构化字段。
type Parser interface {
	Parse(raw []byte) (*domain.ParsedEmail, error)
}

// Outcome 单次收信的处理结果。
type Outcome int

const (
	// OutcomeInserted 已写入存储。
	OutcomeInserted Outcome = iota
	// OutcomeDropped 用户名未通过准入检查，静默丢弃。
	OutcomeDropped
	// OutcomeFailed 解析或写入失败，Err 给出原因。
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeDropped:
		return "dropped"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IngestResult 收信处理结果。
type IngestResult struct {
	Outcome  Outcome
	Email    *domain.Email
	Decision domain.Decision
	Err      error
}

// Transient 判断失败是否为可重试的临时错误。
func (r IngestResult) Transient() bool {
	return r.Outcome == OutcomeFailed && errors.Is(r.Err, ErrStoreFailure)
}

// Normalizer 把一封原始邮件转换为 Email 记录并写入存储。
//
// 每次调用相互独立，可并发执行。
type Normalizer struct {
	repo       storage.EmailRepository
	parser     Parser
	logger     *zap.Logger
	metrics    *monitoring.Metrics
	archive    storage.RawArchive
	publishers []storage.NewMailPublisher
	now        func() time.Time
	newID      func() string
}

// NewNormalizer 创建收信处理器。
func NewNormalizer(repo storage.EmailRepository, parser Parser, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		repo:   repo,
		parser: parser,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// SetMetrics 设置监控指标
func (n *Normalizer) SetMetrics(metrics *monitoring.Metrics) {
	n.metrics = metrics
}

// SetArchive 设置原始邮件归档（可选）
func (n *Normalizer) SetArchive(archive storage.RawArchive) {
	n.archive = archive
}

// AddPublisher 添加新邮件通知渠道
func (n *Normalizer) AddPublisher(p storage.NewMailPublisher) {
	n.publishers = append(n.publishers, p)
}

// SetClock 替换时间来源，测试使用
func (n *Normalizer) SetClock(now func() time.Time) {
	n.now = now
}

// SetIDGenerator 替换 ID 生成器，测试使用
func (n *Normalizer) SetIDGenerator(gen func() string) {
	n.newID = gen
}

// Normalize 处理一封发往 recipient 的原始邮件。
//
// 拒绝与失败都通过返回值表达，不会 panic。
func (n *Normalizer) Normalize(ctx context.Context, raw []byte, recipient string) IngestResult {
	start := time.Now()

	decision := domain.Admit(domain.UsernameFromAddress(recipient))
	if !decision.Admitted {
		n.logger.Info("Dropped message for rejected username",
			zap.String("recipient", recipient),
			zap.String("username", decision.Username),
			zap.String("reason", string(decision.Reason)),
		)
		n.metrics.RecordIngest(monitoring.OutcomeDropped, time.Since(start), len(raw))
		return IngestResult{Outcome: OutcomeDropped, Decision: decision}
	}

	parsed, err := n.parse(raw)
	if err != nil {
		n.logger.Error("Failed to parse message",
			zap.String("recipient", recipient),
			zap.Int("size", len(raw)),
			zap.Error(err),
		)
		n.metrics.RecordIngest(monitoring.OutcomeParseFailure, time.Since(start), len(raw))
		return IngestResult{Outcome: OutcomeFailed, Decision: decision, Err: fmt.Errorf("%w: %v", ErrParseFailure, err)}
	}

	subject := parsed.Subject
	if subject == "" {
		subject = domain.NoSubjectPlaceholder
	}

	email := &domain.Email{
		ID:        n.newID(),
		Recipient: recipient,
		Sender:    parsed.Sender,
		Subject:   subject,
		BodyText:  parsed.Text,
		BodyHTML:  parsed.HTML,
		CreatedAt: n.now().UTC(),
	}

	if err := n.repo.InsertEmail(ctx, email); err != nil {
		n.logger.Error("Failed to store message",
			zap.String("recipient", recipient),
			zap.String("email_id", email.ID),
			zap.Error(err),
		)
		n.metrics.RecordIngest(monitoring.OutcomeStoreFailure, time.Since(start), len(raw))
		return IngestResult{Outcome: OutcomeFailed, Decision: decision, Err: fmt.Errorf("%w: %w", ErrStoreFailure, err)}
	}

	n.afterInsert(ctx, email, raw)

	n.logger.Info("Message stored",
		zap.String("recipient", recipient),
		zap.String("email_id", email.ID),
		zap.String("sender", email.Sender),
		zap.String("message_id", parsed.MessageID),
	)
	n.metrics.RecordIngest(monitoring.OutcomeInserted, time.Since(start), len(raw))
	return IngestResult{Outcome: OutcomeInserted, Email: email, Decision: decision}
}

// parse 调用解析器并把其中的 panic 转换为错误。
func (n *Normalizer) parse(raw []byte) (parsed *domain.ParsedEmail, err error) {
	defer func() {
		if r := recover(); r != nil {
			n.metrics.RecordPanic()
			parsed = nil
			err = fmt.Errorf("parser panic: %v", r)
		}
	}()

	parsed, err = n.parser.Parse(raw)
	if err == nil && parsed == nil {
		err = errors.New("parser returned no result")
	}
	return parsed, err
}

// afterInsert 归档与通知只记录错误，不影响已写入的结果。
func (n *Normalizer) afterInsert(ctx context.Context, email *domain.Email, raw []byte) {
	if n.archive != nil {
		if err := n.archive.SaveRaw(ctx, email, raw); err != nil {
			n.logger.Warn("Failed to archive raw message",
				zap.String("email_id", email.ID),
				zap.Error(err),
			)
			n.metrics.RecordError("archive", "ingest")
		}
	}

	for _, p := range n.publishers {
		if err := p.PublishNewMail(ctx, email); err != nil {
			n.logger.Warn("Failed to publish new mail",
				zap.String("email_id", email.ID),
				zap.Error(err),
			)
			n.metrics.RecordError("publish", "ingest")
		}
	}
}
