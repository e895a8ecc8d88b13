package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/monitoring"
	"tempinbox/backend/internal/service"
	"tempinbox/backend/internal/smtp"
	"tempinbox/backend/internal/storage"
	"tempinbox/backend/internal/storage/memory"
)

// MockStore 模拟存储接口
type MockStore struct {
	mock.Mock
}

func (m *MockStore) InsertEmail(ctx context.Context, email *domain.Email) error {
	args := m.Called(ctx, email)
	return args.Error(0)
}

func (m *MockStore) ListEmailsByRecipient(ctx context.Context, recipient string) ([]domain.EmailSummary, error) {
	args := m.Called(ctx, recipient)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.EmailSummary), args.Error(1)
}

func (m *MockStore) GetEmail(ctx context.Context, id string) (*domain.Email, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Email), args.Error(1)
}

// stubParser 返回固定结果的解析器
type stubParser struct {
	parsed *domain.ParsedEmail
	err    error
	panic  bool
	calls  int
}

func (p *stubParser) Parse(raw []byte) (*domain.ParsedEmail, error) {
	p.calls++
	if p.panic {
		panic("boom")
	}
	return p.parsed, p.err
}

// recordingPublisher 记录收到的通知
type recordingPublisher struct {
	mu     sync.Mutex
	emails []*domain.Email
	err    error
}

func (p *recordingPublisher) PublishNewMail(ctx context.Context, email *domain.Email) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emails = append(p.emails, email)
	return p.err
}

type recordingArchive struct {
	saved map[string][]byte
}

func (a *recordingArchive) SaveRaw(ctx context.Context, email *domain.Email, raw []byte) error {
	if a.saved == nil {
		a.saved = make(map[string][]byte)
	}
	a.saved[email.ID] = raw
	return nil
}

const sampleMessage = "From: Alice <alice@example.com>\r\n" +
	"To: bob@temp.mail\r\n" +
	"Subject: Hello Bob\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Hi Bob\r\n"

func fixedClock() time.Time {
	return time.Date(2024, 5, 1, 8, 30, 0, 0, time.FixedZone("CST", 8*3600))
}

func TestNormalize_InsertsRecord(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	n := service.NewNormalizer(store, smtp.MIMEParser{}, nil)
	n.SetClock(fixedClock)

	result := n.Normalize(ctx, []byte(sampleMessage), "bob@temp.mail")
	require.NoError(t, result.Err)
	assert.Equal(t, service.OutcomeInserted, result.Outcome)
	require.NotNil(t, result.Email)

	email := result.Email
	assert.Equal(t, "bob@temp.mail", email.Recipient)
	assert.Equal(t, "alice@example.com", email.Sender)
	assert.Equal(t, "Hello Bob", email.Subject)
	assert.Equal(t, "Hi Bob", strings.TrimSpace(email.BodyText))
	assert.Empty(t, email.BodyHTML)
	assert.Equal(t, time.UTC, email.CreatedAt.Location())
	assert.True(t, email.CreatedAt.Equal(fixedClock()))
	assert.Len(t, email.ID, 36)

	stored, err := store.GetEmail(ctx, email.ID)
	require.NoError(t, err)
	assert.Equal(t, *email, *stored)
}

func TestNormalize_SubjectPlaceholder(t *testing.T) {
	store := memory.NewStore()
	n := service.NewNormalizer(store, &stubParser{parsed: &domain.ParsedEmail{Sender: "a@b.c", Text: "x"}}, nil)

	result := n.Normalize(context.Background(), []byte("raw"), "bob@temp.mail")
	require.Equal(t, service.OutcomeInserted, result.Outcome)
	assert.Equal(t, domain.NoSubjectPlaceholder, result.Email.Subject)
	assert.NotEmpty(t, result.Email.Subject)
}

func TestNormalize_DropsReservedUsernames(t *testing.T) {
	for _, name := range domain.ReservedUsernames() {
		for _, recipient := range []string{name + "@temp.mail", strings.ToUpper(name) + "@temp.mail"} {
			store := memory.NewStore()
			parser := &stubParser{parsed: &domain.ParsedEmail{}}
			n := service.NewNormalizer(store, parser, nil)

			result := n.Normalize(context.Background(), []byte(sampleMessage), recipient)
			assert.Equal(t, service.OutcomeDropped, result.Outcome, recipient)
			assert.Equal(t, domain.RejectReserved, result.Decision.Reason, recipient)
			assert.NoError(t, result.Err)
			assert.Nil(t, result.Email)
			assert.Zero(t, inboxSize(t, store, strings.ToLower(recipient)), recipient)
			assert.Equal(t, 0, parser.calls, "rejected messages must not be parsed")
		}
	}
}

func TestNormalize_DropsEmptyUsername(t *testing.T) {
	store := memory.NewStore()
	n := service.NewNormalizer(store, smtp.MIMEParser{}, nil)

	result := n.Normalize(context.Background(), []byte(sampleMessage), "@temp.mail")
	assert.Equal(t, service.OutcomeDropped, result.Outcome)
	assert.Equal(t, domain.RejectEmpty, result.Decision.Reason)
	assert.Zero(t, inboxSize(t, store, "@temp.mail"))
}

func TestNormalize_ParseFailure(t *testing.T) {
	tests := []struct {
		name   string
		parser service.Parser
		raw    []byte
	}{
		{"解析器返回错误", &stubParser{err: errors.New("bad mime")}, []byte("junk")},
		{"解析器 panic", &stubParser{panic: true}, []byte("junk")},
		{"解析器返回空结果", &stubParser{}, []byte("junk")},
		{"空内容", smtp.MIMEParser{}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewStore()
			n := service.NewNormalizer(store, tt.parser, nil)

			var result service.IngestResult
			assert.NotPanics(t, func() {
				result = n.Normalize(context.Background(), tt.raw, "bob@temp.mail")
			})
			assert.Equal(t, service.OutcomeFailed, result.Outcome)
			assert.ErrorIs(t, result.Err, service.ErrParseFailure)
			assert.False(t, result.Transient())
			assert.Zero(t, inboxSize(t, store, "bob@temp.mail"))
		})
	}
}

func TestNormalize_StoreFailure(t *testing.T) {
	repo := new(MockStore)
	storeErr := errors.New("connection refused")
	repo.On("InsertEmail", mock.Anything, mock.AnythingOfType("*domain.Email")).Return(storeErr)

	publisher := &recordingPublisher{}
	n := service.NewNormalizer(repo, smtp.MIMEParser{}, nil)
	n.AddPublisher(publisher)

	result := n.Normalize(context.Background(), []byte(sampleMessage), "bob@temp.mail")
	assert.Equal(t, service.OutcomeFailed, result.Outcome)
	assert.ErrorIs(t, result.Err, service.ErrStoreFailure)
	assert.ErrorIs(t, result.Err, storeErr)
	assert.True(t, result.Transient())
	assert.Empty(t, publisher.emails)
	repo.AssertExpectations(t)
}

func TestNormalize_UniqueIDs(t *testing.T) {
	store := memory.NewStore()
	n := service.NewNormalizer(store, smtp.MIMEParser{}, nil)

	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		result := n.Normalize(context.Background(), []byte(sampleMessage), "bob@temp.mail")
		require.Equal(t, service.OutcomeInserted, result.Outcome)
		_, dup := seen[result.Email.ID]
		require.False(t, dup)
		seen[result.Email.ID] = struct{}{}
	}
	assert.Equal(t, 100, inboxSize(t, store, "bob@temp.mail"))
}

func TestNormalize_ArchiveAndPublish(t *testing.T) {
	store := memory.NewStore()
	archive := &recordingArchive{}
	okPublisher := &recordingPublisher{}
	failingPublisher := &recordingPublisher{err: errors.New("redis down")}

	n := service.NewNormalizer(store, smtp.MIMEParser{}, nil)
	n.SetArchive(archive)
	n.AddPublisher(failingPublisher)
	n.AddPublisher(okPublisher)
	n.SetIDGenerator(func() string { return "fixed-id" })

	result := n.Normalize(context.Background(), []byte(sampleMessage), "bob@temp.mail")
	require.Equal(t, service.OutcomeInserted, result.Outcome)
	assert.Equal(t, "fixed-id", result.Email.ID)
	assert.Equal(t, []byte(sampleMessage), archive.saved["fixed-id"])
	require.Len(t, okPublisher.emails, 1)
	assert.Equal(t, "fixed-id", okPublisher.emails[0].ID)
	assert.Len(t, failingPublisher.emails, 1)
}

func TestNormalize_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetricsWith(reg, reg)

	n := service.NewNormalizer(memory.NewStore(), smtp.MIMEParser{}, nil)
	n.SetMetrics(metrics)

	n.Normalize(context.Background(), []byte(sampleMessage), "bob@temp.mail")
	n.Normalize(context.Background(), []byte(sampleMessage), "admin@temp.mail")
	n.Normalize(context.Background(), nil, "bob@temp.mail")

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.IngestTotal.WithLabelValues(monitoring.OutcomeInserted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.IngestTotal.WithLabelValues(monitoring.OutcomeDropped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.IngestTotal.WithLabelValues(monitoring.OutcomeParseFailure)))
}

func TestNormalize_ListShowsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	n := service.NewNormalizer(store, smtp.MIMEParser{}, nil)

	clock := fixedClock()
	n.SetClock(func() time.Time { return clock })
	first := n.Normalize(ctx, []byte(sampleMessage), "bob@temp.mail")
	clock = clock.Add(time.Second)
	second := n.Normalize(ctx, []byte(sampleMessage), "bob@temp.mail")

	list, err := store.ListEmailsByRecipient(ctx, "bob@temp.mail")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.Email.ID, list[0].ID)
	assert.Equal(t, first.Email.ID, list[1].ID)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "inserted", service.OutcomeInserted.String())
	assert.Equal(t, "dropped", service.OutcomeDropped.String())
	assert.Equal(t, "failed", service.OutcomeFailed.String())
}

var _ storage.EmailRepository = (*MockStore)(nil)

func inboxSize(t *testing.T, store *memory.Store, recipient string) int {
	t.Helper()
	list, err := store.ListEmailsByRecipient(context.Background(), recipient)
	require.NoError(t, err)
	return len(list)
}
