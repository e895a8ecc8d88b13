package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"tempinbox/backend/internal/domain"
	"tempinbox/backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEmail(id, recipient string, createdAt time.Time) *domain.Email {
	return &domain.Email{
		ID:        id,
		Recipient: recipient,
		Sender:    "sender@example.com",
		Subject:   "Subject " + id,
		BodyText:  "text " + id,
		BodyHTML:  "<p>" + id + "</p>",
		CreatedAt: createdAt,
	}
}

func TestMemoryStore_InsertAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	now := time.Now().UTC()

	email := newEmail("email-1", "alice@temp.mail", now)
	require.NoError(t, store.InsertEmail(ctx, email))

	got, err := store.GetEmail(ctx, "email-1")
	require.NoError(t, err)
	assert.Equal(t, *email, *got)

	// 返回的是副本
	got.Subject = "changed"
	again, err := store.GetEmail(ctx, "email-1")
	require.NoError(t, err)
	assert.Equal(t, "Subject email-1", again.Subject)

	_, err = store.GetEmail(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrEmailNotFound)
}

func TestMemoryStore_DuplicateID(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	require.NoError(t, store.InsertEmail(ctx, newEmail("dup", "a@temp.mail", time.Now())))
	err := store.InsertEmail(ctx, newEmail("dup", "b@temp.mail", time.Now()))
	assert.ErrorIs(t, err, storage.ErrEmailExists)
	assert.Len(t, store.emails, 1)
}

func TestMemoryStore_ListOrdering(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.InsertEmail(ctx, newEmail("old", "alice@temp.mail", base)))
	require.NoError(t, store.InsertEmail(ctx, newEmail("new", "alice@temp.mail", base.Add(2*time.Minute))))
	require.NoError(t, store.InsertEmail(ctx, newEmail("mid", "alice@temp.mail", base.Add(time.Minute))))
	// 同一时间戳，后写入的排在前面
	require.NoError(t, store.InsertEmail(ctx, newEmail("tie-1", "alice@temp.mail", base.Add(3*time.Minute))))
	require.NoError(t, store.InsertEmail(ctx, newEmail("tie-2", "alice@temp.mail", base.Add(3*time.Minute))))
	require.NoError(t, store.InsertEmail(ctx, newEmail("other", "bob@temp.mail", base)))

	list, err := store.ListEmailsByRecipient(ctx, "alice@temp.mail")
	require.NoError(t, err)

	ids := make([]string, 0, len(list))
	for _, s := range list {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"tie-2", "tie-1", "new", "mid", "old"}, ids)
	assert.Equal(t, "Subject new", list[2].Subject)
}

func TestMemoryStore_ListEmptyIsNotNil(t *testing.T) {
	store := NewStore()

	list, err := store.ListEmailsByRecipient(context.Background(), "nobody@temp.mail")
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	store := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, store.InsertEmail(ctx, newEmail("x", "a@temp.mail", time.Now())))
	_, err := store.ListEmailsByRecipient(ctx, "a@temp.mail")
	assert.Error(t, err)
	_, err = store.GetEmail(ctx, "x")
	assert.Error(t, err)
}

func TestMemoryStore_ConcurrentInsert(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = store.InsertEmail(ctx, newEmail(fmt.Sprintf("email-%d", i), "alice@temp.mail", time.Now()))
		}(i)
	}
	wg.Wait()

	list, err := store.ListEmailsByRecipient(ctx, "alice@temp.mail")
	require.NoError(t, err)
	assert.Len(t, list, 50)
	assert.NoError(t, store.Health())
	assert.NoError(t, store.Close())
}
