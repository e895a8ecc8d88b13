package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempinbox/backend/internal/domain"
)

func newArchivedEmail(id, recipient string) *domain.Email {
	return &domain.Email{
		ID:        id,
		Recipient: recipient,
		CreatedAt: time.Date(2024, 5, 1, 23, 30, 0, 0, time.UTC),
	}
}

func TestStore_SaveAndGetRaw(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "raw"))
	require.NoError(t, err)

	email := newArchivedEmail("8f14e45f-ceea-4e7b-9b1c-2f6b1f3e4a11", "bob@temp.mail")
	raw := []byte("Subject: Hi\r\n\r\nbody\r\n")

	require.NoError(t, store.SaveRaw(context.Background(), email, raw))

	expected := filepath.Join(store.BasePath(), "bob@temp.mail", "2024-05-01", email.ID+".eml")
	data, err := os.ReadFile(expected)
	require.NoError(t, err)
	assert.Equal(t, raw, data)

	got, err := store.GetRaw(email)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	entries, err := os.ReadDir(filepath.Dir(expected))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestStore_GetRawNotFound(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.GetRaw(newArchivedEmail("missing", "bob@temp.mail"))
	assert.ErrorIs(t, err, ErrRawNotFound)
}

func TestStore_SanitizesKeys(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	email := newArchivedEmail("../../escape", "../bob@temp.mail")
	require.NoError(t, store.SaveRaw(context.Background(), email, []byte("x")))

	_, err = os.Stat(filepath.Join(store.BasePath(), "_bob@temp.mail", "2024-05-01", "_.._escape.eml"))
	assert.NoError(t, err)

	err = store.SaveRaw(context.Background(), newArchivedEmail("..", "bob@temp.mail"), []byte("x"))
	assert.Error(t, err)
}

func TestStore_SaveRawCanceled(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, store.SaveRaw(ctx, newArchivedEmail("e1", "bob@temp.mail"), []byte("x")), context.Canceled)
}

func TestStore_InvalidBasePath(t *testing.T) {
	_, err := NewStore("../outside")
	assert.Error(t, err)
}

func TestStore_Health(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, store.Health())
}
