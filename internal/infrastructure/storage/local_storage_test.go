package storage_test

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wa-bridge/internal/infrastructure/storage"
)

func TestLocalStorageRoundTrip(t *testing.T) {
	ls, err := storage.NewLocalStorage(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	payload := []byte("session archive bytes")
	require.NoError(t, ls.Upload(ctx, "whatsapp/sessions/session.tar.gz", bytes.NewReader(payload), int64(len(payload)), "application/gzip"))

	body, _, err := ls.Download(ctx, "whatsapp/sessions/session.tar.gz")
	require.NoError(t, err)
	defer body.Close()
	got, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestLocalStorageUploadOverwrites(t *testing.T) {
	ls, err := storage.NewLocalStorage(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ls.Upload(ctx, "k", bytes.NewReader([]byte("first, longer content")), 0, ""))
	require.NoError(t, ls.Upload(ctx, "k", bytes.NewReader([]byte("second")), 0, ""))

	body, _, err := ls.Download(ctx, "k")
	require.NoError(t, err)
	defer body.Close()
	got, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)
}

func TestLocalStorageList(t *testing.T) {
	ls, err := storage.NewLocalStorage(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, ls.Upload(ctx, "whatsapp/sessions/session.tar.gz", bytes.NewReader([]byte("a")), 0, ""))
	require.NoError(t, ls.Upload(ctx, "whatsapp/media/chat/1.png", bytes.NewReader([]byte("b")), 0, ""))

	keys, err := ls.List(ctx, "whatsapp/sessions")
	require.NoError(t, err)
	assert.Equal(t, []string{"whatsapp/sessions/session.tar.gz"}, keys)

	// Empty result is not an error.
	keys, err = ls.List(ctx, "nothing/here")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestLocalStorageDownloadMissing(t *testing.T) {
	ls, err := storage.NewLocalStorage(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	_, _, err = ls.Download(context.Background(), "missing/key")
	require.Error(t, err)
}

func TestLocalStorageHealth(t *testing.T) {
	ls, err := storage.NewLocalStorage(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, ls.Health(context.Background()))
}
