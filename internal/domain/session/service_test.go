package session_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wa-bridge/internal/archive"
	"wa-bridge/internal/config"
	"wa-bridge/internal/domain/session"
)

// fakeStore is an in-memory object store with injectable failures.
type fakeStore struct {
	mu          sync.Mutex
	objects     map[string][]byte
	listErr     error
	downloadErr error
	uploadErr   error
	listCalls   int
	uploadCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (f *fakeStore) List(ctx context.Context, prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	var keys []string
	for k := range f.objects {
		keys = append(keys, k)
	}
	return keys, nil
}

func (f *fakeStore) Download(ctx context.Context, key string) (io.ReadCloser, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.downloadErr != nil {
		return nil, "", f.downloadErr
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, "", errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(data)), archive.ContentType, nil
}

func (f *fakeStore) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadCalls++
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.objects[key] = data
	return nil
}

func (f *fakeStore) get(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	return data, ok
}

func (f *fakeStore) uploads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploadCalls
}

func testConfig(t *testing.T, mode string) *config.Config {
	t.Helper()
	return &config.Config{
		ServiceName:      "wa-bridge",
		RemoteBasePath:   "whatsapp/sessions",
		SessionName:      "session",
		SyncMode:         mode,
		AuthDir:          filepath.Join(t.TempDir(), "auth"),
		WorkDir:          t.TempDir(),
		WatcherQueueSize: 16,
		CoalesceWindow:   20 * time.Millisecond,
	}
}

func newTestService(t *testing.T, mode string) (*session.Service, *fakeStore, *config.Config) {
	t.Helper()
	cfg := testConfig(t, mode)
	store := newFakeStore()
	svc := session.NewService(cfg, store, nil, zerolog.Nop())
	t.Cleanup(svc.Close)
	return svc, store, cfg
}

const remoteKey = "whatsapp/sessions/session.tar.gz"

func writeSessionFile(t *testing.T, cfg *config.Config, name string, content []byte) {
	t.Helper()
	p := filepath.Join(cfg.SessionDir(), filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, content, 0o644))
}

func packDir(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	src := t.TempDir()
	for name, content := range files {
		p := filepath.Join(src, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, content, 0o644))
	}
	var blob bytes.Buffer
	require.NoError(t, archive.Pack(src, &blob))
	return blob.Bytes()
}

func TestRestoreFreshStart(t *testing.T) {
	svc, _, cfg := newTestService(t, config.SyncModeManual)

	svc.Restore(context.Background())

	// Directory was created and left empty.
	entries, err := os.ReadDir(cfg.SessionDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, session.StateIdle, svc.State())
	assert.False(t, svc.Status().RestoredFromRemote)
}

func TestRestoreDegradesOnListFailure(t *testing.T) {
	svc, store, cfg := newTestService(t, config.SyncModeManual)
	store.listErr = errors.New("connection refused")

	svc.Restore(context.Background())

	entries, err := os.ReadDir(cfg.SessionDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, session.StateIdle, svc.State())
}

func TestRestoreDegradesOnDownloadFailure(t *testing.T) {
	svc, store, cfg := newTestService(t, config.SyncModeManual)
	store.objects[remoteKey] = packDir(t, map[string][]byte{"a.json": []byte("{}")})
	store.downloadErr = errors.New("connection reset")

	svc.Restore(context.Background())

	entries, err := os.ReadDir(cfg.SessionDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.False(t, svc.Status().RestoredFromRemote)
}

func TestRestoreDegradesOnCorruptArchive(t *testing.T) {
	svc, store, _ := newTestService(t, config.SyncModeManual)
	store.objects[remoteKey] = []byte("not a gzip stream")

	svc.Restore(context.Background())

	assert.Equal(t, session.StateIdle, svc.State())
	assert.False(t, svc.Status().RestoredFromRemote)
}

func TestRestoreThenResume(t *testing.T) {
	svc, store, cfg := newTestService(t, config.SyncModeManual)
	want := map[string][]byte{
		"a.json":    []byte(`{"token":"xyz"}`),
		"sub/b.bin": {0x00, 0x01, 0xfe, 0xff},
	}
	store.objects[remoteKey] = packDir(t, want)

	svc.Restore(context.Background())

	for name, content := range want {
		got, err := os.ReadFile(filepath.Join(cfg.SessionDir(), filepath.FromSlash(name)))
		require.NoError(t, err)
		assert.Equal(t, content, got, name)
	}
	assert.True(t, svc.Status().RestoredFromRemote)
}

func TestRestoreIgnoresOtherSessions(t *testing.T) {
	svc, store, cfg := newTestService(t, config.SyncModeManual)
	// Only an exact session-name match restores.
	store.objects["whatsapp/sessions/other.tar.gz"] = packDir(t, map[string][]byte{"x": []byte("y")})

	svc.Restore(context.Background())

	entries, err := os.ReadDir(cfg.SessionDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRestoreRunsOnlyOnce(t *testing.T) {
	svc, store, _ := newTestService(t, config.SyncModeManual)

	svc.Restore(context.Background())
	svc.Restore(context.Background())

	store.mu.Lock()
	calls := store.listCalls
	store.mu.Unlock()
	assert.Equal(t, 1, calls, "second restore must be a no-op")
}

func TestPersistUploadsArchive(t *testing.T) {
	svc, store, cfg := newTestService(t, config.SyncModeManual)
	svc.Restore(context.Background())
	writeSessionFile(t, cfg, "creds.json", []byte(`{"k":"v"}`))

	svc.Persist(context.Background())

	blob, ok := store.get(remoteKey)
	require.True(t, ok, "archive must be uploaded under the session key")

	dst := t.TempDir()
	require.NoError(t, archive.Unpack(bytes.NewReader(blob), dst))
	got, err := os.ReadFile(filepath.Join(dst, "creds.json"))
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"k":"v"}`), got)

	status := svc.Status()
	assert.EqualValues(t, 1, status.PersistCount)
	assert.True(t, status.LastPersistOK)
}

func TestPersistIsIdempotentOnUnchangedDirectory(t *testing.T) {
	svc, store, cfg := newTestService(t, config.SyncModeManual)
	svc.Restore(context.Background())
	writeSessionFile(t, cfg, "creds.json", []byte(`{"k":"v"}`))

	svc.Persist(context.Background())
	first, ok := store.get(remoteKey)
	require.True(t, ok)

	svc.Persist(context.Background())
	second, ok := store.get(remoteKey)
	require.True(t, ok)

	assert.Equal(t, first, second, "unchanged directory must produce an indistinguishable remote record")
	assert.EqualValues(t, 2, svc.Status().PersistCount)
}

func TestPersistSwallowsUploadFailure(t *testing.T) {
	svc, store, cfg := newTestService(t, config.SyncModeManual)
	svc.Restore(context.Background())
	writeSessionFile(t, cfg, "creds.json", []byte("{}"))
	store.uploadErr = errors.New("503 slow down")

	svc.Persist(context.Background())

	status := svc.Status()
	assert.EqualValues(t, 0, status.PersistCount)
	assert.EqualValues(t, 1, status.PersistFailures)
	assert.False(t, status.LastPersistOK)

	// The next trigger retries naturally.
	store.mu.Lock()
	store.uploadErr = nil
	store.mu.Unlock()
	svc.Persist(context.Background())
	_, ok := store.get(remoteKey)
	assert.True(t, ok)
}

func TestPersistSupersedesPreviousRecord(t *testing.T) {
	svc, store, cfg := newTestService(t, config.SyncModeManual)
	svc.Restore(context.Background())

	writeSessionFile(t, cfg, "state.txt", []byte("v1"))
	svc.Persist(context.Background())

	writeSessionFile(t, cfg, "state.txt", []byte("v2"))
	svc.Persist(context.Background())

	blob, ok := store.get(remoteKey)
	require.True(t, ok)
	dst := t.TempDir()
	require.NoError(t, archive.Unpack(bytes.NewReader(blob), dst))
	got, err := os.ReadFile(filepath.Join(dst, "state.txt"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestAfterStartPersistsOnceInManualMode(t *testing.T) {
	svc, store, cfg := newTestService(t, config.SyncModeManual)
	svc.Restore(context.Background())
	writeSessionFile(t, cfg, "creds.json", []byte("{}"))

	svc.AfterStart(context.Background())

	assert.Equal(t, 1, store.uploads())
	_, ok := store.get(remoteKey)
	assert.True(t, ok)
}

func TestStatusReportsModeAndKey(t *testing.T) {
	svc, _, _ := newTestService(t, config.SyncModeManual)
	status := svc.Status()
	assert.Equal(t, "manual", status.Mode)
	assert.Equal(t, remoteKey, status.RemoteKey)
	assert.Equal(t, "uninitialized", status.State)
}
