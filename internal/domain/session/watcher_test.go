package session_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wa-bridge/internal/archive"
	"wa-bridge/internal/config"
)

func TestContinuousModePersistsOnChange(t *testing.T) {
	svc, store, cfg := newTestService(t, config.SyncModeContinuous)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.Restore(ctx)
	svc.AfterStart(ctx)

	// AfterStart issues one unconditional persist before watching.
	require.Eventually(t, func() bool {
		return store.uploads() >= 1
	}, 5*time.Second, 10*time.Millisecond)
	baseline := store.uploads()

	writeSessionFile(t, cfg, "creds.json", []byte(`{"fresh":"token"}`))

	require.Eventually(t, func() bool {
		return store.uploads() > baseline
	}, 5*time.Second, 10*time.Millisecond, "file change must trigger a persist")
}

func TestContinuousModeBurstYieldsCompleteFinalSnapshot(t *testing.T) {
	svc, store, cfg := newTestService(t, config.SyncModeContinuous)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.Restore(ctx)
	svc.AfterStart(ctx)

	const n = 20
	for i := 0; i < n; i++ {
		writeSessionFile(t, cfg, fmt.Sprintf("chunk-%02d.bin", i), []byte{byte(i)})
	}

	require.Eventually(t, func() bool {
		blob, ok := store.get(remoteKey)
		if !ok {
			return false
		}
		dst, err := os.MkdirTemp("", "burst")
		if err != nil {
			return false
		}
		defer os.RemoveAll(dst)
		if err := archive.Unpack(bytes.NewReader(blob), dst); err != nil {
			// An upload is never a half-written archive; any blob in
			// the store must unpack cleanly.
			t.Fatalf("stored archive is corrupt: %v", err)
		}
		entries, err := os.ReadDir(dst)
		if err != nil {
			return false
		}
		return len(entries) == n
	}, 10*time.Second, 25*time.Millisecond, "final remote record must reflect the full burst")
}

func TestContinuousModeWatchesNewSubdirectories(t *testing.T) {
	svc, store, cfg := newTestService(t, config.SyncModeContinuous)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.Restore(ctx)
	svc.AfterStart(ctx)

	require.Eventually(t, func() bool {
		return store.uploads() >= 1
	}, 5*time.Second, 10*time.Millisecond)

	sub := filepath.Join(cfg.SessionDir(), "Default", "IndexedDB")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	// Give the watcher a beat to pick up the new directory before
	// writing into it.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "db.bin"), []byte{0xca, 0xfe}, 0o644))

	require.Eventually(t, func() bool {
		blob, ok := store.get(remoteKey)
		if !ok {
			return false
		}
		dst, err := os.MkdirTemp("", "subdir")
		if err != nil {
			return false
		}
		defer os.RemoveAll(dst)
		if err := archive.Unpack(bytes.NewReader(blob), dst); err != nil {
			return false
		}
		_, err = os.Stat(filepath.Join(dst, "Default", "IndexedDB", "db.bin"))
		return err == nil
	}, 10*time.Second, 25*time.Millisecond)
}

func TestCloseStopsWatcher(t *testing.T) {
	svc, store, cfg := newTestService(t, config.SyncModeContinuous)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.Restore(ctx)
	svc.AfterStart(ctx)
	require.Eventually(t, func() bool {
		return store.uploads() >= 1
	}, 5*time.Second, 10*time.Millisecond)

	svc.Close()
	quiesced := store.uploads()

	writeSessionFile(t, cfg, "after-close.txt", []byte("x"))
	time.Sleep(300 * time.Millisecond)
	require.Equal(t, quiesced, store.uploads(), "no persists after Close")
}
