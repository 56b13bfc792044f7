// Package session implements the sync strategy that keeps a local
// WhatsApp session directory mirrored to remote object storage:
// restore-on-start, persist-on-change (continuous mode) or
// persist-on-demand (manual mode).
package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"wa-bridge/internal/archive"
	"wa-bridge/internal/config"
	"wa-bridge/internal/infrastructure/metrics"
	"wa-bridge/internal/infrastructure/observability"
)

// Store defines the remote object-store operations the sync strategy
// needs. Uploads overwrite unconditionally.
type Store interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Download(ctx context.Context, key string) (io.ReadCloser, string, error)
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
}

// Notifier publishes lifecycle events. Implementations must be
// fire-and-forget; the strategy never waits on delivery.
type Notifier interface {
	Publish(ctx context.Context, eventType string, fields map[string]any)
}

// State tracks the strategy's position in its lifecycle.
type State int32

const (
	StateUninitialized State = iota
	StateRestoring
	StateIdle
	StatePersisting
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRestoring:
		return "restoring"
	case StateIdle:
		return "idle"
	case StatePersisting:
		return "persisting"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Status is a point-in-time snapshot of the strategy for the status
// endpoint.
type Status struct {
	State              string    `json:"state"`
	Mode               string    `json:"mode"`
	SessionName        string    `json:"session_name"`
	RemoteKey          string    `json:"remote_key"`
	RestoredFromRemote bool      `json:"restored_from_remote"`
	PersistCount       uint64    `json:"persist_count"`
	PersistFailures    uint64    `json:"persist_failures"`
	LastPersistAt      time.Time `json:"last_persist_at,omitzero"`
	LastPersistOK      bool      `json:"last_persist_ok"`
}

// Service is the session sync strategy. Restore and Persist never
// return errors to the caller: persistence is an optimization layered
// over a session that must keep working even if persistence is broken,
// so every failure path degrades to a logged no-op.
type Service struct {
	cfg      *config.Config
	store    Store
	notifier Notifier
	log      zerolog.Logger

	dir         string
	archivePath string
	remoteBase  string
	remoteKey   string
	scratchLock *flock.Flock

	state    atomic.Int32
	inFlight atomic.Int32

	mu                 sync.Mutex
	restoredFromRemote bool
	persistCount       uint64
	persistFailures    uint64
	lastPersistAt      time.Time
	lastPersistOK      bool

	watch       *watcher
	watchCancel context.CancelFunc
	wg          sync.WaitGroup
}

func NewService(cfg *config.Config, store Store, notifier Notifier, log zerolog.Logger) *Service {
	archivePath := cfg.ArchivePath(archive.Ext)
	return &Service{
		cfg:         cfg,
		store:       store,
		notifier:    notifier,
		log:         log.With().Str("component", "session-sync").Str("session", cfg.SessionName).Logger(),
		dir:         cfg.SessionDir(),
		archivePath: archivePath,
		remoteBase:  path.Clean(filepath.ToSlash(cfg.RemoteBasePath)),
		remoteKey:   cfg.RemoteKey(archive.Ext),
		scratchLock: flock.New(archivePath + ".lock"),
	}
}

// Restore pulls the remote session archive, if any, into the local
// session directory. It must run before the messaging session reads
// its directory, and only runs once per process: calls after the
// first are logged no-ops. All failures degrade to a fresh session.
func (s *Service) Restore(ctx context.Context) {
	if !s.state.CompareAndSwap(int32(StateUninitialized), int32(StateRestoring)) {
		s.log.Warn().Str("state", s.State().String()).Msg("restore skipped: session already initialized")
		return
	}
	defer s.state.Store(int32(StateIdle))

	ctx, span := observability.StartSpan(ctx, "session.restore")
	outcome, err := s.restore(ctx)
	observability.EndSpan(span, err)
	metrics.RecordRestore(outcome)

	if err != nil {
		s.log.Warn().Err(err).Str("outcome", outcome).Msg("session restore degraded to fresh start")
	}
}

func (s *Service) restore(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "io_error", fmt.Errorf("create session directory: %w", err)
	}

	keys, err := s.store.List(ctx, s.remoteBase)
	if err != nil {
		return "list_failed", err
	}
	found := false
	for _, key := range keys {
		if key == s.remoteKey {
			found = true
			break
		}
	}
	if !found {
		s.log.Info().Str("remote_key", s.remoteKey).Msg("no remote session archive; starting fresh")
		return "fresh", nil
	}

	body, _, err := s.store.Download(ctx, s.remoteKey)
	if err != nil {
		return "download_failed", err
	}
	defer body.Close()

	if err := s.scratchLock.Lock(); err != nil {
		return "io_error", fmt.Errorf("lock scratch archive: %w", err)
	}
	defer s.scratchLock.Unlock()

	// Stage the full download in the scratch archive before touching
	// the session directory, so a broken transfer never leaves a
	// half-overwritten tree.
	f, err := os.Create(s.archivePath)
	if err != nil {
		return "io_error", fmt.Errorf("create scratch archive: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return "download_failed", fmt.Errorf("stage remote archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return "io_error", err
	}

	if err := archive.UnpackFile(s.archivePath, s.dir); err != nil {
		return "unpack_failed", err
	}

	s.mu.Lock()
	s.restoredFromRemote = true
	s.mu.Unlock()

	s.log.Info().Str("remote_key", s.remoteKey).Msg("session restored from remote store")
	s.publish(ctx, "session.restored", nil)
	return "restored", nil
}

// Persist snapshots the session directory and uploads it, overwriting
// the remote record. Failures are logged and dropped; the next trigger
// retries naturally.
func (s *Service) Persist(ctx context.Context) {
	s.persist(ctx, "manual")
}

func (s *Service) persist(ctx context.Context, trigger string) {
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "session.persist", attribute.String("trigger", trigger))
	size, err := s.snapshot(ctx)
	observability.EndSpan(span, err)
	elapsed := time.Since(start)

	if err != nil {
		metrics.RecordPersist(trigger, "failure", elapsed.Seconds(), 0)
		s.recordPersist(false)
		s.log.Warn().Err(err).Str("trigger", trigger).Msg("session persist failed; next trigger will retry")
		return
	}

	metrics.RecordPersist(trigger, "success", elapsed.Seconds(), size)
	s.recordPersist(true)
	s.log.Debug().
		Str("trigger", trigger).
		Int64("bytes", size).
		Dur("took", elapsed).
		Msg("session persisted")
	s.publish(ctx, "session.persisted", map[string]any{"trigger": trigger, "bytes": size})
}

// snapshot packs the session directory into the scratch archive and
// uploads it. The flock serializes concurrent persists on the shared
// scratch file; the remote store's atomic per-object overwrite does
// the rest.
func (s *Service) snapshot(ctx context.Context) (int64, error) {
	if err := s.scratchLock.Lock(); err != nil {
		return 0, fmt.Errorf("lock scratch archive: %w", err)
	}
	defer s.scratchLock.Unlock()

	if err := archive.PackFile(s.dir, s.archivePath); err != nil {
		return 0, err
	}

	f, err := os.Open(s.archivePath)
	if err != nil {
		return 0, fmt.Errorf("open scratch archive: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat scratch archive: %w", err)
	}

	if err := s.store.Upload(ctx, s.remoteKey, f, info.Size(), archive.ContentType); err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// AfterStart runs once the messaging session reports ready: one
// unconditional persist, then the change watcher in continuous mode.
func (s *Service) AfterStart(ctx context.Context) {
	s.persist(ctx, "startup")
	if s.cfg.IsContinuous() {
		s.startWatcher(ctx)
	}
}

// State reports the strategy's current lifecycle state.
func (s *Service) State() State {
	if s.inFlight.Load() > 0 {
		return StatePersisting
	}
	return State(s.state.Load())
}

// Status returns a snapshot for the status endpoint.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:              s.State().String(),
		Mode:               s.cfg.SyncMode,
		SessionName:        s.cfg.SessionName,
		RemoteKey:          s.remoteKey,
		RestoredFromRemote: s.restoredFromRemote,
		PersistCount:       s.persistCount,
		PersistFailures:    s.persistFailures,
		LastPersistAt:      s.lastPersistAt,
		LastPersistOK:      s.lastPersistOK,
	}
}

// Close stops the change watcher and waits for in-flight watcher
// driven persists to finish.
func (s *Service) Close() {
	if s.watchCancel != nil {
		s.watchCancel()
	}
	if s.watch != nil {
		s.watch.close()
	}
	s.wg.Wait()
}

// Lifecycle notifications from the messaging session. These only log
// and publish; they have no effect on persistence behavior.

// OnAuthNeeded is called when the session requires a fresh login.
func (s *Service) OnAuthNeeded(ctx context.Context) {
	s.log.Info().Msg("session requires authentication")
	s.publish(ctx, "session.auth_needed", nil)
}

// OnAuthenticated is called after credentials are accepted.
func (s *Service) OnAuthenticated(ctx context.Context) {
	s.log.Info().Msg("session authenticated")
	s.publish(ctx, "session.authenticated", nil)
}

// OnReady is called when the session is fully operational.
func (s *Service) OnReady(ctx context.Context) {
	s.log.Info().Msg("session ready")
	s.publish(ctx, "session.ready", nil)
}

// OnLoggedOut is called when the remote end invalidates the session.
func (s *Service) OnLoggedOut(ctx context.Context) {
	s.log.Warn().Msg("session logged out")
	s.publish(ctx, "session.logged_out", nil)
}

func (s *Service) publish(ctx context.Context, eventType string, fields map[string]any) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(ctx, eventType, fields)
}

func (s *Service) recordPersist(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		s.persistCount++
	} else {
		s.persistFailures++
	}
	s.lastPersistAt = time.Now()
	s.lastPersistOK = ok
}
