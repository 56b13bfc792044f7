package session

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"wa-bridge/internal/infrastructure/metrics"
)

// watcher feeds filesystem mutations under the session directory into
// a bounded signal queue. The queue drops the oldest signal on
// overflow: change notifications carry no payload, so any one signal
// stands in for all the signals before it.
type watcher struct {
	fsw     *fsnotify.Watcher
	signals chan struct{}
	once    sync.Once
}

func (w *watcher) close() {
	w.once.Do(func() {
		_ = w.fsw.Close()
	})
}

// startWatcher attaches a recursive fsnotify watcher to the session
// directory. Watcher setup failure is non-fatal like every other
// persistence failure: the bridge keeps running in manual-trigger
// fashion and logs the degradation.
func (s *Service) startWatcher(ctx context.Context) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.Error().Err(err).Msg("cannot create filesystem watcher; continuous sync disabled")
		return
	}

	if err := addRecursive(fsw, s.dir); err != nil {
		s.log.Error().Err(err).Msg("cannot watch session directory; continuous sync disabled")
		_ = fsw.Close()
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &watcher{
		fsw:     fsw,
		signals: make(chan struct{}, s.cfg.WatcherQueueSize),
	}
	s.watch = w
	s.watchCancel = cancel

	s.wg.Add(2)
	go s.watchLoop(ctx, w)
	go s.persistLoop(ctx, w)

	s.log.Info().Str("dir", s.dir).Msg("continuous sync watcher started")
}

func (s *Service) watchLoop(ctx context.Context, w *watcher) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op.Has(fsnotify.Create) {
				// New subdirectories must be watched too; fsnotify is
				// not recursive on its own.
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.fsw.Add(event.Name); err != nil {
						s.log.Warn().Err(err).Str("dir", event.Name).Msg("cannot watch new directory")
					}
				}
			}
			if !event.Op.Has(fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename) {
				continue
			}
			w.enqueue()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			s.log.Warn().Err(err).Msg("filesystem watcher error")
		}
	}
}

func (w *watcher) enqueue() {
	select {
	case w.signals <- struct{}{}:
		metrics.RecordWatcherEvent("queued")
		return
	default:
	}
	// Queue full: drop the oldest signal and requeue.
	select {
	case <-w.signals:
	default:
	}
	select {
	case w.signals <- struct{}{}:
		metrics.RecordWatcherEvent("coalesced")
	default:
		metrics.RecordWatcherEvent("dropped")
	}
}

// persistLoop turns queued change signals into persist cycles. After
// the first signal it waits out a short coalescing window, absorbing
// any further signals, so a burst of writes produces one snapshot of
// the directory's final state rather than one upload per write.
func (s *Service) persistLoop(ctx context.Context, w *watcher) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.signals:
			if !s.coalesce(ctx, w) {
				return
			}
			s.persist(ctx, "watch")
		}
	}
}

func (s *Service) coalesce(ctx context.Context, w *watcher) bool {
	if s.cfg.CoalesceWindow <= 0 {
		return true
	}
	timer := time.NewTimer(s.cfg.CoalesceWindow)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-w.signals:
			// absorb
		case <-timer.C:
			return true
		}
	}
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(p)
		}
		return nil
	})
}
