// Package scheduler owns the running server's lifetime: periodic blocklist
// refresh on a cron schedule, SIGHUP-triggered file-only rebuilds, file-watch
// triggered rebuilds, and graceful shutdown on SIGTERM/SIGINT.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"duskhole/pkg/blocklist"
	"duskhole/pkg/config"
	"duskhole/pkg/fetcher"
	"duskhole/pkg/logging"
	"duskhole/pkg/registry"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
)

// remoteCacheFileName is the Remote Fetcher's cache file, placed alongside
// the custom list. Spec §6 names no config key for its path, so it is
// derived deterministically rather than left to an undocumented setting.
const remoteCacheFileName = "remote-cache.txt"

// Scheduler drives blocklist rebuilds and owns the process's signal handling.
type Scheduler struct {
	cfg      *config.Config
	builder  *blocklist.Builder
	fetcher  *fetcher.Fetcher
	registry *registry.Registry
	logger   *logging.Logger

	cron    *cron.Cron
	watcher *fsnotify.Watcher

	mu         sync.Mutex
	refreshing bool
	pending    bool
}

// New creates a Scheduler. fetcher may be nil when no remote_lists are
// configured; the scheduler then rebuilds from local/custom files only.
func New(cfg *config.Config, builder *blocklist.Builder, f *fetcher.Fetcher, reg *registry.Registry, logger *logging.Logger) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		builder:  builder,
		fetcher:  f,
		registry: reg,
		logger:   logger,
	}
}

func (s *Scheduler) remoteCachePath() string {
	dir := filepath.Dir(s.cfg.Blocklist.CustomList)
	if s.cfg.Blocklist.CustomList == "" {
		dir = "."
	}
	return filepath.Join(dir, remoteCacheFileName)
}

func (s *Scheduler) sources() blocklist.Sources {
	return blocklist.Sources{
		RemoteCacheFile: s.remoteCachePath(),
		LocalLists:      s.cfg.Blocklist.LocalLists,
		CustomListFile:  s.cfg.Blocklist.CustomList,
	}
}

// RefreshOnce fetches remote lists (if configured) then rebuilds and
// publishes a fresh snapshot. Exported so the `update` CLI command can
// trigger a one-shot refresh without running the full scheduler loop.
func (s *Scheduler) RefreshOnce(ctx context.Context) error {
	if s.fetcher != nil && len(s.cfg.Blocklist.RemoteLists) > 0 {
		result, err := s.fetcher.Update(ctx, s.cfg.Blocklist.RemoteLists, s.remoteCachePath())
		if err != nil {
			return fmt.Errorf("remote fetch: %w", err)
		}
		s.logger.Info("remote lists fetched",
			"downloaded", result.DownloadedCount,
			"sources_ok", result.SourcesOK,
			"sources_failed", result.SourcesFailed,
		)
	}
	return s.rebuildFromFiles()
}

// ReloadFromFiles rebuilds from the current on-disk files without touching
// the network. Used by SIGHUP and by the file-watch trigger.
func (s *Scheduler) ReloadFromFiles() error {
	return s.rebuildFromFiles()
}

func (s *Scheduler) rebuildFromFiles() error {
	snap, result := s.builder.Build(s.sources())
	if len(result.FilesRead) == 0 && len(result.FilesFailed) > 0 {
		s.logger.Error("blocklist rebuild read zero files", "failed", result.FilesFailed)
	}
	s.registry.Publish(snap)
	stats := snap.Stats()
	s.logger.Info("blocklist snapshot published",
		"exact_count", stats.ExactCount,
		"wildcard_count", stats.WildcardCount,
		"dropped", result.DroppedCount,
	)
	return nil
}

// triggerRefresh coalesces concurrent triggers: a trigger that arrives while
// a refresh is already running schedules exactly one more rebuild on
// completion, rather than running once per trigger. Used by the cron branch,
// whose rebuild is allowed to hit the network.
func (s *Scheduler) triggerRefresh(ctx context.Context) {
	s.trigger(func() error { return s.RefreshOnce(ctx) })
}

// triggerFileReload runs the same coalescing as triggerRefresh but rebuilds
// from on-disk files only, never the network, so it can back SIGHUP and
// file-watch (§4.7: SIGHUP "rebuild from current files (no network)") without
// letting either bypass the guard that keeps a cron-triggered refresh from
// running concurrently with a second Builder.Build/Registry.Publish.
func (s *Scheduler) triggerFileReload() {
	s.trigger(s.ReloadFromFiles)
}

// trigger is the shared coalescing guard: refreshing/pending track whether a
// rebuild is in flight and whether another one was requested during it. A
// pending trigger re-runs whichever rebuild function is already in flight,
// since both rebuild kinds are supersets of a file-only reload.
func (s *Scheduler) trigger(rebuild func() error) {
	s.mu.Lock()
	if s.refreshing {
		s.pending = true
		s.mu.Unlock()
		return
	}
	s.refreshing = true
	s.mu.Unlock()

	go s.runCoalesced(rebuild)
}

func (s *Scheduler) runCoalesced(rebuild func() error) {
	for {
		if err := rebuild(); err != nil {
			s.logger.Error("scheduled blocklist refresh failed", "error", err)
		}

		s.mu.Lock()
		if !s.pending {
			s.refreshing = false
			s.mu.Unlock()
			return
		}
		s.pending = false
		s.mu.Unlock()
	}
}

// Run starts the cron schedule, the SIGHUP/SIGTERM/SIGINT handlers, and the
// file watcher, and blocks until ctx is cancelled or a terminal signal
// arrives. onShutdown is invoked once, before Run returns, to let the
// caller drain its own listeners.
func (s *Scheduler) Run(ctx context.Context, onShutdown func(context.Context) error) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	if s.cfg.Updater.Enabled {
		loc, err := time.LoadLocation(s.cfg.Updater.Timezone)
		if err != nil {
			return fmt.Errorf("updater.timezone: %w", err)
		}
		s.cron = cron.New(cron.WithLocation(loc))
		if _, err := s.cron.AddFunc(s.cfg.Updater.Schedule, func() {
			s.triggerRefresh(context.Background())
		}); err != nil {
			return fmt.Errorf("updater.schedule: %w", err)
		}
		s.cron.Start()
		defer s.cron.Stop()
	}

	if err := s.startFileWatch(); err != nil {
		s.logger.Warn("file watch disabled", "error", err)
	} else if s.watcher != nil {
		defer s.watcher.Close()
	}

	for {
		select {
		case <-ctx.Done():
			return onShutdown(context.Background())

		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				s.logger.Info("SIGHUP received, reloading blocklist from files")
				s.triggerFileReload()
			case syscall.SIGTERM, syscall.SIGINT:
				s.logger.Info("shutdown signal received", "signal", sig.String())
				return onShutdown(context.Background())
			}

		case event, ok := <-s.watchEvents():
			if !ok {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				s.logger.Debug("blocklist source file changed, reloading", "file", event.Name)
				s.triggerFileReload()
			}
		}
	}
}

// watchEvents returns the watcher's event channel, or nil when no watcher
// is running (a nil channel blocks forever in a select, which is exactly
// what's wanted here).
func (s *Scheduler) watchEvents() chan fsnotify.Event {
	if s.watcher == nil {
		return nil
	}
	return s.watcher.Events
}

func (s *Scheduler) startFileWatch() error {
	paths := make([]string, 0, len(s.cfg.Blocklist.LocalLists)+1)
	paths = append(paths, s.cfg.Blocklist.LocalLists...)
	if s.cfg.Blocklist.CustomList != "" {
		paths = append(paths, s.cfg.Blocklist.CustomList)
	}
	if len(paths) == 0 {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}

	added := 0
	for _, p := range paths {
		if err := w.Add(p); err != nil {
			s.logger.Warn("could not watch blocklist file", "path", p, "error", err)
			continue
		}
		added++
	}
	if added == 0 {
		w.Close()
		return fmt.Errorf("no watchable blocklist files")
	}

	s.watcher = w
	return nil
}
