package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultReloadDebounce coalesces the burst of events an editor save produces.
const DefaultReloadDebounce = 200 * time.Millisecond

// Watcher reloads the config file on change and hands a changed, valid
// limits section to apply. Other sections need a restart.
//
// The parent directory is watched rather than the file so that editors that
// save by rename keep being observed.
type Watcher struct {
	path     string
	apply    func(CostLimits) error
	debounce time.Duration

	fsw  *fsnotify.Watcher
	done chan struct{}
	stop sync.Once

	mu    sync.Mutex
	last  CostLimits
	timer *time.Timer
}

// NewWatcher creates a Watcher for the config file at path. current is the
// limits in effect now; apply is called only when they change.
func NewWatcher(path string, current CostLimits, apply func(CostLimits) error) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		path:     abs,
		apply:    apply,
		debounce: DefaultReloadDebounce,
		fsw:      fsw,
		done:     make(chan struct{}),
		last:     current,
	}, nil
}

// SetDebounce overrides the reload debounce. Call before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Start processes file events in a background goroutine.
func (w *Watcher) Start() {
	go w.loop()
	log.Info().Str("path", w.path).Msg("config: watching for limit changes")
}

// Stop shuts the watcher down.
func (w *Watcher) Stop() error {
	var err error
	w.stop.Do(func() {
		close(w.done)
		err = w.fsw.Close()
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
	})
	return err
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
				w.schedule()
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("config: watcher error")
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}

	cfg, err := Load(w.path)
	if err != nil {
		log.Warn().Err(err).Msg("config: reload rejected, keeping current limits")
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if cfg.Limits == w.last {
		return
	}
	if err := w.apply(cfg.Limits); err != nil {
		log.Warn().Err(err).Msg("config: failed to apply limits")
		return
	}
	w.last = cfg.Limits
	log.Info().
		Float64("max_cost_per_session", cfg.Limits.MaxCostPerSession).
		Float64("max_cost_per_day", cfg.Limits.MaxCostPerDay).
		Int("max_session_duration_seconds", cfg.Limits.MaxSessionDurationSeconds).
		Int("max_daily_sessions", cfg.Limits.MaxDailySessions).
		Msg("config: limits reloaded")
}
