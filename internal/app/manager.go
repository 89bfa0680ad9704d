package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/querygate/querygate/internal/config"
)

const defaultDrainDelay = 30 * time.Second

// Manager owns the current runtime. Requests load it once and keep using it while a config
// reload builds and publishes a replacement.
type Manager struct {
	holder  *config.Holder
	opts    Options
	current atomic.Pointer[Runtime]
	drain   time.Duration

	mu       sync.Mutex
	closed   bool
	draining []draining
}

type draining struct {
	runtime *Runtime
	timer   *time.Timer
}

func NewManager(ctx context.Context, holder *config.Holder, opts Options) (*Manager, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	rt, err := Build(ctx, holder.Current(), opts)
	if err != nil {
		return nil, err
	}
	// History outlives runtimes so reloads keep earlier reports.
	opts.History = rt.History
	m := &Manager{holder: holder, opts: opts, drain: defaultDrainDelay}
	m.current.Store(rt)
	return m, nil
}

func (m *Manager) Runtime() *Runtime {
	return m.current.Load()
}

func (m *Manager) Config() config.Config {
	return m.holder.Current()
}

// Reload applies overrides to the current config, builds a runtime for the result and
// publishes both. On error nothing changes. The previous runtime is closed after a drain
// delay so requests still holding it can finish.
func (m *Manager) Reload(ctx context.Context, overrides map[string]string) (config.Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return config.Config{}, fmt.Errorf("runtime manager is closed")
	}

	var rt *Runtime
	next, err := m.holder.Update(overrides, func(candidate config.Config) error {
		built, err := Build(ctx, candidate, m.opts)
		if err != nil {
			return fmt.Errorf("build runtime: %w", err)
		}
		rt = built
		return nil
	})
	if err != nil {
		return config.Config{}, err
	}
	previous := m.current.Swap(rt)
	m.opts.Logger.InfoContext(ctx, "runtime reloaded", slog.Int("overrides", len(overrides)))

	if previous != nil {
		timer := time.AfterFunc(m.drain, func() {
			if err := previous.Close(); err != nil {
				m.opts.Logger.Warn("failed to close previous runtime", slog.Any("error", err))
			}
		})
		m.draining = append(m.draining, draining{runtime: previous, timer: timer})
	}
	return next, nil
}

// Close releases the current runtime and any runtime still draining.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, d := range m.draining {
		if d.timer.Stop() {
			_ = d.runtime.Close()
		}
	}
	return m.current.Load().Close()
}
