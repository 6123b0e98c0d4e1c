package alerting

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// EngineConfig holds the configuration for the Engine.
type EngineConfig struct {
	Logger     *slog.Logger
	Dispatcher *Dispatcher
	Offline    *OfflineDetector
	// Interval between ticks (defaults to 30s).
	Interval time.Duration
}

// Engine drives the periodic work of the alerting core. Each tick runs the
// dispatcher sweep and then the offline sweep.
type Engine struct {
	logger     *slog.Logger
	dispatcher *Dispatcher
	offline    *OfflineDetector
	interval   time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a new Engine. It does not start ticking.
func NewEngine(cfg *EngineConfig) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("engine config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher cannot be nil")
	}
	if cfg.Offline == nil {
		return nil, errors.New("offline detector cannot be nil")
	}

	e := &Engine{
		logger:     cfg.Logger.With("component", "engine"),
		dispatcher: cfg.Dispatcher,
		offline:    cfg.Offline,
		interval:   cfg.Interval,
	}
	if e.interval <= 0 {
		e.interval = DefaultCheckInterval
	}
	return e, nil
}

// Start begins ticking in the background until ctx is done or Stop is called.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.runningLocked() {
		return ErrEngineRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	go e.loop(loopCtx, e.done)

	e.logger.Info("alert engine started", "interval", e.interval)
	return nil
}

// Stop stops ticking and waits for an in-flight tick to finish.
// It is safe to call on a stopped engine.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel = nil
	e.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	e.logger.Info("alert engine stopped")
}

// Running reports whether the tick loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runningLocked()
}

func (e *Engine) runningLocked() bool {
	if e.done == nil {
		return false
	}
	select {
	case <-e.done:
		return false
	default:
		return true
	}
}

func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A tick that has started runs to completion even if Stop is called.
			e.Tick(context.WithoutCancel(ctx))
		}
	}
}

// Tick runs one dispatcher sweep followed by one offline sweep.
// Failures are logged; the next tick retries.
func (e *Engine) Tick(ctx context.Context) {
	if _, err := e.dispatcher.Sweep(ctx); err != nil {
		e.logger.Error("dispatch sweep failed", "error", err)
	}

	raised, err := e.offline.Sweep(ctx)
	if err != nil {
		e.logger.Error("offline sweep failed", "error", err)
		return
	}
	if raised > 0 {
		e.logger.Info("offline sweep raised alerts", "count", raised)
	}
}
