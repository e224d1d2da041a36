package control

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/hybridlat/latcontrol/logging"
	"github.com/hybridlat/latcontrol/utils"
)

// A StateSource produces the input of the next control tick.
type StateSource interface {
	Next(ctx context.Context) (TickInput, error)
}

// A Sink consumes the result of every control tick.
type Sink interface {
	Publish(ctx context.Context, out Output) error
}

// LoopOption customizes a Loop.
type LoopOption func(*Loop)

// WithClock makes the loop tick on clk instead of the wall clock.
func WithClock(clk clock.Clock) LoopOption {
	return func(l *Loop) {
		l.clk = clk
	}
}

// Loop runs a lateral controller at a fixed frequency. The loop goroutine is the only caller
// of the controller while the loop runs.
type Loop struct {
	frequency  float64
	dt         time.Duration
	controller LateralController
	source     StateSource
	sink       Sink
	clk        clock.Clock
	logger     logging.Logger

	mu      sync.Mutex
	workers utils.StoppableWorkers
	ticks   int
	running bool
}

// NewLoop returns a loop ticking controller at frequency Hz.
func NewLoop(
	logger logging.Logger,
	frequency float64,
	controller LateralController,
	source StateSource,
	sink Sink,
	opts ...LoopOption,
) (*Loop, error) {
	if frequency <= 0.0 || frequency > 200 {
		return nil, errors.New("loop frequency shouldn't be 0 or above 200Hz")
	}
	if controller == nil || source == nil || sink == nil {
		return nil, errors.New("loop needs a controller, a state source and a sink")
	}
	l := &Loop{
		frequency:  frequency,
		dt:         time.Duration(float64(time.Second) * (1.0 / frequency)),
		controller: controller,
		source:     source,
		sink:       sink,
		clk:        clock.New(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Frequency returns the loop's frequency.
func (l *Loop) Frequency() float64 {
	return l.frequency
}

// Ticks returns how many ticks ran to completion.
func (l *Loop) Ticks() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ticks
}

// Step runs a single tick synchronously. It must not be called while the loop is running.
func (l *Loop) Step(ctx context.Context) error {
	in, err := l.source.Next(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to read control input")
	}
	out := l.controller.Update(in)
	l.mu.Lock()
	l.ticks++
	l.mu.Unlock()
	if err := l.sink.Publish(ctx, out); err != nil {
		return errors.Wrap(err, "failed to publish steering command")
	}
	return nil
}

// Start starts ticking in the background.
func (l *Loop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return errors.New("control loop already running")
	}
	l.logger.Infof("Running loop on %1.4f %+v", l.frequency, l.dt)
	ticker := l.clk.Ticker(l.dt)
	l.workers = utils.NewStoppableWorkers(func(ctx context.Context) {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if err := l.Step(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				l.logger.Debugw("control tick skipped", "error", err)
			}
		}
	})
	l.running = true
	return nil
}

// Stop stops the loop and waits for the current tick to finish. It is safe to call repeatedly.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	workers := l.workers
	l.running = false
	l.mu.Unlock()

	l.logger.Debug("closing loop")
	workers.Stop()
}
