// internal/bridge/dispatcher.go
package bridge

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"ser2tcp/internal/model"
)

// DefaultPollTimeout bounds the wait for readiness in one iteration
const DefaultPollTimeout = 100 * time.Millisecond

// Dispatcher drives every bridge from a single goroutine. Bridge, server
// and connection state is only touched by Run.
type Dispatcher struct {
	bridges     []*Bridge
	events      chan readiness
	pollTimeout time.Duration
	logger      *zap.Logger
	status      atomic.Pointer[[]model.BridgeStatus]
	running     atomic.Bool
	closed      bool
}

// NewDispatcher creates a dispatcher for the given bridges
func NewDispatcher(bridges []*Bridge, pollTimeout time.Duration, logger *zap.Logger) *Dispatcher {
	if pollTimeout <= 0 {
		pollTimeout = DefaultPollTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		bridges:     bridges,
		events:      make(chan readiness),
		pollTimeout: pollTimeout,
		logger:      logger.With(zap.String("component", "dispatcher")),
	}
	d.publishStatus()
	return d
}

// Run polls and dispatches until ctx is canceled or a dispatcher-level error
// occurs, then closes every bridge. Only dispatcher-level errors are returned.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.running.Store(true)
	defer d.running.Store(false)
	defer d.Close()

	d.logger.Info("Dispatcher started",
		zap.Int("bridges", len(d.bridges)),
		zap.Duration("poll_timeout", d.pollTimeout),
	)

	timer := time.NewTimer(d.pollTimeout)
	defer timer.Stop()

	for {
		rs := d.poll(ctx, timer)
		if err := d.dispatch(rs); err != nil {
			d.logger.Error("Dispatcher failure", zap.Error(err))
			return err
		}

		select {
		case <-ctx.Done():
			d.logger.Info("Dispatcher stopping")
			return nil
		default:
		}
	}
}

// poll arms every descriptor and waits, bounded by the poll timeout, for
// at least one to become ready. Everything ready at that point is collected.
func (d *Dispatcher) poll(ctx context.Context, timer *time.Timer) *ReadySet {
	for _, b := range d.bridges {
		for _, desc := range b.Descriptors() {
			desc.w.arm(d.events)
		}
	}

	rs := newReadySet()

	timer.Reset(d.pollTimeout)
	select {
	case ev := <-d.events:
		rs.add(ev)
	case <-timer.C:
		return rs
	case <-ctx.Done():
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}

	for {
		select {
		case ev := <-d.events:
			rs.add(ev)
		default:
			return rs
		}
	}
}

// dispatch processes one ready set: accepts first, then device reads, then
// client reads. All ready descriptors are handled in the same iteration.
func (d *Dispatcher) dispatch(rs *ReadySet) error {
	defer d.publishStatus()
	defer rs.release()

	if rs.Len() == 0 {
		return nil
	}

	var fatal error
	for _, b := range d.bridges {
		for _, s := range b.servers {
			fatal = multierr.Append(fatal, s.acceptReady(rs))
		}
	}
	for _, b := range d.bridges {
		b.PumpDeviceIO(rs)
	}
	for _, b := range d.bridges {
		for _, s := range b.servers {
			s.clientsReady(rs)
		}
	}
	return fatal
}

// Close closes every bridge. It is called by Run on exit.
func (d *Dispatcher) Close() {
	if d.closed {
		return
	}
	d.closed = true
	for _, b := range d.bridges {
		b.Close()
	}
	d.publishStatus()
	d.logger.Info("All bridges closed")
}

func (d *Dispatcher) publishStatus() {
	status := make([]model.BridgeStatus, 0, len(d.bridges))
	for _, b := range d.bridges {
		status = append(status, b.Status())
	}
	d.status.Store(&status)
}

// Status returns the snapshot published after the last iteration.
// It is safe to call from any goroutine.
func (d *Dispatcher) Status() []model.BridgeStatus {
	if s := d.status.Load(); s != nil {
		return *s
	}
	return nil
}

// Running reports whether Run is active
func (d *Dispatcher) Running() bool {
	return d.running.Load()
}
