package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/shardorch/shardorch/internal/logging"
)

// DefaultBufferSize is the default number of queued events.
const DefaultBufferSize = 256

// Recorder receives per-sink publish outcomes.
type Recorder interface {
	RecordEvent(eventType string, ok bool)
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Sinks []Sink

	// BufferSize bounds the queue. When it is full new events are dropped.
	BufferSize int

	// PublishTimeout bounds a single sink call. Defaults to 10s.
	PublishTimeout time.Duration

	Recorder Recorder
	Logger   *logging.Logger
}

// Dispatcher fans events out to its sinks on one background goroutine, so
// sinks see events in emission order and emitters never block on I/O.
type Dispatcher struct {
	sinks    []Sink
	queue    chan Event
	timeout  time.Duration
	recorder Recorder
	logger   *logging.Logger

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64

	done chan struct{}
}

// NewDispatcher starts a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Global()
	}
	d := &Dispatcher{
		sinks:    cfg.Sinks,
		queue:    make(chan Event, cfg.BufferSize),
		timeout:  cfg.PublishTimeout,
		recorder: cfg.Recorder,
		logger:   logger.With(map[string]any{"component": "events"}),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

// Emit queues e. It never blocks; events emitted after Close or while the
// queue is full are dropped and counted.
func (d *Dispatcher) Emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- e:
	default:
		d.dropped.Add(1)
		d.logger.Warnf("event queue full, dropping event", map[string]any{
			"type": string(e.Type),
		})
	}
}

// Dropped returns how many events were dropped because the queue was full.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		for _, s := range d.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			err := s.Publish(ctx, e)
			cancel()
			if err != nil {
				d.logger.Warnf("event sink publish failed", map[string]any{
					"type":  string(e.Type),
					"error": err.Error(),
				})
			}
			if d.recorder != nil {
				d.recorder.RecordEvent(string(e.Type), err == nil)
			}
		}
	}
}

// Close stops accepting events, delivers the queued ones and closes the
// sinks. If ctx ends first the remaining events are abandoned and the sinks
// are closed under the running delivery, which then fails.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	var result *multierror.Error
	select {
	case <-d.done:
	case <-ctx.Done():
		result = multierror.Append(result, errors.Join(errors.New("events: undelivered events abandoned"), ctx.Err()))
	}
	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

var _ Emitter = (*Dispatcher)(nil)
