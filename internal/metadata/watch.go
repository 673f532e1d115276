package metadata

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/shardorch/shardorch/internal/logging"
)

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// Store is the store to watch.
	Store MetadataStore

	// Match selects the keys the watcher cares about. Nil matches every key.
	Match func(key string) bool

	// OnChange is called for every matching notification, in arrival order,
	// on the watcher goroutine.
	OnChange func(ctx context.Context, n Notification)

	// OnResync is called on the watcher goroutine after every successful
	// subscribe, the first one included, before any notification from the
	// new stream is handed to OnChange. Changes made while no stream was
	// open are only visible through it. An error drops the stream and
	// triggers a reconnect.
	OnResync func(ctx context.Context) error

	// NewBackOff builds the reconnect policy. Defaults to an exponential
	// backoff capped at 30s that never gives up.
	NewBackOff func() backoff.BackOff

	// Logger defaults to the global logger.
	Logger *logging.Logger
}

// Watcher follows a MetadataStore's notification stream with a single
// goroutine, reconnecting with backoff whenever the stream breaks. Because
// there is only ever one goroutine and one open stream, callbacks are never
// registered twice, no matter how often the connection drops.
type Watcher struct {
	cfg    WatcherConfig
	logger *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	started    bool
	reconnects int
}

// NewWatcher creates a watcher. Nothing happens until Start.
func NewWatcher(cfg WatcherConfig) *Watcher {
	if cfg.NewBackOff == nil {
		cfg.NewBackOff = defaultBackOff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Global()
	}
	return &Watcher{
		cfg:    cfg,
		logger: logger.With(map[string]any{"component": "watcher"}),
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Start opens the first notification stream synchronously, so a store that
// is unreachable is reported to the caller, then hands it to the watcher
// goroutine. ctx only bounds opening that first stream; the goroutine keeps
// running after ctx is cancelled and stops only on Close.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return errors.New("metadata: watcher already started")
	}

	stream, err := w.cfg.Store.Notifications(ctx)
	if err != nil {
		return err
	}

	w.ctx, w.cancel = context.WithCancel(context.WithoutCancel(ctx))
	w.started = true
	w.wg.Add(1)
	go w.run(stream)
	return nil
}

// Close stops the watcher goroutine and waits for it to exit.
// It is safe to call more than once.
func (w *Watcher) Close() {
	w.mu.Lock()
	cancel := w.cancel
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

// Reconnects returns how many times the stream had to be re-established.
func (w *Watcher) Reconnects() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reconnects
}

func (w *Watcher) run(stream NotificationStream) {
	defer w.wg.Done()
	bo := backoff.WithContext(w.cfg.NewBackOff(), w.ctx)

	for {
		err := w.consume(stream)
		_ = stream.Close()
		if w.ctx.Err() != nil {
			return
		}
		w.logger.Warnf("notification stream lost", map[string]any{
			"error": err.Error(),
		})

		stream = w.reconnect(bo)
		if stream == nil {
			return
		}
	}
}

// consume resyncs and then reads stream until it breaks.
func (w *Watcher) consume(stream NotificationStream) error {
	if w.cfg.OnResync != nil {
		if err := w.cfg.OnResync(w.ctx); err != nil {
			return err
		}
	}
	for {
		n, err := stream.Next(w.ctx)
		if err != nil {
			return err
		}
		if w.cfg.Match != nil && !w.cfg.Match(n.Key) {
			continue
		}
		if w.cfg.OnChange != nil {
			w.cfg.OnChange(w.ctx, n)
		}
	}
}

func (w *Watcher) reconnect(bo backoff.BackOff) NotificationStream {
	bo.Reset()
	for {
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			w.logger.Errorf("giving up on notification stream", nil)
			return nil
		}
		select {
		case <-w.ctx.Done():
			return nil
		case <-time.After(wait):
		}

		stream, err := w.cfg.Store.Notifications(w.ctx)
		if err != nil {
			if w.ctx.Err() != nil {
				return nil
			}
			w.logger.Warnf("notification stream connection failed", map[string]any{
				"error":   err.Error(),
				"backoff": wait.String(),
			})
			continue
		}

		w.mu.Lock()
		w.reconnects++
		count := w.reconnects
		w.mu.Unlock()
		w.logger.Infof("notification stream reconnected", map[string]any{
			"reconnects": count,
		})
		return stream
	}
}
