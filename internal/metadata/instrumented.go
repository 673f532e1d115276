package metadata

import (
	"context"
	"errors"
	"time"
)

// Operation names reported to an OpRecorder.
const (
	OpGet           = "get"
	OpPut           = "put"
	OpDelete        = "delete"
	OpList          = "list"
	OpPutEphemeral  = "put_ephemeral"
	OpNotifications = "notifications"
)

// Operation outcomes reported to an OpRecorder. A CAS conflict is a normal
// outcome for first-writer-wins persists, so it is kept apart from errors.
const (
	StatusSuccess  = "success"
	StatusConflict = "conflict"
	StatusError    = "error"
)

// OpRecorder records coordination-service call metrics.
// This keeps the metadata package decoupled from the metrics package.
type OpRecorder interface {
	RecordOperation(op string, durationSeconds float64, status string)
	RecordNotification(deleted bool)
}

// InstrumentedStore wraps a MetadataStore and records latency and outcome
// for each call, plus a count of delivered notifications.
type InstrumentedStore struct {
	store    MetadataStore
	recorder OpRecorder
}

// NewInstrumentedStore creates an instrumented wrapper around a MetadataStore.
// If recorder is nil, calls pass through directly.
func NewInstrumentedStore(store MetadataStore, recorder OpRecorder) *InstrumentedStore {
	return &InstrumentedStore{
		store:    store,
		recorder: recorder,
	}
}

// Unwrap returns the underlying store.
func (s *InstrumentedStore) Unwrap() MetadataStore {
	return s.store
}

func (s *InstrumentedStore) observe(op string, start time.Time, err error) {
	if s.recorder == nil {
		return
	}
	s.recorder.RecordOperation(op, time.Since(start).Seconds(), StatusOf(err))
}

// StatusOf classifies an operation error into one of the Status values.
func StatusOf(err error) string {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrVersionMismatch):
		return StatusConflict
	default:
		return StatusError
	}
}

func (s *InstrumentedStore) Get(ctx context.Context, key string) (GetResult, error) {
	start := time.Now()
	result, err := s.store.Get(ctx, key)
	s.observe(OpGet, start, err)
	return result, err
}

func (s *InstrumentedStore) Put(ctx context.Context, key string, value []byte, opts ...PutOption) (Version, error) {
	start := time.Now()
	v, err := s.store.Put(ctx, key, value, opts...)
	s.observe(OpPut, start, err)
	return v, err
}

func (s *InstrumentedStore) Delete(ctx context.Context, key string, opts ...DeleteOption) error {
	start := time.Now()
	err := s.store.Delete(ctx, key, opts...)
	s.observe(OpDelete, start, err)
	return err
}

func (s *InstrumentedStore) List(ctx context.Context, startKey, endKey string, limit int) ([]KV, error) {
	start := time.Now()
	result, err := s.store.List(ctx, startKey, endKey, limit)
	s.observe(OpList, start, err)
	return result, err
}

// Notifications opens a stream on the underlying store. Only the open call
// is timed; each delivered notification is counted.
func (s *InstrumentedStore) Notifications(ctx context.Context) (NotificationStream, error) {
	start := time.Now()
	stream, err := s.store.Notifications(ctx)
	s.observe(OpNotifications, start, err)
	if err != nil || s.recorder == nil {
		return stream, err
	}
	return &countingStream{NotificationStream: stream, recorder: s.recorder}, nil
}

func (s *InstrumentedStore) PutEphemeral(ctx context.Context, key string, value []byte, opts ...EphemeralOption) (Version, error) {
	start := time.Now()
	v, err := s.store.PutEphemeral(ctx, key, value, opts...)
	s.observe(OpPutEphemeral, start, err)
	return v, err
}

func (s *InstrumentedStore) Close() error {
	return s.store.Close()
}

type countingStream struct {
	NotificationStream
	recorder OpRecorder
}

func (c *countingStream) Next(ctx context.Context) (Notification, error) {
	n, err := c.NotificationStream.Next(ctx)
	if err == nil {
		c.recorder.RecordNotification(n.Deleted)
	}
	return n, err
}

var _ MetadataStore = (*InstrumentedStore)(nil)
