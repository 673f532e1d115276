package metadata

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// ErrStreamClosed is returned by a mock notification stream after a
// simulated disconnect or Close.
var ErrStreamClosed = errors.New("metadata: notification stream closed")

// MockStore implements MetadataStore in memory for testing.
// It is exported so that tests in other packages can use it.
//
// Every Notifications call gets its own subscriber, and every write fans out
// to all open subscribers, like a real watch. SimulateDisconnect and
// ExpireSession reproduce the failure modes the orchestration layer has to
// survive.
type MockStore struct {
	mu          sync.RWMutex
	data        map[string]KV
	ephemeral   map[string]bool
	versions    map[string]Version
	closed      bool
	unavailable error
	subs        map[*mockStream]struct{}
	streamOpens int
	closeErr    error
}

// NewMockStore creates a new MockStore for testing.
func NewMockStore() *MockStore {
	return &MockStore{
		data:      make(map[string]KV),
		ephemeral: make(map[string]bool),
		versions:  make(map[string]Version),
		subs:      make(map[*mockStream]struct{}),
	}
}

func (m *MockStore) check() error {
	if m.closed {
		return ErrStoreClosed
	}
	return m.unavailable
}

func (m *MockStore) Get(_ context.Context, key string) (GetResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(); err != nil {
		return GetResult{}, err
	}
	kv, ok := m.data[key]
	if !ok {
		return GetResult{Exists: false}, nil
	}
	return GetResult{Value: kv.Value, Version: kv.Version, Exists: true}, nil
}

func (m *MockStore) Put(_ context.Context, key string, value []byte, opts ...PutOption) (Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(); err != nil {
		return 0, err
	}
	if expected := ExtractExpectedVersion(opts); expected != nil {
		if err := m.matchVersion(key, *expected); err != nil {
			return 0, err
		}
	}
	return m.write(key, value, false), nil
}

func (m *MockStore) PutEphemeral(_ context.Context, key string, value []byte, opts ...EphemeralOption) (Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(); err != nil {
		return 0, err
	}
	expectNotExists, expected := ExtractEphemeralOptions(opts)
	if expectNotExists {
		if err := m.matchVersion(key, 0); err != nil {
			return 0, err
		}
	} else if expected != nil {
		if err := m.matchVersion(key, *expected); err != nil {
			return 0, err
		}
	}
	return m.write(key, value, true), nil
}

func (m *MockStore) Delete(_ context.Context, key string, opts ...DeleteOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(); err != nil {
		return err
	}
	existing, ok := m.data[key]
	if !ok {
		return nil
	}
	if expected := ExtractDeleteExpectedVersion(opts); expected != nil && existing.Version != *expected {
		return ErrVersionMismatch
	}
	m.remove(key)
	return nil
}

func (m *MockStore) List(_ context.Context, startKey, endKey string, limit int) ([]KV, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(); err != nil {
		return nil, err
	}

	var keys []string
	for k := range m.data {
		if endKey == "" {
			if strings.HasPrefix(k, startKey) {
				keys = append(keys, k)
			}
		} else if k >= startKey && k < endKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	result := make([]KV, len(keys))
	for i, k := range keys {
		result[i] = m.data[k]
	}
	return result, nil
}

func (m *MockStore) Notifications(_ context.Context) (NotificationStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(); err != nil {
		return nil, err
	}
	s := &mockStream{
		store: m,
		ch:    make(chan Notification, 100),
		done:  make(chan struct{}),
	}
	m.subs[s] = struct{}{}
	m.streamOpens++
	return s, nil
}

func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.dropSubscribers()
	return m.closeErr
}

// SimulateNotification delivers n to every open subscriber without touching
// the stored data.
func (m *MockStore) SimulateNotification(n Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.broadcast(n)
	}
}

// SimulateDisconnect breaks every open notification stream. Subsequent Next
// calls on those streams fail with ErrStreamClosed; data is kept.
func (m *MockStore) SimulateDisconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropSubscribers()
}

// ExpireSession deletes every ephemeral key, as the coordination service does
// when a client session times out, and notifies subscribers of the deletions.
func (m *MockStore) ExpireSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.ephemeral {
		m.remove(key)
	}
}

// SetUnavailable makes every subsequent call fail with err until it is
// cleared with SetUnavailable(nil).
func (m *MockStore) SetUnavailable(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = err
}

// StreamOpens returns how many notification streams have been opened.
func (m *MockStore) StreamOpens() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.streamOpens
}

// Subscribers returns the number of currently open notification streams.
func (m *MockStore) Subscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// IsEphemeral reports whether key exists and was written with PutEphemeral.
func (m *MockStore) IsEphemeral(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ephemeral[key]
}

// callers hold m.mu
func (m *MockStore) matchVersion(key string, expected Version) error {
	existing, ok := m.data[key]
	if !ok && expected != 0 {
		return ErrVersionMismatch
	}
	if ok && existing.Version != expected {
		return ErrVersionMismatch
	}
	return nil
}

func (m *MockStore) write(key string, value []byte, ephemeral bool) Version {
	ver := m.versions[key] + 1
	m.versions[key] = ver
	stored := append([]byte(nil), value...)
	m.data[key] = KV{Key: key, Value: stored, Version: ver}
	if ephemeral {
		m.ephemeral[key] = true
	} else {
		delete(m.ephemeral, key)
	}
	m.broadcast(Notification{Key: key, Value: stored, Version: ver})
	return ver
}

func (m *MockStore) remove(key string) {
	delete(m.data, key)
	delete(m.ephemeral, key)
	m.broadcast(Notification{Key: key, Version: m.versions[key], Deleted: true})
}

func (m *MockStore) broadcast(n Notification) {
	for s := range m.subs {
		select {
		case s.ch <- n:
		default:
			// a subscriber that stopped reading loses its stream, like a
			// watch that fell too far behind
			m.unsubscribe(s)
		}
	}
}

func (m *MockStore) unsubscribe(s *mockStream) {
	if _, ok := m.subs[s]; !ok {
		return
	}
	delete(m.subs, s)
	close(s.done)
}

func (m *MockStore) dropSubscribers() {
	for s := range m.subs {
		m.unsubscribe(s)
	}
}

type mockStream struct {
	store *MockStore
	ch    chan Notification
	done  chan struct{}
}

// Next drains buffered notifications before reporting a broken stream, so a
// write that happened before a disconnect is never lost to the reader.
func (s *mockStream) Next(ctx context.Context) (Notification, error) {
	select {
	case n := <-s.ch:
		return n, nil
	default:
	}

	select {
	case <-ctx.Done():
		return Notification{}, ctx.Err()
	case n := <-s.ch:
		return n, nil
	case <-s.done:
		return Notification{}, ErrStreamClosed
	}
}

func (s *mockStream) Close() error {
	s.store.mu.Lock()
	defer s.store.mu.Unlock()
	s.store.unsubscribe(s)
	return nil
}

var _ MetadataStore = (*MockStore)(nil)
