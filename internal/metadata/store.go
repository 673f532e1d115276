// Package metadata defines the MetadataStore interface: the coordination
// primitives (versioned read, compare-and-set write, change notifications and
// session-scoped ephemeral keys) the orchestration layer is built on. The
// production implementation lives in the oxia subpackage.
package metadata

import (
	"context"
	"errors"
)

// Common errors returned by MetadataStore operations.
var (
	// ErrKeyNotFound is returned when a key does not exist.
	ErrKeyNotFound = errors.New("metadata: key not found")

	// ErrVersionMismatch is returned when the expected version does not match
	// the current version during a CAS (compare-and-set) operation.
	ErrVersionMismatch = errors.New("metadata: version mismatch")

	// ErrSessionExpired is returned when an ephemeral key's session has expired.
	ErrSessionExpired = errors.New("metadata: session expired")

	// ErrUnavailable is returned when the coordination service cannot be
	// reached. Callers may retry.
	ErrUnavailable = errors.New("metadata: coordination service unavailable")

	// ErrStoreClosed is returned when operations are attempted on a closed store.
	ErrStoreClosed = errors.New("metadata: store closed")
)

// Version represents a key's version in the metadata store.
// Versions increase on every write to the key.
//
// A zero version indicates the key has never been written, so
// WithExpectedVersion(0) turns a Put into a create-if-absent.
type Version int64

// NoVersion is a sentinel value indicating no version constraint.
const NoVersion Version = -1

// KV represents a key-value pair with its version.
type KV struct {
	Key     string
	Value   []byte
	Version Version
}

// GetResult is the result of a Get operation.
type GetResult struct {
	Value   []byte
	Version Version
	Exists  bool
}

// Notification represents a change notification from the metadata store.
// Value may be nil even for writes: some backends only report that a key
// changed, so consumers that need the payload re-read the key.
type Notification struct {
	// Key is the key that was modified.
	Key string
	// Value is the new value when the backend delivers it.
	Value []byte
	// Version is the version after the modification.
	Version Version
	// Deleted is true if the key was deleted.
	Deleted bool
}

// NotificationStream provides an iterator over change notifications.
//
//	stream, err := store.Notifications(ctx)
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//
//	for {
//	    n, err := stream.Next(ctx)
//	    if err != nil {
//	        return err // stream is broken, reopen it
//	    }
//	    ...
//	}
type NotificationStream interface {
	// Next blocks until the next notification is available or the context
	// is cancelled.
	Next(ctx context.Context) (Notification, error)

	// Close releases resources associated with the stream.
	Close() error
}

// PutOption configures a Put operation.
type PutOption func(*putOptions)

type putOptions struct {
	expectedVersion *Version
}

// WithExpectedVersion specifies the expected version for a CAS operation.
// If the current version does not match, the Put fails with ErrVersionMismatch.
// A version of 0 requires the key to be absent.
func WithExpectedVersion(v Version) PutOption {
	return func(o *putOptions) {
		o.expectedVersion = &v
	}
}

// DeleteOption configures a Delete operation.
type DeleteOption func(*deleteOptions)

type deleteOptions struct {
	expectedVersion *Version
}

// WithDeleteExpectedVersion specifies the expected version for a conditional delete.
func WithDeleteExpectedVersion(v Version) DeleteOption {
	return func(o *deleteOptions) {
		o.expectedVersion = &v
	}
}

// ExtractExpectedVersion extracts the expected version from Put options.
// Returns nil if no expected version was specified.
func ExtractExpectedVersion(opts []PutOption) *Version {
	var pOpts putOptions
	for _, opt := range opts {
		opt(&pOpts)
	}
	return pOpts.expectedVersion
}

// ExtractDeleteExpectedVersion extracts the expected version from Delete options.
func ExtractDeleteExpectedVersion(opts []DeleteOption) *Version {
	var dOpts deleteOptions
	for _, opt := range opts {
		opt(&dOpts)
	}
	return dOpts.expectedVersion
}

// EphemeralOption configures a PutEphemeral operation.
type EphemeralOption func(*ephemeralOptions)

type ephemeralOptions struct {
	expectNotExists bool
	expectedVersion *Version
}

// WithEphemeralExpectNotExists makes PutEphemeral fail with
// ErrVersionMismatch if the key already exists.
func WithEphemeralExpectNotExists() EphemeralOption {
	return func(o *ephemeralOptions) {
		o.expectNotExists = true
	}
}

// WithEphemeralExpectedVersion makes PutEphemeral fail with
// ErrVersionMismatch if the key's current version doesn't match.
func WithEphemeralExpectedVersion(v Version) EphemeralOption {
	return func(o *ephemeralOptions) {
		o.expectedVersion = &v
	}
}

// ExtractEphemeralOptions extracts options from EphemeralOption slice.
func ExtractEphemeralOptions(opts []EphemeralOption) (expectNotExists bool, expectedVersion *Version) {
	var o ephemeralOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o.expectNotExists, o.expectedVersion
}

// MetadataStore is the coordination capability used by the orchestration
// layer. All operations accept a context for cancellation and timeouts.
//
//	store, err := oxia.New(ctx, oxia.Config{
//	    ServiceAddress: "localhost:6648",
//	    Namespace:      "default",
//	})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	// first writer wins
//	_, err = store.Put(ctx, keys.ConfigKeyPath("sharding_db"), data, metadata.WithExpectedVersion(0))
type MetadataStore interface {
	// Get retrieves a value by key.
	// Returns GetResult with Exists=false if the key does not exist (not an error).
	Get(ctx context.Context, key string) (GetResult, error)

	// Put stores a value and returns the new version.
	// With WithExpectedVersion the write only succeeds if the current version
	// matches; otherwise ErrVersionMismatch is returned.
	Put(ctx context.Context, key string, value []byte, opts ...PutOption) (Version, error)

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string, opts ...DeleteOption) error

	// List returns keys in the range [startKey, endKey) in lexicographic order.
	// If endKey is empty, returns all keys with the prefix startKey.
	// If limit is 0 or negative, returns all matching keys.
	List(ctx context.Context, startKey, endKey string, limit int) ([]KV, error)

	// Notifications returns a stream of change notifications for the whole
	// namespace. Changes made while no stream is open are not replayed;
	// consumers re-read the keys they care about after (re)subscribing.
	Notifications(ctx context.Context) (NotificationStream, error)

	// PutEphemeral stores a value that is deleted automatically when the
	// client session ends.
	PutEphemeral(ctx context.Context, key string, value []byte, opts ...EphemeralOption) (Version, error)

	// Close releases resources held by the store.
	// After Close is called, all operations will return ErrStoreClosed.
	Close() error
}
