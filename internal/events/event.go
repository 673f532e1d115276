// Package events publishes orchestration lifecycle events: configuration
// persisted, applied or rejected, instance registration changes, failed
// initialization and shutdown. Events go through an asynchronous Dispatcher
// to any number of sinks (log, Kafka, S3 archive).
package events

import (
	"context"
	"time"
)

// Type identifies an event.
type Type string

const (
	ConfigPersisted    Type = "config_persisted"
	ConfigApplied      Type = "config_applied"
	ConfigRejected     Type = "config_rejected"
	ConfigDeleted      Type = "config_deleted"
	InstanceRegistered Type = "instance_registered"
	InstanceLost       Type = "instance_lost"
	InitFailed         Type = "init_failed"
	Shutdown           Type = "shutdown"
)

// Event is one observable occurrence. Payload carries the serialized
// configuration for ConfigApplied and ConfigPersisted when the publisher
// has it.
type Event struct {
	Type       Type              `json:"type"`
	Time       time.Time         `json:"time"`
	ConfigName string            `json:"configName"`
	InstanceID string            `json:"instanceId,omitempty"`
	Version    int64             `json:"version,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Error      string            `json:"error,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Payload    []byte            `json:"-"`
}

// Sink receives events. Publish must be safe to call from one goroutine at
// a time; the Dispatcher never calls it concurrently.
type Sink interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Emitter is what producers of events depend on.
type Emitter interface {
	Emit(e Event)
}

// Discard drops every event.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(Event) {}
