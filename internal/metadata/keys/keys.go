// Package keys builds and parses the coordination-service keyspace.
//
// Every orchestration name owns one subtree:
//
//	/shardorch/v1/<name>/config                  serialized routing configuration
//	/shardorch/v1/<name>/instances/<instanceId>  ephemeral instance registration
package keys

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Prefix is the root prefix for all keys.
const Prefix = "/shardorch/v1"

const (
	configLeaf    = "config"
	instancesLeaf = "instances"
)

var (
	// ErrInvalidKey is returned when a key cannot be parsed.
	ErrInvalidKey = errors.New("keys: invalid key format")

	// ErrInvalidName is returned for names that cannot be used as a key segment.
	ErrInvalidName = errors.New("keys: invalid name")
)

var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateName checks that an orchestration name or instance id is usable as
// a single key segment.
func ValidateName(name string) error {
	if !segmentPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// NamePrefix returns the subtree owned by an orchestration name.
// Format: /shardorch/v1/<name>/
func NamePrefix(name string) string {
	return fmt.Sprintf("%s/%s/", Prefix, name)
}

// ConfigKeyPath returns the key holding the serialized configuration.
// Format: /shardorch/v1/<name>/config
func ConfigKeyPath(name string) string {
	return NamePrefix(name) + configLeaf
}

// InstancesPrefix returns the prefix for listing all registered instances.
// Format: /shardorch/v1/<name>/instances/
func InstancesPrefix(name string) string {
	return NamePrefix(name) + instancesLeaf + "/"
}

// InstanceKeyPath returns the key for an instance registration (ephemeral).
// Format: /shardorch/v1/<name>/instances/<instanceId>
func InstanceKeyPath(name, instanceID string) string {
	return InstancesPrefix(name) + instanceID
}

// ParseInstanceKey parses an instance key into its components.
// Returns ErrInvalidKey if the key is not a valid instance key.
func ParseInstanceKey(key string) (name, instanceID string, err error) {
	prefix := Prefix + "/"
	if !strings.HasPrefix(key, prefix) {
		return "", "", ErrInvalidKey
	}

	parts := strings.Split(key[len(prefix):], "/")
	if len(parts) != 3 || parts[1] != instancesLeaf || parts[0] == "" || parts[2] == "" {
		return "", "", ErrInvalidKey
	}
	return parts[0], parts[2], nil
}

// ParseConfigKey returns the orchestration name a config key belongs to.
func ParseConfigKey(key string) (string, error) {
	prefix := Prefix + "/"
	if !strings.HasPrefix(key, prefix) {
		return "", ErrInvalidKey
	}
	parts := strings.Split(key[len(prefix):], "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != configLeaf {
		return "", ErrInvalidKey
	}
	return parts[0], nil
}
