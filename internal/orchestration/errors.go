package orchestration

import "errors"

var (
	// ErrDuplicateDataSource is returned when two declared data sources, or
	// members of replica groups, share a name.
	ErrDuplicateDataSource = errors.New("orchestration: duplicate data source name")

	// ErrShutdown is returned by Init after Shutdown.
	ErrShutdown = errors.New("orchestration: shut down")

	// ErrInvalidConfig is returned for a configuration that cannot be
	// applied: it fails to decode, breaks a rule invariant or references a
	// data source this instance does not hold.
	ErrInvalidConfig = errors.New("orchestration: invalid configuration")

	// ErrConfigNotFound is returned by Load when nothing has been persisted
	// under the name yet.
	ErrConfigNotFound = errors.New("orchestration: configuration not found")
)
