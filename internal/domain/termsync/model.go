package termsync

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of the synchronizer.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusFailed  Status = "failed"
)

// State is the externally visible sync state. State() hands out copies.
type State struct {
	LastSyncedAt     *time.Time    `json:"lastSyncedAt,omitempty"`
	SourceVersion    string        `json:"sourceVersion,omitempty"`
	Status           Status        `json:"status"`
	LastError        string        `json:"lastError,omitempty"`
	LastDuration     time.Duration `json:"lastDurationNs"`
	EntriesUpserted  int           `json:"entriesUpserted"`
	MappingsUpserted int           `json:"mappingsUpserted"`
	Preserved        int           `json:"preserved"`
	Attempts         int           `json:"attempts"`
}

// Result is the outcome of TriggerSync.
type Result string

const (
	Started Result = "started"
	Skipped Result = "skipped"
)

// ErrAlreadyRunning is returned by RunOnce when a cycle is in flight.
var ErrAlreadyRunning = errors.New("synchronization already running")

// ErrDisabled is returned when no authority client is configured.
var ErrDisabled = errors.New("synchronization disabled: no authority credentials configured")

// ErrorKind classifies a failed cycle.
type ErrorKind string

const (
	NetworkFailure ErrorKind = "network_failure"
	AuthFailure    ErrorKind = "auth_failure"
	RateLimited    ErrorKind = "rate_limited"
)

// SyncError is the error recorded for a failed cycle.
type SyncError struct {
	Kind ErrorKind
	Err  error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }
