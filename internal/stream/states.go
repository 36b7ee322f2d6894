package stream

import (
	"fmt"
	"time"
)

// State represents the push channel connection state
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
	// StateFailed is terminal until Reconnect is called.
	StateFailed State = "failed"
)

// Degraded reports whether the push channel cannot currently be trusted as
// the source of truth.
func (s State) Degraded() bool {
	return s == StateError || s == StateFailed
}

// Status is a snapshot of the connection state.
type Status struct {
	State     State     `json:"state"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	Since     time.Time `json:"since"`

	seq uint64
}

// StreamError is a push-channel level failure. It only drives the state
// machine and is reported through Status.LastError.
type StreamError struct {
	Op  string
	Err error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream %s: %v", e.Op, e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}
