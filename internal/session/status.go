package session

import "github.com/pkg/errors"

// Status is the supervisor-owned lifecycle state of a session.
type Status string

const (
	StatusAbsent          Status = "absent"
	StatusConnecting      Status = "connecting"
	StatusPairingRequired Status = "pairing_required"
	StatusConnected       Status = "connected"
	StatusReconnecting    Status = "reconnecting"
	StatusClosing         Status = "closing"
	StatusLoggedOut       Status = "logged_out"
	StatusFailed          Status = "failed"
)

// Settled reports whether a connect attempt has reached a state the
// caller can act on: either a usable outcome or one requiring operator
// attention.
func (s Status) Settled() bool {
	switch s {
	case StatusConnected, StatusPairingRequired, StatusLoggedOut, StatusFailed:
		return true
	default:
		return false
	}
}

var (
	// ErrBusy is returned when a connect call exceeded its bounded wait
	// on another in-flight attempt for the same key.
	ErrBusy = errors.New("session: connect attempt already in progress")

	// ErrInvalidKey is returned for requests missing tenant or session
	// identifiers. No state is mutated.
	ErrInvalidKey = errors.New("session: tenant and session are required")

	// ErrNotConnected is returned when an operation needs a live handle
	// and none exists.
	ErrNotConnected = errors.New("session: no live connection")
)
