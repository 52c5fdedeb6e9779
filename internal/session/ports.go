// Package session owns the per-tenant WhatsApp connection lifecycle:
// the registry of live sessions, the supervisor state machine that
// establishes and recovers connections, and the status fan-out.
package session

import (
	"context"
	"fmt"
)

// Key identifies one logical connection: one tenant's session against
// the messaging network.
type Key struct {
	Tenant  string
	Session string
}

func (k Key) String() string {
	return k.Tenant + "/" + k.Session
}

// Valid reports whether both identifiers are present.
func (k Key) Valid() bool {
	return k.Tenant != "" && k.Session != ""
}

// EventKind tags inbound protocol events.
type EventKind int

const (
	// KindPairing carries a QR-equivalent pairing challenge payload.
	KindPairing EventKind = iota
	// KindOpened signals a completed handshake.
	KindOpened
	// KindClosed signals transport closure with a classification hint.
	KindClosed
	// KindMessage carries an inbound message.
	KindMessage
)

func (k EventKind) String() string {
	switch k {
	case KindPairing:
		return "pairing"
	case KindOpened:
		return "opened"
	case KindClosed:
		return "closed"
	case KindMessage:
		return "message"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one tagged inbound protocol event, produced by the dialer's
// sink and consumed by a single per-session loop.
type Event struct {
	Kind EventKind

	// KindPairing
	QR string

	// KindClosed
	Code      int
	Detail    string
	LoggedOut bool // user revoked the session from their device
	Revoked   bool // device removed remotely

	// KindMessage
	Sender string
	Body   string
}

// Handle is a live transport connection owned by the supervisor.
type Handle interface {
	// Send delivers one message body to a protocol address.
	Send(ctx context.Context, address, body string) error
	// Ping is the low-frequency keep-alive probe.
	Ping(ctx context.Context) error
	// Alive is the liveness signal sampled by the health-check loop.
	Alive() bool
	// JID returns the authenticated protocol identity, if known.
	JID() string
	Close() error
}

// Credentials is opaque per-session authentication material. State is
// owned by the dialer implementation; the supervisor only moves it
// between the store and the dialer.
type Credentials struct {
	Ref   string
	State interface{}
}

// CredentialStore loads and persists per-session credentials. Load
// must create empty material on first use rather than fail.
type CredentialStore interface {
	Load(ctx context.Context, key Key) (*Credentials, error)
	Save(ctx context.Context, key Key, creds *Credentials) error
	Purge(ctx context.Context, key Key) error
}

// Dialer opens protocol connections. Events are delivered through sink
// from the adapter's own goroutines.
type Dialer interface {
	Open(ctx context.Context, key Key, creds *Credentials, sink func(Event)) (Handle, error)
}

// Recorder is the persistence gateway consumed by the supervisor. All
// writes are fire-and-forget: implementations log failures and never
// return them.
type Recorder interface {
	WriteStatus(key Key, from, to Status, reason string)
	WriteInbound(key Key, sender, body string)
	WriteLog(level, category, message string, context map[string]interface{})
}
