/*
Package session is the client-side support-chat engine.

It keeps exactly one messaging connection open for the role implied by the current
identity, resolves who authored each inbound event, suppresses the broker's copies of
optimistically rendered operator replies, folds operator-side traffic into per-participant
conversations, and coordinates credential refresh so neither HTTP calls nor connect
handshakes run on a stale token.

Rendering is out of scope: every piece of state a UI needs is exposed through
observe.Value cells.
*/
package session

import (
	"errors"

	"supportchat/internal/app/user"
)

var (
	// ErrUnauthorized marks an authorization failure from an HTTP call or a connect
	// handshake. It is recoverable once through credential refresh.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSessionExpired is returned after the session was force-terminated because a
	// refresh failed or was impossible.
	ErrSessionExpired = errors.New("session expired")

	// ErrMalformedEvent marks an inbound payload that could not be decoded. The event
	// is dropped; the connection is unaffected.
	ErrMalformedEvent = errors.New("malformed inbound event")
)

// Mode is the transport mode a connection is established for.
type Mode string

const (
	// ModeParticipant subscribes to the participant's private queue.
	ModeParticipant Mode = "participant"

	// ModeOperator subscribes to the operator broadcast topic.
	ModeOperator Mode = "operator"
)

// ModeFor returns the mode implied by an identity.
func ModeFor(id user.Identity) Mode {
	if id.IsOperator() {
		return ModeOperator
	}
	return ModeParticipant
}

// Status is the lifecycle stage of the connection.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ConnectionState is the read-only view of the single connection. Mode is empty when
// no connection exists.
type ConnectionState struct {
	Mode   Mode
	Status Status
}

// Connected reports whether a connection for mode is established.
func (s ConnectionState) Connected(mode Mode) bool {
	return s.Status == StatusConnected && s.Mode == mode
}
