package session

import (
	"sync"
	"time"

	"supportchat/internal/pkg/wire"
)

// DefaultEchoWindow is the largest distance between an optimistic send and its
// broadcast copy for the two to be considered the same message.
const DefaultEchoWindow = 2000 * time.Millisecond

type optimisticSend struct {
	content string
	at      time.Time
}

// EchoSuppressor recognizes the broker's copy of an operator reply that was already
// rendered locally.
//
// Matching is a heuristic on (clientId, content, time window). It misses echoes that
// arrive later than the window or under clock skew, and it swallows a genuinely
// repeated identical message sent within the window. Only the latest optimistic send
// per client id is remembered.
type EchoSuppressor struct {
	window time.Duration

	mu      sync.Mutex
	pending map[string]optimisticSend
}

// NewEchoSuppressor returns a suppressor matching within window. A non-positive window
// selects DefaultEchoWindow.
func NewEchoSuppressor(window time.Duration) *EchoSuppressor {
	if window <= 0 {
		window = DefaultEchoWindow
	}
	return &EchoSuppressor{
		window:  window,
		pending: make(map[string]optimisticSend),
	}
}

// RecordOptimistic remembers a locally rendered send to clientID, replacing any
// previous record for the same client id.
func (s *EchoSuppressor) RecordOptimistic(clientID, content string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[clientID] = optimisticSend{content: content, at: at}
}

// Forget drops the record for clientID, used when the send it described never left.
func (s *EchoSuppressor) Forget(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, clientID)
}

// ShouldSuppress reports whether ev is the echo of the recorded send for its client
// id. A match consumes the record.
func (s *EchoSuppressor) ShouldSuppress(ev wire.ChatEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.pending[ev.ClientID]
	if !ok || rec.content != ev.Content {
		return false
	}

	delta := ev.Timestamp.Sub(rec.at)
	if delta < 0 {
		delta = -delta
	}
	if delta >= s.window {
		return false
	}

	delete(s.pending, ev.ClientID)
	return true
}
