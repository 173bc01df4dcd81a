/*
Package wire defines the support-chat messaging protocol spoken over the WebSocket
connection between the broker and its clients.

A connection carries JSON frames. Clients SUBSCRIBE to destinations and SEND to
application destinations; the broker answers with MESSAGE frames for every event routed
to a subscribed destination and ERROR frames for rejected requests.
*/
package wire

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Command is the verb of a frame.
type Command string

const (
	CommandConnected   Command = "CONNECTED"
	CommandSubscribe   Command = "SUBSCRIBE"
	CommandUnsubscribe Command = "UNSUBSCRIBE"
	CommandSend        Command = "SEND"
	CommandMessage     Command = "MESSAGE"
	CommandError       Command = "ERROR"
)

// Destinations served by the broker.
const (
	// ParticipantQueuePrefix is followed by the participant's client id.
	ParticipantQueuePrefix = "/queue/support/"

	// OperatorTopic carries every participant event and every operator reply.
	OperatorTopic = "/topic/support.admin"

	// ParticipantInbound receives participant messages.
	ParticipantInbound = "/app/support.message"

	// OperatorInbound receives operator replies.
	OperatorInbound = "/app/support.reply"
)

// Handshake metadata.
const (
	// ClientIDHeader carries the session-scoped client id on connect.
	ClientIDHeader = "X-Client-Id"

	// ClientIDQuery is the query-string fallback for clients that cannot set headers.
	ClientIDQuery = "cid"

	// AuthorizationHeader carries the bearer credential on connect.
	AuthorizationHeader = "Authorization"

	bearerPrefix = "Bearer "
)

// ParticipantQueue returns the private destination of a participant.
func ParticipantQueue(clientID string) string {
	return ParticipantQueuePrefix + clientID
}

// QueueOwner returns the client id owning a participant queue destination.
func QueueOwner(destination string) (string, bool) {
	if !strings.HasPrefix(destination, ParticipantQueuePrefix) {
		return "", false
	}
	owner := destination[len(ParticipantQueuePrefix):]
	return owner, owner != ""
}

// BearerValue formats a credential for the Authorization header.
func BearerValue(token string) string {
	return bearerPrefix + token
}

// ParseBearer extracts the credential from an Authorization header value.
// Empty, malformed and literal "null" values yield ok=false.
func ParseBearer(value string) (string, bool) {
	if !strings.HasPrefix(value, bearerPrefix) {
		return "", false
	}
	raw := strings.TrimSpace(value[len(bearerPrefix):])
	if raw == "" || strings.EqualFold(raw, "null") {
		return "", false
	}
	return raw, true
}

// Frame is the unit exchanged on the connection.
type Frame struct {
	Command     Command         `json:"command"`
	ID          string          `json:"id,omitempty"`
	Destination string          `json:"destination,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// NewFrame marshals body into a frame. A nil body produces a frame without one.
func NewFrame(cmd Command, id, destination string, body any) (Frame, error) {
	f := Frame{Command: cmd, ID: id, Destination: destination}
	if body == nil {
		return f, nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return Frame{}, fmt.Errorf("marshal %s body: %w", cmd, err)
	}
	f.Body = raw
	return f, nil
}

// DecodeBody unmarshals the frame body into dst.
func (f Frame) DecodeBody(dst any) error {
	if len(f.Body) == 0 {
		return fmt.Errorf("%s frame has no body", f.Command)
	}
	if err := json.Unmarshal(f.Body, dst); err != nil {
		return fmt.Errorf("decode %s body: %w", f.Command, err)
	}
	return nil
}

// EventType is the kind of a chat event.
type EventType string

const (
	EventChat  EventType = "CHAT"
	EventJoin  EventType = "JOIN"
	EventLeave EventType = "LEAVE"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventChat, EventJoin, EventLeave:
		return true
	}
	return false
}

// ChatEvent is a routed chat event as delivered in MESSAGE frames. Sender is nil for
// guests.
type ChatEvent struct {
	ClientID  string    `json:"clientId"`
	Sender    *string   `json:"sender"`
	Role      string    `json:"role"`
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`
	Type      EventType `json:"type"`
}

// SenderName returns the sender or "" for guests.
func (e ChatEvent) SenderName() string {
	if e.Sender == nil {
		return ""
	}
	return *e.Sender
}

// Validate checks the fields every routed event must carry.
func (e ChatEvent) Validate() error {
	if e.ClientID == "" {
		return fmt.Errorf("event has no clientId")
	}
	if !e.Type.Valid() {
		return fmt.Errorf("event has unknown type %q", e.Type)
	}
	return nil
}

// ParticipantMessage is the body a participant SENDs to ParticipantInbound.
type ParticipantMessage struct {
	Content  string    `json:"content"`
	Type     EventType `json:"type"`
	Sender   *string   `json:"sender"`
	Role     string    `json:"role"`
	ClientID string    `json:"clientId"`
}

// ReplyRequest is the body an operator SENDs to OperatorInbound. TargetClientID is a
// routing hint naming the participant, not the operator's own client id.
type ReplyRequest struct {
	TargetClientID string    `json:"targetClientId"`
	Content        string    `json:"content"`
	Type           EventType `json:"type"`
	Sender         string    `json:"sender"`
}

// ErrorBody is the body of an ERROR frame.
type ErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ConnectedBody is the body of the CONNECTED frame sent once after the handshake.
type ConnectedBody struct {
	ClientID string `json:"clientId"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
