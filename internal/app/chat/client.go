/*
Package chat contains the support-chat message broker: WebSocket connections, their
destination subscriptions, and the routing of participant messages and operator replies.

This file defines the Client struct, representing an active WebSocket connection. It manages the
connection's lifecycle, its read and write loops (ReadPump and WritePump), and the handling of
SUBSCRIBE, UNSUBSCRIBE and SEND frames.
*/
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"supportchat/internal/app/user"
	"supportchat/internal/pkg/errs"
	"supportchat/internal/pkg/logx"
	"supportchat/internal/pkg/wire"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a frame sent by the client.
	maxFrameSize = 16 * 1024

	// MaxContentBytes is the maximum allowed size (in bytes) of message content.
	MaxContentBytes = 5000

	// sendChannelBuffer is the number of frames queued for a connection before it is
	// considered too slow and dropped.
	sendChannelBuffer = 256

	// publishTimeout bounds a hand-off to the backplane.
	publishTimeout = 5 * time.Second

	// operatorFallbackName signs replies from an operator token without a username.
	operatorFallbackName = "support"
)

// Client struct represents an active WebSocket connection and the principal behind it.
type Client struct {
	// the broker the connection is registered with.
	hub *Hub

	// underlying WebSocket connection object.
	conn *websocket.Conn

	// clientID is the session-scoped id declared on connect.
	clientID string

	// principal is the authenticated identity, or user.Guest.
	principal user.Identity

	// a buffered channel used to queue frames waiting to be sent to the client.
	send chan []byte

	// sendMu guards send against writes after closeSend.
	sendMu sync.Mutex
	closed bool

	// now stamps events; replaced in tests.
	now func() time.Time

	// structured logger with connection context.
	logger zerolog.Logger
}

// NewClient constructs and returns a new Client instance.
func NewClient(hub *Hub, wsConn *websocket.Conn, clientID string, principal user.Identity) *Client {
	clientLogger := logx.Logger().With().
		Str("client_id", clientID).
		Str("role", string(principal.Role)).
		Str("username", principal.Username).
		Logger()

	return &Client{
		hub:       hub,
		conn:      wsConn,
		clientID:  clientID,
		principal: principal,
		send:      make(chan []byte, sendChannelBuffer),
		now:       func() time.Time { return time.Now().UTC() },
		logger:    clientLogger,
	}
}

// ClientID returns the connection's client id.
func (c *Client) ClientID() string {
	return c.clientID
}

// ReadPump handles reading frames from the WebSocket connection.
// It handles heartbeats (Pong), frame dispatch, and performs cleanup upon connection closure.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(maxFrameSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading frame (client close/going away)")
			}
			break
		}

		c.processInboundFrame(data)
	}
}

// cleanupOnDisconnect handles the necessary cleanup steps when the client's ReadPump terminates.
func (c *Client) cleanupOnDisconnect() {
	if r := recover(); r != nil {
		c.logger.Error().Interface("panic", r).Msg("Recovered from panic in ReadPump.")
	}

	c.hub.Unregister(c)

	if err := c.conn.Close(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		c.logger.Debug().Err(err).Msg("Client connection close error")
	}
}

// processInboundFrame decodes a raw frame and dispatches it by command.
func (c *Client) processInboundFrame(data []byte) {
	var frame wire.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.logger.Warn().Err(err).Int("frame_bytes", len(data)).Msg("Client sent invalid JSON")
		c.SendError("", errs.NewError(errs.ErrMalformedFrame))
		return
	}

	switch frame.Command {
	case wire.CommandSubscribe:
		c.handleSubscribe(frame)

	case wire.CommandUnsubscribe:
		c.handleUnsubscribe(frame)

	case wire.CommandSend:
		c.handleSend(frame)

	default:
		c.logger.Warn().Str("command", string(frame.Command)).Msg("Client sent unsupported command")
		c.SendError(frame.ID, errs.NewError(errs.ErrUnknownCommand))
	}
}

// canSubscribe applies the destination access rules: a participant queue belongs to the
// connection declaring its client id, the operator topic to operators.
func (c *Client) canSubscribe(destination string) (bool, *errs.CustomError) {
	if owner, ok := wire.QueueOwner(destination); ok {
		if owner != c.clientID {
			return false, errs.NewError(errs.ErrForbiddenDestination)
		}
		return true, nil
	}

	if destination == wire.OperatorTopic {
		if !c.principal.IsOperator() {
			return false, errs.NewError(errs.ErrForbiddenDestination)
		}
		return true, nil
	}

	return false, errs.NewError(errs.ErrUnknownDestination)
}

// handleSubscribe registers a subscription after checking access to the destination.
func (c *Client) handleSubscribe(frame wire.Frame) {
	if ok, customErr := c.canSubscribe(frame.Destination); !ok {
		c.logger.Warn().Str("destination", frame.Destination).Msg("Subscription rejected")
		c.SendError(frame.ID, customErr)
		return
	}

	id := frame.ID
	if id == "" {
		id = uuid.NewString()
	}

	c.hub.subscribe(c, frame.Destination, id)
	c.logger.Debug().Str("destination", frame.Destination).Str("subscription", id).Msg("Subscribed")
}

// handleUnsubscribe removes a subscription by id. Unknown ids are ignored.
func (c *Client) handleUnsubscribe(frame wire.Frame) {
	if !c.hub.unsubscribe(c, frame.ID) {
		c.logger.Debug().Str("subscription", frame.ID).Msg("Unsubscribe for unknown subscription ignored")
	}
}

// handleSend dispatches a SEND frame by application destination.
func (c *Client) handleSend(frame wire.Frame) {
	switch frame.Destination {
	case wire.ParticipantInbound:
		c.handleParticipantMessage(frame)

	case wire.OperatorInbound:
		c.handleReply(frame)

	default:
		c.SendError(frame.ID, errs.NewError(errs.ErrUnknownDestination))
	}
}

// validateContent checks an event type and content submitted by a client.
func validateContent(typ wire.EventType, content string) *errs.CustomError {
	if !typ.Valid() {
		return errs.NewError(errs.ErrInvalidParams)
	}
	if typ == wire.EventChat && content == "" {
		return errs.NewError(errs.ErrInvalidParams)
	}
	if len(content) > MaxContentBytes || !utf8.ValidString(content) {
		return errs.NewError(errs.ErrMessageContentTooLong)
	}
	return nil
}

// handleParticipantMessage stamps a participant message with the connection's client id
// and principal and fans it out to the operator topic and the participant's own queue.
// Sender and role declared in the body are ignored.
func (c *Client) handleParticipantMessage(frame wire.Frame) {
	var in wire.ParticipantMessage
	if err := frame.DecodeBody(&in); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid participant message")
		c.SendError(frame.ID, errs.NewError(errs.ErrMalformedFrame))
		return
	}
	if in.Type == "" {
		in.Type = wire.EventChat
	}
	if customErr := validateContent(in.Type, in.Content); customErr != nil {
		c.SendError(frame.ID, customErr)
		return
	}

	ev := wire.ChatEvent{
		ClientID:  c.clientID,
		Sender:    nil,
		Role:      string(user.RoleGuest),
		Timestamp: c.now(),
		Content:   in.Content,
		Type:      in.Type,
	}
	if !c.principal.IsGuest() {
		ev.Sender = wire.StringPtr(c.principal.Username)
		ev.Role = string(c.principal.Role)
	}

	c.fanOut(frame.ID, ev, wire.OperatorTopic, wire.ParticipantQueue(c.clientID))
}

// handleReply stamps an operator reply and fans it out to the target participant's queue
// and the operator topic.
func (c *Client) handleReply(frame wire.Frame) {
	if !c.principal.IsOperator() {
		c.logger.Warn().Msg("Non-operator attempted to reply")
		c.SendError(frame.ID, errs.NewError(errs.ErrForbiddenDestination))
		return
	}

	var in wire.ReplyRequest
	if err := frame.DecodeBody(&in); err != nil {
		c.logger.Warn().Err(err).Msg("Operator sent invalid reply")
		c.SendError(frame.ID, errs.NewError(errs.ErrMalformedFrame))
		return
	}
	if in.TargetClientID == "" {
		c.SendError(frame.ID, errs.NewError(errs.ErrInvalidParams))
		return
	}
	if in.Type == "" {
		in.Type = wire.EventChat
	}
	if customErr := validateContent(in.Type, in.Content); customErr != nil {
		c.SendError(frame.ID, customErr)
		return
	}

	sender := c.principal.Username
	if sender == "" {
		sender = operatorFallbackName
	}

	ev := wire.ChatEvent{
		ClientID:  in.TargetClientID,
		Sender:    wire.StringPtr(sender),
		Role:      string(user.RoleEmployee),
		Timestamp: c.now(),
		Content:   in.Content,
		Type:      in.Type,
	}

	c.fanOut(frame.ID, ev, wire.ParticipantQueue(in.TargetClientID), wire.OperatorTopic)
}

// fanOut publishes ev to every destination in order.
func (c *Client) fanOut(frameID string, ev wire.ChatEvent, destinations ...string) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	for _, dest := range destinations {
		if err := c.hub.publish(ctx, dest, ev); err != nil {
			c.logger.Error().Err(err).Str("destination", dest).Msg("Failed to publish event")
			c.SendError(frameID, errs.NewError(errs.ErrUnknown))
			return
		}
	}
}

// WritePump handles writing frames from the Client.send channel to the WebSocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		// ensure the connection is closed on exit
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !c.writeQueuedMessage(message, ok) {
				return
			}

		case <-ticker.C:
			if !c.writePingMessage() {
				return
			}
		}
	}
}

// writeQueuedMessage handles frames pulled from the send channel, writing them to the WebSocket.
// Returns true if the WritePump loop should continue, false if it should terminate.
func (c *Client) writeQueuedMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
			c.logger.Debug().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Error().Err(err).Msg("Error writing frame")
		return false
	}

	return true
}

// writePingMessage sends a periodic WebSocket Ping message to maintain the connection heartbeat.
// Returns false if the WritePump loop should terminate due to write failure.
func (c *Client) writePingMessage() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Debug().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}

// enqueue marshals a frame onto the send queue without blocking. It returns false when
// the queue is full or closed.
func (c *Client) enqueue(frame wire.Frame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		c.logger.Error().Err(err).Msg("Error marshaling frame for client")
		return true
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Client send channel full, dropping frame")
		return false
	}
}

// closeSend closes the send queue, which makes WritePump close the connection.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// sendConnected acknowledges the handshake with the connection's identity.
func (c *Client) sendConnected() {
	body := wire.ConnectedBody{ClientID: c.clientID, Role: string(user.RoleGuest)}
	if !c.principal.IsGuest() {
		body.Username = c.principal.Username
		body.Role = string(c.principal.Role)
	}

	frame, err := wire.NewFrame(wire.CommandConnected, "", "", body)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to build CONNECTED frame.")
		return
	}
	c.enqueue(frame)
}

// SendError queues an ERROR frame answering the frame with id frameID.
func (c *Client) SendError(frameID string, err error) {
	var code int
	var message string

	var customErr *errs.CustomError
	if errors.As(err, &customErr) {
		code = customErr.Code
		message = customErr.Message
	} else {
		code = errs.ErrUnknown
		message = fmt.Sprintf("Internal server error: %v", err)
	}

	frame, buildErr := wire.NewFrame(wire.CommandError, frameID, "", wire.ErrorBody{Code: code, Message: message})
	if buildErr != nil {
		c.logger.Error().Err(buildErr).Msg("Failed to build ERROR frame")
		return
	}

	if !c.enqueue(frame) {
		c.logger.Warn().Int("code", code).Msg("Failed to queue error frame")
	}
}
