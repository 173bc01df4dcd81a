package session

import (
	"supportchat/internal/app/user"
	"supportchat/internal/pkg/wire"
)

// Dispatcher formats and publishes outbound events. Nothing is queued: every method
// is a no-op returning false unless a connection of the matching mode is established.
type Dispatcher struct {
	conn     *ConnectionManager
	provider IdentityProvider
	clientID string
}

// NewDispatcher returns a dispatcher publishing through conn.
func NewDispatcher(conn *ConnectionManager, provider IdentityProvider) *Dispatcher {
	return &Dispatcher{conn: conn, provider: provider, clientID: conn.ClientID()}
}

// Send publishes a participant event stamped with the client id and the current
// identity. Guests are sent without a sender.
func (d *Dispatcher) Send(content string, typ wire.EventType) bool {
	me := d.provider.Identity().Get()

	msg := wire.ParticipantMessage{
		Content:  content,
		Type:     typ,
		ClientID: d.clientID,
		Role:     string(user.RoleGuest),
	}
	if !me.IsGuest() {
		msg.Sender = wire.StringPtr(me.Username)
		msg.Role = string(me.Role)
	}

	return d.conn.Publish(ModeParticipant, wire.ParticipantInbound, msg)
}

// Reply publishes an operator reply addressed to the participant targetClientID.
func (d *Dispatcher) Reply(targetClientID, content string) bool {
	me := d.provider.Identity().Get()

	return d.conn.Publish(ModeOperator, wire.OperatorInbound, wire.ReplyRequest{
		TargetClientID: targetClientID,
		Content:        content,
		Type:           wire.EventChat,
		Sender:         me.Username,
	})
}
