package session

import (
	"context"

	"supportchat/internal/app/user"
	"supportchat/internal/pkg/observe"
	"supportchat/internal/pkg/wire"
)

// SelfLabel is the display name of events authored by the local principal.
const SelfLabel = "me"

// guestLabelLength is how many leading characters of a client id form a guest label.
const guestLabelLength = 6

// IdentityProvider is the source of truth for who the local principal is.
type IdentityProvider interface {
	// Identity publishes the current identity snapshot.
	Identity() observe.Value[user.Identity]

	// Credential returns the current bearer credential, or "" for guests.
	Credential() string

	// Refresh obtains a new credential and replaces the identity wholesale.
	Refresh(ctx context.Context) error

	// Logout clears the credential and resets the identity to guest.
	Logout(ctx context.Context)
}

// IsMine reports whether ev was authored by the local principal.
//
// An authenticated principal owns events carrying its username. A guest owns events
// without a sender, declared with the guest role, and carrying the local client id.
// Events without a sender but with a non-guest role are never local.
func IsMine(ev wire.ChatEvent, me user.Identity, localClientID string) bool {
	sender := ev.SenderName()
	if sender != "" {
		return !me.IsGuest() && me.Username != "" && sender == me.Username
	}

	return user.IsGuestRole(ev.Role) && localClientID != "" && ev.ClientID == localClientID
}

// DisplayName returns the label under which ev is shown to the local principal.
func DisplayName(ev wire.ChatEvent, me user.Identity, localClientID string) string {
	if IsMine(ev, me, localClientID) {
		return SelfLabel
	}

	sender := ev.SenderName()
	if user.IsOperatorRole(ev.Role) {
		if sender == "" {
			sender = "support"
		}
		return sender + " (support)"
	}

	if sender != "" {
		return sender
	}
	return GuestLabel(ev.ClientID)
}

// GuestLabel derives a short stable label for an anonymous participant.
func GuestLabel(clientID string) string {
	if len(clientID) > guestLabelLength {
		clientID = clientID[:guestLabelLength]
	}
	return "guest-" + clientID
}
