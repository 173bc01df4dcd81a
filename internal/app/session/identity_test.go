package session

import (
	"testing"

	"supportchat/internal/app/user"
	"supportchat/internal/pkg/wire"
)

func event(clientID, sender, role, content string) wire.ChatEvent {
	return wire.ChatEvent{
		ClientID: clientID,
		Sender:   wire.StringPtr(sender),
		Role:     role,
		Content:  content,
		Type:     wire.EventChat,
	}
}

func TestIsMine(t *testing.T) {
	alice := user.Identity{Authenticated: true, Username: "alice", Role: user.RoleEmployee}
	bob := user.Identity{Authenticated: true, Username: "bob", Role: user.RoleClient}

	tests := []struct {
		name  string
		ev    wire.ChatEvent
		me    user.Identity
		local string
		want  bool
	}{
		{"own username", event("x", "alice", "EMPLOYEE", "hi"), alice, "c1", true},
		{"other username", event("x", "bob", "CLIENT", "hi"), alice, "c1", false},
		{"own guest event", event("c1", "", "GUEST", "hi"), user.Guest, "c1", true},
		{"guest with other client id", event("c2", "", "GUEST", "hi"), user.Guest, "c1", false},
		{"guest with prefixed role", event("c1", "", "ROLE_GUEST", "hi"), user.Guest, "c1", true},
		{"null sender non-guest role", event("c1", "", "CLIENT", "hi"), user.Guest, "c1", false},
		{"null sender empty role", event("c1", "", "", "hi"), user.Guest, "c1", false},
		{"guest cannot claim named sender", event("c1", "bob", "CLIENT", "hi"), user.Guest, "c1", false},
		{"authenticated sees guest event from own client", event("c1", "", "GUEST", "hi"), bob, "c1", true},
		{"username match ignores client id", event("other", "bob", "CLIENT", "hi"), bob, "c1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsMine(tt.ev, tt.me, tt.local); got != tt.want {
				t.Fatalf("IsMine = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDisplayName(t *testing.T) {
	alice := user.Identity{Authenticated: true, Username: "alice", Role: user.RoleEmployee}

	tests := []struct {
		name string
		ev   wire.ChatEvent
		want string
	}{
		{"self", event("x", "alice", "EMPLOYEE", "hi"), SelfLabel},
		{"other operator", event("x", "carol", "ROLE_EMPLOYEE", "hi"), "carol (support)"},
		{"client", event("x", "bob", "CLIENT", "hi"), "bob"},
		{"guest", event("abcdef123", "", "GUEST", "hi"), "guest-abcdef"},
		{"short guest id", event("g1", "", "GUEST", "hi"), "guest-g1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DisplayName(tt.ev, alice, "c1"); got != tt.want {
				t.Fatalf("DisplayName = %q, want %q", got, tt.want)
			}
		})
	}
}
