package main

import (
	"reflect"
	"testing"
	"time"

	"supportchat/internal/app/session"
	"supportchat/internal/app/user"
	"supportchat/internal/pkg/wire"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line      string
		name      string
		args      []string
		isCommand bool
	}{
		{"hello there", "hello there", nil, false},
		{"  padded  ", "padded", nil, false},
		{"", "", nil, false},
		{"/login alice s3cret", "login", []string{"alice", "s3cret"}, true},
		{"/QUIT", "quit", []string{}, true},
		{"/", "", nil, true},
	}

	for _, tt := range tests {
		name, args, isCommand := parseCommand(tt.line)
		if name != tt.name || isCommand != tt.isCommand || len(args) != len(tt.args) {
			t.Errorf("parseCommand(%q) = %q %v %v", tt.line, name, args, isCommand)
			continue
		}
		if len(args) > 0 && !reflect.DeepEqual(args, tt.args) {
			t.Errorf("parseCommand(%q) args = %v", tt.line, args)
		}
	}
}

func TestFormatEvent(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.Local)
	alice := user.Identity{Authenticated: true, Username: "alice", Role: user.RoleClient}

	tests := []struct {
		name string
		ev   wire.ChatEvent
		me   user.Identity
		want string
	}{
		{
			name: "own guest message",
			ev:   wire.ChatEvent{ClientID: "abcdef123", Role: "GUEST", Timestamp: at, Content: "hi", Type: wire.EventChat},
			me:   user.Guest,
			want: "[09:30] me: hi",
		},
		{
			name: "operator reply",
			ev:   wire.ChatEvent{ClientID: "abcdef123", Sender: wire.StringPtr("bob"), Role: "EMPLOYEE", Timestamp: at, Content: "hello", Type: wire.EventChat},
			me:   alice,
			want: "[09:30] bob (support): hello",
		},
		{
			name: "join",
			ev:   wire.ChatEvent{ClientID: "c1", Sender: wire.StringPtr("alice"), Role: "CLIENT", Timestamp: at, Type: wire.EventJoin},
			me:   alice,
			want: "[09:30] * me joined",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatEvent(tt.ev, tt.me, "abcdef123"); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatItem(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.Local)
	conv := session.Conversation{Key: "guest:abcdef123", ClientID: "abcdef123"}

	if got := formatItem(conv, session.MessageItem{Type: wire.EventChat, Content: "hi", At: at}, true); got != ">guest:abcdef123 [09:30] "+session.GuestLabel("abcdef123")+": hi" {
		t.Fatalf("guest item %q", got)
	}
	local := session.MessageItem{Origin: session.OriginLocal, Type: wire.EventChat, Content: "on it", At: at, Sender: "bob", FromOperator: true}
	if got := formatItem(conv, local, false); got != " guest:abcdef123 [09:30] me: on it" {
		t.Fatalf("local item %q", got)
	}
	remote := session.MessageItem{Origin: session.OriginRemote, Type: wire.EventChat, Content: "also", At: at, Sender: "carol", FromOperator: true}
	if got := formatItem(conv, remote, false); got != " guest:abcdef123 [09:30] carol (support): also" {
		t.Fatalf("operator item %q", got)
	}
}

func TestFormatConversation(t *testing.T) {
	conv := session.Conversation{
		Key:            "user:alice",
		DisplayName:    "alice",
		LastActivityAt: time.Date(2024, 5, 1, 9, 30, 0, 0, time.Local),
		UnreadCount:    2,
	}
	if got := formatConversation(conv, true); got != "> user:alice  alice  last 09:30  (2 unread)" {
		t.Fatalf("got %q", got)
	}
}
