package session

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"supportchat/internal/app/user"
	"supportchat/internal/pkg/wire"
)

func startEngine(t *testing.T, p *fakeProvider, d *fakeDialer) *Engine {
	t.Helper()

	e := NewEngine(EngineOptions{
		Provider:   p,
		Dialer:     d,
		ClientID:   "op-client",
		RetryDelay: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e
}

func TestEngineOperatorReplyFlow(t *testing.T) {
	p := newFakeProvider(operatorAlice, "tok")
	d := &fakeDialer{}
	e := startEngine(t, p, d)

	waitConnected(t, e.State(), ModeOperator)
	tr := d.last(t)

	tr.push(event("g1", "", "GUEST", "hello?"))
	waitFor(t, "conversation", func() bool { return len(e.Router().Conversations()) == 1 })

	if e.Router().Selected() != "guest:g1" {
		t.Fatalf("selected = %q", e.Router().Selected())
	}
	if !e.Reply("hi there") {
		t.Fatal("reply failed")
	}

	pubs := tr.publications()
	if len(pubs) != 1 {
		t.Fatalf("publications = %+v", pubs)
	}
	req := pubs[0].body.(wire.ReplyRequest)
	if req.TargetClientID != "g1" || req.Sender != "alice" {
		t.Fatalf("reply = %+v", req)
	}

	// The broker's copy of the reply does not duplicate the optimistic one.
	echo := event("g1", "alice", "EMPLOYEE", "hi there")
	echo.Timestamp = time.Now()
	tr.push(echo)
	tr.push(event("g1", "", "GUEST", "thanks"))

	waitFor(t, "follow-up message", func() bool {
		conv, _ := e.Router().Conversation("guest:g1")
		return len(conv.Messages) == 3
	})
	conv, _ := e.Router().Conversation("guest:g1")
	if conv.Messages[1].Origin != OriginLocal || conv.Messages[2].Content != "thanks" {
		t.Fatalf("unexpected history %+v", conv.Messages)
	}
}

func TestEngineReconnectsOnIdentityChange(t *testing.T) {
	p := newFakeProvider(user.Guest, "")
	d := &fakeDialer{}
	e := startEngine(t, p, d)

	waitConnected(t, e.State(), ModeParticipant)
	d.last(t).push(event("op-client", "", "GUEST", "from before"))
	waitFor(t, "participant message", func() bool { return len(e.Messages().Get()) == 1 })

	p.login(clientBob, "tok")
	waitFor(t, "reconnect as bob", func() bool {
		return d.dialed() == 2 && e.State().Get().Connected(ModeParticipant)
	})
	if n := len(e.Messages().Get()); n != 0 {
		t.Fatalf("previous session's messages survived: %d", n)
	}
	if got := d.last(t).header.Get(wire.AuthorizationHeader); got != "Bearer tok" {
		t.Fatalf("authorization header = %q", got)
	}

	// A refreshed identity for the same principal keeps the connection.
	p.login(clientBob, "tok2")
	time.Sleep(30 * time.Millisecond)
	if n := d.dialed(); n != 2 {
		t.Fatalf("same principal caused a reconnect (%d dials)", n)
	}

	p.login(operatorAlice, "tok3")
	waitConnected(t, e.State(), ModeOperator)

	if peak := d.maxOpen.Load(); peak != 1 {
		t.Fatalf("peak open connections = %d", peak)
	}
}

func TestEngineForcedLogoutFallsBackToGuest(t *testing.T) {
	p := newFakeProvider(operatorAlice, "expired")
	p.refreshFn = func(context.Context, *fakeProvider) error { return errors.New("refresh token revoked") }

	d := &fakeDialer{dialFn: func(_ int, h http.Header) error {
		if h.Get(wire.AuthorizationHeader) != "" {
			return ErrUnauthorized
		}
		return nil
	}}
	e := startEngine(t, p, d)

	waitConnected(t, e.State(), ModeParticipant)

	if got := p.logoutCalls.Load(); got != 1 {
		t.Fatalf("logout calls = %d, want 1", got)
	}
	if got := p.refreshCalls.Load(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
	if n := e.Notices().Get(); n.Seq != 1 {
		t.Fatalf("session notice = %+v", n)
	}
}

func TestEngineReplyWithoutConnection(t *testing.T) {
	p := newFakeProvider(operatorAlice, "tok")
	e := NewEngine(EngineOptions{Provider: p, Dialer: &fakeDialer{}, ClientID: "op-client"})

	if e.Reply("anyone?") {
		t.Fatal("reply without selection should fail")
	}
}
