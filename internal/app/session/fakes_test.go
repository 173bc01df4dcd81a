package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"supportchat/internal/app/user"
	"supportchat/internal/pkg/observe"
	"supportchat/internal/pkg/wire"
)

var errTransportClosed = errors.New("transport closed")

type fakeProvider struct {
	identity *observe.Cell[user.Identity]

	mu         sync.Mutex
	credential string
	refreshFn  func(ctx context.Context, p *fakeProvider) error

	refreshCalls atomic.Int32
	logoutCalls  atomic.Int32
}

func newFakeProvider(id user.Identity, credential string) *fakeProvider {
	return &fakeProvider{identity: observe.NewCell(id), credential: credential}
}

func (p *fakeProvider) Identity() observe.Value[user.Identity] { return p.identity }

func (p *fakeProvider) Credential() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.credential
}

func (p *fakeProvider) setCredential(c string) {
	p.mu.Lock()
	p.credential = c
	p.mu.Unlock()
}

func (p *fakeProvider) Refresh(ctx context.Context) error {
	p.refreshCalls.Add(1)
	p.mu.Lock()
	fn := p.refreshFn
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, p)
	}
	return nil
}

func (p *fakeProvider) Logout(context.Context) {
	p.logoutCalls.Add(1)
	p.setCredential("")
	p.identity.Set(user.Guest)
}

func (p *fakeProvider) login(id user.Identity, credential string) {
	p.setCredential(credential)
	p.identity.Set(id)
}

type published struct {
	destination string
	body        any
}

type inbound struct {
	ev  wire.ChatEvent
	err error
}

type fakeTransport struct {
	dialer  *fakeDialer
	header  http.Header
	inbound chan inbound
	closed  chan struct{}
	once    sync.Once

	mu           sync.Mutex
	subscribed   []string
	unsubscribed []string
	published    []published
}

func (t *fakeTransport) Subscribe(destination string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribed = append(t.subscribed, destination)
	return "sub-0", nil
}

func (t *fakeTransport) Unsubscribe(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unsubscribed = append(t.unsubscribed, id)
	return nil
}

func (t *fakeTransport) Publish(destination string, body any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.published = append(t.published, published{destination, body})
	return nil
}

func (t *fakeTransport) Receive() (wire.ChatEvent, error) {
	select {
	case in := <-t.inbound:
		return in.ev, in.err
	case <-t.closed:
		return wire.ChatEvent{}, errTransportClosed
	}
}

func (t *fakeTransport) Close() error {
	t.once.Do(func() {
		close(t.closed)
		t.dialer.open.Add(-1)
	})
	return nil
}

func (t *fakeTransport) push(ev wire.ChatEvent) {
	t.inbound <- inbound{ev: ev}
}

func (t *fakeTransport) fail(err error) {
	t.inbound <- inbound{err: err}
}

func (t *fakeTransport) subscriptions() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.subscribed...)
}

func (t *fakeTransport) publications() []published {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]published(nil), t.published...)
}

type fakeDialer struct {
	// dialFn, when set, may reject attempt n (0-based) with an error.
	dialFn func(n int, header http.Header) error

	mu         sync.Mutex
	transports []*fakeTransport
	attempts   int

	open    atomic.Int32
	maxOpen atomic.Int32
}

func (d *fakeDialer) Dial(_ context.Context, header http.Header) (Transport, error) {
	d.mu.Lock()
	n := d.attempts
	d.attempts++
	fn := d.dialFn
	d.mu.Unlock()

	if fn != nil {
		if err := fn(n, header); err != nil {
			return nil, err
		}
	}

	t := &fakeTransport{
		dialer:  d,
		header:  header.Clone(),
		inbound: make(chan inbound, 16),
		closed:  make(chan struct{}),
	}

	open := d.open.Add(1)
	for {
		peak := d.maxOpen.Load()
		if open <= peak || d.maxOpen.CompareAndSwap(peak, open) {
			break
		}
	}

	d.mu.Lock()
	d.transports = append(d.transports, t)
	d.mu.Unlock()
	return t, nil
}

func (d *fakeDialer) dialAttempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

func (d *fakeDialer) dialed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.transports)
}

func (d *fakeDialer) last(t *testing.T) *fakeTransport {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		t.Fatal("no transport dialed")
	}
	return d.transports[len(d.transports)-1]
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitConnected(t *testing.T, state observe.Value[ConnectionState], mode Mode) {
	t.Helper()
	waitFor(t, string(mode)+" connection", func() bool {
		return state.Get().Connected(mode)
	})
}

var (
	operatorAlice = user.Identity{Authenticated: true, Username: "alice", Role: user.RoleEmployee}
	clientBob     = user.Identity{Authenticated: true, Username: "bob", Role: user.RoleClient}
)
