package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt"

	"supportchat/internal/app/user"
)

// unauthorizedUnless returns an operation rejected unless the provider holds want.
func unauthorizedUnless(p *fakeProvider, want string, calls *atomic.Int32) func(context.Context) error {
	return func(context.Context) error {
		calls.Add(1)
		if p.Credential() != want {
			return ErrUnauthorized
		}
		return nil
	}
}

func TestDoRefreshesOnceAndReplaysOnce(t *testing.T) {
	p := newFakeProvider(clientBob, "old")
	p.refreshFn = func(_ context.Context, p *fakeProvider) error {
		p.setCredential("new")
		return nil
	}
	c := NewCoordinator(p)

	var calls atomic.Int32
	if err := c.Do(t.Context(), unauthorizedUnless(p, "new", &calls)); err != nil {
		t.Fatalf("Do: %v", err)
	}

	if got := p.refreshCalls.Load(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("operation calls = %d, want 2", got)
	}
	if got := p.logoutCalls.Load(); got != 0 {
		t.Fatalf("unexpected logout")
	}
}

func TestDoRefreshFailureLogsOutOnce(t *testing.T) {
	p := newFakeProvider(clientBob, "old")
	refreshErr := errors.New("refresh rejected")
	p.refreshFn = func(context.Context, *fakeProvider) error { return refreshErr }
	c := NewCoordinator(p)

	var calls atomic.Int32
	err := c.Do(t.Context(), unauthorizedUnless(p, "new", &calls))

	if !errors.Is(err, ErrSessionExpired) || !errors.Is(err, refreshErr) {
		t.Fatalf("unexpected error %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("operation replayed after failed refresh (%d calls)", got)
	}
	if got := p.logoutCalls.Load(); got != 1 {
		t.Fatalf("logout calls = %d, want 1", got)
	}
	if got := p.Identity().Get(); !got.IsGuest() {
		t.Fatalf("identity after expiry = %+v", got)
	}
	if n := c.Notices().Get(); n.Seq != 1 {
		t.Fatalf("expected one session notice, got %+v", n)
	}
}

func TestDoWithoutCredentialExpires(t *testing.T) {
	p := newFakeProvider(user.Guest, "")
	c := NewCoordinator(p)

	err := c.Do(t.Context(), func(context.Context) error { return ErrUnauthorized })

	if !errors.Is(err, ErrSessionExpired) || !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unexpected error %v", err)
	}
	if got := p.refreshCalls.Load(); got != 0 {
		t.Fatalf("refresh attempted without credential")
	}
	if got := p.logoutCalls.Load(); got != 1 {
		t.Fatalf("logout calls = %d, want 1", got)
	}
}

func TestDoReplayRejectedExpires(t *testing.T) {
	p := newFakeProvider(clientBob, "old")
	p.refreshFn = func(_ context.Context, p *fakeProvider) error {
		p.setCredential("new")
		return nil
	}
	c := NewCoordinator(p)

	var calls atomic.Int32
	err := c.Do(t.Context(), unauthorizedUnless(p, "never", &calls))

	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("unexpected error %v", err)
	}
	if calls.Load() != 2 || p.refreshCalls.Load() != 1 || p.logoutCalls.Load() != 1 {
		t.Fatalf("calls=%d refresh=%d logout=%d", calls.Load(), p.refreshCalls.Load(), p.logoutCalls.Load())
	}
}

func TestDoPassesThroughOtherErrors(t *testing.T) {
	p := newFakeProvider(clientBob, "old")
	c := NewCoordinator(p)
	boom := errors.New("boom")

	if err := c.Do(t.Context(), func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("unexpected error %v", err)
	}
	if p.refreshCalls.Load() != 0 || p.logoutCalls.Load() != 0 {
		t.Fatal("non-authorization failure triggered recovery")
	}
}

func TestDoCoalescesConcurrentRefreshes(t *testing.T) {
	const workers = 8

	p := newFakeProvider(clientBob, "old")
	release := make(chan struct{})
	p.refreshFn = func(_ context.Context, p *fakeProvider) error {
		<-release
		p.setCredential("new")
		return nil
	}
	c := NewCoordinator(p)

	var calls atomic.Int32
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.Do(context.Background(), unauthorizedUnless(p, "new", &calls))
		}()
	}

	waitFor(t, "all first attempts", func() bool { return calls.Load() >= workers })
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Do: %v", err)
		}
	}
	if got := p.refreshCalls.Load(); got != 1 {
		t.Fatalf("refresh calls = %d, want 1", got)
	}
	if got := calls.Load(); got != 2*workers {
		t.Fatalf("operation calls = %d, want %d", got, 2*workers)
	}
}

// signedToken returns a credential whose expiry PeekExpiry can read.
func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.StandardClaims{ExpiresAt: exp.Unix()})
	s, err := token.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestEnsureFreshRefreshesNearExpiry(t *testing.T) {
	sign := func(exp time.Time) string { return signedToken(t, exp) }

	now := time.Now()
	p := newFakeProvider(clientBob, sign(now.Add(time.Hour)))
	c := NewCoordinator(p)

	if err := c.EnsureFresh(t.Context()); err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}
	if p.refreshCalls.Load() != 0 {
		t.Fatal("fresh credential refreshed")
	}

	p.setCredential(sign(now.Add(30 * time.Second)))
	if err := c.EnsureFresh(t.Context()); err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}
	if p.refreshCalls.Load() != 1 {
		t.Fatal("credential close to expiry not refreshed")
	}

	p.setCredential("not-a-jwt")
	if err := c.EnsureFresh(t.Context()); err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}
	if p.refreshCalls.Load() != 1 {
		t.Fatal("unreadable credential refreshed")
	}
}

func TestEnsureFreshRefreshFailure(t *testing.T) {
	tests := []struct {
		name        string
		refreshErr  error
		wantExpired bool
	}{
		{"rejected refresh expires the session", ErrUnauthorized, true},
		{"unreachable server keeps the session", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeProvider(clientBob, signedToken(t, time.Now().Add(30*time.Second)))
			p.refreshFn = func(context.Context, *fakeProvider) error { return tt.refreshErr }
			c := NewCoordinator(p)

			err := c.EnsureFresh(t.Context())
			if !errors.Is(err, tt.refreshErr) {
				t.Fatalf("EnsureFresh error = %v, want %v", err, tt.refreshErr)
			}
			if got := errors.Is(err, ErrSessionExpired); got != tt.wantExpired {
				t.Fatalf("session expired = %v, want %v", got, tt.wantExpired)
			}
			if got := p.refreshCalls.Load(); got != 1 {
				t.Fatalf("refresh calls = %d, want 1", got)
			}

			wantLogouts, wantSeq := int32(0), uint64(0)
			if tt.wantExpired {
				wantLogouts, wantSeq = 1, 1
			}
			if got := p.logoutCalls.Load(); got != wantLogouts {
				t.Fatalf("logout calls = %d, want %d", got, wantLogouts)
			}
			if n := c.Notices().Get(); n.Seq != wantSeq {
				t.Fatalf("session notice = %+v", n)
			}
		})
	}
}
