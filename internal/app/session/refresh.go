package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"supportchat/internal/pkg/auth/jwt"
	"supportchat/internal/pkg/logx"
	"supportchat/internal/pkg/observe"
)

const (
	// TokenRefreshWindow defines how long before expiry a credential is refreshed
	// ahead of a connect.
	TokenRefreshWindow = 2 * time.Minute

	// refreshTimeout bounds one refresh call shared by all waiters.
	refreshTimeout = 15 * time.Second

	refreshKey = "refresh"
)

// SessionNotice is published each time the session is force-terminated.
type SessionNotice struct {
	// Seq increases with every notice.
	Seq    uint64
	At     time.Time
	Reason string
}

// Coordinator retries operations rejected as unauthorized exactly once after a
// credential refresh. Concurrent refreshes are coalesced into one in-flight call.
type Coordinator struct {
	provider IdentityProvider
	window   time.Duration
	now      func() time.Time
	group    singleflight.Group
	logger   zerolog.Logger

	mu          sync.Mutex
	lastExpired string

	notices *observe.Cell[SessionNotice]
}

// NewCoordinator returns a coordinator refreshing through provider.
func NewCoordinator(provider IdentityProvider) *Coordinator {
	return &Coordinator{
		provider: provider,
		window:   TokenRefreshWindow,
		now:      time.Now,
		logger:   logx.Component("auth"),
		notices:  observe.NewCell(SessionNotice{}),
	}
}

// Notices publishes session-expired notices.
func (c *Coordinator) Notices() observe.Value[SessionNotice] { return c.notices }

// Do runs op. If op fails with ErrUnauthorized, the credential is refreshed once and
// op is replayed once. The session is force-terminated when no credential exists, the
// refresh fails, or the replay is rejected again; the returned error then matches
// ErrSessionExpired as well as the underlying failure.
func (c *Coordinator) Do(ctx context.Context, op func(ctx context.Context) error) error {
	used := c.provider.Credential()

	err := op(ctx)
	if !errors.Is(err, ErrUnauthorized) {
		return err
	}

	current := c.provider.Credential()
	if current == "" {
		c.expire(ctx, used, err)
		return errors.Join(ErrSessionExpired, err)
	}

	// Another caller may already have refreshed past the credential op used.
	if current == used {
		if rerr := c.refresh(ctx, current); rerr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.expire(ctx, current, rerr)
			return errors.Join(ErrSessionExpired, rerr)
		}
	}

	replayed := c.provider.Credential()
	err = op(ctx)
	if errors.Is(err, ErrUnauthorized) {
		c.expire(ctx, replayed, err)
		return errors.Join(ErrSessionExpired, err)
	}
	return err
}

// EnsureFresh refreshes the credential when it expires within the refresh window.
// Credentials whose expiry cannot be read are left alone. A refresh rejected as
// unauthorized force-terminates the session like Do does.
func (c *Coordinator) EnsureFresh(ctx context.Context) error {
	token := c.provider.Credential()
	if token == "" {
		return nil
	}

	exp, ok := jwt.PeekExpiry(token)
	if !ok || c.now().Add(c.window).Before(exp) {
		return nil
	}

	c.logger.Debug().Time("expires_at", exp).Msg("Credential close to expiry, refreshing")
	err := c.refresh(ctx, token)
	if err != nil && ctx.Err() == nil && errors.Is(err, ErrUnauthorized) {
		c.expire(ctx, token, err)
		return errors.Join(ErrSessionExpired, err)
	}
	return err
}

// refresh joins or starts the single in-flight refresh replacing stale. A call that
// finds stale already replaced does nothing. The shared call outlives a cancelled
// waiter.
func (c *Coordinator) refresh(ctx context.Context, stale string) error {
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		if c.provider.Credential() != stale {
			return nil, nil
		}

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		if err := c.provider.Refresh(rctx); err != nil {
			return nil, fmt.Errorf("refresh credential: %w", err)
		}
		return nil, nil
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		return res.Err
	}
}

// expire logs the principal out once per rejected credential and publishes a notice.
func (c *Coordinator) expire(ctx context.Context, credential string, cause error) {
	c.mu.Lock()
	if credential != "" && credential == c.lastExpired {
		c.mu.Unlock()
		return
	}
	c.lastExpired = credential
	c.mu.Unlock()

	c.logger.Warn().Err(cause).Msg("Session expired, logging out")
	c.provider.Logout(context.WithoutCancel(ctx))

	at := c.now()
	c.notices.Update(func(prev SessionNotice) SessionNotice {
		return SessionNotice{Seq: prev.Seq + 1, At: at, Reason: cause.Error()}
	})
}
