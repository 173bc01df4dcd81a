package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"supportchat/internal/app/user"
	"supportchat/internal/pkg/logx"
	"supportchat/internal/pkg/observe"
	"supportchat/internal/pkg/wire"
)

// EngineOptions configures an Engine.
type EngineOptions struct {
	Provider IdentityProvider
	Dialer   Dialer
	ClientID string

	// RetryDelay defaults to DefaultRetryDelay.
	RetryDelay time.Duration

	// EchoWindow defaults to DefaultEchoWindow.
	EchoWindow time.Duration
}

// Engine wires the session components together and keeps the connection aligned
// with the identity.
type Engine struct {
	provider IdentityProvider
	auth     *Coordinator
	conn     *ConnectionManager
	echo     *EchoSuppressor
	router   *Router
	dispatch *Dispatcher
	now      func() time.Time
	logger   zerolog.Logger
}

// NewEngine builds an engine. Nothing connects until Run is called.
func NewEngine(opts EngineOptions) *Engine {
	e := &Engine{
		provider: opts.Provider,
		now:      time.Now,
		logger:   logx.Component("engine"),
	}

	e.echo = NewEchoSuppressor(opts.EchoWindow)
	e.router = NewRouter(e.echo)
	e.auth = NewCoordinator(opts.Provider)
	e.conn = NewConnectionManager(ConnectionOptions{
		Dialer:      opts.Dialer,
		Provider:    opts.Provider,
		Coordinator: e.auth,
		ClientID:    opts.ClientID,
		RetryDelay:  opts.RetryDelay,
		OnEvent:     e.onEvent,
	})
	e.dispatch = NewDispatcher(e.conn, opts.Provider)

	return e
}

// Run connects for the current identity and reconnects whenever the principal
// changes. It returns when ctx is done, after tearing the connection down.
func (e *Engine) Run(ctx context.Context) error {
	changed := make(chan struct{}, 1)
	cancel := e.provider.Identity().Subscribe(func(user.Identity) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer cancel()

	current := e.provider.Identity().Get()
	e.conn.EnsureConnected(ModeFor(current))
	defer e.conn.Teardown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			next := e.provider.Identity().Get()
			if next.SameSession(current) {
				continue
			}
			e.logger.Info().
				Str("from", principal(current)).
				Str("to", principal(next)).
				Msg("Identity changed, reconnecting")
			current = next
			e.conn.ResetAndReconnect()
		}
	}
}

// Send publishes a participant event.
func (e *Engine) Send(content string, typ wire.EventType) bool {
	return e.dispatch.Send(content, typ)
}

// Reply answers the selected conversation and renders the reply immediately. It
// returns false when nothing is selected or the operator connection is down.
func (e *Engine) Reply(content string) bool {
	key := e.router.Selected()
	if key == "" {
		return false
	}
	target, ok := e.router.ReplyTarget(key)
	if !ok {
		return false
	}

	at := e.now()
	e.echo.RecordOptimistic(target, content, at)
	if !e.dispatch.Reply(target, content) {
		e.echo.Forget(target)
		return false
	}

	e.router.AppendLocal(key, content, e.provider.Identity().Get().Username, at)
	return true
}

// Select makes key the selected conversation.
func (e *Engine) Select(key string) bool { return e.router.Select(key) }

// Remove deletes a conversation.
func (e *Engine) Remove(key string) bool { return e.router.Remove(key) }

// Router exposes the operator conversations.
func (e *Engine) Router() *Router { return e.router }

// State publishes the connection state.
func (e *Engine) State() observe.Value[ConnectionState] { return e.conn.State() }

// Messages publishes the participant message list.
func (e *Engine) Messages() observe.Value[[]wire.ChatEvent] { return e.conn.Messages() }

// Notices publishes session-expired notices.
func (e *Engine) Notices() observe.Value[SessionNotice] { return e.auth.Notices() }

// Coordinator returns the credential refresh coordinator, for HTTP callers that
// want the same retry policy.
func (e *Engine) Coordinator() *Coordinator { return e.auth }

// ClientID returns the local client id.
func (e *Engine) ClientID() string { return e.conn.ClientID() }

func (e *Engine) onEvent(mode Mode, ev wire.ChatEvent) {
	if mode != ModeOperator {
		return
	}
	res := e.router.Route(ev)
	e.logger.Debug().
		Str("conversation", res.Key).
		Bool("suppressed", res.Suppressed).
		Msg("Routed operator event")
}

func principal(id user.Identity) string {
	if id.IsGuest() {
		return string(user.RoleGuest)
	}
	return id.Username + "/" + string(id.Role)
}
