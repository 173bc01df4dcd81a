package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"supportchat/internal/pkg/logx"
	"supportchat/internal/pkg/observe"
	"supportchat/internal/pkg/wire"
)

// DefaultRetryDelay is the fixed pause between connection attempts.
const DefaultRetryDelay = 2 * time.Second

// errModeMismatch stops a connection whose mode no longer matches the identity.
var errModeMismatch = errors.New("identity no longer matches connection mode")

// ConnectionOptions configures a ConnectionManager.
type ConnectionOptions struct {
	Dialer   Dialer
	Provider IdentityProvider

	// Coordinator, when set, keeps the connect-time credential fresh and recovers
	// rejected handshakes through one refresh.
	Coordinator *Coordinator

	// ClientID is sent on every connect and names the participant queue.
	ClientID string

	// RetryDelay defaults to DefaultRetryDelay.
	RetryDelay time.Duration

	// OnEvent receives every routed event, in arrival order, from the connection
	// goroutine. It must not call back into the manager.
	OnEvent func(Mode, wire.ChatEvent)
}

// ConnectionManager owns the single broker connection. It is the only writer of the
// connection state, which readers observe through State.
type ConnectionManager struct {
	dialer     Dialer
	provider   IdentityProvider
	auth       *Coordinator
	clientID   string
	retryDelay time.Duration
	onEvent    func(Mode, wire.ChatEvent)
	logger     zerolog.Logger

	// mu serializes lifecycle transitions.
	mu     sync.Mutex
	active atomic.Pointer[connection]

	state    *observe.Cell[ConnectionState]
	messages *observe.Cell[[]wire.ChatEvent]
}

// connection is one connection instance. Its mode never changes.
type connection struct {
	mode   Mode
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	transport Transport
	subID     string
}

func (c *connection) finished() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *connection) connectedTransport() Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}

// NewConnectionManager returns a manager with no connection.
func NewConnectionManager(opts ConnectionOptions) *ConnectionManager {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	return &ConnectionManager{
		dialer:     opts.Dialer,
		provider:   opts.Provider,
		auth:       opts.Coordinator,
		clientID:   opts.ClientID,
		retryDelay: opts.RetryDelay,
		onEvent:    opts.OnEvent,
		logger:     logx.Component("connection").With().Str("client_id", logx.ShortID(opts.ClientID)).Logger(),
		state:      observe.NewCell(ConnectionState{Status: StatusDisconnected}),
		messages:   observe.NewCell[[]wire.ChatEvent](nil),
	}
}

// State publishes the connection state.
func (m *ConnectionManager) State() observe.Value[ConnectionState] { return m.state }

// Messages publishes the events received in participant mode since the last teardown.
func (m *ConnectionManager) Messages() observe.Value[[]wire.ChatEvent] { return m.messages }

// ClientID returns the client id sent on connect.
func (m *ConnectionManager) ClientID() string { return m.clientID }

// EnsureConnected opens a connection for mode unless one is already running for it.
// A connection for another mode is torn down first.
func (m *ConnectionManager) EnsureConnected(mode Mode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureLocked(mode)
}

// Teardown closes the connection, clears the participant message buffer and reports
// disconnected. It is a no-op when nothing is connected.
func (m *ConnectionManager) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
}

// ResetAndReconnect tears the connection down and reopens it for the current identity.
// The old connection is fully drained before the new one starts.
func (m *ConnectionManager) ResetAndReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
	m.ensureLocked(ModeFor(m.provider.Identity().Get()))
}

// Publish sends body to destination when a connection for mode is established.
// Otherwise it does nothing and returns false.
func (m *ConnectionManager) Publish(mode Mode, destination string, body any) bool {
	c := m.active.Load()
	if c == nil || c.mode != mode {
		return false
	}
	tr := c.connectedTransport()
	if tr == nil {
		return false
	}
	if err := tr.Publish(destination, body); err != nil {
		m.logger.Warn().Err(err).Str("destination", destination).Msg("Publish failed")
		return false
	}
	return true
}

func (m *ConnectionManager) ensureLocked(mode Mode) {
	if c := m.active.Load(); c != nil {
		if c.mode == mode && !c.finished() {
			return
		}
		m.teardownLocked()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &connection{mode: mode, ctx: ctx, cancel: cancel, done: make(chan struct{})}
	m.active.Store(c)

	m.logger.Info().Str("mode", string(mode)).Msg("Opening connection")
	m.state.Set(ConnectionState{Mode: mode, Status: StatusConnecting})

	go m.run(c)
}

func (m *ConnectionManager) teardownLocked() {
	c := m.active.Swap(nil)
	if c == nil {
		return
	}

	c.cancel()

	c.mu.Lock()
	tr, subID := c.transport, c.subID
	c.transport, c.subID = nil, ""
	c.mu.Unlock()

	if tr != nil {
		if subID != "" {
			if err := tr.Unsubscribe(subID); err != nil {
				m.logger.Debug().Err(err).Msg("Unsubscribe during teardown failed")
			}
		}
		if err := tr.Close(); err != nil {
			m.logger.Debug().Err(err).Msg("Transport close during teardown failed")
		}
	}

	<-c.done

	m.messages.Set(nil)
	m.state.Set(ConnectionState{Status: StatusDisconnected})
	m.logger.Info().Str("mode", string(c.mode)).Msg("Connection torn down")
}

// run keeps a connection alive until it is cancelled, retrying with a fixed delay.
func (m *ConnectionManager) run(c *connection) {
	defer close(c.done)

	log := m.logger.With().Str("mode", string(c.mode)).Logger()

	for attempt := 1; ; attempt++ {
		err := m.session(c, log)
		if c.ctx.Err() != nil {
			return
		}
		if errors.Is(err, errModeMismatch) {
			log.Info().Msg("Identity changed during connect, discarding connection")
			m.setState(c, StatusDisconnected)
			return
		}

		log.Warn().Err(err).
			Int("attempt", attempt).
			Dur("retry_in", m.retryDelay).
			Msg("Connection failed, retrying")
		m.setState(c, StatusConnecting)

		timer := time.NewTimer(m.retryDelay)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// session performs one connect attempt and then delivers events until the transport
// fails or the connection is cancelled.
func (m *ConnectionManager) session(c *connection, log zerolog.Logger) error {
	if ModeFor(m.provider.Identity().Get()) != c.mode {
		return errModeMismatch
	}

	// retry is false once a refresh already failed for this attempt.
	retry := m.auth != nil
	if m.auth != nil {
		if err := m.auth.EnsureFresh(c.ctx); err != nil {
			if errors.Is(err, ErrSessionExpired) || c.ctx.Err() != nil {
				return err
			}
			log.Debug().Err(err).Msg("Proactive credential refresh failed")
			retry = false
		}
	}

	var tr Transport
	dial := func(ctx context.Context) error {
		t, err := m.dialer.Dial(ctx, m.connectHeader())
		if err != nil {
			return err
		}
		tr = t
		return nil
	}

	var err error
	if retry {
		err = m.auth.Do(c.ctx, dial)
	} else {
		err = dial(c.ctx)
	}
	if err != nil {
		return err
	}
	defer tr.Close()

	destination := wire.OperatorTopic
	if c.mode == ModeParticipant {
		destination = wire.ParticipantQueue(m.clientID)
	}
	subID, err := tr.Subscribe(destination)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", destination, err)
	}

	if ModeFor(m.provider.Identity().Get()) != c.mode {
		return errModeMismatch
	}

	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		return c.ctx.Err()
	}
	c.transport, c.subID = tr, subID
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.transport, c.subID = nil, ""
		c.mu.Unlock()
	}()

	m.setState(c, StatusConnected)
	log.Info().Str("destination", destination).Msg("Connected")

	for {
		ev, err := tr.Receive()
		if err != nil {
			if errors.Is(err, ErrMalformedEvent) {
				log.Warn().Err(err).Msg("Dropping malformed event")
				continue
			}
			return fmt.Errorf("receive: %w", err)
		}
		if c.ctx.Err() != nil {
			return c.ctx.Err()
		}
		m.deliver(c.mode, ev)
	}
}

// connectHeader builds the connect metadata from the current credential. It is
// rebuilt for every attempt.
func (m *ConnectionManager) connectHeader() http.Header {
	h := http.Header{}
	h.Set(wire.ClientIDHeader, m.clientID)
	if token := m.provider.Credential(); token != "" {
		h.Set(wire.AuthorizationHeader, wire.BearerValue(token))
	}
	return h
}

func (m *ConnectionManager) deliver(mode Mode, ev wire.ChatEvent) {
	if mode == ModeParticipant {
		m.messages.Update(func(list []wire.ChatEvent) []wire.ChatEvent {
			return append(slices.Clip(list), ev)
		})
	}
	if m.onEvent != nil {
		m.onEvent(mode, ev)
	}
}

func (m *ConnectionManager) setState(c *connection, status Status) {
	if c.ctx.Err() != nil {
		return
	}
	m.state.Set(ConnectionState{Mode: c.mode, Status: status})
}
