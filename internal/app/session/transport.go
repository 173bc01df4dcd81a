package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"supportchat/internal/pkg/logx"
	"supportchat/internal/pkg/wire"
)

const (
	// timeout duration for writing a frame.
	writeWait = 10 * time.Second

	// maximum silence tolerated from the broker, which pings more often than this.
	readWait = 60 * time.Second

	// maximum allowed size (in bytes) of an inbound frame.
	maxFrameSize = 64 * 1024

	// default duration of the WebSocket handshake.
	handshakeTimeout = 10 * time.Second
)

// Dialer opens transports. header carries the connect-time metadata.
type Dialer interface {
	Dial(ctx context.Context, header http.Header) (Transport, error)
}

// Transport is one established broker connection.
type Transport interface {
	// Subscribe starts delivery of a destination and returns the subscription id.
	Subscribe(destination string) (string, error)

	// Unsubscribe stops delivery for a subscription id.
	Unsubscribe(id string) error

	// Publish sends body to an application destination.
	Publish(destination string, body any) error

	// Receive blocks for the next routed event. Errors wrapping ErrMalformedEvent
	// concern only that event; any other error means the transport is dead.
	Receive() (wire.ChatEvent, error)

	// Close deactivates the transport. It unblocks a pending Receive.
	Close() error
}

// WSDialer dials the broker over WebSocket.
type WSDialer struct {
	url    string
	dialer *websocket.Dialer
	logger zerolog.Logger
}

// NewWSDialer returns a dialer for the broker endpoint at url (ws:// or wss://).
func NewWSDialer(url string) *WSDialer {
	return &WSDialer{
		url: url,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		logger: logx.Component("transport"),
	}
}

// Dial implements Dialer. A handshake rejected with 401 yields ErrUnauthorized.
func (d *WSDialer) Dial(ctx context.Context, header http.Header) (Transport, error) {
	conn, resp, err := d.dialer.DialContext(ctx, d.url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: broker rejected handshake", ErrUnauthorized)
		}
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", d.url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", d.url, err)
	}

	t := &wsTransport{conn: conn, logger: d.logger}

	conn.SetReadLimit(maxFrameSize)
	if err := conn.SetReadDeadline(time.Now().Add(readWait)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set read deadline: %w", err)
	}
	conn.SetPingHandler(func(appData string) error {
		if err := conn.SetReadDeadline(time.Now().Add(readWait)); err != nil {
			return err
		}
		t.writeMu.Lock()
		defer t.writeMu.Unlock()
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	return t, nil
}

type wsTransport struct {
	conn   *websocket.Conn
	logger zerolog.Logger

	// writeMu serializes writers; gorilla connections support one concurrent writer.
	writeMu sync.Mutex

	nextSub   atomic.Uint64
	closeOnce sync.Once
	closeErr  error
}

func (t *wsTransport) Subscribe(destination string) (string, error) {
	id := "sub-" + strconv.FormatUint(t.nextSub.Add(1)-1, 10)
	if err := t.send(wire.CommandSubscribe, id, destination, nil); err != nil {
		return "", err
	}
	return id, nil
}

func (t *wsTransport) Unsubscribe(id string) error {
	return t.send(wire.CommandUnsubscribe, id, "", nil)
}

func (t *wsTransport) Publish(destination string, body any) error {
	return t.send(wire.CommandSend, "", destination, body)
}

func (t *wsTransport) send(cmd wire.Command, id, destination string, body any) error {
	frame, err := wire.NewFrame(cmd, id, destination, body)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := t.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("write %s frame: %w", cmd, err)
	}
	return nil
}

func (t *wsTransport) Receive() (wire.ChatEvent, error) {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			return wire.ChatEvent{}, err
		}

		var frame wire.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			return wire.ChatEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}

		switch frame.Command {
		case wire.CommandMessage:
			var ev wire.ChatEvent
			if err := frame.DecodeBody(&ev); err != nil {
				return wire.ChatEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
			}
			if err := ev.Validate(); err != nil {
				return wire.ChatEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
			}
			return ev, nil

		case wire.CommandError:
			var body wire.ErrorBody
			_ = frame.DecodeBody(&body)
			t.logger.Warn().
				Int("code", body.Code).
				Str("message", body.Message).
				Str("frame_id", frame.ID).
				Msg("Broker rejected a request")

		case wire.CommandConnected:
			t.logger.Debug().Str("body", string(frame.Body)).Msg("Broker acknowledged connection")

		default:
			t.logger.Debug().Str("command", string(frame.Command)).Msg("Ignoring unexpected frame")
		}
	}
}

func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		_ = t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		t.writeMu.Unlock()
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
