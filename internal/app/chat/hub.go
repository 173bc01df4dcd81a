/*
Package chat contains the support-chat message broker: WebSocket connections, their
destination subscriptions, and the routing of participant messages and operator replies.

This file defines the Hub, which tracks every connected Client and the destinations it
subscribed to, and delivers events arriving from the Backplane to the subscribers of
their destination.
*/
package chat

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"supportchat/internal/pkg/logx"
	"supportchat/internal/pkg/wire"
)

// unregisterChannelBuffer lets delivery paths queue slow consumers for removal
// without blocking.
const unregisterChannelBuffer = 64

// Hub is the broker's registry of connections and subscriptions.
type Hub struct {
	// connected clients.
	clients map[*Client]struct{}

	// subscriptions keyed by destination, then client, holding the subscription id.
	subs map[string]map[*Client]string

	// mu protects clients and subs.
	mu sync.RWMutex

	// a channel for connections joining the broker.
	register chan *Client

	// a channel for connections leaving the broker.
	unregister chan *Client

	// used to signal the Run loop to stop.
	stopChan chan struct{}
	stopOnce sync.Once

	// closed when the Run loop has returned.
	done    chan struct{}
	started atomic.Bool

	backplane Backplane

	// structured logger with Hub context.
	logger zerolog.Logger
}

// NewHub constructs a Hub delivering through backplane.
func NewHub(backplane Backplane) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		subs:       make(map[string]map[*Client]string),
		register:   make(chan *Client),
		unregister: make(chan *Client, unregisterChannelBuffer),
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
		backplane:  backplane,
		logger:     logx.Component("Hub"),
	}
}

// Start connects the backplane and starts the Run loop.
func (h *Hub) Start(ctx context.Context) error {
	if err := h.backplane.Start(ctx, h.dispatch); err != nil {
		return fmt.Errorf("start backplane: %w", err)
	}

	h.started.Store(true)
	go h.Run()
	return nil
}

// Run is the Hub's event loop. It handles client registration and deregistration and
// closes every connection on stop.
func (h *Hub) Run() {
	defer close(h.done)

	h.logger.Info().Msg("Hub loop started.")

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()

			client.logger.Info().Int("total_clients", total).Msg("Client connected.")
			client.sendConnected()

		case client := <-h.unregister:
			h.removeClient(client)

		case <-h.stopChan:
			h.mu.Lock()
			for client := range h.clients {
				client.closeSend()
			}
			h.clients = make(map[*Client]struct{})
			h.subs = make(map[string]map[*Client]string)
			h.mu.Unlock()

			h.logger.Info().Msg("Hub loop stopped.")
			return
		}
	}
}

// removeClient drops a client and all its subscriptions and closes its send queue.
func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for dest, subscribers := range h.subs {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.subs, dest)
		}
	}
	client.closeSend()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.logger.Info().Int("total_clients", len(h.clients)).Msg("Client disconnected.")
	}
}

// Register adds a client. It returns false when the Hub is stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.stopChan:
		return false
	}
}

// Unregister queues a client for removal.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.stopChan:
	}
}

// subscribe routes destination to client under subscription id. A repeated
// subscription to the same destination replaces the id.
func (h *Hub) subscribe(client *Client, destination, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subscribers, ok := h.subs[destination]
	if !ok {
		subscribers = make(map[*Client]string)
		h.subs[destination] = subscribers
	}
	subscribers[client] = id
}

// unsubscribe removes the client's subscription with the given id.
func (h *Hub) unsubscribe(client *Client, id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for dest, subscribers := range h.subs {
		if subID, ok := subscribers[client]; ok && subID == id {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.subs, dest)
			}
			return true
		}
	}
	return false
}

// Subscribers returns the number of subscriptions to destination.
func (h *Hub) Subscribers(destination string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[destination])
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// publish hands an event for destination to the backplane.
func (h *Hub) publish(ctx context.Context, destination string, ev wire.ChatEvent) error {
	return h.backplane.Publish(ctx, Envelope{Destination: destination, Event: ev})
}

// dispatch delivers an envelope to the local subscribers of its destination.
// Subscribers whose send queue is full are disconnected.
func (h *Hub) dispatch(env Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subscribers := h.subs[env.Destination]
	if len(subscribers) == 0 {
		return
	}

	for client, subID := range subscribers {
		frame, err := wire.NewFrame(wire.CommandMessage, subID, env.Destination, env.Event)
		if err != nil {
			h.logger.Error().Err(err).Str("destination", env.Destination).Msg("Error building MESSAGE frame.")
			return
		}

		if !client.enqueue(frame) {
			client.logger.Warn().Msg("Client send queue full or closed, unregistering.")

			select {
			case h.unregister <- client:
			default:
				h.logger.Warn().Msg("Unregister channel full, skipping client cleanup.")
			}
		}
	}
}

// Shutdown stops the Run loop, closes every connection and the backplane.
func (h *Hub) Shutdown() {
	h.logger.Info().Msg("Shutting down Hub...")

	h.stopOnce.Do(func() { close(h.stopChan) })

	if h.started.Load() {
		<-h.done
	}

	if err := h.backplane.Close(); err != nil {
		h.logger.Warn().Err(err).Msg("Error closing backplane.")
	}

	h.logger.Info().Msg("Hub shutdown complete.")
}
