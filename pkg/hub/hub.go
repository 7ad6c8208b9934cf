// Package hub fans tool events out to websocket observers using the
// channel-based broadcast pattern. New observers first receive a replay of
// recent events.
package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-tradeschool/internal/log"
	"github.com/teslashibe/go-tradeschool/pkg/protocol"
)

// DefaultReplay is how many recent events a new observer receives.
const DefaultReplay = 50

// Hub maintains the set of active observers and broadcasts events to them.
type Hub struct {
	logger *slog.Logger

	// Registered clients
	clients map[*Client]bool

	// Encoded events waiting to be broadcast
	broadcast chan []byte

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	// Ring of recent encoded events, oldest first
	replay     [][]byte
	replaySize int

	// Guards clients and replay for readers outside Run
	mu sync.RWMutex

	running   atomic.Bool
	published atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a Hub that replays up to replay events to new observers.
func New(replay int) *Hub {
	if replay < 0 {
		replay = 0
	}
	return &Hub{
		logger:     log.Component("events"),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		replaySize: replay,
	}
}

// Run is the hub's main loop. It returns when ctx is done, after closing
// every client. A hub runs once.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		h.running.Store(false)
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			for _, data := range h.replay {
				select {
				case client.send <- data:
				default:
				}
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("observer connected", "observers", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("observer disconnected", "observers", count)

		case data := <-h.broadcast:
			h.mu.Lock()
			if h.replaySize > 0 {
				h.replay = append(h.replay, data)
				if len(h.replay) > h.replaySize {
					h.replay = h.replay[1:]
				}
			}
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					// Slow observer: drop it rather than stall the feed
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("dropped slow observer")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish queues ev for broadcast. It never blocks; when the queue is full
// the event is dropped.
func (h *Hub) Publish(ev protocol.Event) {
	data, err := encodeEvent(ev)
	if err != nil {
		h.logger.Warn("event encode failed", "kind", ev.Kind, "error", err)
		return
	}
	select {
	case h.broadcast <- data:
		h.published.Add(1)
	default:
		h.dropped.Add(1)
		h.logger.Warn("event queue full, dropping event", "kind", ev.Kind)
	}
}

// Recent returns the replay buffer, oldest first.
func (h *Hub) Recent() []protocol.Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]protocol.Event, 0, len(h.replay))
	for _, data := range h.replay {
		if ev, err := decodeEvent(data); err == nil {
			out = append(out, ev)
		}
	}
	return out
}

// ClientCount returns the number of connected observers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// IsRunning returns whether the hub loop is running.
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}

// Stats contains feed counters.
type Stats struct {
	Observers int    `json:"observers"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
}

// GetStats returns feed counters.
func (h *Hub) GetStats() Stats {
	return Stats{
		Observers: h.ClientCount(),
		Published: h.published.Load(),
		Dropped:   h.dropped.Load(),
	}
}
