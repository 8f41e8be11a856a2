// Package websocket fans domain events out to every connected browser. All
// clients receive all events; delivery is best effort and nothing is
// replayed, so a client that misses an event recovers by refetching.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EventType tags the envelope sent to clients.
type EventType string

const (
	EventSampleCreated     EventType = "sample_created"
	EventSampleUpdated     EventType = "sample_updated"
	EventPatientRegistered EventType = "patient_registered"
)

// Event is the JSON envelope written to every connection.
type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data"`
}

// EventPublisher is what services depend on to announce mutations.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}

// Relay forwards serialized events to other server instances.
type Relay interface {
	Publish(ctx context.Context, payload []byte) error
}

// sendBuffer bounds how far a slow client may fall behind before events
// are dropped for it.
const sendBuffer = 64

const (
	relayQueueSize = 256
	relayTimeout   = 2 * time.Second
)

// Client is one subscribed connection. Send is closed on Unsubscribe.
type Client struct {
	ID   string
	Send chan []byte
}

// Hub is the process-wide set of subscribed clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	closed  bool
	relay   Relay
	logger  zerolog.Logger

	// relayQueue feeds the forwarding goroutine started by SetRelay.
	relayQueue chan []byte
	relayDone  chan struct{}
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger.With().Str("component", "event_hub").Logger(),
	}
}

// SetRelay attaches a relay. Events published locally are queued and
// forwarded by a single goroutine, so a slow relay never delays Publish.
func (h *Hub) SetRelay(r Relay) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.relay = r
	if h.relayQueue == nil && !h.closed {
		h.relayQueue = make(chan []byte, relayQueueSize)
		h.relayDone = make(chan struct{})
		go h.forward(h.relayQueue, h.relayDone)
	}
}

func (h *Hub) forward(queue <-chan []byte, done chan<- struct{}) {
	defer close(done)
	for data := range queue {
		h.mu.RLock()
		relay := h.relay
		h.mu.RUnlock()

		ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
		if err := relay.Publish(ctx, data); err != nil {
			h.logger.Warn().Err(err).Msg("relay event")
		}
		cancel()
	}
}

// Subscribe registers a new client and returns it. After Close it returns
// a client whose Send channel is already closed.
func (h *Hub) Subscribe() *Client {
	c := &Client{ID: uuid.NewString(), Send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(c.Send)
		return c
	}
	h.clients[c] = struct{}{}
	h.logger.Debug().Str("client_id", c.ID).Int("clients", len(h.clients)).Msg("client subscribed")
	return c
}

// Unsubscribe removes c and closes its Send channel. It is idempotent.
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.Send)
	h.logger.Debug().Str("client_id", c.ID).Int("clients", len(h.clients)).Msg("client unsubscribed")
}

// Publish serializes event once, delivers it to every local client and
// queues it for the relay. It never blocks on the relay and never fails;
// when the relay queue is full the event is dropped for other instances.
func (h *Hub) Publish(_ context.Context, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn().Err(err).Str("type", string(event.Type)).Msg("marshal event")
		return
	}

	h.Deliver(data)

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.relayQueue == nil || h.closed {
		return
	}
	select {
	case h.relayQueue <- data:
	default:
		h.logger.Warn().Str("type", string(event.Type)).Msg("relay queue full, event not relayed")
	}
}

// Deliver writes an already-serialized event to every local client whose
// buffer has room. Full buffers are skipped.
func (h *Hub) Deliver(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.Send <- data:
		default:
			h.logger.Debug().Str("client_id", c.ID).Msg("client buffer full, event dropped")
		}
	}
}

// ClientCount returns the number of subscribed clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close unsubscribes every client; later subscriptions are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.Send)
	}
	if h.relayQueue != nil {
		close(h.relayQueue)
	}
}
