package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// clientQueue is how many events a client may lag behind before the hub
// drops it.
const clientQueue = 16

// ErrClientClosed is returned by Client.Stream once the hub has dropped
// the client.
var ErrClientClosed = errors.New("event client closed")

// Hub fans events out to Server-Sent Events clients. Broadcast never
// blocks on a client: one that stops reading is disconnected.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	onCount func(n int)
}

// Client is one subscriber. Its events are written by Stream, in the
// goroutine serving the request.
type Client struct {
	out    chan []byte
	closed chan struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]struct{})}
}

// OnClientCount registers a callback invoked with the client count after
// every change.
func (h *Hub) OnClientCount(fn func(n int)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onCount = fn
}

// Subscribe registers a new client.
func (h *Hub) Subscribe() *Client {
	c := &Client{out: make(chan []byte, clientQueue), closed: make(chan struct{})}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	h.countChanged()
	return c
}

// Unsubscribe removes c. It is safe to call more than once.
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.closed)
	h.countChanged()
}

// Close drops every client, ending their streams.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) countChanged() {
	if h.onCount != nil {
		h.onCount(len(h.clients))
	}
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues event for every client.
func (h *Hub) Broadcast(event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to encode event", "type", event.Type, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.out <- data:
		default:
			slog.Warn("Dropping slow event client", "type", event.Type, "queued", len(c.out))
			h.removeLocked(c)
		}
	}
}

// Stream writes first and then every queued event to w until ctx is done
// or the hub drops c. Events still queued when c is dropped are written
// before ErrClientClosed is returned. A comment line is sent every
// keepAlive to hold idle connections open.
func (c *Client) Stream(ctx context.Context, w http.ResponseWriter, first []byte, keepAlive time.Duration) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return errors.New("streaming not supported")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")

	write := func(format string, args ...any) error {
		if _, err := fmt.Fprintf(w, format, args...); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
	if first != nil {
		if err := write("data: %s\n\n", first); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case data := <-c.out:
			if err := write("data: %s\n\n", data); err != nil {
				return err
			}
		case <-ticker.C:
			if err := write(": ping\n\n"); err != nil {
				return err
			}
		case <-c.closed:
			for {
				select {
				case data := <-c.out:
					if err := write("data: %s\n\n", data); err != nil {
						return err
					}
				default:
					return ErrClientClosed
				}
			}
		}
	}
}
