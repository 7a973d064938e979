// Package sse streams store events to connected clients as Server-Sent Events.
package sse

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// WriteTimeout bounds a write to one client so a stalled reader cannot
// hold up the others.
const WriteTimeout = 2 * time.Second

// Event types published by the worker.
const (
	EventConnected      = "connected"
	EventObservation    = "observation"
	EventSummary        = "summary"
	EventPrompt         = "prompt"
	EventSessionDeleted = "session_deleted"
)

// Event is one message on the stream.
type Event struct {
	Data    any    `json:"data,omitempty"`
	Type    string `json:"type"`
	Project string `json:"project,omitempty"`
	ID      int64  `json:"id,omitempty"`
}

// Client is one connected stream.
type Client struct {
	Writer  http.ResponseWriter
	Flusher http.Flusher
	Done    chan struct{}
	ID      string
	once    sync.Once
}

func (c *Client) close() {
	c.once.Do(func() { close(c.Done) })
}

// Broadcaster fans events out to every connected client.
type Broadcaster struct {
	clients map[string]*Client
	mu      sync.RWMutex
}

// NewBroadcaster creates a new SSE broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{clients: make(map[string]*Client)}
}

// AddClient registers a stream. The writer must support flushing.
func (b *Broadcaster) AddClient(w http.ResponseWriter) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming not supported")
	}

	client := &Client{
		ID:      uuid.NewString(),
		Writer:  w,
		Flusher: flusher,
		Done:    make(chan struct{}),
	}

	b.mu.Lock()
	b.clients[client.ID] = client
	count := len(b.clients)
	b.mu.Unlock()

	log.Debug().Str("clientId", client.ID).Int("totalClients", count).Msg("SSE client connected")
	return client, nil
}

// RemoveClient unregisters a stream. Removing twice is harmless.
func (b *Broadcaster) RemoveClient(client *Client) {
	b.mu.Lock()
	delete(b.clients, client.ID)
	count := len(b.clients)
	b.mu.Unlock()

	client.close()
	log.Debug().Str("clientId", client.ID).Int("totalClients", count).Msg("SSE client disconnected")
}

// Publish sends an event to all clients. Clients whose write fails or
// times out are dropped.
func (b *Broadcaster) Publish(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("type", event.Type).Msg("Failed to marshal SSE event")
		return
	}
	message := []byte(fmt.Sprintf("data: %s\n\n", data))

	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	var (
		wg   sync.WaitGroup
		dead sync.Map
	)
	for _, c := range clients {
		select {
		case <-c.Done:
			continue
		default:
		}
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if !b.write(c, message) {
				dead.Store(c.ID, c)
			}
		}(c)
	}
	wg.Wait()

	dead.Range(func(_, v any) bool {
		b.RemoveClient(v.(*Client))
		return true
	})
}

func (b *Broadcaster) write(c *Client, message []byte) bool {
	result := make(chan error, 1)
	go func() {
		_, err := c.Writer.Write(message)
		if err == nil {
			c.Flusher.Flush()
		}
		result <- err
	}()

	select {
	case err := <-result:
		if err != nil {
			log.Debug().Err(err).Str("clientId", c.ID).Msg("SSE write failed, dropping client")
			return false
		}
		return true
	case <-time.After(WriteTimeout):
		log.Warn().Str("clientId", c.ID).Dur("timeout", WriteTimeout).Msg("SSE write timed out, dropping client")
		return false
	case <-c.Done:
		return true
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// HandleSSE serves one event stream until the request is cancelled.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client, err := b.AddClient(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer b.RemoveClient(client)

	hello, _ := json.Marshal(Event{Type: EventConnected, Data: map[string]string{"clientId": client.ID}})
	fmt.Fprintf(w, "data: %s\n\n", hello)
	client.Flusher.Flush()

	select {
	case <-r.Context().Done():
	case <-client.Done:
	}
}
