// Package sse implements a Server-Sent Events broker that fans out workspace
// changes to the subscribers of each identity.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/runebook/internal/models"
)

// EventWorkspaceUpdated is emitted whenever a stored workspace changes.
const EventWorkspaceUpdated = "workspace.updated"

// Event represents an SSE event addressed to one identity.
type Event struct {
	Identity string      `json:"-"`
	Type     string      `json:"type"`
	Data     interface{} `json:"data"`
}

// WorkspacePayload is the data of a workspace.updated event.
type WorkspacePayload struct {
	Checksum  string          `json:"checksum"`
	Workspace models.Snapshot `json:"workspace"`
}

type subscription struct {
	identity string
	ch       chan []byte
}

// Broker manages SSE client connections and broadcasts events.
//
// Concurrency model: a single internal event loop (goroutine) owns the
// client registry. Public methods communicate with this loop through
// channels, so no mutexes are required.
type Broker struct {
	keepalive time.Duration

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that sends a keepalive comment to every client
// at the given interval. Non-positive means 15s.
func NewBroker(keepalive time.Duration) *Broker {
	if keepalive <= 0 {
		keepalive = 15 * time.Second
	}

	b := &Broker{
		keepalive:     keepalive,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]string)
	ticker := time.NewTicker(b.keepalive)
	defer ticker.Stop()

	// A client whose buffer is full is disconnected; it resumes from the
	// stored snapshot on reconnect instead of silently missing an update.
	send := func(ch chan []byte, raw []byte) {
		select {
		case ch <- raw:
		default:
			delete(clients, ch)
			close(ch)
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = sub.identity

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			raw, err := encode(event)
			if err != nil {
				continue
			}
			for ch, identity := range clients {
				if identity == event.Identity {
					send(ch, raw)
				}
			}

		case <-ticker.C:
			for ch := range clients {
				send(ch, []byte(": keepalive\n\n"))
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

func encode(event Event) ([]byte, error) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload)), nil
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client for identity and returns its channel.
func (b *Broker) Subscribe(identity string) chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscription{identity: identity, ch: ch}:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to the clients subscribed to event.Identity.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// WorkspaceEvent builds the workspace.updated event for identity.
func WorkspaceEvent(identity, checksum string, snap models.Snapshot) Event {
	return Event{
		Identity: identity,
		Type:     EventWorkspaceUpdated,
		Data:     WorkspacePayload{Checksum: checksum, Workspace: snap},
	}
}

// PublishWorkspace announces a new stored workspace for identity.
func (b *Broker) PublishWorkspace(identity, checksum string, snap models.Snapshot) {
	b.Publish(WorkspaceEvent(identity, checksum, snap))
}

// InitialFunc returns the event a new stream starts with; ok is false when
// there is none.
type InitialFunc func() (event Event, ok bool)

// Stream serves identity's event stream until the client goes away. When
// initial is set its event is written first; the subscription is registered
// before initial runs so nothing published in between is lost.
func (b *Broker) Stream(w http.ResponseWriter, r *http.Request, identity string, initial InitialFunc) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	if identity == "" {
		http.Error(w, "missing identity", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(identity)
	defer b.Unsubscribe(ch)

	if initial != nil {
		if event, ok := initial(); ok {
			if raw, err := encode(event); err == nil {
				_, _ = w.Write(raw)
				flusher.Flush()
			}
		}
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
