// Package sse streams library, cache and catalog notifications to browsers
// and tools as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event types.
const (
	TypeLibrarySynced  = "library.synced"
	TypeCacheCleared   = "cache.cleared"
	TypeAssetChanged   = "asset.changed"
	TypeCatalogUpdated = "catalog.updated"
)

// Event is one notification. Data is encoded as JSON.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// AssetChange is the payload of asset.changed.
type AssetChange struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
	Op   string `json:"op"`
}

const (
	clientBuffer      = 64
	defaultHeartbeat  = 30 * time.Second
	defaultCatalogGap = 2 * time.Second
)

// Broker fans events out to subscribed streams. Its client set, event
// sequence and catalog throttle belong to the loop goroutine started by
// NewBroker.
type Broker struct {
	catalogGap time.Duration
	heartbeat  time.Duration

	join   chan chan []byte
	leave  chan chan []byte
	events chan Event
	count  chan chan int

	quit   chan struct{}
	done   chan struct{}
	closed atomic.Bool
}

// NewBroker starts a broker. After an asset change, catalog.updated is sent
// at most once per catalogGap.
func NewBroker(catalogGap time.Duration) *Broker {
	if catalogGap <= 0 {
		catalogGap = defaultCatalogGap
	}
	b := &Broker{
		catalogGap: catalogGap,
		heartbeat:  defaultHeartbeat,
		join:       make(chan chan []byte),
		leave:      make(chan chan []byte),
		events:     make(chan Event, 256),
		count:      make(chan chan int),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go b.loop()
	return b
}

// frame renders one event in wire format with its sequence number as id.
func frame(seq uint64, e Event) ([]byte, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	return fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", seq, e.Type, data), nil
}

func (b *Broker) loop() {
	defer close(b.done)

	clients := map[chan []byte]struct{}{}
	var (
		seq         uint64
		lastCatalog time.Time
	)
	send := func(e Event) {
		seq++
		msg, err := frame(seq, e)
		if err != nil {
			return
		}
		for ch := range clients {
			select {
			case ch <- msg:
			default: // client is not keeping up
			}
		}
	}

	for {
		select {
		case <-b.quit:
			for ch := range clients {
				close(ch)
			}
			return
		case ch := <-b.join:
			clients[ch] = struct{}{}
		case ch := <-b.leave:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}
		case reply := <-b.count:
			reply <- len(clients)
		case e := <-b.events:
			send(e)
			if e.Type == TypeAssetChanged && time.Since(lastCatalog) >= b.catalogGap {
				lastCatalog = time.Now()
				send(Event{Type: TypeCatalogUpdated, Data: struct{}{}})
			}
		}
	}
}

// Close stops the broker and ends every stream. It is safe to call twice.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.quit)
	}
	<-b.done
}

// Subscribe registers a stream. The returned channel is closed when the
// stream is unsubscribed or the broker closes.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, clientBuffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.join <- ch:
	case <-b.done:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a stream and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.leave <- ch:
	case <-b.done:
	}
}

// ClientCount reports the number of open streams.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	reply := make(chan int, 1)
	select {
	case b.count <- reply:
	case <-b.done:
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-b.done:
		return 0
	}
}

// Publish queues e for every stream. Events published after Close are dropped.
func (b *Broker) Publish(e Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.events <- e:
	case <-b.done:
	}
}

// PublishAssetEvent sends asset.changed for a user style or template, then
// catalog.updated unless one went out within the throttle gap.
func (b *Broker) PublishAssetEvent(kind, name, op string) {
	b.Publish(Event{Type: TypeAssetChanged, Data: AssetChange{Kind: kind, Name: name, Op: op}})
}

// ServeHTTP streams events until the client goes away. Idle streams get a
// comment line every heartbeat so proxies keep them open.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
