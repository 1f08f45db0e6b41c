// Package events provides an SSE broadcaster for file change events.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/stowage/stowage/internal/metrics"
)

const (
	EventCreated  = "created"
	EventMoved    = "moved"
	EventDeleted  = "deleted"
	EventRestored = "restored"
)

// FileEvent describes one change to a file record.
type FileEvent struct {
	Type       string `json:"type"`
	OwnerID    string `json:"owner_id"`
	FileID     string `json:"file_id"`
	Filename   string `json:"filename"`
	FolderPath string `json:"folder_path,omitempty"`
	Size       int64  `json:"size,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

// Broadcaster manages SSE subscribers and publishes file events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan FileEvent]struct{}
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan FileEvent]struct{}),
	}
}

// Subscribe adds a new subscriber and returns its event channel.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe() chan FileEvent {
	ch := make(chan FileEvent, 64)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(b.Count()))
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan FileEvent) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	close(ch)
	b.mu.Unlock()
	metrics.SetSSEConnectionsActive(int64(b.Count()))
}

// Publish sends an event to all subscribers. Non-blocking: drops events
// for slow consumers.
func (b *Broadcaster) Publish(event FileEvent) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			// Drop event for slow consumer
		}
	}
	metrics.RecordSSEEvent(event.Type)
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// MarshalEvent serializes an event to JSON.
func MarshalEvent(e FileEvent) ([]byte, error) {
	return json.Marshal(e)
}
