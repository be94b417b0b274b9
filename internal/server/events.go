package server

import (
	"context"
	"sync"
	"time"
)

const (
	SyncEventCompleted   = "sync-complete"
	streamEventHeartbeat = "heartbeat"
	streamSourceBackend  = "mirror-backend"
)

// SyncEvent describes one finished sync run. Events are broadcast to every
// open stream; slow consumers miss events rather than stall the publisher.
type SyncEvent struct {
	RunID         string
	Trigger       string
	StartDate     time.Time
	EndDate       time.Time
	RecordsSynced int64
	Chunks        int
	CompletedAt   time.Time
}

type SyncEventDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]chan SyncEvent
	nextID      int64
	bufferSize  int
}

func NewSyncEventDispatcher() *SyncEventDispatcher {
	return &SyncEventDispatcher{
		subscribers: make(map[int64]chan SyncEvent),
		bufferSize:  16,
	}
}

func (d *SyncEventDispatcher) Subscribe(ctx context.Context) (<-chan SyncEvent, func()) {
	stream := make(chan SyncEvent, d.bufferSize)
	subscriberID := d.registerSubscriber(stream)
	cleanup := func() {
		d.unregisterSubscriber(subscriberID)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return stream, cleanup
}

func (d *SyncEventDispatcher) Publish(event SyncEvent) {
	if event.RunID == "" {
		return
	}
	d.mu.RLock()
	copies := make([]chan SyncEvent, 0, len(d.subscribers))
	for _, stream := range d.subscribers {
		copies = append(copies, stream)
	}
	d.mu.RUnlock()
	for _, stream := range copies {
		select {
		case stream <- event:
		default:
		}
	}
}

func (d *SyncEventDispatcher) registerSubscriber(stream chan SyncEvent) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.subscribers[d.nextID] = stream
	return d.nextID
}

func (d *SyncEventDispatcher) unregisterSubscriber(subscriberID int64) {
	d.mu.Lock()
	delete(d.subscribers, subscriberID)
	d.mu.Unlock()
}
