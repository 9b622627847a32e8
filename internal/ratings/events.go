package ratings

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DeletionEvent notifies listeners that a rating record was removed from
// under a ship. Consumers only need the fact of deletion and the parent ship
// identity, never the deleted record's content.
type DeletionEvent struct {
	ShipID     string
	RatingID   string
	OccurredAt time.Time
}

// DeletionDispatcher fans deletion events out to subscribers. Delivery is
// best effort: a subscriber with a full buffer misses the event, which is
// acceptable because recomputation is convergent and the batch endpoint can
// force a catch-up.
type DeletionDispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]*deletionSubscriber
	nextID      int64
	bufferSize  int
	logger      *zap.Logger
}

type deletionSubscriber struct {
	id     int64
	stream chan DeletionEvent
}

// NewDeletionDispatcher constructs a dispatcher with a small per-subscriber
// buffer. A nil logger disables drop reporting.
func NewDeletionDispatcher(logger *zap.Logger) *DeletionDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeletionDispatcher{
		subscribers: make(map[int64]*deletionSubscriber),
		bufferSize:  16,
		logger:      logger,
	}
}

// Subscribe registers a listener. The returned cleanup unregisters it; the
// subscription also ends when the context is done.
func (d *DeletionDispatcher) Subscribe(ctx context.Context) (<-chan DeletionEvent, func()) {
	subscriber := &deletionSubscriber{
		id:     d.nextSequence(),
		stream: make(chan DeletionEvent, d.bufferSize),
	}
	d.mu.Lock()
	d.subscribers[subscriber.id] = subscriber
	d.mu.Unlock()

	cleanup := func() {
		d.mu.Lock()
		delete(d.subscribers, subscriber.id)
		d.mu.Unlock()
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the event to every current subscriber without blocking.
func (d *DeletionDispatcher) Publish(event DeletionEvent) {
	if event.ShipID == "" || event.RatingID == "" {
		return
	}
	d.mu.RLock()
	copies := make([]*deletionSubscriber, 0, len(d.subscribers))
	for _, subscriber := range d.subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
			d.logger.Warn("deletion event dropped, subscriber buffer full",
				zap.String("ship_id", event.ShipID),
				zap.String("rating_id", event.RatingID))
		}
	}
}

func (d *DeletionDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}
