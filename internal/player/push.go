package player

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"playdeck/internal/core"
)

const pushBufferSize = 64

// ErrFeedFull is returned by Publish when events arrive faster than the store applies them.
var ErrFeedFull = errors.New("push feed is full")

type pushEvent struct {
	patch      *core.Patch
	receivedAt time.Time
}

// PushFeed delivers already-normalized push events to the store in arrival
// order. Each event is stamped with its local receipt time.
type PushFeed struct {
	store  *Store
	events chan pushEvent
	logger *zap.Logger
}

func NewPushFeed(store *Store, logger *zap.Logger) *PushFeed {
	return &PushFeed{
		store:  store,
		events: make(chan pushEvent, pushBufferSize),
		logger: logger,
	}
}

// Publish queues an event. A nil patch reports that nothing is playing.
func (f *PushFeed) Publish(patch *core.Patch) error {
	select {
	case f.events <- pushEvent{patch: patch, receivedAt: time.Now()}:
		return nil
	default:
		f.logger.Warn("Dropping push event, feed is full")
		return ErrFeedFull
	}
}

// Start applies queued events until ctx is done.
func (f *PushFeed) Start(ctx context.Context) error {
	f.logger.Info("Starting push event feed")

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("Push event feed stopped")
			return nil
		case ev := <-f.events:
			f.store.ApplyAuthoritative(ev.patch, SourcePush, ev.receivedAt)
		}
	}
}
