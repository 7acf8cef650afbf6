// SPDX-License-Identifier: MIT

// Package feed is the in-process progress fanout: the pipeline publishes
// every status change, SSE handlers subscribe. Delivery is best-effort; a
// slow consumer loses its oldest updates, never blocks a pipeline worker.
package feed

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsync/stemsync/internal/log"
	"github.com/stemsync/stemsync/internal/metrics"
	"github.com/stemsync/stemsync/internal/status"
)

// subBuffer is the per-subscriber queue depth. Terminal SSE clients drain
// far faster than pipelines publish, so overflow means the client is gone
// or hopeless.
const subBuffer = 64

const dropLogEvery = 100

var dropCount atomic.Uint64

// Update is one progress event.
type Update = status.TrackStatus

// Feed fans status updates out to subscribers and can snapshot the registry
// so late joiners start from current state.
type Feed struct {
	mu       sync.RWMutex
	subs     map[string]*Subscriber
	registry *status.Registry
	logger   zerolog.Logger
}

func New(registry *status.Registry) *Feed {
	return &Feed{
		subs:     make(map[string]*Subscriber),
		registry: registry,
		logger:   log.WithComponent("feed"),
	}
}

// Subscriber receives updates on C until Close. A non-empty trackID filter
// limits delivery to that track.
type Subscriber struct {
	id      string
	trackID string
	ch      chan Update
	feed    *Feed
}

// C is the receive side of the subscription. It closes after Close.
func (s *Subscriber) C() <-chan Update { return s.ch }

// Close detaches the subscriber and closes its channel.
func (s *Subscriber) Close() {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	if _, ok := s.feed.subs[s.id]; !ok {
		return
	}
	delete(s.feed.subs, s.id)
	close(s.ch)
	metrics.FeedSubscribers.Dec()
}

// Subscribe registers a new consumer. trackID "" receives everything.
func (f *Feed) Subscribe(trackID string) *Subscriber {
	s := &Subscriber{
		id:      uuid.NewString(),
		trackID: trackID,
		ch:      make(chan Update, subBuffer),
		feed:    f,
	}
	f.mu.Lock()
	f.subs[s.id] = s
	f.mu.Unlock()
	metrics.FeedSubscribers.Inc()
	return s
}

// Snapshot returns the current registry contents, for seeding a subscriber
// before live updates.
func (f *Feed) Snapshot() map[string]status.TrackStatus {
	return f.registry.All()
}

// Publish delivers the update to every matching subscriber without ever
// blocking. A full subscriber loses its oldest buffered update first.
func (f *Feed) Publish(u Update) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.subs {
		if s.trackID != "" && s.trackID != u.TrackID {
			continue
		}
		select {
		case s.ch <- u:
			continue
		default:
		}
		// Buffer full: shed the oldest update, then retry once.
		select {
		case <-s.ch:
			f.countDrop("backpressure")
		default:
		}
		select {
		case s.ch <- u:
		default:
			f.countDrop("race")
		}
	}
}

func (f *Feed) countDrop(reason string) {
	metrics.IncFeedDrop(reason)
	if n := dropCount.Add(1); n%dropLogEvery == 0 {
		f.logger.Warn().
			Str("reason", reason).
			Uint64("dropped", n).
			Msg("progress feed shedding updates for slow subscriber")
	}
}
