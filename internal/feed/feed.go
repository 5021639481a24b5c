package feed

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/Nitzan94/WhatsApp-Group-Summary-Bot-sub001/internal/observability"
	"github.com/Nitzan94/WhatsApp-Group-Summary-Bot-sub001/internal/status"
)

const subscriberBuffer = 16

// Feed holds the set of open output channels and fans each new snapshot out
// to all of them. Delivery is best-effort per subscriber: a subscriber whose
// buffer is full is dropped and closed so it can never stall the rest.
type Feed struct {
	mu      sync.Mutex
	subs    map[int]chan status.Snapshot
	nextID  int
	latest  status.Snapshot
	primed  bool
	log     zerolog.Logger
	metrics *observability.Metrics
}

func New(log zerolog.Logger, metrics *observability.Metrics) *Feed {
	return &Feed{
		subs:    make(map[int]chan status.Snapshot),
		log:     log.With().Str("component", "feed").Logger(),
		metrics: metrics,
	}
}

// Subscribe registers a new observer. The current snapshot, when one exists,
// is already buffered as the stream's first element. The returned cancel is
// idempotent and releases the slot without affecting other subscribers.
func (f *Feed) Subscribe() (<-chan status.Snapshot, func()) {
	ch := make(chan status.Snapshot, subscriberBuffer)

	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.subs[id] = ch
	if f.primed {
		ch <- f.latest
	}
	f.gauge()
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(c)
			f.gauge()
		}
	}
	return ch, cancel
}

// Publish records the latest snapshot and broadcasts it. All subscribers
// observe snapshots in the same relative order; a full subscriber buffer
// drops that subscriber only.
func (f *Feed) Publish(s status.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latest = s
	f.primed = true

	for id, ch := range f.subs {
		select {
		case ch <- s:
		default:
			delete(f.subs, id)
			close(ch)
			f.log.Warn().Int("subscriber", id).Msg("dropped slow subscriber")
			if f.metrics != nil {
				f.metrics.BroadcastsDropped.Inc()
			}
		}
	}
	f.gauge()
}

// Latest returns the most recent snapshot, for one-shot pulls before a push
// channel is established.
func (f *Feed) Latest() (status.Snapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, f.primed
}

// SubscriberCount reports the number of open subscriber channels.
func (f *Feed) SubscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *Feed) gauge() {
	if f.metrics != nil {
		f.metrics.FeedSubscribers.Set(float64(len(f.subs)))
	}
}
