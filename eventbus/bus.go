// Package eventbus implements the task graph's internal/external event
// broadcast (C1): every running task subscribes to a Bus and receives the
// events published to it, in publish order; when a subscriber's inbox and
// overflow ring are both full, its oldest buffered event is dropped.
// Modeled on the fan-out shape of
// NotificationForwarder (subscribe/cancel/re-subscribe under a mutex),
// generalized from one VM-to-engine notifier into a many-subscriber
// broadcast bus.
package eventbus

import (
	"sync"

	"github.com/hotshot-consensus/hotshot/hstypes"
	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"
)

// EventKind tags the payload carried by an Event, mirroring the task-graph's
// HotShotEvent taxonomy (§4.1, §GLOSSARY).
type EventKind int

const (
	KindQuorumProposalSend EventKind = iota
	KindQuorumProposalRecv
	KindQuorumProposalValidated
	KindQuorumVoteRecv
	KindQcFormed
	KindBlockRecv
	KindDaProposalSend
	KindDaProposalRecv
	KindDaProposalValidated
	KindDaVoteSend
	KindDaVoteRecv
	KindDaCertFormed
	KindVidShareRecv
	KindVidDisperseSend
	KindTimeout
	KindTimeoutVoteRecv
	KindTimeoutCertFormed
	KindViewSyncTimeout
	KindViewSyncVoteRecv
	KindViewSyncCertFormed
	KindViewChange
	KindUpgradeCertFormed
	KindLeafDecided
	KindRequestRecv
	KindResponseRecv
	KindResponseSend
	KindShutdown
)

// Event is one item flowing through the bus: a kind tag, the view it
// pertains to, and an opaque payload the subscriber type-asserts based on
// Kind.
type Event struct {
	Kind    EventKind
	View    hstypes.View
	Payload interface{}
}

// subscriber is one task's inbox plus the overflow ring buffer Publish
// falls back to when the inbox is full, so a slow task never blocks the
// publisher (§4.1's "tasks must not stall the event loop").
type subscriber struct {
	ch      chan Event
	ring    []Event
	ringCap int
	mu      sync.Mutex
}

func newSubscriber(bufSize, ringCap int) *subscriber {
	return &subscriber{
		ch:      make(chan Event, bufSize),
		ringCap: ringCap,
	}
}

// deliver attempts a non-blocking send; on overflow it appends to the ring
// buffer, dropping the oldest entry once the ring is full. There is no
// background drain: Publish calls drainRing before each delivery, moving
// ring entries into ch as far as room allows.
func (s *subscriber) deliver(ev Event) (dropped bool) {
	select {
	case s.ch <- ev:
		return false
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ring) >= s.ringCap {
		s.ring = s.ring[1:]
		dropped = true
	}
	s.ring = append(s.ring, ev)
	return dropped
}

func (s *subscriber) drainRing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.ring) > 0 {
		select {
		case s.ch <- s.ring[0]:
			s.ring = s.ring[1:]
		default:
			return
		}
	}
}

// Metrics counts events published and dropped across all subscribers.
type Metrics struct {
	Published prometheus.Counter
	Dropped   prometheus.Counter
}

// NewMetrics registers the bus's counters against reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hotshot_eventbus_published_total",
			Help: "Total events published to the bus.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hotshot_eventbus_dropped_total",
			Help: "Total events dropped from a subscriber's overflow ring.",
		}),
	}
	for _, c := range []prometheus.Collector{m.Published, m.Dropped} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Bus is a broadcast channel: every Publish is delivered to every live
// subscriber. Default buffer and ring sizes are generous since consensus
// tasks are expected to drain promptly; persistent overflow indicates a
// wedged task and is surfaced via Metrics.Dropped.
type Bus struct {
	logger  log.Logger
	metrics *Metrics

	mu          sync.RWMutex
	subscribers map[int]*subscriber
	nextID      int
}

// New returns an empty Bus.
func New(logger log.Logger, metrics *Metrics) *Bus {
	return &Bus{
		logger:      logger,
		metrics:     metrics,
		subscribers: make(map[int]*subscriber),
	}
}

const (
	defaultBufSize = 64
	defaultRingCap = 256
)

// Subscribe registers a new task inbox and returns it along with an
// unsubscribe function the task must call when it exits.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	sub := newSubscriber(defaultBufSize, defaultRingCap)
	b.subscribers[id] = sub
	b.mu.Unlock()

	return sub.ch, func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
}

// Publish broadcasts ev to every live subscriber. Never blocks: a full
// subscriber inbox spills into that subscriber's overflow ring instead of
// stalling the caller.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.metrics != nil {
		b.metrics.Published.Inc()
	}
	for _, sub := range b.subscribers {
		sub.drainRing()
		if dropped := sub.deliver(ev); dropped {
			if b.metrics != nil {
				b.metrics.Dropped.Inc()
			}
			b.logger.Warn("eventbus: subscriber overflow, dropping oldest event",
				log.Int("kind", int(ev.Kind)),
				log.Uint64("view", uint64(ev.View)))
		}
	}
}

// Len reports the current subscriber count, used in tests and diagnostics.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
