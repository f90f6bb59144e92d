// Package changefeed fans committed row changes out to live subscribers.
package changefeed

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"client-portal/internal/model"
	"client-portal/internal/resource"
)

type Writer interface {
	Write(message []byte) error
	Close() error
}

// Sink receives every published event in addition to live subscribers.
type Sink interface {
	Publish(ev model.ChangeEvent)
}

// Subscription is one channel registered by a connection. Events reach it
// only when they belong to Owner, touch Table, match Event and pass Filter.
// A Subscription is registered at most once.
type Subscription struct {
	Ref    string
	Owner  string
	Table  string
	Event  string
	Filter *resource.RowFilter
	Writer Writer

	outbox  chan []byte
	quit    chan struct{}
	evicted atomic.Bool
}

func (s *Subscription) matches(ev model.ChangeEvent) bool {
	if s.Table != ev.Table {
		return false
	}
	if s.Event != AnyEvent && s.Event != string(ev.Type) {
		return false
	}
	return s.Filter.Matches(ev.Record())
}

type Options struct {
	QueueSize int
	// OutboxSize bounds the frames waiting on one subscriber. A subscriber
	// whose outbox is full is closed.
	OutboxSize int
	Logger    *slog.Logger
	Metrics   *Metrics
	Mirror    Sink
}

// Broker routes events in publish order from a single dispatcher goroutine
// into per-subscription outboxes, each drained by its own writer goroutine.
// Publish never blocks; when the queue is full the event is dropped and
// counted.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	closed bool

	queue      chan model.ChangeEvent
	outboxSize int
	done       chan struct{}
	closeOnce  sync.Once
	running    sync.WaitGroup
	writers    sync.WaitGroup

	logger  *slog.Logger
	metrics *Metrics
	mirror  Sink
}

func NewBroker(opts Options) *Broker {
	size := opts.QueueSize
	if size <= 0 {
		size = 1024
	}
	outbox := opts.OutboxSize
	if outbox <= 0 {
		outbox = 64
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		subs:    make(map[string]map[*Subscription]struct{}),
		queue:      make(chan model.ChangeEvent, size),
		outboxSize: outbox,
		done:       make(chan struct{}),
		logger:     logger,
		metrics:    opts.Metrics,
		mirror:     opts.Mirror,
	}
	b.running.Add(1)
	go b.run()
	return b
}

func (b *Broker) Subscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || sub.outbox != nil {
		return
	}
	if b.subs[sub.Owner] == nil {
		b.subs[sub.Owner] = make(map[*Subscription]struct{})
	}
	sub.outbox = make(chan []byte, b.outboxSize)
	sub.quit = make(chan struct{})
	b.subs[sub.Owner][sub] = struct{}{}
	b.metrics.subscribed(1)

	b.writers.Add(1)
	go b.drain(sub)
}

func (b *Broker) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set := b.subs[sub.Owner]
	if set == nil {
		return
	}
	if _, exists := set[sub]; !exists {
		return
	}
	delete(set, sub)
	close(sub.quit)
	b.metrics.subscribed(-1)
	if len(set) == 0 {
		delete(b.subs, sub.Owner)
	}
}

// Subscribers returns the number of live subscriptions for owner.
func (b *Broker) Subscribers(owner string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[owner])
}

func (b *Broker) Publish(ev model.ChangeEvent) {
	if b.mirror != nil {
		b.mirror.Publish(ev)
	}

	select {
	case <-b.done:
		return
	default:
	}

	select {
	case b.queue <- ev:
		b.metrics.published(ev)
	default:
		b.metrics.dropped(ev)
		b.logger.Warn("changefeed queue full, event dropped", "table", ev.Table, "type", ev.Type)
	}
}

// Close stops the dispatcher after delivering what is already queued, then
// waits for every subscriber's outbox to drain.
func (b *Broker) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.running.Wait()

		b.mu.Lock()
		b.closed = true
		for _, set := range b.subs {
			for s := range set {
				close(s.outbox)
			}
		}
		b.mu.Unlock()
	})
	b.writers.Wait()
}

func (b *Broker) run() {
	defer b.running.Done()
	for {
		select {
		case ev := <-b.queue:
			b.dispatch(ev)
		case <-b.done:
			for {
				select {
				case ev := <-b.queue:
					b.dispatch(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Broker) dispatch(ev model.ChangeEvent) {
	b.mu.RLock()
	set := b.subs[ev.Owner]
	targets := make([]*Subscription, 0, len(set))
	for s := range set {
		if s.matches(ev) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		payload := ev
		out, err := json.Marshal(Frame{Type: FrameChange, Ref: s.Ref, Payload: &payload})
		if err != nil {
			b.logger.Error("changefeed marshal failed", "error", err)
			continue
		}
		select {
		case s.outbox <- out:
		default:
			b.evict(s)
		}
	}
}

// evict drops a subscriber that cannot keep up.
func (b *Broker) evict(s *Subscription) {
	if s.evicted.Swap(true) {
		return
	}
	b.metrics.evicted(s.Table)
	b.logger.Warn("changefeed subscriber too slow, closing", "owner", s.Owner, "table", s.Table, "ref", s.Ref)
	b.Unsubscribe(s)
	_ = s.Writer.Close()
}

// drain writes one subscriber's frames in order until it is unsubscribed,
// its writer fails, or the broker closes.
func (b *Broker) drain(s *Subscription) {
	defer b.writers.Done()
	for {
		select {
		case <-s.quit:
			return
		case out, ok := <-s.outbox:
			if !ok {
				return
			}
			select {
			case <-s.quit:
				return
			default:
			}
			if err := s.Writer.Write(out); err != nil {
				_ = s.Writer.Close()
				b.Unsubscribe(s)
				return
			}
		}
	}
}
