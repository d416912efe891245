package hub

import (
	"fmt"
	"strings"
	"sync"

	"github.com/friflo/fliox.go/pkg/constants"
	"github.com/friflo/fliox.go/pkg/logger"
	"github.com/friflo/fliox.go/pkg/metrics"
	"github.com/friflo/fliox.go/pkg/models"
	"github.com/friflo/fliox.go/pkg/protocol"
)

// Overflow selects what a Broker does when the event queue of a subscriber
// is full.
type Overflow int

const (
	// DropOldest drops the oldest queued event. The subscriber receives a
	// resync event before its next delivered event.
	DropOldest Overflow = iota
	// Disconnect removes the subscriber and disconnects its target.
	Disconnect
)

func (o Overflow) String() string {
	if o == Disconnect {
		return "disconnect"
	}
	return "drop-oldest"
}

// ParseOverflow parses the names produced by [Overflow.String].
func ParseOverflow(s string) (Overflow, error) {
	switch s {
	case "", "drop-oldest":
		return DropOldest, nil
	case "disconnect":
		return Disconnect, nil
	}
	return 0, fmt.Errorf("%w: unknown overflow policy %q", constants.ErrValidation, s)
}

// EventTarget is the connection events of a subscriber are sent to.
type EventTarget interface {
	// SendEvent must not block for long. It is called by a single goroutine
	// per subscriber.
	SendEvent(ev protocol.EventMessage) error
	// Done is closed when the connection is gone.
	Done() <-chan struct{}
	// Disconnect closes the connection.
	Disconnect()
}

// Broker tracks the change and message subscriptions of the clients of one
// database and delivers matching events to them.
//
// Publish never blocks on a subscriber. Every subscriber owns a bounded
// queue drained by its own goroutine, so events reach a subscriber in
// publish order while a slow subscriber only affects itself.
type Broker struct {
	db        string
	queueSize int
	overflow  Overflow
	logger    logger.Logger
	metrics   *metrics.Metrics

	mu   sync.Mutex
	subs map[string]*subscriber
}

func NewBroker(db string, queueSize int, overflow Overflow, log logger.Logger, m *metrics.Metrics) *Broker {
	if queueSize <= 0 {
		queueSize = constants.DefaultEventQueueSize
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Broker{
		db:        db,
		queueSize: queueSize,
		overflow:  overflow,
		logger:    log,
		metrics:   m,
		subs:      make(map[string]*subscriber),
	}
}

// SubscribeChanges sets the change types of container the client receives.
// An empty set removes the subscription of the container.
func (b *Broker) SubscribeChanges(clientID string, target EventTarget, container string, changes models.ChangeSet) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if changes == 0 {
		if s, ok := b.subs[clientID]; ok {
			delete(s.changes, container)
			b.removeIdleLocked(s)
		}
		return
	}
	s := b.subscriberLocked(clientID, target)
	s.changes[container] = changes
}

// SubscribeMessage adds or removes a message subscription. A name ending
// with "*" matches all messages with that prefix.
func (b *Broker) SubscribeMessage(clientID string, target EventTarget, name string, remove bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if remove {
		if s, ok := b.subs[clientID]; ok {
			delete(s.messages, name)
			b.removeIdleLocked(s)
		}
		return
	}
	s := b.subscriberLocked(clientID, target)
	s.messages[name] = struct{}{}
}

// Unsubscribe removes all subscriptions of the client.
func (b *Broker) Unsubscribe(clientID string) {
	b.mu.Lock()
	s, ok := b.subs[clientID]
	b.mu.Unlock()
	if ok {
		b.remove(s, false)
	}
}

// Publish queues ev at every subscriber of its container and change type.
// The document of ev is shared by all subscribers and must not be modified.
func (b *Broker) Publish(ev models.ChangeEvent) {
	ev.Doc = models.CloneDocument(ev.Doc)
	b.publish(protocol.EventMessage{Type: protocol.EventChange, DB: b.db, Change: &ev}, func(s *subscriber) bool {
		return s.changes[ev.Container].Has(ev.Change)
	})
}

// PublishMessage queues a message event at every subscriber of name.
func (b *Broker) PublishMessage(name string, param any) {
	msg := &protocol.Message{Name: name, Param: param}
	b.publish(protocol.EventMessage{Type: protocol.EventMsg, DB: b.db, Message: msg}, func(s *subscriber) bool {
		return s.subscribedMessage(name)
	})
}

func (b *Broker) publish(ev protocol.EventMessage, match func(s *subscriber) bool) {
	var overflowed []*subscriber
	b.mu.Lock()
	for _, s := range b.subs {
		if !match(s) {
			continue
		}
		if !s.enqueue(ev) {
			overflowed = append(overflowed, s)
		}
	}
	b.mu.Unlock()

	for _, s := range overflowed {
		b.logger.Warn("event queue overflow, disconnecting subscriber", "db", b.db, "client", s.clientID)
		b.remove(s, true)
	}
}

// Count returns the number of subscribed clients.
func (b *Broker) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close removes all subscribers without disconnecting their targets.
func (b *Broker) Close() {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	for _, s := range subs {
		b.remove(s, false)
	}
}

// subscriberLocked returns the subscriber of clientID bound to target. A
// subscriber bound to another target is replaced by one on target that
// keeps its subscriptions and sequence numbers.
func (b *Broker) subscriberLocked(clientID string, target EventTarget) *subscriber {
	prev, ok := b.subs[clientID]
	if ok && prev.target == target {
		return prev
	}
	s := newSubscriber(b, clientID, target)
	if ok {
		delete(b.subs, clientID)
		s.takeOver(prev)
		prev.close()
		b.logger.Debug("subscriber moved to new target", "db", b.db, "client", clientID)
	}
	b.subs[clientID] = s
	b.metrics.SetSubscribers(b.db, len(b.subs))
	go s.run()
	return s
}

func (b *Broker) removeIdleLocked(s *subscriber) {
	if len(s.changes) > 0 || len(s.messages) > 0 {
		return
	}
	delete(b.subs, s.clientID)
	b.metrics.SetSubscribers(b.db, len(b.subs))
	s.close()
}

func (b *Broker) remove(s *subscriber, disconnect bool) {
	b.mu.Lock()
	if b.subs[s.clientID] != s {
		b.mu.Unlock()
		return
	}
	delete(b.subs, s.clientID)
	n := len(b.subs)
	b.mu.Unlock()

	s.close()
	b.metrics.SetSubscribers(b.db, n)
	b.metrics.SubscriberDisconnected(b.db)
	b.logger.Debug("subscriber removed", "db", b.db, "client", s.clientID)
	if disconnect {
		s.target.Disconnect()
	}
}

type subscriber struct {
	broker   *Broker
	clientID string
	target   EventTarget

	// guarded by broker.mu
	changes  map[string]models.ChangeSet
	messages map[string]struct{}

	mu          sync.Mutex
	queue       []protocol.EventMessage
	seq         uint64
	gapped      bool
	lastDropped uint64
	closed      bool

	notify    chan struct{}
	stop      chan struct{}
	closeOnce sync.Once
}

func newSubscriber(b *Broker, clientID string, target EventTarget) *subscriber {
	return &subscriber{
		broker:   b,
		clientID: clientID,
		target:   target,
		changes:  make(map[string]models.ChangeSet),
		messages: make(map[string]struct{}),
		notify:   make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

// takeOver copies the subscriptions of prev. Events still queued at prev
// are not delivered, so s starts with a resync event.
func (s *subscriber) takeOver(prev *subscriber) {
	for container, changes := range prev.changes {
		s.changes[container] = changes
	}
	for name := range prev.messages {
		s.messages[name] = struct{}{}
	}

	prev.mu.Lock()
	defer prev.mu.Unlock()
	s.seq = prev.seq
	if prev.gapped || len(prev.queue) > 0 {
		s.gapped = true
		s.lastDropped = prev.seq
		s.notify <- struct{}{}
	}
}

func (s *subscriber) subscribedMessage(name string) bool {
	if _, ok := s.messages[name]; ok {
		return true
	}
	for pattern := range s.messages {
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok && strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// enqueue assigns the next sequence number to ev and queues it. It returns
// false when the queue is full and the overflow policy is Disconnect.
func (s *subscriber) enqueue(ev protocol.EventMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return true
	}
	s.seq++
	ev.Seq = s.seq
	if len(s.queue) >= s.broker.queueSize {
		if s.broker.overflow == Disconnect {
			return false
		}
		s.lastDropped = s.queue[0].Seq
		s.queue[0] = protocol.EventMessage{}
		s.queue = s.queue[1:]
		s.gapped = true
		s.broker.metrics.EventDropped(s.broker.db)
	}
	s.queue = append(s.queue, ev)
	s.broker.metrics.EventQueued(s.broker.db)

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

// next returns the event to deliver next. A gapped subscriber first gets a
// resync event.
func (s *subscriber) next() (protocol.EventMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return protocol.EventMessage{}, false
	}
	if s.gapped {
		s.gapped = false
		return protocol.EventMessage{Seq: s.lastDropped, Type: protocol.EventResync, DB: s.broker.db}, true
	}
	if len(s.queue) == 0 {
		return protocol.EventMessage{}, false
	}
	ev := s.queue[0]
	s.queue[0] = protocol.EventMessage{}
	s.queue = s.queue[1:]
	return ev, true
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.stop:
			return
		case <-s.target.Done():
			s.broker.remove(s, false)
			return
		case <-s.notify:
		}
		for {
			ev, ok := s.next()
			if !ok {
				break
			}
			if err := s.target.SendEvent(ev); err != nil {
				s.broker.logger.Warn("failed to send event", "db", s.broker.db, "client", s.clientID, "error", err)
				s.broker.remove(s, false)
				return
			}
		}
	}
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.stop)
	})
}
