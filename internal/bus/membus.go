package bus

import (
	"strings"
	"sync"
)

// MemBus is an in-process Conn. Delivery is synchronous: Publish invokes
// matching handlers on the calling goroutine before returning, which makes
// tests deterministic. Subject matching follows NATS semantics ("*" matches
// one token, ">" matches the rest).
type MemBus struct {
	mu     sync.Mutex
	subs   map[int]*memSub
	nextID int
	rr     map[string]int
	closed bool
}

type memSub struct {
	bus     *MemBus
	id      int
	subject string
	queue   string
	fn      Handler
}

// NewMemBus returns an empty in-process bus.
func NewMemBus() *MemBus {
	return &MemBus{
		subs: make(map[int]*memSub),
		rr:   make(map[string]int),
	}
}

// Publish delivers data to every matching subscription. Queue-group members
// receive round robin, one per group.
func (b *MemBus) Publish(subject string, data []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}

	var direct []Handler
	groups := make(map[string][]*memSub)
	for _, s := range b.subs {
		if !subjectMatches(s.subject, subject) {
			continue
		}
		if s.queue == "" {
			direct = append(direct, s.fn)
		} else {
			key := s.subject + " " + s.queue
			groups[key] = append(groups[key], s)
		}
	}
	for key, members := range groups {
		n := b.rr[key]
		b.rr[key] = n + 1
		direct = append(direct, members[n%len(members)].fn)
	}
	b.mu.Unlock()

	// Handlers run outside the lock so they can publish or unsubscribe.
	for _, fn := range direct {
		fn(subject, data)
	}
	return nil
}

// Subscribe delivers every message on subject to fn.
func (b *MemBus) Subscribe(subject string, fn Handler) (Subscription, error) {
	return b.subscribe(subject, "", fn)
}

// QueueSubscribe delivers each message on subject to one member of queue.
func (b *MemBus) QueueSubscribe(subject, queue string, fn Handler) (Subscription, error) {
	return b.subscribe(subject, queue, fn)
}

func (b *MemBus) subscribe(subject, queue string, fn Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &memSub{bus: b, id: b.nextID, subject: subject, queue: queue, fn: fn}
	b.subs[s.id] = s
	b.nextID++
	return s, nil
}

// Close drops all subscriptions. Further publishes are silently discarded.
func (b *MemBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[int]*memSub)
}

func (s *memSub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs, s.id)
	return nil
}

// subjectMatches reports whether a concrete subject matches a subscription
// pattern under NATS token rules.
func subjectMatches(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")
	for i, tok := range pt {
		if tok == ">" {
			return i < len(st)
		}
		if i >= len(st) {
			return false
		}
		if tok != "*" && tok != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}
