package persist

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// Outcome is the final result of one remote write.
type Outcome struct {
	// Seq is the submission sequence number, starting at 1.
	Seq      uint64
	Mutation Mutation

	// Err is nil on success, otherwise a *WriteError.
	Err      error
	Attempts int
	Duration time.Duration
}

// Failed reports whether the write failed.
func (o Outcome) Failed() bool {
	return o.Err != nil
}

// Observer is called with every write outcome.
type Observer func(Outcome)

// Subscription represents an active observer subscription.
type Subscription struct {
	id       uint64
	notifier *Notifier
}

// Unsubscribe removes this subscription.
func (s *Subscription) Unsubscribe() {
	if s != nil && s.notifier != nil {
		s.notifier.unsubscribe(s.id)
	}
}

// Notifier fans write outcomes out to observers. Observers run
// synchronously on the dispatcher's worker, in subscription order, and
// must not block.
type Notifier struct {
	mu        sync.RWMutex
	observers map[uint64]entry
	nextID    uint64
}

type entry struct {
	observer     Observer
	failuresOnly bool
}

// NewNotifier creates an empty Notifier.
func NewNotifier() *Notifier {
	return &Notifier{observers: make(map[uint64]entry)}
}

// Subscribe registers an observer for every outcome.
func (n *Notifier) Subscribe(o Observer) *Subscription {
	return n.add(entry{observer: o})
}

// SubscribeFailures registers an observer for failed writes only.
func (n *Notifier) SubscribeFailures(o Observer) *Subscription {
	return n.add(entry{observer: o, failuresOnly: true})
}

func (n *Notifier) add(e entry) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := n.nextID
	n.observers[id] = e
	return &Subscription{id: id, notifier: n}
}

func (n *Notifier) unsubscribe(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.observers, id)
}

// SubscriberCount returns the number of active subscriptions.
func (n *Notifier) SubscriberCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.observers)
}

// Notify delivers o to every matching observer. A panicking observer does
// not stop delivery to the others.
func (n *Notifier) Notify(o Outcome) {
	n.mu.RLock()
	ids := slices.Sorted(maps.Keys(n.observers))
	entries := make([]entry, len(ids))
	for i, id := range ids {
		entries[i] = n.observers[id]
	}
	n.mu.RUnlock()

	for _, e := range entries {
		if e.failuresOnly && !o.Failed() {
			continue
		}
		safeCall(e.observer, o)
	}
}

func safeCall(obs Observer, o Outcome) {
	defer func() { _ = recover() }()
	obs(o)
}
