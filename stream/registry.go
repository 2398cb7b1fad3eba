package stream

import (
	"sort"
	"sync"
	"time"

	"github.com/streamkit/mexc-stream/codec"
)

// Subscription is one registered stream with its callback.
type Subscription struct {
	Topic     codec.Topic
	Key       string
	Callback  Callback
	CreatedAt time.Time

	seq uint64
}

// Registry tracks active subscriptions keyed by canonical topic key.
// All methods are safe for concurrent use; entries never escape as
// pointers, so a replaced callback cannot race with dispatch.
type Registry struct {
	mu      sync.RWMutex
	max     int
	policy  Policy
	entries map[string]*Subscription
	nextSeq uint64
}

// NewRegistry creates a registry bounded at max entries. A max of zero
// or below means unbounded.
func NewRegistry(max int, policy Policy) *Registry {
	return &Registry{
		max:     max,
		policy:  policy,
		entries: make(map[string]*Subscription),
	}
}

// Add registers a subscription for the topic. Re-adding an existing key
// replaces the callback in place, keeps the entry's position, and
// reports replaced.
//
// When the registry is full the behavior depends on the overflow
// policy: PolicyEvictOldest removes and returns the oldest entry's key,
// PolicyReject returns ErrCapacity.
func (r *Registry) Add(topic codec.Topic, cb Callback) (evicted string, replaced bool, err error) {
	key := topic.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[key]; ok {
		existing.Callback = cb
		return "", true, nil
	}

	if r.max > 0 && len(r.entries) >= r.max {
		if r.policy == PolicyReject {
			return "", false, ErrCapacity
		}
		evicted = r.evictOldestLocked()
	}

	r.nextSeq++
	r.entries[key] = &Subscription{
		Topic:     topic,
		Key:       key,
		Callback:  cb,
		CreatedAt: time.Now(),
		seq:       r.nextSeq,
	}

	return evicted, false, nil
}

// evictOldestLocked removes the entry with the lowest sequence number
// and returns its key. Callers must hold the write lock.
func (r *Registry) evictOldestLocked() string {
	var oldest *Subscription
	for _, sub := range r.entries {
		if oldest == nil || sub.seq < oldest.seq {
			oldest = sub
		}
	}
	if oldest == nil {
		return ""
	}
	delete(r.entries, oldest.Key)
	return oldest.Key
}

// Remove deletes the subscription for key. Returns true when an entry
// was present.
func (r *Registry) Remove(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[key]; !ok {
		return false
	}
	delete(r.entries, key)
	return true
}

// RemoveAll clears the registry and returns the removed keys in
// registration order.
func (r *Registry) RemoveAll() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.sortedLocked()
	keys := make([]string, 0, len(subs))
	for _, sub := range subs {
		keys = append(keys, sub.Key)
		delete(r.entries, sub.Key)
	}
	return keys
}

// Lookup returns a snapshot of the subscription for key. The copy is
// taken under the lock, so the returned Callback is stable even if a
// concurrent Add replaces the entry.
func (r *Registry) Lookup(key string) (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.entries[key]
	if !ok {
		return Subscription{}, false
	}
	return *sub, true
}

// Size returns the number of active subscriptions.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot returns copies of the active subscriptions in registration
// order. Used to replay subscriptions after a reconnect.
func (r *Registry) Snapshot() []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := make([]Subscription, 0, len(r.entries))
	for _, sub := range r.sortedLocked() {
		subs = append(subs, *sub)
	}
	return subs
}

func (r *Registry) sortedLocked() []*Subscription {
	subs := make([]*Subscription, 0, len(r.entries))
	for _, sub := range r.entries {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool {
		return subs[i].seq < subs[j].seq
	})
	return subs
}
