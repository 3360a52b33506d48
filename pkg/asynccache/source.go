// Package asynccache implements the generic, worker-backed, deduplicating
// lookup cache that both the runtime metadata resolver and the cgroup
// resource reader are built on top of. It centralises the "one slow
// fetch per key at a time, many fast observers" pattern so resolvers
// don't have to open-code it.
package asynccache

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Config configures a Source.
type Config struct {
	// MaxWait bounds how long a synchronous Lookup call may block waiting
	// for an in-flight fetch to finish. Zero means Lookup never blocks and
	// a fresh (non-cached) lookup always returns immediate=false.
	MaxWait time.Duration

	// TTL is how long a stored value remains servable without
	// re-resolution. Zero or negative means values never expire.
	TTL time.Duration
}

// Fetch resolves a single key. It runs on the Source's worker goroutine.
// A panic inside Fetch is recovered and treated as a failed resolution:
// the zero value of V is stored instead.
type Fetch[K comparable, V any] func(key K) V

type pendingEntry[V any] struct {
	done      chan struct{}
	callbacks []func(V)
}

type readyEntry[V any] struct {
	value    V
	storedAt time.Time
}

// Source is the generic async lookup cache described by the
// asynchronous-lookup-cache component: deduplicating, TTL-bounded,
// callback-delivering, backed by exactly one worker goroutine.
type Source[K comparable, V any] struct {
	cfg   Config
	fetch Fetch[K, V]
	log   *logrus.Entry

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []K
	pending map[K]*pendingEntry[V]
	ready   map[K]readyEntry[V]
	stopped bool

	wg sync.WaitGroup
}

// NewSource creates a Source and starts its single worker goroutine.
// fetch is invoked once per distinct key dequeued; its result is stored
// and delivered to every callback registered for that key.
func NewSource[K comparable, V any](cfg Config, fetch Fetch[K, V], log *logrus.Entry) *Source[K, V] {
	s := &Source[K, V]{
		cfg:     cfg,
		fetch:   fetch,
		log:     log,
		pending: make(map[K]*pendingEntry[V]),
		ready:   make(map[K]readyEntry[V]),
	}
	s.cond = sync.NewCond(&s.mu)

	s.wg.Add(1)
	go s.workerLoop()

	return s
}

// Lookup looks up key. If a fresh (within TTL) value is already stored,
// it is returned immediately with immediate=true. Otherwise callback (if
// non-nil) is registered to be invoked once the worker stores a value for
// key, a fetch is enqueued if one isn't already pending or in flight, and
// Lookup waits at most cfg.MaxWait for that fetch to complete: it returns
// the stored value with immediate=true if the fetch finishes in time, and
// immediate=false otherwise.
func (s *Source[K, V]) Lookup(key K, callback func(V)) (V, bool) {
	s.mu.Lock()

	if v, ok := s.readyLocked(key); ok {
		s.mu.Unlock()
		return v, true
	}

	pe, exists := s.pending[key]
	if !exists {
		pe = &pendingEntry[V]{done: make(chan struct{})}
		s.pending[key] = pe
		s.queue = append(s.queue, key)
		s.cond.Signal()
	}
	if callback != nil {
		pe.callbacks = append(pe.callbacks, callback)
	}
	done := pe.done
	maxWait := s.cfg.MaxWait
	s.mu.Unlock()

	var zero V
	if maxWait <= 0 {
		return zero, false
	}

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	select {
	case <-done:
		s.mu.Lock()
		v, ok := s.readyLocked(key)
		s.mu.Unlock()
		if ok {
			return v, true
		}
		return zero, false
	case <-timer.C:
		return zero, false
	}
}

// readyLocked returns the cached value for key if present and within TTL,
// lazily evicting it if expired. Caller must hold s.mu.
func (s *Source[K, V]) readyLocked(key K) (V, bool) {
	entry, ok := s.ready[key]
	if !ok {
		var zero V
		return zero, false
	}
	if s.cfg.TTL > 0 && time.Since(entry.storedAt) >= s.cfg.TTL {
		delete(s.ready, key)
		var zero V
		return zero, false
	}
	return entry.value, true
}

// DequeueNextKey blocks until a pending key is available or the source is
// stopped. It is called only by the worker goroutine (exported so a
// specialization may drive its own worker loop against the same source,
// per the component's contract).
func (s *Source[K, V]) DequeueNextKey() (K, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.queue) == 0 && !s.stopped {
		s.cond.Wait()
	}

	if len(s.queue) == 0 {
		var zero K
		return zero, false
	}

	key := s.queue[0]
	s.queue = s.queue[1:]
	return key, true
}

// StoreValue installs value as the result for key, timestamps it for TTL,
// and invokes every callback registered for key outside the cache's lock.
// It is called only by the worker goroutine.
func (s *Source[K, V]) StoreValue(key K, value V) {
	s.mu.Lock()
	pe, wasPending := s.pending[key]
	delete(s.pending, key)
	s.ready[key] = readyEntry[V]{value: value, storedAt: time.Now()}
	s.mu.Unlock()

	if !wasPending {
		return
	}
	close(pe.done)
	for _, cb := range pe.callbacks {
		cb(value)
	}
}

// Stop is idempotent. It wakes the worker so DequeueNextKey returns false,
// drains any still-pending callbacks with failureValue, and joins the
// worker goroutine.
func (s *Source[K, V]) Stop(failureValue V) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	drained := s.pending
	s.pending = make(map[K]*pendingEntry[V])
	s.queue = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	for _, pe := range drained {
		close(pe.done)
		for _, cb := range pe.callbacks {
			cb(failureValue)
		}
	}

	s.wg.Wait()
}

func (s *Source[K, V]) workerLoop() {
	defer s.wg.Done()

	for {
		key, ok := s.DequeueNextKey()
		if !ok {
			return
		}
		value := s.safeFetch(key)
		s.StoreValue(key, value)
	}
}

// safeFetch isolates a single key's resolution: a panic inside fetch must
// not take down the worker goroutine or any other key's processing.
func (s *Source[K, V]) safeFetch(key K) (result V) {
	defer func() {
		if r := recover(); r != nil {
			if s.log != nil {
				s.log.WithField("key", key).Errorf("async resolution panicked: %v", r)
			}
			var zero V
			result = zero
		}
	}()
	return s.fetch(key)
}
