package asynccache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestSource(t *testing.T, cfg Config, fetchCount *int64, fetch func(string) string) *Source[string, string] {
	t.Helper()
	wrapped := func(key string) string {
		if fetchCount != nil {
			atomic.AddInt64(fetchCount, 1)
		}
		return fetch(key)
	}
	s := NewSource[string, string](cfg, wrapped, nil)
	t.Cleanup(func() { s.Stop("") })
	return s
}

func TestLookupFreshKeyReturnsNotImmediate(t *testing.T) {
	release := make(chan struct{})
	s := newTestSource(t, Config{}, nil, func(key string) string {
		<-release
		return "value:" + key
	})
	defer close(release)

	value, immediate := s.Lookup("a", nil)
	assert.False(t, immediate)
	assert.Equal(t, "", value)
}

func TestLookupServesFreshCachedValueSynchronously(t *testing.T) {
	var calls int64
	s := newTestSource(t, Config{TTL: time.Minute}, &calls, func(key string) string {
		return "value:" + key
	})

	// Prime the cache.
	var wg sync.WaitGroup
	wg.Add(1)
	s.Lookup("a", func(string) { wg.Done() })
	wg.Wait()

	value, immediate := s.Lookup("a", nil)
	assert.True(t, immediate)
	assert.Equal(t, "value:a", value)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestLookupDedupsConcurrentRequestsForSameKey(t *testing.T) {
	var calls int64
	started := make(chan struct{})
	release := make(chan struct{})

	fetch := func(key string) string {
		atomic.AddInt64(&calls, 1)
		close(started)
		<-release
		return "value:" + key
	}
	s := NewSource[string, string](Config{}, fetch, nil)
	defer s.Stop("")

	var wg sync.WaitGroup
	results := make([]string, 10)
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Lookup("shared-key", func(v string) { results[i] = v })
		}()
	}

	<-started
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	for _, r := range results {
		assert.Equal(t, "value:shared-key", r)
	}
}

func TestLookupRegistersCallbackAndInvokesItExactlyOnce(t *testing.T) {
	release := make(chan struct{})
	s := newTestSource(t, Config{}, nil, func(key string) string {
		<-release
		return "done:" + key
	})

	var calls int32
	var got string
	s.Lookup("k", func(v string) {
		atomic.AddInt32(&calls, 1)
		got = v
	})
	close(release)

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "done:k", got)
}

func TestLookupHonoursMaxWaitAndReturnsImmediateOnFastCompletion(t *testing.T) {
	s := newTestSource(t, Config{MaxWait: 200 * time.Millisecond}, nil, func(key string) string {
		time.Sleep(20 * time.Millisecond)
		return "fast:" + key
	})

	value, immediate := s.Lookup("k", nil)
	assert.True(t, immediate)
	assert.Equal(t, "fast:k", value)
}

func TestLookupHonoursMaxWaitAndTimesOutOnSlowFetch(t *testing.T) {
	release := make(chan struct{})
	s := newTestSource(t, Config{MaxWait: 30 * time.Millisecond}, nil, func(key string) string {
		<-release
		return "slow:" + key
	})

	start := time.Now()
	value, immediate := s.Lookup("k", nil)
	elapsed := time.Since(start)

	assert.False(t, immediate)
	assert.Equal(t, "", value)
	assert.Less(t, elapsed, 200*time.Millisecond)
	close(release)
}

func TestTTLExpiryTriggersRefetch(t *testing.T) {
	var calls int64
	s := newTestSource(t, Config{TTL: 10 * time.Millisecond}, &calls, func(key string) string {
		return "value:" + key
	})

	var wg sync.WaitGroup
	wg.Add(1)
	s.Lookup("a", func(string) { wg.Done() })
	wg.Wait()

	time.Sleep(30 * time.Millisecond)

	_, immediate := s.Lookup("a", nil)
	assert.False(t, immediate)

	assert.Eventually(t, func() bool { return atomic.LoadInt64(&calls) == 2 }, time.Second, time.Millisecond)
}

func TestStopIsIdempotentAndDrainsPendingWithFailureValue(t *testing.T) {
	release := make(chan struct{})
	fetch := func(key string) string {
		<-release
		return "value:" + key
	}
	s := NewSource[string, string](Config{}, fetch, nil)

	var got string
	var wg sync.WaitGroup
	wg.Add(1)
	s.Lookup("k", func(v string) {
		got = v
		wg.Done()
		// Stop joins the worker, which may already be blocked inside the
		// fetch for "k"; releasing it here lets that fetch finish.
		close(release)
	})

	s.Stop("unsuccessful")
	s.Stop("unsuccessful") // idempotent, must not panic or double-close

	wg.Wait()
	assert.Equal(t, "unsuccessful", got)
}

func TestWorkerPanicIsIsolatedPerKey(t *testing.T) {
	s := newTestSource(t, Config{}, nil, func(key string) string {
		if key == "boom" {
			panic("kaboom")
		}
		return "ok:" + key
	})

	var wg sync.WaitGroup
	var boomResult, okResult string
	wg.Add(2)
	s.Lookup("boom", func(v string) { boomResult = v; wg.Done() })
	s.Lookup("fine", func(v string) { okResult = v; wg.Done() })
	wg.Wait()

	assert.Equal(t, "", boomResult)
	assert.Equal(t, "ok:fine", okResult)
}
