package cache

import (
	"context"
	"regexp"
	"slices"
	"sync"
	"time"

	"github.com/effective-security/sdragent/pkg/metricskey"
	"github.com/effective-security/xlog"
)

// Option configures the memory cache
type Option func(*Memory)

// WithClock sets the time source, used by tests to simulate elapsed time.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) {
		m.now = now
	}
}

// WithSweepInterval sets the period of the background sweep.
func WithSweepInterval(d time.Duration) Option {
	return func(m *Memory) {
		if d > 0 {
			m.sweepInterval = d
		}
	}
}

// WithDefaultTTL sets the TTL used when Set is called without one.
func WithDefaultTTL(d time.Duration) Option {
	return func(m *Memory) {
		if d > 0 {
			m.defaultTTL = d
		}
	}
}

// Memory is an in-process Cache.
// Lookups evict expired entries under the same lock,
// the background sweep only reclaims memory of keys that are never read again.
type Memory struct {
	lock    sync.Mutex
	entries map[string]*Entry

	now           func() time.Time
	sweepInterval time.Duration
	defaultTTL    time.Duration

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

var _ Cache = (*Memory)(nil)

// NewMemory returns a new in-memory cache.
// Call Start to run the background sweep.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		entries:       make(map[string]*Entry),
		now:           time.Now,
		sweepInterval: DefaultSweepInterval,
		defaultTTL:    DefaultTTL,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start runs the background sweep until Close is called.
func (m *Memory) Start() {
	m.startOnce.Do(func() {
		go m.sweepLoop()
	})
}

// Close stops the background sweep.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() {
		close(m.stop)
		started := true
		m.startOnce.Do(func() { started = false })
		if started {
			<-m.done
		}
	})
	return nil
}

func (m *Memory) sweepLoop() {
	defer close(m.done)

	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				logger.KV(xlog.DEBUG, "status", "swept", "count", n)
			}
		}
	}
}

// Sweep removes all expired entries and returns the number removed.
func (m *Memory) Sweep() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.sweepLocked(m.now())
}

func (m *Memory) sweepLocked(now time.Time) int {
	count := 0
	for k, e := range m.entries {
		if e.Expired(now) {
			delete(m.entries, k)
			count++
		}
	}
	if count > 0 {
		metricskey.StatsCacheEvicted.IncrCounter(float64(count), "sweep")
	}
	return count
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (m *Memory) Len() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.entries)
}

func (m *Memory) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	m.entries[key] = &Entry{
		Key:       key,
		Value:     value,
		CreatedAt: m.now(),
		TTL:       ttl,
	}
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (any, bool) {
	m.lock.Lock()
	defer m.lock.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	if e.Expired(m.now()) {
		delete(m.entries, key)
		metricskey.StatsCacheEvicted.IncrCounter(1, "read")
		return nil, false
	}
	return e.Value, true
}

func (m *Memory) Invalidate(_ context.Context, key string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *Memory) InvalidatePattern(_ context.Context, pattern *regexp.Regexp) (int, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	count := 0
	for k := range m.entries {
		if pattern.MatchString(k) {
			delete(m.entries, k)
			count++
		}
	}
	return count, nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	clear(m.entries)
	return nil
}

func (m *Memory) Stats(_ context.Context) (*Stats, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.sweepLocked(m.now())

	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	return &Stats{
		Size: len(keys),
		Keys: keys,
	}, nil
}
