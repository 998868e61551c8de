package session

import (
	"context"
	"sync"
	"time"

	"github.com/effective-security/xlog"
)

const (
	// DefaultIdleTimeout is the inactivity after which a session is evicted
	DefaultIdleTimeout = 24 * time.Hour
	// DefaultEvictInterval is the period of the eviction loop
	DefaultEvictInterval = 10 * time.Minute
)

// Janitor periodically evicts idle sessions
type Janitor struct {
	store    Store
	idle     time.Duration
	interval time.Duration

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewJanitor returns a Janitor, non-positive durations use the defaults
func NewJanitor(store Store, idle, interval time.Duration) *Janitor {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	if interval <= 0 {
		interval = DefaultEvictInterval
	}
	return &Janitor{
		store:    store,
		idle:     idle,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the eviction loop until Close is called
func (j *Janitor) Start() {
	j.startOnce.Do(func() {
		go j.loop()
	})
}

// Close stops the eviction loop
func (j *Janitor) Close() error {
	j.closeOnce.Do(func() {
		close(j.stop)
		started := true
		j.startOnce.Do(func() { started = false })
		if started {
			<-j.done
		}
	})
	return nil
}

func (j *Janitor) loop() {
	defer close(j.done)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), j.interval)
			if _, err := j.store.Evict(ctx, j.idle); err != nil {
				logger.KV(xlog.ERROR, "reason", "evict", "err", err.Error())
			}
			cancel()
		}
	}
}
