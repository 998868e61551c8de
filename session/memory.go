package session

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sdragent/chatmodel"
	"github.com/effective-security/sdragent/pkg/metricskey"
	"github.com/effective-security/xlog"
)

// Option configures the Memory store
type Option func(*Memory)

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(m *Memory) {
		m.now = now
	}
}

// Memory is an in-process Store
type Memory struct {
	lock     sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		sessions: map[string]*Session{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Create(_ context.Context, history ...Turn) (string, error) {
	now := m.now()
	s := &Session{
		ID:           chatmodel.NewID(),
		History:      slices.Clone(history),
		CreatedAt:    now,
		LastActivity: now,
	}

	m.lock.Lock()
	m.sessions[s.ID] = s
	m.lock.Unlock()
	return s.ID, nil
}

func (m *Memory) Get(_ context.Context, id string) (*Session, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, errors.WithMessagef(ErrNotFound, "%s", id)
	}
	return s.Clone(), nil
}

func (m *Memory) Fork(ctx context.Context, id string) (string, error) {
	src, err := m.Get(ctx, id)
	if err != nil {
		return "", err
	}
	forkID, err := m.Create(ctx, src.History...)
	if err != nil {
		return "", err
	}
	logger.ContextKV(ctx, xlog.DEBUG, "forked", id, "session", forkID, "turns", len(src.History))
	return forkID, nil
}

func (m *Memory) Append(_ context.Context, id string, turns ...Turn) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return errors.WithMessagef(ErrNotFound, "%s", id)
	}
	s.History = append(s.History, turns...)
	s.LastActivity = m.now()
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return errors.WithMessagef(ErrNotFound, "%s", id)
	}
	delete(m.sessions, id)
	return nil
}

func (m *Memory) Evict(ctx context.Context, idleFor time.Duration) (int, error) {
	cutoff := m.now().Add(-idleFor)

	m.lock.Lock()
	count := 0
	for id, s := range m.sessions {
		if s.LastActivity.Before(cutoff) {
			delete(m.sessions, id)
			count++
		}
	}
	m.lock.Unlock()

	if count > 0 {
		metricskey.StatsSessionsEvicted.IncrCounter(float64(count), "memory")
		logger.ContextKV(ctx, xlog.INFO, "evicted", count, "idle", idleFor.String())
	}
	return count, nil
}

func (m *Memory) List(_ context.Context) ([]*Info, error) {
	m.lock.RLock()
	list := make([]*Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, &Info{
			ID:           s.ID,
			Turns:        len(s.History),
			CreatedAt:    s.CreatedAt,
			LastActivity: s.LastActivity,
		})
	}
	m.lock.RUnlock()

	slices.SortFunc(list, func(a, b *Info) int {
		return strings.Compare(a.ID, b.ID)
	})
	return list, nil
}
