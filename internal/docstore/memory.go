package docstore

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Store. Snapshots are delivered synchronously on the writer's goroutine.
// Used for development without a backend and in tests.
type Memory struct {
	mu     sync.RWMutex
	docs   map[string]map[string]string
	subs   map[string]map[int]*memSub
	nextID int
	closed bool

	writeErr error
	writes   int
	now      func() time.Time
}

type memSub struct {
	mu         sync.Mutex
	closed     bool
	onSnapshot func(Snapshot)
	onError    func(error)
}

func NewMemory() *Memory {
	return &Memory{
		docs: make(map[string]map[string]string),
		subs: make(map[string]map[int]*memSub),
		now:  time.Now,
	}
}

// SetClock overrides the server clock.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// FailWrites makes subsequent writes return err. A nil err restores normal behaviour.
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

// Writes returns the number of UpsertMerge calls attempted so far.
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Subscribers returns the number of live subscriptions on key.
func (m *Memory) Subscribers(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[key])
}

// TotalSubscribers returns the number of live subscriptions across all keys.
func (m *Memory) TotalSubscribers() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.subs {
		n += len(s)
	}
	return n
}

// BreakSubscriptions fails every live subscription on key with err and drops them.
func (m *Memory) BreakSubscriptions(key string, err error) {
	m.mu.Lock()
	subs := m.subs[key]
	delete(m.subs, key)
	m.mu.Unlock()
	for _, s := range subs {
		s.fail(err)
	}
}

func (m *Memory) UpsertMerge(ctx context.Context, key string, fields Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmptyKey
	}

	m.mu.Lock()
	m.writes++
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.writeErr != nil {
		err := m.writeErr
		m.mu.Unlock()
		return err
	}
	enc, err := EncodeFields(fields, m.now())
	if err != nil {
		m.mu.Unlock()
		return err
	}
	doc, ok := m.docs[key]
	if !ok {
		doc = make(map[string]string, len(enc))
		m.docs[key] = doc
	}
	for k, v := range enc {
		doc[k] = v
	}
	snap := m.snapshotLocked(key)
	subs := m.subsLocked(key)
	m.mu.Unlock()

	for _, s := range subs {
		s.deliver(snap)
	}
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Snapshot{}, ErrClosed
	}
	return m.snapshotLocked(key), nil
}

func (m *Memory) Subscribe(ctx context.Context, key string, onSnapshot func(Snapshot), onError func(error)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrEmptyKey
	}
	sub := &memSub{onSnapshot: onSnapshot, onError: onError}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.nextID++
	id := m.nextID
	if m.subs[key] == nil {
		m.subs[key] = make(map[int]*memSub)
	}
	m.subs[key][id] = sub
	snap := m.snapshotLocked(key)
	m.mu.Unlock()

	sub.deliver(snap)

	return SubscriptionFunc(func() {
		sub.close()
		m.mu.Lock()
		if set := m.subs[key]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(m.subs, key)
			}
		}
		m.mu.Unlock()
	}), nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	all := m.subs
	m.subs = make(map[string]map[int]*memSub)
	m.mu.Unlock()
	for _, set := range all {
		for _, s := range set {
			s.close()
		}
	}
	return nil
}

func (m *Memory) snapshotLocked(key string) Snapshot {
	snap := Snapshot{Key: key, ReadAt: m.now()}
	doc, ok := m.docs[key]
	if !ok {
		return snap
	}
	snap.Exists = true
	snap.Data = make(map[string]string, len(doc))
	for k, v := range doc {
		snap.Data[k] = v
	}
	return snap
}

func (m *Memory) subsLocked(key string) []*memSub {
	set := m.subs[key]
	out := make([]*memSub, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}

func (s *memSub) deliver(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.onSnapshot == nil {
		return
	}
	s.onSnapshot(snap)
}

func (s *memSub) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.onError != nil {
		s.onError(err)
	}
}

func (s *memSub) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
