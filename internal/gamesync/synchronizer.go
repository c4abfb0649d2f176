package gamesync

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Board/internal/docstore"
	"github.com/park285/Cheese-Board/internal/domain"
	"github.com/park285/Cheese-Board/internal/metrics"
	"github.com/park285/Cheese-Board/internal/obslog"
	"github.com/park285/Cheese-Board/internal/position"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultEchoWindow   = 32
)

type Options struct {
	Slot         string
	Sink         Sink
	WriteTimeout time.Duration
	// EchoWindow bounds how many own writes are remembered for echo matching.
	EchoWindow int
	Logger     *zap.Logger
	Metrics    metrics.Recorder
}

type pendingWrite struct {
	key string
	pos position.FEN
}

// Synchronizer bridges one session's position and the remote Game Record.
// It holds at most one live subscription; events from torn-down subscriptions are marked Stale.
type Synchronizer struct {
	store   docstore.Store
	opts    Options
	logger  *zap.Logger
	metrics metrics.Recorder
	w       *writer

	mu      sync.Mutex
	state   State
	gen     uint64
	key     string
	sub     docstore.Subscription
	pending []pendingWrite
}

func New(store docstore.Store, opts Options) (*Synchronizer, error) {
	if store == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if strings.TrimSpace(opts.Slot) == "" {
		opts.Slot = DefaultSlot
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.EchoWindow <= 0 {
		opts.EchoWindow = defaultEchoWindow
	}
	logger := opts.Logger
	if logger == nil {
		logger = obslog.L()
	}
	rec := opts.Metrics
	if rec == nil {
		rec = metrics.Nop{}
	}
	s := &Synchronizer{
		store:   store,
		opts:    opts,
		logger:  logger,
		metrics: rec,
		w:       newWriter(),
	}
	go s.w.run(s)
	return s, nil
}

// SetSink replaces the event sink. Sessions call it once before subscribing.
func (s *Synchronizer) SetSink(sink Sink) {
	s.mu.Lock()
	s.opts.Sink = sink
	s.mu.Unlock()
}

func (s *Synchronizer) emit(ev Event) {
	s.mu.Lock()
	sink := s.opts.Sink
	s.mu.Unlock()
	if sink != nil {
		sink(ev)
	}
}

func (s *Synchronizer) Slot() string { return s.opts.Slot }

func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Key returns the key of the current subscription, or "" when inactive.
func (s *Synchronizer) Key() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

// Publish queues a merge-upsert of the actor's Game Record and returns without waiting.
// Write failures come back as PublishFailed events.
func (s *Synchronizer) Publish(pos position.FEN, actor *domain.Actor) error {
	if actor == nil || strings.TrimSpace(actor.UID) == "" {
		s.metrics.Publish("unauthenticated", 0)
		return ErrNotAuthenticated
	}
	key := SlotKey(s.opts.Slot, actor.UID)
	s.rememberPending(key, pos)
	s.w.enqueue(writeJob{
		key: key,
		pos: pos,
		fields: docstore.Fields{
			domain.FieldPosition:    pos.String(),
			domain.FieldLastUpdated: docstore.ServerTimestamp{},
			domain.FieldOwner:       actor.UID,
		},
	})
	return nil
}

// Flush waits until every queued write has been attempted.
func (s *Synchronizer) Flush(ctx context.Context) error {
	select {
	case <-s.w.idleCh():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Idle reports whether no write is queued or in flight.
func (s *Synchronizer) Idle() bool {
	select {
	case <-s.w.idleCh():
		return true
	default:
		return false
	}
}

// Subscribe tears down any live subscription and opens one for the actor's slot.
// Snapshots and channel errors arrive on the sink tagged with the new generation.
func (s *Synchronizer) Subscribe(ctx context.Context, actor *domain.Actor) error {
	if actor == nil || strings.TrimSpace(actor.UID) == "" {
		s.logger.Info("sync_subscribe_skipped", zap.String("reason", "no actor"))
		return ErrNotAuthenticated
	}
	s.Unsubscribe()

	key := SlotKey(s.opts.Slot, actor.UID)
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.state = Subscribing
	s.key = key
	s.mu.Unlock()

	sub, err := s.store.Subscribe(ctx, key,
		func(snap docstore.Snapshot) {
			s.emit(SnapshotEvent{Generation: gen, Key: key, Snapshot: snap})
		},
		func(err error) {
			s.emit(SubscriptionFailed{Generation: gen, Key: key, Err: err})
		},
	)
	if err != nil {
		s.mu.Lock()
		if s.gen == gen {
			s.gen++
			s.state = Inactive
			s.key = ""
		}
		s.mu.Unlock()
		s.metrics.SubscriptionFailed()
		s.logger.Warn("sync_subscribe_failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("subscribe %s: %w", key, err)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	s.sub = sub
	s.state = Live
	s.mu.Unlock()

	s.metrics.SubscriptionOpened()
	s.logger.Info("sync_subscribed", zap.String("key", key), zap.Uint64("generation", gen))
	return nil
}

// Unsubscribe releases the live subscription, if any. Safe to call repeatedly.
func (s *Synchronizer) Unsubscribe() {
	s.mu.Lock()
	sub := s.sub
	key := s.key
	if s.state != Inactive {
		s.gen++
	}
	s.sub = nil
	s.state = Inactive
	s.key = ""
	s.mu.Unlock()

	if sub == nil {
		return
	}
	sub.Unsubscribe()
	s.metrics.SubscriptionClosed()
	s.logger.Info("sync_unsubscribed", zap.String("key", key))
}

// Classify decides what a delivered snapshot means for the local position.
// For External the canonical remote position is returned.
func (s *Synchronizer) Classify(ev SnapshotEvent, local position.FEN) (Decision, position.FEN) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, remote := s.classifyLocked(ev, local)
	s.metrics.Snapshot(d.String())
	return d, remote
}

func (s *Synchronizer) classifyLocked(ev SnapshotEvent, local position.FEN) (Decision, position.FEN) {
	if ev.Generation != s.gen || ev.Key != s.key || (s.state != Live && s.state != Subscribing) {
		return Stale, ""
	}
	if !ev.Snapshot.Exists {
		return FirstRun, ""
	}
	raw, ok := ev.Snapshot.Get(domain.FieldPosition)
	if !ok || strings.TrimSpace(raw) == "" {
		return Ignore, ""
	}
	remote, err := position.Parse(raw)
	if err != nil {
		s.logger.Warn("sync_snapshot_invalid_position", zap.String("key", ev.Key), zap.String("position", raw), zap.Error(err))
		return Ignore, ""
	}
	if position.Equal(remote, local) {
		s.ackPendingLocked(ev.Key, remote)
		return Echo, remote
	}
	if s.ackPendingLocked(ev.Key, remote) {
		return Echo, remote
	}
	s.clearPendingLocked(ev.Key)
	return External, remote
}

// Fail applies a channel error. It reports false when the event belongs to a torn-down subscription.
func (s *Synchronizer) Fail(ev SubscriptionFailed) bool {
	s.mu.Lock()
	if ev.Generation != s.gen || ev.Key != s.key {
		s.mu.Unlock()
		return false
	}
	s.state = Failed
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
		s.metrics.SubscriptionClosed()
	}
	s.metrics.SubscriptionFailed()
	s.logger.Warn("sync_subscription_failed", zap.String("key", ev.Key), zap.Error(ev.Err))

	s.mu.Lock()
	if s.state == Failed && s.gen == ev.Generation {
		s.gen++
		s.state = Inactive
		s.key = ""
	}
	s.mu.Unlock()
	return true
}

// Close tears down the subscription and stops the writer. Queued writes not yet started are dropped.
func (s *Synchronizer) Close() error {
	s.Unsubscribe()
	s.w.close()
	return nil
}

func (s *Synchronizer) rememberPending(key string, pos position.FEN) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, pendingWrite{key: key, pos: pos})
	if over := len(s.pending) - s.opts.EchoWindow; over > 0 {
		s.pending = append([]pendingWrite(nil), s.pending[over:]...)
	}
}

func (s *Synchronizer) forgetPending(key string, pos position.FEN) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.pending) - 1; i >= 0; i-- {
		if s.pending[i].key == key && s.pending[i].pos == pos {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

// ackPendingLocked drops the newest own write matching pos and every older write to the same key.
func (s *Synchronizer) ackPendingLocked(key string, pos position.FEN) bool {
	idx := -1
	for i := len(s.pending) - 1; i >= 0; i-- {
		if s.pending[i].key == key && s.pending[i].pos == pos {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	kept := s.pending[:0:0]
	for i, p := range s.pending {
		if p.key == key && i <= idx {
			continue
		}
		kept = append(kept, p)
	}
	s.pending = kept
	return true
}

func (s *Synchronizer) clearPendingLocked(key string) {
	kept := s.pending[:0:0]
	for _, p := range s.pending {
		if p.key != key {
			kept = append(kept, p)
		}
	}
	s.pending = kept
}

// PendingWrites returns how many own writes are awaiting their echo.
func (s *Synchronizer) PendingWrites() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
