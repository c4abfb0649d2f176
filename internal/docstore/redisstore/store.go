package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Board/internal/docstore"
	"github.com/park285/Cheese-Board/internal/obslog"
)

// Store keeps each document in a hash and announces changes on a per-document channel.
type Store struct {
	rdb    *redis.Client
	prefix string
	logger *zap.Logger
}

type Option func(*Store)

func WithPrefix(p string) Option {
	return func(s *Store) {
		if strings.TrimSpace(p) != "" {
			s.prefix = strings.TrimSpace(p)
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(redisURL string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for redis document store")
	}
	// rediss:// gets a TLS config from ParseURL.
	ropts, err := redis.ParseURL(strings.TrimSpace(redisURL))
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	s := NewWithClient(redis.NewClient(ropts), opts...)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return s, nil
}

func NewWithClient(rdb *redis.Client, opts ...Option) *Store {
	s := &Store{rdb: rdb, prefix: "doc", logger: obslog.L()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func (s *Store) keyDoc(key string) string     { return s.prefix + ":" + strings.TrimSpace(key) }
func (s *Store) keyChanges(key string) string { return s.keyDoc(key) + ":changes" }

func (s *Store) UpsertMerge(ctx context.Context, key string, fields docstore.Fields) error {
	if strings.TrimSpace(key) == "" {
		return docstore.ErrEmptyKey
	}
	now := time.Now()
	if len(docstore.ServerTimestampFields(fields)) > 0 {
		t, err := s.rdb.Time(ctx).Result()
		if err != nil {
			return fmt.Errorf("redis time: %w", err)
		}
		now = t
	}
	enc, err := docstore.EncodeFields(fields, now)
	if err != nil {
		return err
	}
	if len(enc) == 0 {
		return nil
	}
	values := make(map[string]any, len(enc))
	for k, v := range enc {
		values[k] = v
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.keyDoc(key), values)
		p.Publish(ctx, s.keyChanges(key), docstore.FormatTime(now))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", docstore.ErrWriteFailed, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (docstore.Snapshot, error) {
	data, err := s.rdb.HGetAll(ctx, s.keyDoc(key)).Result()
	if err != nil {
		return docstore.Snapshot{}, err
	}
	snap := docstore.Snapshot{Key: key, ReadAt: time.Now()}
	if len(data) > 0 {
		snap.Exists = true
		snap.Data = data
	}
	return snap, nil
}

// Subscribe confirms the channel subscription before reading the initial state, so no change
// between the read and the first notification is lost.
func (s *Store) Subscribe(ctx context.Context, key string, onSnapshot func(docstore.Snapshot), onError func(error)) (docstore.Subscription, error) {
	if strings.TrimSpace(key) == "" {
		return nil, docstore.ErrEmptyKey
	}
	ps := s.rdb.Subscribe(ctx, s.keyChanges(key))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: %v", docstore.ErrChannelError, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		cancel:     cancel,
		ps:         ps,
		done:       make(chan struct{}),
		onSnapshot: onSnapshot,
		onError:    onError,
	}

	initial, err := s.Get(ctx, key)
	if err != nil {
		cancel()
		_ = ps.Close()
		return nil, fmt.Errorf("%w: %v", docstore.ErrChannelError, err)
	}
	sub.deliver(initial)

	go s.run(runCtx, key, sub)
	return sub, nil
}

func (s *Store) run(ctx context.Context, key string, sub *subscription) {
	defer close(sub.done)
	ch := sub.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				if ctx.Err() == nil {
					sub.fail(fmt.Errorf("%w: channel closed", docstore.ErrChannelError))
				}
				return
			}
			snap, err := s.Get(ctx, key)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("docstore_redis_read_failed", zap.String("key", key), zap.Error(err))
				sub.fail(fmt.Errorf("%w: %v", docstore.ErrChannelError, err))
				return
			}
			sub.deliver(snap)
		}
	}
}

type subscription struct {
	mu     sync.Mutex
	closed bool
	once   sync.Once

	cancel context.CancelFunc
	ps     *redis.PubSub
	done   chan struct{}

	onSnapshot func(docstore.Snapshot)
	onError    func(error)
}

func (s *subscription) deliver(snap docstore.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.onSnapshot == nil {
		return
	}
	s.onSnapshot(snap)
}

func (s *subscription) fail(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cb := s.onError
	s.mu.Unlock()
	if cb != nil {
		cb(err)
	}
	s.cancel()
	_ = s.ps.Close()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cancel()
		_ = s.ps.Close()
		<-s.done
	})
}

var _ docstore.Store = (*Store)(nil)

var errNilClient = errors.New("redis client is nil")

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.rdb == nil {
		return errNilClient
	}
	return s.rdb.Ping(ctx).Err()
}
