package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Board/internal/docstore"
	"github.com/park285/Cheese-Board/internal/obslog"
)

const (
	defaultTable   = "documents"
	defaultChannel = "docstore_changes"
)

// Store keeps documents as jsonb rows and fans LISTEN/NOTIFY change events out to subscribers.
type Store struct {
	db      *sql.DB
	dsn     string
	table   string
	channel string
	logger  *zap.Logger

	mu       sync.Mutex
	listener *pq.Listener
	subs     map[string]map[int]*subscription
	nextID   int
	done     chan struct{}
}

type Option func(*Store)

func WithTable(name string) Option {
	return func(s *Store) {
		if strings.TrimSpace(name) != "" {
			s.table = strings.TrimSpace(name)
		}
	}
}

func WithChannel(name string) Option {
	return func(s *Store) {
		if strings.TrimSpace(name) != "" {
			s.channel = strings.TrimSpace(name)
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

func New(databaseURL string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{
		db:      db,
		dsn:     databaseURL,
		table:   defaultTable,
		channel: defaultChannel,
		logger:  obslog.L(),
		subs:    make(map[string]map[int]*subscription),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) tableIdent() string { return pq.QuoteIdentifier(s.table) }

// EnsureSchema creates the documents table if missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := `CREATE TABLE IF NOT EXISTS ` + s.tableIdent() + ` (
        key        text PRIMARY KEY,
        fields     jsonb NOT NULL DEFAULT '{}'::jsonb,
        updated_at timestamptz NOT NULL DEFAULT now()
    )`
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) UpsertMerge(ctx context.Context, key string, fields docstore.Fields) (err error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return docstore.ErrEmptyKey
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", docstore.ErrWriteFailed, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var now time.Time
	if err = tx.QueryRowContext(ctx, `SELECT now()`).Scan(&now); err != nil {
		return fmt.Errorf("%w: %v", docstore.ErrWriteFailed, err)
	}
	enc, err := docstore.EncodeFields(fields, now)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(enc)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}

	q := `INSERT INTO ` + s.tableIdent() + ` (key, fields, updated_at)
        VALUES ($1, $2::jsonb, $3)
        ON CONFLICT (key) DO UPDATE SET
          fields = ` + s.tableIdent() + `.fields || EXCLUDED.fields,
          updated_at = EXCLUDED.updated_at`
	if _, err = tx.ExecContext(ctx, q, key, string(raw), now); err != nil {
		return wrapPQ(err)
	}
	if _, err = tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, s.channel, key); err != nil {
		return wrapPQ(err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", docstore.ErrWriteFailed, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (docstore.Snapshot, error) {
	snap := docstore.Snapshot{Key: key, ReadAt: time.Now()}
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT fields FROM `+s.tableIdent()+` WHERE key = $1`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, nil
	}
	if err != nil {
		return snap, fmt.Errorf("read document %s: %w", key, err)
	}
	data, err := decodeFields(raw)
	if err != nil {
		return snap, err
	}
	snap.Exists = true
	snap.Data = data
	return snap, nil
}

func decodeFields(raw []byte) (map[string]string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out, nil
}

func (s *Store) Subscribe(ctx context.Context, key string, onSnapshot func(docstore.Snapshot), onError func(error)) (docstore.Subscription, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, docstore.ErrEmptyKey
	}
	if err := s.ensureListener(); err != nil {
		return nil, fmt.Errorf("%w: %v", docstore.ErrChannelError, err)
	}

	sub := &subscription{store: s, key: key, onSnapshot: onSnapshot, onError: onError}
	s.mu.Lock()
	s.nextID++
	sub.id = s.nextID
	if s.subs[key] == nil {
		s.subs[key] = make(map[int]*subscription)
	}
	s.subs[key][sub.id] = sub
	s.mu.Unlock()

	initial, err := s.Get(ctx, key)
	if err != nil {
		sub.Unsubscribe()
		return nil, fmt.Errorf("%w: %v", docstore.ErrChannelError, err)
	}
	sub.deliver(initial)
	return sub, nil
}

func (s *Store) ensureListener() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return nil
	}
	l := pq.NewListener(s.dsn, 500*time.Millisecond, 30*time.Second, s.onListenerEvent)
	if err := l.Listen(s.channel); err != nil {
		_ = l.Close()
		return err
	}
	s.listener = l
	s.done = make(chan struct{})
	go s.dispatch(l, s.done)
	return nil
}

func (s *Store) onListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventDisconnected:
		s.logger.Warn("docstore_pg_listener_disconnected", zap.Error(err))
		s.failAll(fmt.Errorf("%w: listener disconnected: %v", docstore.ErrChannelError, err))
	case pq.ListenerEventConnectionAttemptFailed:
		s.logger.Warn("docstore_pg_listener_connect_failed", zap.Error(err))
	case pq.ListenerEventReconnected:
		s.logger.Info("docstore_pg_listener_reconnected")
	}
}

func (s *Store) dispatch(l *pq.Listener, done chan struct{}) {
	defer close(done)
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case n, ok := <-l.Notify:
			if !ok {
				return
			}
			if n == nil {
				// reconnected: notifications may have been missed
				for _, key := range s.keys() {
					s.refresh(key)
				}
				continue
			}
			s.refresh(n.Extra)
		case <-ping.C:
			go func() { _ = l.Ping() }()
		}
	}
}

func (s *Store) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.subs))
	for k := range s.subs {
		out = append(out, k)
	}
	return out
}

func (s *Store) subsFor(key string) []*subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.subs[key]
	out := make([]*subscription, 0, len(set))
	for _, sub := range set {
		out = append(out, sub)
	}
	return out
}

func (s *Store) refresh(key string) {
	subs := s.subsFor(key)
	if len(subs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := s.Get(ctx, key)
	if err != nil {
		s.logger.Warn("docstore_pg_read_failed", zap.String("key", key), zap.Error(err))
		for _, sub := range subs {
			sub.fail(fmt.Errorf("%w: %v", docstore.ErrChannelError, err))
		}
		return
	}
	for _, sub := range subs {
		sub.deliver(snap)
	}
}

func (s *Store) failAll(err error) {
	s.mu.Lock()
	var all []*subscription
	for _, set := range s.subs {
		for _, sub := range set {
			all = append(all, sub)
		}
	}
	s.mu.Unlock()
	for _, sub := range all {
		sub.fail(err)
	}
}

func (s *Store) remove(key string, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set := s.subs[key]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(s.subs, key)
		}
	}
}

func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	l := s.listener
	done := s.done
	s.listener = nil
	s.mu.Unlock()
	if l != nil {
		_ = l.Close()
		<-done
	}
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

type subscription struct {
	store *Store
	key   string
	id    int

	mu     sync.Mutex
	closed bool

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
	s.store.remove(s.key, s.id)
	if cb != nil {
		cb(err)
	}
}

func (s *subscription) Unsubscribe() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.store.remove(s.key, s.id)
}

func wrapPQ(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "42P01":
			return fmt.Errorf("%w: table missing, run EnsureSchema: %v", docstore.ErrWriteFailed, pqErr)
		case "42501":
			return fmt.Errorf("%w: permission denied: %v", docstore.ErrWriteFailed, pqErr)
		}
	}
	return fmt.Errorf("%w: %v", docstore.ErrWriteFailed, err)
}

var _ docstore.Store = (*Store)(nil)
