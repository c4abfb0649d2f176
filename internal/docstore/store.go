package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	ErrClosed       = errors.New("document store closed")
	ErrEmptyKey     = errors.New("document key is empty")
	ErrUnsupported  = errors.New("unsupported field value")
	ErrWriteFailed  = errors.New("document write failed")
	ErrChannelError = errors.New("document subscription failed")
)

// ServerTimestamp is replaced by the store's own clock at write time.
type ServerTimestamp struct{}

// Fields is a partial document. Values must be string, time.Time or ServerTimestamp.
type Fields map[string]any

// Snapshot is one delivery of a document's state.
type Snapshot struct {
	Key    string
	Exists bool
	Data   map[string]string
	ReadAt time.Time
}

func (s Snapshot) Get(field string) (string, bool) {
	if !s.Exists || s.Data == nil {
		return "", false
	}
	v, ok := s.Data[field]
	return v, ok
}

// Subscription is the teardown handle of a live document channel.
type Subscription interface {
	// Unsubscribe stops delivery. It is idempotent and returns once no further callbacks will start.
	Unsubscribe()
}

// Store is a keyed document store with merge writes and change subscriptions.
type Store interface {
	// UpsertMerge creates the document or merges fields into it; absent fields are preserved.
	UpsertMerge(ctx context.Context, key string, fields Fields) error
	// Subscribe delivers the current state first and then one snapshot per change.
	Subscribe(ctx context.Context, key string, onSnapshot func(Snapshot), onError func(error)) (Subscription, error)
	Get(ctx context.Context, key string) (Snapshot, error)
	Close() error
}

// EncodeFields flattens fields to strings, stamping ServerTimestamp values with now.
func EncodeFields(fields Fields, now time.Time) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		if k == "" {
			return nil, fmt.Errorf("%w: empty field name", ErrUnsupported)
		}
		switch val := v.(type) {
		case string:
			out[k] = val
		case time.Time:
			out[k] = FormatTime(val)
		case ServerTimestamp, *ServerTimestamp:
			out[k] = FormatTime(now)
		default:
			return nil, fmt.Errorf("%w: %s=%T", ErrUnsupported, k, v)
		}
	}
	return out, nil
}

// ServerTimestampFields returns the sorted names of fields holding ServerTimestamp.
func ServerTimestampFields(fields Fields) []string {
	var names []string
	for k, v := range fields {
		switch v.(type) {
		case ServerTimestamp, *ServerTimestamp:
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

func FormatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func ParseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

// SubscriptionFunc adapts a func to Subscription.
type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() {
	if f != nil {
		f()
	}
}
