package gamesync

import (
	"errors"
	"fmt"
	"strings"

	"github.com/park285/Cheese-Board/internal/docstore"
	"github.com/park285/Cheese-Board/internal/domain"
	"github.com/park285/Cheese-Board/internal/position"
)

// DefaultSlot is the fixed logical game name every actor's record is keyed under.
const DefaultSlot = "default-single-player-game"

var ErrNotAuthenticated = errors.New("not authenticated")

// SlotKey returns the Session Slot key for an actor.
func SlotKey(slot, uid string) string {
	return strings.TrimSpace(slot) + "-" + strings.TrimSpace(uid)
}

type State int

const (
	Inactive State = iota
	Subscribing
	Live
	Failed
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Subscribing:
		return "subscribing"
	case Live:
		return "live"
	case Failed:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Event is delivered to the Sink from store goroutines and the writer goroutine.
type Event interface{ syncEvent() }

// SnapshotEvent carries one Game Record delivery tagged with the subscription generation.
type SnapshotEvent struct {
	Generation uint64
	Key        string
	Snapshot   docstore.Snapshot
}

// SubscriptionFailed reports a channel error on a live subscription.
type SubscriptionFailed struct {
	Generation uint64
	Key        string
	Err        error
}

// PublishFailed reports a write that did not reach the store. Local state is left as is.
type PublishFailed struct {
	Key      string
	Position position.FEN
	Err      error
}

func (SnapshotEvent) syncEvent()      {}
func (SubscriptionFailed) syncEvent() {}
func (PublishFailed) syncEvent()      {}

type Sink func(Event)

// Decision is how a delivered snapshot relates to the local position.
type Decision int

const (
	// Stale: the subscription that produced it has been torn down.
	Stale Decision = iota
	// FirstRun: the record does not exist yet and must be seeded.
	FirstRun
	// Ignore: the record exists but holds no usable position.
	Ignore
	// Echo: the position is the local one or one of our own writes in flight.
	Echo
	// External: a genuine remote change.
	External
)

func (d Decision) String() string {
	switch d {
	case Stale:
		return "stale"
	case FirstRun:
		return "first_run"
	case Ignore:
		return "ignore"
	case Echo:
		return "echo"
	case External:
		return "external"
	default:
		return "unknown"
	}
}

// RecordFromSnapshot decodes the Game Record fields of a snapshot.
func RecordFromSnapshot(snap docstore.Snapshot) (domain.GameRecord, bool) {
	rec := domain.GameRecord{Key: snap.Key}
	if !snap.Exists {
		return rec, false
	}
	rec.Position, _ = snap.Get(domain.FieldPosition)
	rec.Owner, _ = snap.Get(domain.FieldOwner)
	if ts, ok := snap.Get(domain.FieldLastUpdated); ok {
		if t, err := docstore.ParseTime(ts); err == nil {
			rec.LastUpdated = t
		}
	}
	return rec, true
}
