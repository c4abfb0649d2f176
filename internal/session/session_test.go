package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/park285/Cheese-Board/internal/docstore"
	"github.com/park285/Cheese-Board/internal/domain"
	"github.com/park285/Cheese-Board/internal/gamesync"
	"github.com/park285/Cheese-Board/internal/position"
	"github.com/park285/Cheese-Board/internal/rules"
)

type recordingView struct {
	mu       sync.Mutex
	renders  []position.FEN
	statuses []string
	notices  []domain.Notice
}

func (v *recordingView) Render(pos position.FEN) {
	v.mu.Lock()
	v.renders = append(v.renders, pos)
	v.mu.Unlock()
}

func (v *recordingView) ShowStatus(_ rules.Status, text string) {
	v.mu.Lock()
	v.statuses = append(v.statuses, text)
	v.mu.Unlock()
}

func (v *recordingView) Notify(n domain.Notice) {
	v.mu.Lock()
	v.notices = append(v.notices, n)
	v.mu.Unlock()
}

func (v *recordingView) renderCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.renders)
}

func (v *recordingView) lastRender() position.FEN {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.renders) == 0 {
		return ""
	}
	return v.renders[len(v.renders)-1]
}

func (v *recordingView) hasNotice(level domain.NoticeLevel, text string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, n := range v.notices {
		if n.Level == level && n.Text == text {
			return true
		}
	}
	return false
}

func (v *recordingView) countNotice(text string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	c := 0
	for _, n := range v.notices {
		if n.Text == text {
			c++
		}
	}
	return c
}

func (v *recordingView) lastStatus() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.statuses) == 0 {
		return ""
	}
	return v.statuses[len(v.statuses)-1]
}

var alice = &domain.Actor{UID: "u1", Email: "alice@example.com"}

func newTestSession(t *testing.T, store *docstore.Memory) (*Session, *recordingView) {
	t.Helper()
	view := &recordingView{}
	s, err := New(Config{Store: store, View: view, WriteTimeout: time.Second})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, view
}

func settle(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Settle(ctx); err != nil {
		t.Fatalf("Settle: %v", err)
	}
}

func aliceKey() string { return gamesync.SlotKey(gamesync.DefaultSlot, alice.UID) }

func storedPosition(t *testing.T, store *docstore.Memory, key string) string {
	t.Helper()
	snap, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return snap.Data[domain.FieldPosition]
}

func TestAttemptMove_UnauthenticatedTouchesNothing(t *testing.T) {
	store := docstore.NewMemory()
	s, view := newTestSession(t, store)
	if err := s.EnterPlay(); err != nil {
		t.Fatalf("EnterPlay: %v", err)
	}

	res := s.AttemptMove("e2", "e4")
	settle(t, s)
	if res.Accepted || res.Reason != RejectUnauthenticated {
		t.Fatalf("unexpected result %+v", res)
	}
	if s.Position() != position.Start {
		t.Fatalf("position changed without an actor: %s", s.Position())
	}
	if store.Writes() != 0 || store.TotalSubscribers() != 0 {
		t.Fatalf("store touched: writes=%d subs=%d", store.Writes(), store.TotalSubscribers())
	}
	if !view.hasNotice(domain.NoticeError, "Please log in to play.") {
		t.Fatalf("missing login notice: %+v", view.notices)
	}
}

func TestEnterPlay_SignedOutPromptsLogin(t *testing.T) {
	store := docstore.NewMemory()
	s, view := newTestSession(t, store)
	if err := s.EnterPlay(); err != nil {
		t.Fatalf("EnterPlay: %v", err)
	}
	settle(t, s)
	if !view.hasNotice(domain.NoticeError, "Please log in to play chess.") {
		t.Fatalf("no login prompt when entering play signed out: %+v", view.notices)
	}
	if view.lastRender() != position.Start {
		t.Fatalf("board not rendered: %q", view.lastRender())
	}
	if store.TotalSubscribers() != 0 || s.SyncState() != gamesync.Inactive {
		t.Fatalf("signed-out play subscribed")
	}

	_ = s.SetActor(alice)
	settle(t, s)
	if view.countNotice("Please log in to play chess.") != 1 {
		t.Fatalf("login prompt repeated after sign-in")
	}
	if store.Subscribers(aliceKey()) != 1 {
		t.Fatalf("sign-in while in play did not subscribe")
	}
}

func TestAttemptMove_IllegalIsRejected(t *testing.T) {
	store := docstore.NewMemory()
	s, view := newTestSession(t, store)
	_ = s.SetActor(alice)
	_ = s.EnterPlay()
	settle(t, s)
	before := store.Writes()

	res := s.AttemptMove("e2", "e5")
	settle(t, s)
	if res.Accepted || res.Reason != RejectIllegal {
		t.Fatalf("unexpected result %+v", res)
	}
	if store.Writes() != before {
		t.Fatalf("illegal move wrote to the store")
	}
	if !view.hasNotice(domain.NoticeError, "Illegal move!") {
		t.Fatalf("missing illegal move notice")
	}
}

func TestEnterPlay_FirstRunSeedsRecord(t *testing.T) {
	store := docstore.NewMemory()
	s, view := newTestSession(t, store)
	_ = s.SetActor(alice)
	_ = s.EnterPlay()
	settle(t, s)

	if got := storedPosition(t, store, aliceKey()); got != string(position.Start) {
		t.Fatalf("record not seeded, got %q", got)
	}
	if !view.hasNotice(domain.NoticeSuccess, "New game started!") {
		t.Fatalf("missing new game notice")
	}
	if s.SyncState() != gamesync.Live {
		t.Fatalf("sync state=%v", s.SyncState())
	}
}

func TestAttemptMove_EchoDoesNotRerender(t *testing.T) {
	store := docstore.NewMemory()
	s, view := newTestSession(t, store)
	_ = s.SetActor(alice)
	_ = s.EnterPlay()
	settle(t, s)
	writes := store.Writes()
	renders := view.renderCount()

	res := s.AttemptMove("e2", "e4")
	settle(t, s)
	if !res.Accepted {
		t.Fatalf("e2e4 rejected: %+v", res)
	}
	if store.Writes() != writes+1 {
		t.Fatalf("expected exactly one write, got %d", store.Writes()-writes)
	}
	if view.renderCount() != renders+1 {
		t.Fatalf("echo caused an extra render: %d", view.renderCount()-renders)
	}
	if view.countNotice("Game state updated!") != 0 {
		t.Fatalf("own write treated as external")
	}
	if got := storedPosition(t, store, aliceKey()); got != string(res.Position) {
		t.Fatalf("stored %q, local %q", got, res.Position)
	}
	if !strings.HasPrefix(view.lastStatus(), "Black to move") {
		t.Fatalf("status=%q", view.lastStatus())
	}
}

func TestExternalUpdate_AppliedOnce(t *testing.T) {
	store := docstore.NewMemory()
	s, view := newTestSession(t, store)
	_ = s.SetActor(alice)
	_ = s.EnterPlay()
	settle(t, s)
	writes := store.Writes()

	remote := position.MustParse("rnbqkbnr/pppp1ppp/8/4p3/4P3/8/PPPP1PPP/RNBQKBNR w KQkq - 0 2")
	if err := store.UpsertMerge(context.Background(), aliceKey(), docstore.Fields{domain.FieldPosition: string(remote)}); err != nil {
		t.Fatalf("UpsertMerge: %v", err)
	}
	settle(t, s)

	if s.Position() != remote {
		t.Fatalf("remote position not applied: %s", s.Position())
	}
	if view.lastRender() != remote {
		t.Fatalf("board not re-rendered with remote position")
	}
	if view.countNotice("Game state updated!") != 1 {
		t.Fatalf("expected one update notice, got %d", view.countNotice("Game state updated!"))
	}
	if store.Writes() != writes+1 {
		t.Fatalf("remote update was echoed back to the store")
	}
}

func TestUndo(t *testing.T) {
	store := docstore.NewMemory()
	s, view := newTestSession(t, store)
	_ = s.SetActor(alice)
	_ = s.EnterPlay()
	settle(t, s)

	if err := s.Undo(); !errors.Is(err, ErrNothingToUndo) {
		t.Fatalf("expected ErrNothingToUndo, got %v", err)
	}
	if !view.hasNotice(domain.NoticeInfo, "No more moves to undo.") {
		t.Fatalf("missing undo_empty notice")
	}

	s.AttemptMove("e2", "e4")
	settle(t, s)
	if err := s.Undo(); err != nil {
		t.Fatalf("Undo: %v", err)
	}
	settle(t, s)
	if s.Position() != position.Start {
		t.Fatalf("undo did not restore start: %s", s.Position())
	}
	if got := storedPosition(t, store, aliceKey()); got != string(position.Start) {
		t.Fatalf("undo not published, stored %q", got)
	}
	if !view.hasNotice(domain.NoticeSuccess, "Last move undone.") {
		t.Fatalf("missing undo notice")
	}
}

func TestNewGame_ResetsAndPublishes(t *testing.T) {
	store := docstore.NewMemory()
	s, view := newTestSession(t, store)
	_ = s.SetActor(alice)
	_ = s.EnterPlay()
	settle(t, s)
	if res := s.AttemptMove("e2", "e4"); !res.Accepted {
		t.Fatalf("e2e4 rejected: %+v", res)
	}
	settle(t, s)
	writes := store.Writes()
	renders := view.renderCount()
	started := view.countNotice("New game started!")

	if err := s.NewGame(); err != nil {
		t.Fatalf("NewGame: %v", err)
	}
	settle(t, s)
	if s.Position() != position.Start || view.lastRender() != position.Start {
		t.Fatalf("new game did not reset the board: %s", s.Position())
	}
	if view.renderCount() != renders+1 {
		t.Fatalf("expected one render, got %d", view.renderCount()-renders)
	}
	if store.Writes() != writes+1 {
		t.Fatalf("expected exactly one write, got %d", store.Writes()-writes)
	}
	if got := storedPosition(t, store, aliceKey()); got != string(position.Start) {
		t.Fatalf("stored %q", got)
	}
	if view.countNotice("New game started!") != started+1 {
		t.Fatalf("missing new game notice")
	}
	if view.countNotice("Game state updated!") != 0 {
		t.Fatalf("own new game treated as external")
	}
}

func TestRequestEngineMove_OnlyNotifies(t *testing.T) {
	store := docstore.NewMemory()
	s, view := newTestSession(t, store)
	_ = s.SetActor(alice)
	_ = s.EnterPlay()
	settle(t, s)
	writes := store.Writes()
	renders := view.renderCount()

	if err := s.RequestEngineMove(); err != nil {
		t.Fatalf("RequestEngineMove: %v", err)
	}
	settle(t, s)
	if !view.hasNotice(domain.NoticeInfo, "Engine move functionality is not yet implemented.") {
		t.Fatalf("missing engine notice: %+v", view.notices)
	}
	if store.Writes() != writes || view.renderCount() != renders || s.Position() != position.Start {
		t.Fatalf("engine request changed state")
	}
}

func TestSetActor_SwitchesSubscription(t *testing.T) {
	store := docstore.NewMemory()
	s, _ := newTestSession(t, store)
	_ = s.SetActor(alice)
	_ = s.EnterPlay()
	settle(t, s)

	bob := &domain.Actor{UID: "u2"}
	_ = s.SetActor(bob)
	settle(t, s)
	if store.TotalSubscribers() != 1 || store.Subscribers(gamesync.SlotKey(gamesync.DefaultSlot, "u2")) != 1 {
		t.Fatalf("expected a single subscription on bob's slot")
	}

	_ = s.SetActor(nil)
	settle(t, s)
	if store.TotalSubscribers() != 0 || s.SyncState() != gamesync.Inactive {
		t.Fatalf("sign-out left a subscription")
	}
}

func TestExitPlay_Unsubscribes(t *testing.T) {
	store := docstore.NewMemory()
	s, _ := newTestSession(t, store)
	_ = s.SetActor(alice)
	_ = s.EnterPlay()
	settle(t, s)
	_ = s.ExitPlay()
	if store.TotalSubscribers() != 0 {
		t.Fatalf("subscription survived ExitPlay")
	}
}

func TestPublishFailure_Notifies(t *testing.T) {
	store := docstore.NewMemory()
	s, view := newTestSession(t, store)
	_ = s.SetActor(alice)
	_ = s.EnterPlay()
	settle(t, s)

	store.FailWrites(errors.New("permission denied"))
	res := s.AttemptMove("d2", "d4")
	settle(t, s)
	if !res.Accepted {
		t.Fatalf("local move should stand when the write fails")
	}
	if !view.hasNotice(domain.NoticeError, "Failed to save game progress.") {
		t.Fatalf("missing save_failed notice")
	}
}

func TestSubscriptionError_Notifies(t *testing.T) {
	store := docstore.NewMemory()
	s, view := newTestSession(t, store)
	_ = s.SetActor(alice)
	_ = s.EnterPlay()
	settle(t, s)

	store.BreakSubscriptions(aliceKey(), docstore.ErrChannelError)
	settle(t, s)
	if !view.hasNotice(domain.NoticeError, "Error loading game updates.") {
		t.Fatalf("missing load_failed notice")
	}
	if s.SyncState() != gamesync.Inactive {
		t.Fatalf("state=%v", s.SyncState())
	}
}

func TestCanLift(t *testing.T) {
	s, _ := newTestSession(t, docstore.NewMemory())
	if !s.CanLift("e2", "wP") {
		t.Fatalf("white should be able to lift at start")
	}
	if s.CanLift("e7", "bP") {
		t.Fatalf("black lifted on white's turn")
	}
}

func TestClose_RejectsCalls(t *testing.T) {
	s, err := New(Config{Store: docstore.NewMemory()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.NewGame(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if res := s.AttemptMove("e2", "e4"); res.Reason != RejectClosed {
		t.Fatalf("expected closed rejection, got %+v", res)
	}
}
