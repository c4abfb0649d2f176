package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Board/internal/docstore"
	"github.com/park285/Cheese-Board/internal/domain"
	"github.com/park285/Cheese-Board/internal/gamesync"
	"github.com/park285/Cheese-Board/internal/metrics"
	"github.com/park285/Cheese-Board/internal/msgcat"
	"github.com/park285/Cheese-Board/internal/obslog"
	"github.com/park285/Cheese-Board/internal/position"
	"github.com/park285/Cheese-Board/internal/rules"
)

var (
	ErrClosed        = errors.New("session closed")
	ErrNothingToUndo = errors.New("nothing to undo")
)

const subscribeTimeout = 10 * time.Second

// Rules is the move-validation capability a session drives. *rules.Engine implements it.
type Rules interface {
	ApplyMove(from, to string, promo rules.Promotion) (*rules.Move, error)
	LoadPosition(fen position.FEN) error
	ExportPosition() position.FEN
	Status() rules.Status
	MoveHistory() []rules.Move
	Undo() (*rules.Move, bool)
	Reset()
	CanLift(piece string) bool
}

// View is the board surface a session renders to.
type View interface {
	Render(pos position.FEN)
	ShowStatus(st rules.Status, text string)
	Notify(n domain.Notice)
}

type Config struct {
	ID      string
	Store   docstore.Store
	Slot    string
	Rules   Rules
	View    View
	Catalog *msgcat.Catalog
	Logger  *zap.Logger
	Metrics metrics.Recorder
	// WriteTimeout bounds each remote write.
	WriteTimeout time.Duration
}

// Session owns the position on the board for one client. All state is touched only by
// the loop goroutine; public methods post closures to it and wait.
type Session struct {
	id      string
	rules   Rules
	sync    *gamesync.Synchronizer
	view    View
	cat     *msgcat.Catalog
	logger  *zap.Logger
	metrics metrics.Recorder

	mb   *mailbox
	done chan struct{}

	actor  *domain.Actor
	inPlay bool
}

type RejectReason string

const (
	RejectNone            RejectReason = ""
	RejectUnauthenticated RejectReason = "unauthenticated"
	RejectIllegal         RejectReason = "illegal"
	RejectClosed          RejectReason = "closed"
)

// MoveResult tells the board whether to keep the dropped piece or snap it back.
type MoveResult struct {
	Accepted bool
	Reason   RejectReason
	Move     *rules.Move
	Position position.FEN
}

func New(cfg Config) (*Session, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("document store is required")
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Rules == nil {
		cfg.Rules = rules.New()
	}
	if cfg.View == nil {
		cfg.View = NopView{}
	}
	if cfg.Catalog == nil {
		cfg.Catalog = msgcat.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = obslog.L()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}
	logger := cfg.Logger.With(zap.String("session", cfg.ID))

	s := &Session{
		id:      cfg.ID,
		rules:   cfg.Rules,
		view:    cfg.View,
		cat:     cfg.Catalog,
		logger:  logger,
		metrics: cfg.Metrics,
		mb:      newMailbox(),
		done:    make(chan struct{}),
	}
	syncer, err := gamesync.New(cfg.Store, gamesync.Options{
		Slot:         cfg.Slot,
		Sink:         s.onSyncEvent,
		WriteTimeout: cfg.WriteTimeout,
		Logger:       logger,
		Metrics:      cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	s.sync = syncer
	go s.loop()
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) loop() {
	defer close(s.done)
	for {
		if fn, ok := s.mb.pop(); ok {
			fn()
			continue
		}
		if s.mb.isClosed() {
			return
		}
		<-s.mb.signal
	}
}

// call runs fn on the loop and waits for it.
func (s *Session) call(fn func()) error {
	finished := make(chan struct{})
	if !s.mb.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}
	<-finished
	return nil
}

func (s *Session) onSyncEvent(ev gamesync.Event) {
	s.mb.post(func() { s.handleSyncEvent(ev) })
}

// SetActor is the auth-state listener: a new actor subscribes while the play view is
// open, nil tears the subscription down.
func (s *Session) SetActor(actor *domain.Actor) error {
	return s.call(func() {
		prev := s.actor
		s.actor = actor.Clone()
		if s.actor == nil {
			s.sync.Unsubscribe()
			s.logger.Info("session_signed_out")
			return
		}
		if domain.SameUID(prev, s.actor) {
			return
		}
		s.logger.Info("session_signed_in", zap.String("uid", s.actor.UID))
		if s.inPlay {
			s.subscribe()
		}
	})
}

// EnterPlay shows the board and subscribes to the actor's record. Signed out, it
// prompts for login instead.
func (s *Session) EnterPlay() error {
	return s.call(func() {
		s.inPlay = true
		s.view.Render(s.rules.ExportPosition())
		s.updateStatus(false)
		if s.actor == nil {
			s.notify(domain.NoticeError, "notice.login_required_play", nil)
			return
		}
		s.subscribe()
	})
}

// ExitPlay leaves the play view and tears the subscription down.
func (s *Session) ExitPlay() error {
	return s.call(func() {
		s.inPlay = false
		s.sync.Unsubscribe()
	})
}

func (s *Session) subscribe() {
	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
	defer cancel()
	if err := s.sync.Subscribe(ctx, s.actor); err != nil {
		if errors.Is(err, gamesync.ErrNotAuthenticated) {
			return
		}
		s.notify(domain.NoticeError, "notice.load_failed", nil)
	}
}

// CanLift gates a piece pick-up before any move is constructed.
func (s *Session) CanLift(square, piece string) bool {
	allow := false
	_ = s.call(func() { allow = s.rules.CanLift(piece) })
	return allow
}

// AttemptMove validates and applies a drop. A rejected result means the board must snap back.
func (s *Session) AttemptMove(from, to string) MoveResult {
	res := MoveResult{Reason: RejectClosed}
	_ = s.call(func() { res = s.attemptMove(from, to) })
	return res
}

func (s *Session) attemptMove(from, to string) MoveResult {
	if s.actor == nil {
		s.metrics.Move("unauthenticated")
		s.notify(domain.NoticeError, "notice.login_required", nil)
		return MoveResult{Reason: RejectUnauthenticated, Position: s.rules.ExportPosition()}
	}
	mv, err := s.rules.ApplyMove(from, to, rules.NoPromotion)
	if err != nil {
		s.metrics.Move("illegal")
		s.logger.Debug("session_illegal_move", zap.String("from", from), zap.String("to", to), zap.Error(err))
		s.notify(domain.NoticeError, "notice.illegal_move", nil)
		return MoveResult{Reason: RejectIllegal, Position: s.rules.ExportPosition()}
	}
	s.metrics.Move("accepted")
	pos := s.rules.ExportPosition()
	s.logger.Info("session_move", zap.String("uci", mv.UCI), zap.String("san", mv.SAN), zap.String("position", pos.String()))
	s.view.Render(pos)
	s.publish(pos)
	s.updateStatus(true)
	return MoveResult{Accepted: true, Move: mv, Position: pos}
}

// NewGame resets to the start position and publishes it.
func (s *Session) NewGame() error {
	return s.call(s.startNewGame)
}

func (s *Session) startNewGame() {
	s.rules.Reset()
	pos := s.rules.ExportPosition()
	s.view.Render(pos)
	s.updateStatus(true)
	s.publish(pos)
	s.notify(domain.NoticeSuccess, "notice.new_game", nil)
}

// Undo takes back one ply. With an empty history it only reports that nothing was undone.
func (s *Session) Undo() error {
	var undoErr error
	err := s.call(func() {
		mv, ok := s.rules.Undo()
		if !ok {
			undoErr = ErrNothingToUndo
			s.notify(domain.NoticeInfo, "notice.undo_empty", nil)
			return
		}
		pos := s.rules.ExportPosition()
		s.logger.Info("session_undo", zap.String("uci", mv.UCI), zap.String("position", pos.String()))
		s.view.Render(pos)
		s.updateStatus(true)
		s.publish(pos)
		s.notify(domain.NoticeSuccess, "notice.undo_done", nil)
	})
	if err != nil {
		return err
	}
	return undoErr
}

// RequestEngineMove is a placeholder: computer moves are not offered.
func (s *Session) RequestEngineMove() error {
	return s.call(func() {
		s.notify(domain.NoticeInfo, "notice.engine_unavailable", nil)
	})
}

func (s *Session) publish(pos position.FEN) {
	if err := s.sync.Publish(pos, s.actor); err != nil {
		s.logger.Warn("session_publish_skipped", zap.String("position", pos.String()), zap.Error(err))
	}
}

func (s *Session) handleSyncEvent(ev gamesync.Event) {
	switch e := ev.(type) {
	case gamesync.SnapshotEvent:
		s.applySnapshot(e)
	case gamesync.SubscriptionFailed:
		if s.sync.Fail(e) {
			s.notify(domain.NoticeError, "notice.load_failed", nil)
		}
	case gamesync.PublishFailed:
		s.notify(domain.NoticeError, "notice.save_failed", nil)
	}
}

func (s *Session) applySnapshot(ev gamesync.SnapshotEvent) {
	local := s.rules.ExportPosition()
	decision, remote := s.sync.Classify(ev, local)
	switch decision {
	case gamesync.FirstRun:
		s.logger.Info("session_first_run", zap.String("key", ev.Key))
		s.startNewGame()
	case gamesync.External:
		if err := s.rules.LoadPosition(remote); err != nil {
			s.logger.Warn("session_load_remote_failed", zap.String("position", remote.String()), zap.Error(err))
			return
		}
		s.logger.Info("session_remote_update", zap.String("key", ev.Key), zap.String("position", remote.String()))
		s.view.Render(remote)
		s.updateStatus(true)
		s.notify(domain.NoticeInfo, "notice.game_updated", nil)
	default:
		s.logger.Debug("session_snapshot_skipped", zap.String("decision", decision.String()), zap.String("key", ev.Key))
	}
}

// updateStatus refreshes the status line and, when announce is set, raises the
// check, mate and draw notices.
func (s *Session) updateStatus(announce bool) {
	st := s.rules.Status()
	text := s.statusText(st)
	s.view.ShowStatus(st, text)
	if !announce {
		return
	}
	switch {
	case st.Checkmate, st.Draw:
		s.view.Notify(domain.Notice{Level: domain.NoticeInfo, Text: text})
	case st.Check:
		s.notify(domain.NoticeInfo, "notice.in_check", map[string]string{"Side": st.Turn.Name()})
	}
}

func (s *Session) statusText(st rules.Status) string {
	data := map[string]string{"Side": st.Turn.Name()}
	key := "status.to_move"
	switch {
	case st.Checkmate:
		key = "status.checkmate"
	case st.Draw:
		key = "status.draw"
	case st.Check:
		key = "status.in_check"
	}
	text, err := s.cat.Render(key, data)
	if err != nil {
		return st.Text()
	}
	return text
}

func (s *Session) notify(level domain.NoticeLevel, key string, data any) {
	s.view.Notify(domain.Notice{Level: level, Text: s.cat.Text(key, data)})
}

func (s *Session) Position() position.FEN {
	var pos position.FEN
	_ = s.call(func() { pos = s.rules.ExportPosition() })
	return pos
}

func (s *Session) Status() rules.Status {
	var st rules.Status
	_ = s.call(func() { st = s.rules.Status() })
	return st
}

func (s *Session) StatusText() string {
	var text string
	_ = s.call(func() { text = s.statusText(s.rules.Status()) })
	return text
}

func (s *Session) Actor() *domain.Actor {
	var a *domain.Actor
	_ = s.call(func() { a = s.actor.Clone() })
	return a
}

func (s *Session) SyncState() gamesync.State { return s.sync.State() }

// Settle waits until queued writes and the events they caused have been processed.
func (s *Session) Settle(ctx context.Context) error {
	for {
		if err := s.sync.Flush(ctx); err != nil {
			return err
		}
		quiet := false
		if err := s.call(func() { quiet = s.mb.len() == 0 && s.sync.Idle() }); err != nil {
			return err
		}
		if quiet {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// Close tears down the subscription, stops the loop and the writer.
func (s *Session) Close() error {
	_ = s.call(func() { s.sync.Unsubscribe() })
	s.mb.close()
	<-s.done
	return s.sync.Close()
}

// NopView discards all output.
type NopView struct{}

func (NopView) Render(position.FEN)             {}
func (NopView) ShowStatus(rules.Status, string) {}
func (NopView) Notify(domain.Notice)            {}
