package rules

import (
	"errors"
	"strings"
	"testing"

	"github.com/park285/Cheese-Board/internal/position"
)

func play(t *testing.T, e *Engine, moves ...string) {
	t.Helper()
	for _, m := range moves {
		if _, err := e.ApplyMove(m[:2], m[2:4], NoPromotion); err != nil {
			t.Fatalf("ApplyMove %s: %v", m, err)
		}
	}
}

func loadFEN(t *testing.T, e *Engine, fen string) {
	t.Helper()
	if err := e.LoadPosition(position.FEN(fen)); err != nil {
		t.Fatalf("LoadPosition: %v", err)
	}
}

func TestApplyMove_LegalAndIllegal(t *testing.T) {
	e := New()
	if e.ExportPosition() != position.Start {
		t.Fatalf("fresh engine not at start: %s", e.ExportPosition())
	}

	if _, err := e.ApplyMove("e2", "e5", NoPromotion); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("expected ErrIllegalMove for e2e5, got %v", err)
	}
	if e.ExportPosition() != position.Start || len(e.MoveHistory()) != 0 {
		t.Fatalf("illegal move changed state")
	}
	if _, err := e.ApplyMove("e7", "e5", NoPromotion); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("moving out of turn must be illegal, got %v", err)
	}
	if _, err := e.ApplyMove("z9", "e4", NoPromotion); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("bad square must be illegal, got %v", err)
	}

	mv, err := e.ApplyMove("E2", " e4", NoPromotion)
	if err != nil {
		t.Fatalf("e2e4: %v", err)
	}
	if mv.UCI != "e2e4" || mv.SAN != "e4" || mv.Color != White {
		t.Fatalf("unexpected move %+v", mv)
	}
	if e.Turn() != Black {
		t.Fatalf("expected black to move")
	}
	if !strings.HasPrefix(string(e.ExportPosition()), "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq") {
		t.Fatalf("unexpected position %s", e.ExportPosition())
	}
}

func TestExportMatchesReplay(t *testing.T) {
	moves := []string{"e2e4", "e7e5", "g1f3", "b8c6", "f1b5", "a7a6"}
	e := New()
	var exported []position.FEN
	for _, m := range moves {
		play(t, e, m)
		exported = append(exported, e.ExportPosition())
	}
	for i := range moves {
		r := New()
		play(t, r, moves[:i+1]...)
		if r.ExportPosition() != exported[i] {
			t.Fatalf("ply %d drift: %s vs %s", i+1, r.ExportPosition(), exported[i])
		}
		canon, err := position.Parse(string(exported[i]))
		if err != nil || canon != exported[i] {
			t.Fatalf("exported position not canonical at ply %d: %s (%v)", i+1, canon, err)
		}
	}
}

func TestAutoQueenPromotion(t *testing.T) {
	e := New()
	loadFEN(t, e, "8/P7/8/8/8/8/8/k6K w - - 0 1")
	mv, err := e.ApplyMove("a7", "a8", NoPromotion)
	if err != nil {
		t.Fatalf("promotion: %v", err)
	}
	if mv.Promotion != PromoQueen || mv.UCI != "a7a8q" {
		t.Fatalf("expected queen promotion, got %+v", mv)
	}
	if !strings.HasPrefix(string(e.ExportPosition()), "Q7/") {
		t.Fatalf("queen not on a8: %s", e.ExportPosition())
	}

	loadFEN(t, e, "8/P7/8/8/8/8/8/k6K w - - 0 1")
	if _, err := e.ApplyMove("a7", "a8", PromoKnight); err != nil {
		t.Fatalf("underpromotion: %v", err)
	}
	if !strings.HasPrefix(string(e.ExportPosition()), "N7/") {
		t.Fatalf("knight not on a8: %s", e.ExportPosition())
	}
}

func TestUndo(t *testing.T) {
	e := New()
	if _, ok := e.Undo(); ok {
		t.Fatalf("undo on fresh game must report false")
	}
	if e.ExportPosition() != position.Start {
		t.Fatalf("empty undo changed state")
	}
	play(t, e, "e2e4", "e7e5")
	afterOne := New()
	play(t, afterOne, "e2e4")

	mv, ok := e.Undo()
	if !ok || mv.UCI != "e7e5" {
		t.Fatalf("unexpected undo result %+v %v", mv, ok)
	}
	if e.ExportPosition() != afterOne.ExportPosition() {
		t.Fatalf("undo removed more than one ply: %s", e.ExportPosition())
	}
	if len(e.MoveHistory()) != 1 {
		t.Fatalf("history len=%d", len(e.MoveHistory()))
	}
}

func TestLoadPositionClearsHistory(t *testing.T) {
	e := New()
	play(t, e, "d2d4")
	loadFEN(t, e, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1")
	if len(e.MoveHistory()) != 0 {
		t.Fatalf("history not cleared")
	}
	if _, ok := e.Undo(); ok {
		t.Fatalf("undo after load must be empty")
	}
	if err := e.LoadPosition("garbage"); err == nil {
		t.Fatalf("expected error for garbage position")
	}
}

func TestCheckAndCheckmate(t *testing.T) {
	e := New()
	play(t, e, "f2f3", "e7e5", "g2g4", "d8h4")
	st := e.Status()
	if !st.Check || !st.Checkmate || !st.GameOver || st.Draw {
		t.Fatalf("expected checkmate, got %+v", st)
	}
	if st.Text() != "Game over, White is in checkmate." {
		t.Fatalf("status text %q", st.Text())
	}
	if _, err := e.ApplyMove("a2", "a3", NoPromotion); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("move after mate must be illegal, got %v", err)
	}

	c := New()
	play(t, c, "e2e4", "f7f6", "d1h5")
	st = c.Status()
	if !st.Check || st.Checkmate {
		t.Fatalf("expected plain check, got %+v", st)
	}
	if st.Text() != "Black to move, Black is in check!" {
		t.Fatalf("status text %q", st.Text())
	}
}

func TestCheckFromLoadedPosition(t *testing.T) {
	e := New()
	loadFEN(t, e, "4k3/8/8/8/8/8/8/4RK2 b - - 0 1")
	st := e.Status()
	if !st.Check || st.Checkmate || st.GameOver {
		t.Fatalf("expected plain check after load, got %+v", st)
	}
}

func TestDraws(t *testing.T) {
	e := New()
	loadFEN(t, e, "7k/5Q2/6K1/8/8/8/8/8 b - - 0 1")
	if !e.InStalemate() || !e.InDraw() || e.InCheckmate() {
		t.Fatalf("expected stalemate")
	}

	loadFEN(t, e, "8/8/8/8/8/8/8/K6k w - - 0 1")
	if !e.InsufficientMaterial() || !e.IsGameOver() {
		t.Fatalf("bare kings must be a draw")
	}
	loadFEN(t, e, "8/8/8/8/8/8/2N5/K6k w - - 0 1")
	if !e.InsufficientMaterial() {
		t.Fatalf("lone knight must be insufficient")
	}
	loadFEN(t, e, "8/8/8/8/8/8/2R5/K6k w - - 0 1")
	if e.InsufficientMaterial() {
		t.Fatalf("rook is sufficient")
	}
	loadFEN(t, e, "8/8/8/8/8/8/2B1b3/K6k w - - 0 1")
	if !e.InsufficientMaterial() {
		t.Fatalf("same-coloured bishops must be insufficient")
	}
	loadFEN(t, e, "8/8/8/8/8/8/2B2b2/K6k w - - 0 1")
	if e.InsufficientMaterial() {
		t.Fatalf("opposite-coloured bishops are sufficient")
	}

	loadFEN(t, e, "8/8/8/8/8/8/2R5/K6k w - - 100 80")
	if !e.InDraw() {
		t.Fatalf("fifty-move rule not detected")
	}

	r := New()
	play(t, r, "g1f3", "g8f6", "f3g1", "f6g8")
	if r.InDraw() {
		t.Fatalf("twofold is not a draw")
	}
	play(t, r, "g1f3", "g8f6", "f3g1", "f6g8")
	if !r.InThreefoldRepetition() || !r.InDraw() {
		t.Fatalf("threefold repetition not detected")
	}
	if r.Status().Text() != "Game over, drawn position." {
		t.Fatalf("status text %q", r.Status().Text())
	}
}

func TestCanLift(t *testing.T) {
	e := New()
	if !e.CanLift("wP") || e.CanLift("bP") || e.CanLift("") {
		t.Fatalf("lift gating wrong at start")
	}
	play(t, e, "e2e4")
	if e.CanLift("wN") || !e.CanLift("bN") {
		t.Fatalf("lift gating wrong after e4")
	}
	play(t, e, "f7f6", "d2d4", "g7g5", "d1h5")
	if e.CanLift("bK") || e.CanLift("wQ") {
		t.Fatalf("no piece may be lifted after mate")
	}
}
