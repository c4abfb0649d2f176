package rules

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/Cheese-Board/internal/position"
)

var (
	ErrIllegalMove = errors.New("illegal move")
	ErrGameOver    = errors.New("game is over")
	ErrBadSquare   = errors.New("invalid square")
)

type Color string

const (
	White   Color = "w"
	Black   Color = "b"
	NoColor Color = ""
)

func (c Color) Name() string {
	switch c {
	case White:
		return "White"
	case Black:
		return "Black"
	default:
		return ""
	}
}

// Promotion is the UCI suffix letter of a promotion piece.
type Promotion byte

const (
	NoPromotion Promotion = 0
	PromoQueen  Promotion = 'q'
	PromoRook   Promotion = 'r'
	PromoBishop Promotion = 'b'
	PromoKnight Promotion = 'n'
)

type Move struct {
	From      string
	To        string
	UCI       string
	SAN       string
	Color     Color
	Promotion Promotion
}

// Engine wraps a corentings/chess game. The game is rebuilt from base by replaying
// the UCI move log whenever history is rewritten.
type Engine struct {
	base  position.FEN
	moves []Move
	game  *nchess.Game
}

func New() *Engine {
	e := &Engine{}
	e.Reset()
	return e
}

// Reset returns to the standard start position with an empty move log.
func (e *Engine) Reset() {
	game, _ := newGameAt(position.Start)
	e.base = position.Start
	e.moves = nil
	e.game = game
}

// LoadPosition replaces the board and clears the move log.
func (e *Engine) LoadPosition(fen position.FEN) error {
	canon, err := position.Parse(string(fen))
	if err != nil {
		return err
	}
	game, err := newGameAt(canon)
	if err != nil {
		return err
	}
	e.base = canon
	e.moves = nil
	e.game = game
	return nil
}

func (e *Engine) ExportPosition() position.FEN { return position.FEN(e.game.FEN()) }

func (e *Engine) Turn() Color { return colorOf(e.game.Position().Turn()) }

// ApplyMove validates and applies from→to. A pawn reaching the last rank is promoted to
// promo, or to a queen when promo is NoPromotion.
func (e *Engine) ApplyMove(from, to string, promo Promotion) (*Move, error) {
	from = strings.ToLower(strings.TrimSpace(from))
	to = strings.ToLower(strings.TrimSpace(to))
	fromSq, err := parseSquare(from)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}
	toSq, err := parseSquare(to)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIllegalMove, err)
	}
	if e.IsGameOver() {
		return nil, fmt.Errorf("%w: %v", ErrIllegalMove, ErrGameOver)
	}

	pos := e.game.Position()
	piece := pos.Board().Piece(fromSq)
	if piece == nchess.NoPiece || piece.Color() != pos.Turn() {
		return nil, ErrIllegalMove
	}

	uci := from + to
	applied := NoPromotion
	if piece.Type() == nchess.Pawn && isLastRank(piece.Color(), toSq) {
		applied = promo
		if applied == NoPromotion {
			applied = PromoQueen
		}
		uci += string(rune(applied))
	}
	if !e.isValid(uci) {
		return nil, ErrIllegalMove
	}

	notation := nchess.UCINotation{}
	mv, err := notation.Decode(pos, uci)
	if err != nil {
		return nil, ErrIllegalMove
	}
	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	if err := e.game.Move(mv, nil); err != nil {
		return nil, ErrIllegalMove
	}

	out := Move{From: from, To: to, UCI: uci, SAN: san, Color: colorOf(piece.Color()), Promotion: applied}
	e.moves = append(e.moves, out)
	return &out, nil
}

func (e *Engine) isValid(uci string) bool {
	valid := e.game.ValidMoves()
	for i := range valid {
		if strings.EqualFold(valid[i].String(), uci) {
			return true
		}
	}
	return false
}

// MoveHistory returns the moves applied since the last Reset or LoadPosition.
func (e *Engine) MoveHistory() []Move {
	return append([]Move(nil), e.moves...)
}

// Undo takes back the last move. It reports false when the log is empty.
func (e *Engine) Undo() (*Move, bool) {
	n := len(e.moves)
	if n == 0 {
		return nil, false
	}
	last := e.moves[n-1]
	game, err := replay(e.base, e.moves[:n-1])
	if err != nil {
		return nil, false
	}
	e.moves = append([]Move(nil), e.moves[:n-1]...)
	e.game = game
	return &last, true
}

// InCheck reads the board directly; the library only tags check on moves, so a
// position loaded from FEN would otherwise report no check.
func (e *Engine) InCheck() bool {
	pos := e.game.Position()
	return kingAttacked(pos.Board(), pos.Turn())
}

func (e *Engine) InCheckmate() bool { return e.game.Position().Status() == nchess.Checkmate }

func (e *Engine) InStalemate() bool { return e.game.Position().Status() == nchess.Stalemate }

func (e *Engine) InsufficientMaterial() bool { return e.game.Method() == nchess.InsufficientMaterial }

// InThreefoldRepetition counts positions since the last Reset or LoadPosition.
func (e *Engine) InThreefoldRepetition() bool {
	return slices.Contains(e.game.EligibleDraws(), nchess.ThreefoldRepetition)
}

func (e *Engine) inFiftyMoveDraw() bool {
	return slices.Contains(e.game.EligibleDraws(), nchess.FiftyMoveRule)
}

// InDraw also covers the automatic fivefold and seventy-five move draws.
func (e *Engine) InDraw() bool {
	return e.inFiftyMoveDraw() ||
		e.InStalemate() ||
		e.InsufficientMaterial() ||
		e.InThreefoldRepetition() ||
		e.game.Outcome() == nchess.Draw
}

func (e *Engine) IsGameOver() bool { return e.InCheckmate() || e.InDraw() }

// CanLift reports whether a piece in board-widget notation ("wP", "bQ") may be picked up.
func (e *Engine) CanLift(piece string) bool {
	piece = strings.TrimSpace(piece)
	if piece == "" || e.IsGameOver() {
		return false
	}
	return Color(strings.ToLower(piece[:1])) == e.Turn()
}

// Board returns the underlying board for rendering.
func (e *Engine) Board() *nchess.Board { return e.game.Position().Board() }

func newGameAt(fen position.FEN) (*nchess.Game, error) {
	opt, err := nchess.FEN(string(fen))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", position.ErrInvalid, err)
	}
	return nchess.NewGame(opt), nil
}

func replay(base position.FEN, moves []Move) (*nchess.Game, error) {
	game, err := newGameAt(base)
	if err != nil {
		return nil, err
	}
	notation := nchess.UCINotation{}
	for _, mv := range moves {
		move, err := notation.Decode(game.Position(), mv.UCI)
		if err != nil {
			return nil, fmt.Errorf("decode move %s: %w", mv.UCI, err)
		}
		if err := game.Move(move, nil); err != nil {
			return nil, fmt.Errorf("apply move %s: %w", mv.UCI, err)
		}
	}
	return game, nil
}

func colorOf(c nchess.Color) Color {
	switch c {
	case nchess.White:
		return White
	case nchess.Black:
		return Black
	default:
		return NoColor
	}
}

func parseSquare(s string) (nchess.Square, error) {
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return nchess.NoSquare, fmt.Errorf("%w: %q", ErrBadSquare, s)
	}
	return nchess.NewSquare(nchess.File(s[0]-'a'), nchess.Rank(s[1]-'1')), nil
}

func isLastRank(c nchess.Color, sq nchess.Square) bool {
	if c == nchess.White {
		return sq.Rank() == nchess.Rank8
	}
	return sq.Rank() == nchess.Rank1
}
