package position

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// FEN is a canonical board snapshot. Two positions are the same iff their strings are equal.
type FEN string

const Start FEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

var (
	ErrEmpty   = errors.New("position is empty")
	ErrInvalid = errors.New("invalid position")
)

// Parse validates s and returns the canonical form produced by the rules library exporter.
// Local exports and remote deliveries both go through here so that equality checks compare like with like.
func Parse(s string) (FEN, error) {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "", ErrEmpty
	}
	if len(strings.Fields(s)) != 6 {
		return "", fmt.Errorf("%w: expected 6 fields", ErrInvalid)
	}
	opt, err := nchess.FEN(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	game := nchess.NewGame(opt)
	return FEN(game.FEN()), nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(s string) FEN {
	f, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return f
}

func Equal(a, b FEN) bool { return a == b }

func (f FEN) String() string { return string(f) }

func (f FEN) IsZero() bool { return f == "" }

// Fields returns the six space-separated FEN fields, or nil if malformed.
func (f FEN) Fields() []string {
	parts := strings.Fields(string(f))
	if len(parts) != 6 {
		return nil
	}
	return parts
}

// SideToMove returns "w" or "b".
func (f FEN) SideToMove() string {
	parts := f.Fields()
	if parts == nil {
		return ""
	}
	return parts[1]
}
