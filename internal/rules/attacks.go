package rules

import (
	nchess "github.com/corentings/chess/v2"
)

type grid [8][8]nchess.Piece // [file][rank]

func gridOf(board *nchess.Board) grid {
	var g grid
	for f := 0; f < 8; f++ {
		for r := 0; r < 8; r++ {
			g[f][r] = board.Piece(nchess.NewSquare(nchess.File(f), nchess.Rank(r)))
		}
	}
	return g
}

func (g *grid) at(f, r int) (nchess.Piece, bool) {
	if f < 0 || f > 7 || r < 0 || r > 7 {
		return nchess.NoPiece, false
	}
	return g[f][r], true
}

// kingAttacked reports whether side's king is attacked by the other side.
func kingAttacked(board *nchess.Board, side nchess.Color) bool {
	if board == nil {
		return false
	}
	g := gridOf(board)
	kf, kr := -1, -1
	for f := 0; f < 8 && kf < 0; f++ {
		for r := 0; r < 8; r++ {
			p := g[f][r]
			if p != nchess.NoPiece && p.Type() == nchess.King && p.Color() == side {
				kf, kr = f, r
				break
			}
		}
	}
	if kf < 0 {
		return false
	}
	return squareAttacked(&g, kf, kr, side.Other())
}

func squareAttacked(g *grid, f, r int, by nchess.Color) bool {
	is := func(df, dr int, types ...nchess.PieceType) bool {
		p, ok := g.at(f+df, r+dr)
		if !ok || p == nchess.NoPiece || p.Color() != by {
			return false
		}
		for _, t := range types {
			if p.Type() == t {
				return true
			}
		}
		return false
	}

	// pawns attack diagonally forward, so look one rank behind from the attacker's view
	pawnDir := -1
	if by == nchess.Black {
		pawnDir = 1
	}
	if is(-1, pawnDir, nchess.Pawn) || is(1, pawnDir, nchess.Pawn) {
		return true
	}

	for _, d := range [][2]int{{1, 2}, {2, 1}, {2, -1}, {1, -2}, {-1, -2}, {-2, -1}, {-2, 1}, {-1, 2}} {
		if is(d[0], d[1], nchess.Knight) {
			return true
		}
	}
	for df := -1; df <= 1; df++ {
		for dr := -1; dr <= 1; dr++ {
			if (df != 0 || dr != 0) && is(df, dr, nchess.King) {
				return true
			}
		}
	}

	slide := func(dirs [][2]int, types ...nchess.PieceType) bool {
		for _, d := range dirs {
			for step := 1; step < 8; step++ {
				p, ok := g.at(f+d[0]*step, r+d[1]*step)
				if !ok {
					break
				}
				if p == nchess.NoPiece {
					continue
				}
				if p.Color() == by {
					for _, t := range types {
						if p.Type() == t {
							return true
						}
					}
				}
				break
			}
		}
		return false
	}
	if slide([][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}, nchess.Rook, nchess.Queen) {
		return true
	}
	return slide([][2]int{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}, nchess.Bishop, nchess.Queen)
}
