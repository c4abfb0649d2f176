package rules

import "fmt"

type Status struct {
	Turn      Color
	Check     bool
	Checkmate bool
	Draw      bool
	GameOver  bool
}

func (e *Engine) Status() Status {
	st := Status{
		Turn:      e.Turn(),
		Check:     e.InCheck(),
		Checkmate: e.InCheckmate(),
		Draw:      e.InDraw(),
	}
	st.GameOver = st.Checkmate || st.Draw
	return st
}

// Text renders the one-line status shown next to the board.
func (s Status) Text() string {
	mover := s.Turn.Name()
	switch {
	case s.Checkmate:
		return fmt.Sprintf("Game over, %s is in checkmate.", mover)
	case s.Draw:
		return "Game over, drawn position."
	case s.Check:
		return fmt.Sprintf("%s to move, %s is in check!", mover, mover)
	default:
		return fmt.Sprintf("%s to move", mover)
	}
}
