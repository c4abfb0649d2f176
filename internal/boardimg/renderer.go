// Package boardimg draws a position as a PNG snapshot.
package boardimg

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/park285/Cheese-Board/internal/position"
	"github.com/park285/Cheese-Board/internal/rules"
)

const (
	squareSize    = 56
	boardSize     = squareSize * 8
	sideMargin    = 24
	captionHeight = 36
	bottomMargin  = 24
	panelRadius   = 8
)

// Options decorates a snapshot. Zero value draws the bare board.
type Options struct {
	// From and To mark the last move, in algebraic squares.
	From, To string
	// Caption is drawn above the board; defaults to the status line.
	Caption string
	// Flip draws the board from Black's side.
	Flip bool
}

type Renderer struct{}

func NewRenderer() *Renderer { return &Renderer{} }

// RenderPNG validates fen and returns the encoded snapshot.
func (r *Renderer) RenderPNG(ctx context.Context, fen string, opts Options) ([]byte, error) {
	pos, err := position.Parse(fen)
	if err != nil {
		return nil, err
	}
	eng := rules.New()
	if err := eng.LoadPosition(pos); err != nil {
		return nil, err
	}
	caption := strings.TrimSpace(opts.Caption)
	if caption == "" {
		caption = eng.Status().Text()
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	totalWidth := boardSize + sideMargin*2
	totalHeight := captionHeight + boardSize + bottomMargin + sideMargin/2
	origin := image.Point{X: sideMargin, Y: captionHeight + sideMargin/2}

	img := image.NewRGBA(image.Rect(0, 0, totalWidth, totalHeight))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, imagedraw.Src)

	drawCaption(img, caption, image.Rect(sideMargin, 4, sideMargin+boardSize, captionHeight))
	drawSquares(img, origin, opts.Flip)
	for _, name := range []string{opts.From, opts.To} {
		if sq, ok := parseSquare(name); ok {
			drawSquareOverlay(img, squareRect(sq, origin, opts.Flip), highlightColor)
		}
	}
	if err := drawPieces(img, eng.Board(), origin, opts.Flip); err != nil {
		return nil, err
	}
	drawCoordinates(img, origin, opts.Flip)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

var (
	lightSquare     = color.RGBA{233, 207, 163, 255}
	darkSquare      = color.RGBA{187, 136, 96, 255}
	backgroundColor = color.RGBA{28, 31, 46, 255}
	highlightColor  = color.NRGBA{R: 255, G: 228, B: 120, A: 140}
	captionPanel    = color.NRGBA{R: 40, G: 44, B: 64, A: 255}
	captionText     = color.NRGBA{R: 236, G: 239, B: 255, A: 255}
	coordinateText  = color.NRGBA{R: 8, G: 214, B: 120, A: 255}
)

var (
	allFiles = [8]nchess.File{nchess.FileA, nchess.FileB, nchess.FileC, nchess.FileD, nchess.FileE, nchess.FileF, nchess.FileG, nchess.FileH}
	allRanks = [8]nchess.Rank{nchess.Rank1, nchess.Rank2, nchess.Rank3, nchess.Rank4, nchess.Rank5, nchess.Rank6, nchess.Rank7, nchess.Rank8}
)

func parseSquare(name string) (nchess.Square, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if len(name) != 2 || name[0] < 'a' || name[0] > 'h' || name[1] < '1' || name[1] > '8' {
		return nchess.NoSquare, false
	}
	return nchess.NewSquare(allFiles[name[0]-'a'], allRanks[name[1]-'1']), true
}

// squareRect maps a square to pixels; rank 8 is at the top unless flipped.
func squareRect(sq nchess.Square, origin image.Point, flip bool) image.Rectangle {
	col := int(sq.File())
	row := 7 - int(sq.Rank())
	if flip {
		col, row = 7-col, 7-row
	}
	x := origin.X + col*squareSize
	y := origin.Y + row*squareSize
	return image.Rect(x, y, x+squareSize, y+squareSize)
}

func drawSquares(dst imagedraw.Image, origin image.Point, flip bool) {
	for _, rank := range allRanks {
		for _, file := range allFiles {
			sq := nchess.NewSquare(file, rank)
			clr := lightSquare
			if (int(file)+int(rank))%2 == 0 {
				clr = darkSquare
			}
			imagedraw.Draw(dst, squareRect(sq, origin, flip), image.NewUniform(clr), image.Point{}, imagedraw.Src)
		}
	}
}

func drawPieces(dst imagedraw.Image, board *nchess.Board, origin image.Point, flip bool) error {
	for sq, piece := range board.SquareMap() {
		if piece == nchess.NoPiece {
			continue
		}
		img, err := renderPieceImage(piece, squareSize)
		if err != nil {
			return err
		}
		imagedraw.Draw(dst, squareRect(sq, origin, flip), img, image.Point{}, imagedraw.Over)
	}
	return nil
}

func drawSquareOverlay(img *image.RGBA, rect image.Rectangle, clr color.Color) {
	imagedraw.Draw(img, rect, image.NewUniform(clr), image.Point{}, imagedraw.Over)
}

func drawCaption(img *image.RGBA, text string, rect image.Rectangle) {
	drawRoundedPanel(img, rect, panelRadius, captionPanel)
	face := basicfont.Face7x13
	text = truncateWithEllipsis(face, text, rect.Dx()-16)
	drawer := &font.Drawer{Dst: img, Face: face, Src: image.NewUniform(captionText)}
	width := drawer.MeasureString(text).Round()
	m := face.Metrics()
	baseline := rect.Min.Y + (rect.Dy()+m.Ascent.Ceil()-m.Descent.Ceil())/2
	drawer.Dot = fixed.P(rect.Min.X+(rect.Dx()-width)/2, baseline)
	drawer.DrawString(text)
}

func drawCoordinates(img *image.RGBA, origin image.Point, flip bool) {
	face := basicfont.Face7x13
	drawer := &font.Drawer{Dst: img, Face: face, Src: image.NewUniform(coordinateText)}
	ascent := face.Metrics().Ascent.Ceil()
	for i := 0; i < 8; i++ {
		fileSq := squareRect(nchess.NewSquare(allFiles[i], nchess.Rank1), origin, flip)
		drawCenteredText(drawer, allFiles[i].String(), fileSq.Min.X+squareSize/2, origin.Y+boardSize+ascent+4)

		rankSq := squareRect(nchess.NewSquare(nchess.FileA, allRanks[i]), origin, flip)
		drawCenteredText(drawer, allRanks[i].String(), origin.X-sideMargin/2, rankSq.Min.Y+squareSize/2+ascent/2)
	}
}

func drawCenteredText(drawer *font.Drawer, text string, centerX, baseline int) {
	if text == "" {
		return
	}
	width := drawer.MeasureString(text).Round()
	drawer.Dot = fixed.P(centerX-width/2, baseline)
	drawer.DrawString(text)
}

func truncateWithEllipsis(face font.Face, text string, maxWidth int) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || maxWidth <= 0 {
		return trimmed
	}
	drawer := font.Drawer{Face: face}
	if drawer.MeasureString(trimmed).Round() <= maxWidth {
		return trimmed
	}
	runes := []rune(trimmed)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		candidate := string(runes) + "..."
		if drawer.MeasureString(candidate).Round() <= maxWidth {
			return candidate
		}
	}
	return "..."
}

func drawRoundedPanel(img *image.RGBA, rect image.Rectangle, radius int, clr color.Color) {
	if rect.Empty() {
		return
	}
	if maxR := min(rect.Dx(), rect.Dy()) / 2; radius > maxR {
		radius = maxR
	}
	fill := image.NewUniform(clr)
	imagedraw.Draw(img, image.Rect(rect.Min.X+radius, rect.Min.Y, rect.Max.X-radius, rect.Max.Y), fill, image.Point{}, imagedraw.Over)
	imagedraw.Draw(img, image.Rect(rect.Min.X, rect.Min.Y+radius, rect.Min.X+radius, rect.Max.Y-radius), fill, image.Point{}, imagedraw.Over)
	imagedraw.Draw(img, image.Rect(rect.Max.X-radius, rect.Min.Y+radius, rect.Max.X, rect.Max.Y-radius), fill, image.Point{}, imagedraw.Over)
	corners := []image.Point{
		{rect.Min.X + radius, rect.Min.Y + radius},
		{rect.Max.X - radius - 1, rect.Min.Y + radius},
		{rect.Min.X + radius, rect.Max.Y - radius - 1},
		{rect.Max.X - radius - 1, rect.Max.Y - radius - 1},
	}
	for _, c := range corners {
		drawDisc(img, c, radius, clr)
	}
}

func drawDisc(img *image.RGBA, center image.Point, radius int, clr color.Color) {
	rSquared := radius * radius
	for y := -radius; y <= radius; y++ {
		for x := -radius; x <= radius; x++ {
			if x*x+y*y > rSquared {
				continue
			}
			p := image.Point{X: center.X + x, Y: center.Y + y}
			if !p.In(img.Bounds()) {
				continue
			}
			img.Set(p.X, p.Y, clr)
		}
	}
}
