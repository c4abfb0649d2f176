package boardimg

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Board/internal/obslog"
	"github.com/park285/Cheese-Board/internal/position"
)

const renderTimeout = 5 * time.Second

// Handler serves GET /board.png?fen=...&from=..&to=..&flip=1. An absent fen draws the start position.
func Handler(r *Renderer, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = obslog.L()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet && req.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		q := req.URL.Query()
		fen := q.Get("fen")
		if fen == "" {
			fen = position.Start.String()
		}
		ctx, cancel := context.WithTimeout(req.Context(), renderTimeout)
		defer cancel()
		data, err := r.RenderPNG(ctx, fen, Options{
			From:    q.Get("from"),
			To:      q.Get("to"),
			Caption: q.Get("caption"),
			Flip:    q.Get("flip") == "1",
		})
		if err != nil {
			if errors.Is(err, position.ErrInvalid) || errors.Is(err, position.ErrEmpty) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			logger.Warn("board_render_failed", zap.String("fen", fen), zap.Error(err))
			http.Error(w, "render failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		_, _ = w.Write(data)
	})
}
