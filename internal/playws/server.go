// Package playws binds a browser board to a game session over a websocket.
package playws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/Cheese-Board/internal/auth"
	"github.com/park285/Cheese-Board/internal/docstore"
	"github.com/park285/Cheese-Board/internal/domain"
	"github.com/park285/Cheese-Board/internal/metrics"
	"github.com/park285/Cheese-Board/internal/msgcat"
	"github.com/park285/Cheese-Board/internal/obslog"
	"github.com/park285/Cheese-Board/internal/position"
	"github.com/park285/Cheese-Board/internal/rules"
	"github.com/park285/Cheese-Board/internal/session"
	"github.com/park285/Cheese-Board/pkg/playdto"
)

const (
	outboxSize   = 256
	writeTimeout = 5 * time.Second
	authTimeout  = 15 * time.Second
)

type Options struct {
	Store docstore.Store
	Slot  string
	// Provider may be nil; sign-in requests then fail with auth.unavailable.
	Provider       auth.Provider
	Verifier       *auth.TokenVerifier
	Catalog        *msgcat.Catalog
	Logger         *zap.Logger
	Metrics        metrics.Recorder
	PublishTimeout time.Duration
	OriginPatterns []string
}

type Server struct {
	opts   Options
	logger *zap.Logger
}

func NewServer(opts Options) *Server {
	if opts.Catalog == nil {
		opts.Catalog = msgcat.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = obslog.L()
	}
	return &Server{opts: opts, logger: logger}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  s.opts.OriginPatterns,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		s.logger.Warn("ws_accept_failed", zap.Error(err))
		return
	}
	id := uuid.NewString()
	logger := s.logger.With(zap.String("conn", id))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &conn{
		id:     id,
		srv:    s,
		ws:     ws,
		logger: logger,
		out:    make(chan any, outboxSize),
		ctx:    ctx,
		cancel: cancel,
	}
	sess, err := session.New(session.Config{
		ID:           id,
		Store:        s.opts.Store,
		Slot:         s.opts.Slot,
		View:         c,
		Catalog:      s.opts.Catalog,
		Logger:       logger,
		Metrics:      s.opts.Metrics,
		WriteTimeout: s.opts.PublishTimeout,
	})
	if err != nil {
		logger.Error("ws_session_failed", zap.Error(err))
		_ = ws.Close(websocket.StatusInternalError, "session unavailable")
		return
	}
	c.sess = sess
	c.auth = auth.NewState()

	metrics.ConnectionOpened()
	defer metrics.ConnectionClosed()
	logger.Info("ws_connected", zap.String("remote", r.RemoteAddr))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	remove := c.auth.OnChange(c.onActorChanged)
	if tok := auth.TokenFromRequest(r); tok != "" && s.opts.Verifier.Enabled() {
		if actor, err := s.opts.Verifier.Verify(tok); err == nil {
			c.auth.Set(actor)
		} else {
			logger.Info("ws_token_rejected", zap.Error(err))
		}
	}

	readErr := c.readLoop()
	remove()
	_ = sess.Close()
	cancel()
	<-writerDone

	status := websocket.CloseStatus(readErr)
	if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
		logger.Info("ws_closed", zap.Int("status", int(status)))
		_ = ws.Close(websocket.StatusNormalClosure, "")
		return
	}
	logger.Info("ws_disconnected", zap.Error(readErr))
	_ = ws.CloseNow()
}

type conn struct {
	id     string
	srv    *Server
	ws     *websocket.Conn
	logger *zap.Logger
	out    chan any
	ctx    context.Context
	cancel context.CancelFunc

	sess *session.Session
	auth *auth.State
}

func (c *conn) send(msg any) {
	select {
	case c.out <- msg:
	case <-c.ctx.Done():
	}
}

func (c *conn) writeLoop() {
	for {
		select {
		case msg := <-c.out:
			wctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := wsjson.Write(wctx, c.ws, msg)
			cancel()
			if err != nil {
				c.logger.Debug("ws_write_failed", zap.Error(err))
				c.cancel()
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// readLoop decodes frames itself so a malformed message is answered instead of closing the socket.
func (c *conn) readLoop() error {
	for {
		typ, data, err := c.ws.Read(c.ctx)
		if err != nil {
			return err
		}
		var msg playdto.ClientMessage
		if typ != websocket.MessageText || json.Unmarshal(data, &msg) != nil {
			c.send(playdto.NewError(playdto.ErrBadMessage))
			continue
		}
		c.dispatch(msg)
	}
}

func (c *conn) dispatch(msg playdto.ClientMessage) {
	switch msg.Type {
	case playdto.TypeSignIn:
		c.signIn(msg, func(ctx context.Context, p auth.Provider) (*domain.Actor, error) {
			return p.SignIn(ctx, msg.Email, msg.Password)
		})
	case playdto.TypeSignUp:
		c.signIn(msg, func(ctx context.Context, p auth.Provider) (*domain.Actor, error) {
			return p.SignUp(ctx, msg.Email, msg.Password)
		})
	case playdto.TypeSignInProvider:
		c.signIn(msg, func(ctx context.Context, p auth.Provider) (*domain.Actor, error) {
			return p.SignInWithProvider(ctx, msg.ProviderID, msg.Credential)
		})
	case playdto.TypeSignOut:
		c.signOut()
		c.Notify(domain.Notice{Level: domain.NoticeInfo, Text: c.srv.opts.Catalog.Text("auth.signed_out", nil)})
	case playdto.TypeNavigate:
		if strings.EqualFold(strings.TrimSpace(msg.Section), playdto.SectionPlay) {
			_ = c.sess.EnterPlay()
		} else {
			_ = c.sess.ExitPlay()
		}
	case playdto.TypeLift:
		c.send(playdto.LiftResult{Type: playdto.TypeLiftResult, Allow: c.sess.CanLift(msg.Square, msg.Piece)})
	case playdto.TypeDrop:
		res := c.sess.AttemptMove(strings.ToLower(msg.From), strings.ToLower(msg.To))
		out := playdto.DropResult{
			Type:     playdto.TypeDropResult,
			Accept:   res.Accepted,
			Reason:   string(res.Reason),
			Position: res.Position.String(),
		}
		if res.Move != nil {
			out.SAN = res.Move.SAN
		}
		c.send(out)
	case playdto.TypeNewGame:
		_ = c.sess.NewGame()
	case playdto.TypeUndo:
		if err := c.sess.Undo(); err != nil && !errors.Is(err, session.ErrNothingToUndo) {
			c.logger.Debug("ws_undo_failed", zap.Error(err))
		}
	case playdto.TypeEngineMove:
		_ = c.sess.RequestEngineMove()
	default:
		c.logger.Debug("ws_unknown_message", zap.String("type", msg.Type))
		c.send(playdto.NewError(playdto.ErrUnknownType))
	}
}

func (c *conn) signIn(msg playdto.ClientMessage, do func(context.Context, auth.Provider) (*domain.Actor, error)) {
	cat := c.srv.opts.Catalog
	provider := c.srv.opts.Provider
	if provider == nil {
		c.send(playdto.AuthError{Type: playdto.TypeAuthError, Text: cat.Text("auth.unavailable", nil)})
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, authTimeout)
	defer cancel()
	actor, err := do(ctx, provider)
	if err != nil {
		c.logger.Info("ws_sign_in_failed", zap.String("type", msg.Type), zap.Error(err))
		text := cat.Text(auth.MessageKey(err), map[string]string{"Provider": providerName(msg.ProviderID)})
		c.send(playdto.AuthError{Type: playdto.TypeAuthError, Text: text})
		return
	}
	if v := c.srv.opts.Verifier; v.Enabled() {
		if tok, err := v.Issue(actor); err == nil {
			actor.IDToken = tok
		}
	}
	c.auth.Set(actor)
	c.Notify(domain.Notice{Level: domain.NoticeSuccess, Text: cat.Text("auth.signed_in", map[string]string{"Name": actor.Name()})})
}

func (c *conn) signOut() {
	if provider := c.srv.opts.Provider; provider != nil {
		if actor := c.auth.Current(); actor != nil {
			ctx, cancel := context.WithTimeout(c.ctx, authTimeout)
			if err := provider.SignOut(ctx, actor); err != nil {
				c.logger.Warn("ws_sign_out_failed", zap.String("uid", actor.UID), zap.Error(err))
			}
			cancel()
		}
	}
	c.auth.SignOut()
}

func providerName(id string) string {
	switch strings.TrimSpace(id) {
	case "", "google.com":
		return "Google"
	default:
		return id
	}
}

func (c *conn) onActorChanged(actor *domain.Actor) {
	if err := c.sess.SetActor(actor); err != nil {
		return
	}
	msg := playdto.Actor{Type: playdto.TypeActor}
	if actor != nil {
		msg.UID = actor.UID
		msg.Email = actor.Email
		msg.DisplayName = actor.Name()
		msg.Token = actor.IDToken
	}
	c.send(msg)
}

// session.View

func (c *conn) Render(pos position.FEN) {
	c.send(playdto.Position{Type: playdto.TypePosition, FEN: pos.String()})
}

func (c *conn) ShowStatus(st rules.Status, text string) {
	c.send(playdto.Status{
		Type:      playdto.TypeStatus,
		Text:      text,
		Turn:      string(st.Turn),
		Check:     st.Check,
		Checkmate: st.Checkmate,
		Draw:      st.Draw,
	})
}

func (c *conn) Notify(n domain.Notice) {
	c.send(playdto.Notice{Type: playdto.TypeNotice, Level: string(n.Level), Text: n.Text})
}
