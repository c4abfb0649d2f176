package playws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/Cheese-Board/internal/auth"
	"github.com/park285/Cheese-Board/internal/docstore"
	"github.com/park285/Cheese-Board/internal/domain"
	"github.com/park285/Cheese-Board/internal/position"
	"github.com/park285/Cheese-Board/pkg/playdto"
)

type stubProvider struct {
	signedOut chan string
}

func (stubProvider) SignIn(_ context.Context, email, password string) (*domain.Actor, error) {
	if password != "secret1" {
		return nil, &auth.Error{Code: "INVALID_PASSWORD", MessageKey: "auth.invalid_credentials"}
	}
	return &domain.Actor{UID: "u1", Email: email}, nil
}

func (stubProvider) SignUp(context.Context, string, string) (*domain.Actor, error) {
	return nil, &auth.Error{Code: "EMAIL_EXISTS", MessageKey: "auth.email_exists"}
}

func (stubProvider) SignInWithProvider(context.Context, string, string) (*domain.Actor, error) {
	return nil, errors.New("not configured")
}

func (p stubProvider) SignOut(_ context.Context, actor *domain.Actor) error {
	if p.signedOut != nil {
		p.signedOut <- actor.UID
	}
	return nil
}

type frame struct {
	Type   string `json:"type"`
	FEN    string `json:"fen"`
	Text   string `json:"text"`
	Level  string `json:"level"`
	Allow  bool   `json:"allow"`
	Accept bool   `json:"accept"`
	UID    string `json:"uid"`
	Token  string `json:"token"`
}

type client struct {
	t  *testing.T
	ws *websocket.Conn
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	return newTestServerWith(t, stubProvider{})
}

func newTestServerWith(t *testing.T, provider stubProvider) *httptest.Server {
	t.Helper()
	srv := NewServer(Options{
		Store:          docstore.NewMemory(),
		Provider:       provider,
		Verifier:       auth.NewTokenVerifier("test-secret", "cheese-board"),
		PublishTimeout: time.Second,
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func dial(t *testing.T, ts *httptest.Server, token string) *client {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	if token != "" {
		url += "?token=" + token
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close(websocket.StatusNormalClosure, "") })
	return &client{t: t, ws: ws}
}

func (c *client) send(msg playdto.ClientMessage) {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, c.ws, msg); err != nil {
		c.t.Fatalf("write %s: %v", msg.Type, err)
	}
}

// await reads frames until match returns true.
func (c *client) await(what string, match func(frame) bool) frame {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			c.t.Fatalf("waiting for %s: %v", what, err)
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.t.Fatalf("decode: %v", err)
		}
		if match(f) {
			return f
		}
	}
}

func ofType(typ string) func(frame) bool {
	return func(f frame) bool { return f.Type == typ }
}

func TestPlay_SignedOutDropSnapsBack(t *testing.T) {
	ts := newTestServer(t)
	c := dial(t, ts, "")
	c.await("initial actor", ofType(playdto.TypeActor))

	c.send(playdto.ClientMessage{Type: playdto.TypeNavigate, Section: playdto.SectionPlay})
	c.await("start position", func(f frame) bool { return f.Type == playdto.TypePosition && f.FEN == string(position.Start) })
	if p := c.await("play login prompt", ofType(playdto.TypeNotice)); p.Text != "Please log in to play chess." {
		t.Fatalf("unexpected prompt %+v", p)
	}

	c.send(playdto.ClientMessage{Type: playdto.TypeDrop, From: "e2", To: "e4"})
	n := c.await("login notice", ofType(playdto.TypeNotice))
	if n.Text != "Please log in to play." || n.Level != "error" {
		t.Fatalf("unexpected notice %+v", n)
	}
	if r := c.await("drop result", ofType(playdto.TypeDropResult)); r.Accept {
		t.Fatalf("signed-out drop accepted")
	}
}

func TestPlay_AuthErrors(t *testing.T) {
	ts := newTestServer(t)
	c := dial(t, ts, "")
	c.send(playdto.ClientMessage{Type: playdto.TypeSignIn, Email: "a@example.com", Password: "nope"})
	if f := c.await("auth error", ofType(playdto.TypeAuthError)); f.Text != "Invalid email or password." {
		t.Fatalf("text=%q", f.Text)
	}
	c.send(playdto.ClientMessage{Type: playdto.TypeSignUp, Email: "a@example.com", Password: "secret1"})
	if f := c.await("auth error", ofType(playdto.TypeAuthError)); f.Text != "An account with this email already exists." {
		t.Fatalf("text=%q", f.Text)
	}
	c.send(playdto.ClientMessage{Type: playdto.TypeSignInProvider})
	if f := c.await("auth error", ofType(playdto.TypeAuthError)); f.Text != "Authentication service is unavailable." {
		t.Fatalf("text=%q", f.Text)
	}
	c.send(playdto.ClientMessage{Type: "bogus"})
	c.await("error", ofType(playdto.TypeError))
}

func TestPlay_MoveReachesOtherTab(t *testing.T) {
	ts := newTestServer(t)
	a := dial(t, ts, "")
	a.send(playdto.ClientMessage{Type: playdto.TypeSignIn, Email: "alice@example.com", Password: "secret1"})
	actor := a.await("signed-in actor", func(f frame) bool { return f.Type == playdto.TypeActor && f.UID == "u1" })
	if actor.Token == "" {
		t.Fatalf("no session token issued")
	}
	a.send(playdto.ClientMessage{Type: playdto.TypeNavigate, Section: playdto.SectionPlay})
	a.await("new game notice", func(f frame) bool { return f.Type == playdto.TypeNotice && f.Text == "New game started!" })

	b := dial(t, ts, actor.Token)
	b.await("restored actor", func(f frame) bool { return f.Type == playdto.TypeActor && f.UID == "u1" })
	b.send(playdto.ClientMessage{Type: playdto.TypeNavigate, Section: playdto.SectionPlay})
	b.await("start position", ofType(playdto.TypePosition))

	a.send(playdto.ClientMessage{Type: playdto.TypeLift, Square: "e2", Piece: "wP"})
	if f := a.await("lift", ofType(playdto.TypeLiftResult)); !f.Allow {
		t.Fatalf("white pawn lift refused")
	}
	a.send(playdto.ClientMessage{Type: playdto.TypeDrop, From: "e2", To: "e4"})
	res := a.await("drop", ofType(playdto.TypeDropResult))
	if !res.Accept || res.FEN == "" || res.FEN == string(position.Start) {
		t.Fatalf("e2e4 rejected: %+v", res)
	}

	b.await("remote position", func(f frame) bool { return f.Type == playdto.TypePosition && f.FEN == res.FEN })
	b.await("update notice", func(f frame) bool { return f.Type == playdto.TypeNotice && f.Text == "Game state updated!" })
}

func TestPlay_SignOutReachesProvider(t *testing.T) {
	signedOut := make(chan string, 1)
	ts := newTestServerWith(t, stubProvider{signedOut: signedOut})
	c := dial(t, ts, "")
	c.send(playdto.ClientMessage{Type: playdto.TypeSignIn, Email: "alice@example.com", Password: "secret1"})
	c.await("signed-in actor", func(f frame) bool { return f.Type == playdto.TypeActor && f.UID == "u1" })

	c.send(playdto.ClientMessage{Type: playdto.TypeSignOut})
	c.await("signed-out actor", func(f frame) bool { return f.Type == playdto.TypeActor && f.UID == "" })
	select {
	case uid := <-signedOut:
		if uid != "u1" {
			t.Fatalf("provider signed out %q", uid)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("provider SignOut not called")
	}
}
