package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/park285/Cheese-Board/internal/domain"
)

func TestTokenVerifier_RoundTrip(t *testing.T) {
	v := NewTokenVerifier("s3cret", "cheese-board")
	tok, err := v.Issue(&domain.Actor{UID: "u1", Email: "alice@example.com", DisplayName: "Alice"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	actor, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if actor.UID != "u1" || actor.DisplayName != "Alice" || actor.IDToken != tok {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestTokenVerifier_Rejects(t *testing.T) {
	v := NewTokenVerifier("s3cret", "cheese-board")
	tok, _ := v.Issue(&domain.Actor{UID: "u1"})

	other := NewTokenVerifier("different", "cheese-board")
	if _, err := other.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret accepted: %v", err)
	}

	v.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := v.Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token accepted: %v", err)
	}

	if _, err := NewTokenVerifier("", "").Verify(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("disabled verifier accepted a token")
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws?token=q1", nil)
	if got := TokenFromRequest(r); got != "q1" {
		t.Fatalf("query token=%q", got)
	}
	r.Header.Set("Authorization", "Bearer h1")
	if got := TokenFromRequest(r); got != "h1" {
		t.Fatalf("header token=%q", got)
	}
}
