package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/park285/Cheese-Board/internal/domain"
)

var ErrInvalidToken = errors.New("invalid id token")

const defaultTokenTTL = time.Hour

type idClaims struct {
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"name,omitempty"`
	gojwt.RegisteredClaims
}

// TokenVerifier restores an actor from an HS256 ID token presented by a reconnecting client.
type TokenVerifier struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenVerifier(secret, issuer string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), issuer: issuer, ttl: defaultTokenTTL, now: time.Now}
}

func (v *TokenVerifier) Enabled() bool { return v != nil && len(v.secret) > 0 }

// Issue signs a token for actor. The server hands it out after a successful sign-in
// when the identity service did not supply one.
func (v *TokenVerifier) Issue(actor *domain.Actor) (string, error) {
	if !v.Enabled() {
		return "", ErrInvalidToken
	}
	if actor == nil || strings.TrimSpace(actor.UID) == "" {
		return "", fmt.Errorf("issue token: %w", ErrInvalidToken)
	}
	now := v.now()
	claims := idClaims{
		Email:       actor.Email,
		DisplayName: actor.DisplayName,
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   actor.UID,
			Issuer:    v.issuer,
			IssuedAt:  gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(v.ttl)),
		},
	}
	return gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func (v *TokenVerifier) Verify(token string) (*domain.Actor, error) {
	if !v.Enabled() {
		return nil, ErrInvalidToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	opts := []gojwt.ParserOption{
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithTimeFunc(v.now),
		gojwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, gojwt.WithIssuer(v.issuer))
	}
	claims := &idClaims{}
	_, err := gojwt.ParseWithClaims(token, claims, func(*gojwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return &domain.Actor{
		UID:         claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.DisplayName,
		IDToken:     token,
	}, nil
}

// TokenFromRequest reads a bearer token from the Authorization header or the token query parameter.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if rest, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(rest)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
