package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/park285/Cheese-Board/internal/domain"
)

// HeaderProvider allows injecting per-request headers
type HeaderProvider func() map[string]string

// RESTClient talks to an identity-toolkit style REST API.
type RESTClient struct {
	baseURL string
	apiKey  string
	http    *fasthttp.Client
	headers HeaderProvider

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*RESTClient)

func WithTimeout(d time.Duration) Option {
	return func(c *RESTClient) { c.defaultTimeout = d }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(c *RESTClient) { c.headers = h }
}

func WithRetry(max int) Option {
	return func(c *RESTClient) { c.retryMax = max }
}

// WithDialer replaces the transport dialer; tests use it with an in-memory listener.
func WithDialer(dial fasthttp.DialFunc) Option {
	return func(c *RESTClient) { c.http.Dial = dial }
}

func NewRESTClient(baseURL, apiKey string, opts ...Option) *RESTClient {
	c := &RESTClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type passwordRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type idpRequest struct {
	PostBody          string `json:"postBody"`
	RequestURI        string `json:"requestUri"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type accountResponse struct {
	LocalID     string `json:"localId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	IDToken     string `json:"idToken"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *RESTClient) SignIn(ctx context.Context, email, password string) (*domain.Actor, error) {
	req := passwordRequest{Email: strings.TrimSpace(email), Password: password, ReturnSecureToken: true}
	return c.account(ctx, "/accounts:signInWithPassword", req)
}

func (c *RESTClient) SignUp(ctx context.Context, email, password string) (*domain.Actor, error) {
	req := passwordRequest{Email: strings.TrimSpace(email), Password: password, ReturnSecureToken: true}
	return c.account(ctx, "/accounts:signUp", req)
}

// SignInWithProvider exchanges a federated credential (e.g. a Google ID token) for an actor.
func (c *RESTClient) SignInWithProvider(ctx context.Context, providerID, credential string) (*domain.Actor, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		providerID = "google.com"
	}
	req := idpRequest{
		PostBody:          url.Values{"id_token": {credential}, "providerId": {providerID}}.Encode(),
		RequestURI:        "http://localhost",
		ReturnSecureToken: true,
	}
	return c.account(ctx, "/accounts:signInWithIdp", req)
}

// SignOut has nothing to revoke: ID tokens are not tracked server side and expire on their own.
func (c *RESTClient) SignOut(context.Context, *domain.Actor) error { return nil }

func (c *RESTClient) account(ctx context.Context, path string, in any) (*domain.Actor, error) {
	var resp accountResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, path, in, &resp); err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.LocalID) == "" {
		return nil, fmt.Errorf("%s: response without localId: %w", path, ErrUnavailable)
	}
	return &domain.Actor{
		UID:         resp.LocalID,
		Email:       resp.Email,
		DisplayName: resp.DisplayName,
		IDToken:     resp.IDToken,
	}, nil
}

func (c *RESTClient) doJSON(ctx context.Context, method, path string, in any, out any) error {
	endpoint := c.baseURL + path
	if c.apiKey != "" {
		endpoint += "?key=" + url.QueryEscape(c.apiKey)
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(endpoint)
	req.Header.SetContentType("application/json")

	if c.headers != nil {
		for k, v := range c.headers() {
			if strings.TrimSpace(k) != "" && strings.TrimSpace(v) != "" {
				req.Header.Set(k, v)
			}
		}
	}

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		deadline := c.computeDeadline(ctx)
		err := c.http.DoDeadline(req, resp, deadline)
		if err != nil {
			lastErr = fmt.Errorf("request failed: %v: %w", err, ErrUnavailable)
			if attempt == attempts {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status >= 400 && status < 500 {
			var er errorResponse
			if jsonErr := json.Unmarshal(resp.Body(), &er); jsonErr == nil && er.Error.Message != "" {
				return codeError(er.Error.Message)
			}
			return fmt.Errorf("auth api error: status=%d body=%s: %w", status, truncate(string(resp.Body()), 512), ErrUnavailable)
		}
		if status < 200 || status >= 300 {
			lastErr = fmt.Errorf("auth api error: status=%d: %w", status, ErrUnavailable)
			if attempt == attempts || !shouldRetryStatus(status) {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		if out != nil {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (c *RESTClient) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
