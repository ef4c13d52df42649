package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"learnmusic/courseclient/internal/api"
	"learnmusic/courseclient/internal/audit"
	"learnmusic/courseclient/internal/credential"
	"learnmusic/courseclient/internal/guard"
	"learnmusic/courseclient/internal/observability"
	"learnmusic/courseclient/internal/session"
)

// Requester is the subset of api.Client the auth flow uses.
type Requester interface {
	Request(ctx context.Context, method, url string, body any, authorize bool) (json.RawMessage, error)
}

// Session is the result of a successful login. Claims are zero when the
// issued token could not be decoded; the token is still stored and usable.
type Session struct {
	Token  string
	Claims credential.Claims
}

type Config struct {
	LoginURL string
	Audit    audit.Recorder
	Logger   *zap.Logger
}

type Client struct {
	api      Requester
	store    *session.Store
	loginURL string
	inFlight *guard.Set
	audit    audit.Recorder
	log      *zap.Logger
}

func NewClient(requester Requester, store *session.Store, cfg Config) (*Client, error) {
	if requester == nil {
		return nil, fmt.Errorf("api requester is required")
	}
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if strings.TrimSpace(cfg.LoginURL) == "" {
		return nil, fmt.Errorf("login url is required")
	}
	recorder := cfg.Audit
	if recorder == nil {
		recorder = audit.Discard{}
	}
	return &Client{
		api:      requester,
		store:    store,
		loginURL: cfg.LoginURL,
		inFlight: guard.New(),
		audit:    recorder,
		log:      observability.OrNop(cfg.Logger).Named("auth"),
	}, nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Val struct {
		IDToken struct {
			JWTToken string `json:"jwtToken"`
		} `json:"idToken"`
	} `json:"val"`
}

// Login exchanges identifier and secret for a token and stores it. While a
// login for the same identifier is outstanding, further calls return
// ErrLoginInProgress without touching the network. The guard is released
// only after the request and the store write have finished.
func (c *Client) Login(ctx context.Context, identifier, secret string) (Session, error) {
	release, ok := c.inFlight.TryAcquire(identifier)
	if !ok {
		c.record("auth.login", identifier, audit.OutcomeSkipped, "login already in progress")
		return Session{}, ErrLoginInProgress
	}
	defer release()

	raw, err := c.api.Request(ctx, http.MethodPost, c.loginURL, loginRequest{Email: identifier, Password: secret}, false)
	if err != nil {
		authErr := classify(err)
		c.log.Info("login failed", zap.String("identifier", identifier), zap.Error(authErr))
		c.record("auth.login", identifier, audit.OutcomeFailed, authErr.Error())
		return Session{}, authErr
	}

	var resp loginResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		authErr := &Error{Kind: KindUnknown, Err: fmt.Errorf("decode login response: %w", err)}
		c.record("auth.login", identifier, audit.OutcomeFailed, authErr.Error())
		return Session{}, authErr
	}
	token := resp.Val.IDToken.JWTToken
	if token == "" {
		authErr := &Error{Kind: KindUnknown, Err: errors.New("login response carried no token")}
		c.record("auth.login", identifier, audit.OutcomeFailed, authErr.Error())
		return Session{}, authErr
	}

	if err := c.store.Set(ctx, token); err != nil {
		authErr := &Error{Kind: KindUnknown, Err: err}
		c.record("auth.login", identifier, audit.OutcomeFailed, authErr.Error())
		return Session{}, authErr
	}

	claims, err := credential.Decode(token)
	if err != nil {
		c.log.Warn("issued token is not decodable; identity unknown", zap.Error(err))
	}
	c.log.Info("login succeeded", zap.String("identifier", identifier))
	c.record("auth.login", identifier, audit.OutcomeSuccess, "")
	return Session{Token: token, Claims: claims}, nil
}

// Logout forgets the stored token.
func (c *Client) Logout(ctx context.Context) error {
	claims, _ := c.Identity(ctx)
	if err := c.store.Clear(ctx); err != nil {
		return err
	}
	c.record("auth.logout", claims.Email, audit.OutcomeSuccess, "")
	return nil
}

// Identity decodes the claims of the currently stored token. With no token
// stored it returns zero Claims and no error.
func (c *Client) Identity(ctx context.Context) (credential.Claims, error) {
	token, ok, err := c.store.Get(ctx)
	if err != nil {
		return credential.Claims{}, err
	}
	if !ok {
		return credential.Claims{}, nil
	}
	return credential.Decode(token)
}

// InFlight reports whether a login for identifier is outstanding.
func (c *Client) InFlight(identifier string) bool {
	return c.inFlight.InFlight(identifier)
}

func (c *Client) record(action, identifier, outcome, detail string) {
	if err := c.audit.Record(audit.Event{
		Actor:   identifier,
		Action:  action,
		Outcome: outcome,
		Detail:  detail,
	}); err != nil {
		c.log.Warn("audit write failed", zap.Error(err))
	}
}

func classify(err error) *Error {
	var httpErr *api.HTTPError
	if errors.As(err, &httpErr) && len(httpErr.Body) > 0 {
		return &Error{Kind: KindRemoteRejected, Details: string(httpErr.Body), Err: err}
	}
	return &Error{Kind: KindUnknown, Err: err}
}
