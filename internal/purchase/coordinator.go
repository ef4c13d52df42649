package purchase

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
)

var (
	ErrUnauthenticated    = errors.New("no authenticated identity")
	ErrPurchaseInProgress = errors.New("purchase of this course already in progress")
)

// Error is a purchase the remote did not accept.
type Error struct {
	Course string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("buy %q: %v", e.Course, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Request is the inner purchase document.
type Request struct {
	Email      string `json:"email"`
	CourseName string `json:"courseName"`
}

type wireBody struct {
	Body string `json:"body"`
}

// Receipt describes an accepted purchase. RefreshCatalog tells the caller the
// catalog it holds may now be out of date.
type Receipt struct {
	Email          string
	CourseName     string
	RefreshCatalog bool
	Response       json.RawMessage
}

// Requester sends an authorized request with an explicit token.
type Requester interface {
	RequestAs(ctx context.Context, method, url string, body any, token string) (json.RawMessage, error)
}

type TokenSource interface {
	Get(ctx context.Context) (string, bool, error)
}

type Config struct {
	PurchaseURL string
	Audit       audit.Recorder
	Logger      *zap.Logger
}

type Coordinator struct {
	api      Requester
	tokens   TokenSource
	url      string
	inFlight *guard.Set
	audit    audit.Recorder
	log      *zap.Logger
}

func NewCoordinator(requester Requester, tokens TokenSource, cfg Config) (*Coordinator, error) {
	if requester == nil {
		return nil, fmt.Errorf("api requester is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	if strings.TrimSpace(cfg.PurchaseURL) == "" {
		return nil, fmt.Errorf("purchase url is required")
	}
	recorder := cfg.Audit
	if recorder == nil {
		recorder = audit.Discard{}
	}
	return &Coordinator{
		api:      requester,
		tokens:   tokens,
		url:      cfg.PurchaseURL,
		inFlight: guard.New(),
		audit:    recorder,
		log:      observability.OrNop(cfg.Logger).Named("purchase"),
	}, nil
}

// EncodeBody renders the wire body: the serialized Request carried as the
// string value of a "body" field.
func EncodeBody(email, courseName string) (json.RawMessage, error) {
	inner, err := api.EncodeJSON(Request{Email: email, CourseName: courseName})
	if err != nil {
		return nil, fmt.Errorf("encode purchase request: %w", err)
	}
	outer, err := api.EncodeJSON(wireBody{Body: string(inner)})
	if err != nil {
		return nil, fmt.Errorf("encode purchase envelope: %w", err)
	}
	return outer, nil
}

// BuyCourse submits one purchase for the identity in the current token.
// Purchases of different courses may run in parallel; a second purchase of
// the same course while one is outstanding returns ErrPurchaseInProgress.
func (c *Coordinator) BuyCourse(ctx context.Context, courseName string) (Receipt, error) {
	token, email, err := c.identity(ctx)
	if err != nil {
		c.record("", courseName, audit.OutcomeFailed, err.Error())
		return Receipt{}, err
	}

	release, ok := c.inFlight.TryAcquire(courseName)
	if !ok {
		c.record(email, courseName, audit.OutcomeSkipped, ErrPurchaseInProgress.Error())
		return Receipt{}, ErrPurchaseInProgress
	}
	defer release()

	body, err := EncodeBody(email, courseName)
	if err != nil {
		return Receipt{}, err
	}

	// The header token is the one the email was read from.
	resp, err := c.api.RequestAs(ctx, http.MethodPost, c.url, body, token)
	if err != nil {
		purchaseErr := &Error{Course: courseName, Err: err}
		c.log.Warn("purchase failed", zap.String("course", courseName), zap.Error(err))
		c.record(email, courseName, audit.OutcomeFailed, err.Error())
		return Receipt{}, purchaseErr
	}

	c.log.Info("purchase accepted", zap.String("course", courseName))
	c.record(email, courseName, audit.OutcomeSuccess, "")
	return Receipt{
		Email:          email,
		CourseName:     courseName,
		RefreshCatalog: true,
		Response:       resp,
	}, nil
}

// InFlight reports whether a purchase of courseName is outstanding.
func (c *Coordinator) InFlight(courseName string) bool {
	return c.inFlight.InFlight(courseName)
}

// identity reads the stored token once and returns it with its email claim.
func (c *Coordinator) identity(ctx context.Context) (string, string, error) {
	token, ok, err := c.tokens.Get(ctx)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return "", "", ErrUnauthenticated
	}
	claims, err := credential.Decode(token)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if claims.Anonymous() {
		return "", "", ErrUnauthenticated
	}
	return token, claims.Email, nil
}

func (c *Coordinator) record(email, course, outcome, detail string) {
	if err := c.audit.Record(audit.Event{
		Actor:   email,
		Action:  "course.buy",
		Target:  course,
		Outcome: outcome,
		Detail:  detail,
	}); err != nil {
		c.log.Warn("audit write failed", zap.Error(err))
	}
}
