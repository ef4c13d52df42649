package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"learnmusic/courseclient/internal/observability"
)

var (
	ErrEnvelopeParse = errors.New("catalog envelope parse failure")
	ErrPayloadParse  = errors.New("catalog payload parse failure")
)

type Stage string

const (
	StageRequest  Stage = "request"
	StageEnvelope Stage = "envelope"
	StagePayload  Stage = "payload"
)

// FetchError reports which step of a catalog fetch failed.
type FetchError struct {
	Stage Stage
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch courses (%s): %v", e.Stage, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrEnvelopeParse:
		return e.Stage == StageEnvelope
	case ErrPayloadParse:
		return e.Stage == StagePayload
	}
	return false
}

// Course is one purchasable item. Raw keeps the full remote object.
type Course struct {
	ID   string          `json:"_id"`
	Name string          `json:"course_name"`
	Raw  json.RawMessage `json:"-"`
}

type Phase int

const (
	Pending Phase = iota
	Resolved
	Failed
)

func (p Phase) String() string {
	switch p {
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

type State struct {
	Phase   Phase
	Courses []Course
	Err     error
	// Stale is set after Invalidate until the next successful fetch. A
	// failed fetch keeps the last good Courses and marks them stale.
	Stale bool
}

type Requester interface {
	Request(ctx context.Context, method, url string, body any, authorize bool) (json.RawMessage, error)
}

type Loader struct {
	api Requester
	url string
	log *zap.Logger

	mu    sync.RWMutex
	state State
}

func NewLoader(requester Requester, coursesURL string, logger *zap.Logger) (*Loader, error) {
	if requester == nil {
		return nil, fmt.Errorf("api requester is required")
	}
	if strings.TrimSpace(coursesURL) == "" {
		return nil, fmt.Errorf("courses url is required")
	}
	return &Loader{
		api: requester,
		url: coursesURL,
		log: observability.OrNop(logger).Named("catalog"),
	}, nil
}

type envelope struct {
	Body *string `json:"body"`
}

// FetchCourses loads the public catalog. The response body field holds the
// course array as a JSON string, so it is decoded twice.
func (l *Loader) FetchCourses(ctx context.Context) ([]Course, error) {
	raw, err := l.api.Request(ctx, http.MethodGet, l.url, nil, false)
	if err != nil {
		return nil, l.fail(&FetchError{Stage: StageRequest, Err: err})
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, l.fail(&FetchError{Stage: StageEnvelope, Err: err})
	}
	if env.Body == nil {
		return nil, l.fail(&FetchError{Stage: StagePayload, Err: errors.New("envelope has no body")})
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(*env.Body), &items); err != nil {
		return nil, l.fail(&FetchError{Stage: StagePayload, Err: err})
	}
	courses := make([]Course, 0, len(items))
	for _, item := range items {
		var c Course
		if err := json.Unmarshal(item, &c); err != nil {
			return nil, l.fail(&FetchError{Stage: StagePayload, Err: err})
		}
		c.Raw = item
		courses = append(courses, c)
	}

	l.mu.Lock()
	l.state = State{Phase: Resolved, Courses: courses}
	l.mu.Unlock()

	l.log.Debug("catalog resolved", zap.Int("courses", len(courses)))
	return cloneCourses(courses), nil
}

// State returns a snapshot; the course slice is a copy.
func (l *Loader) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := l.state
	s.Courses = cloneCourses(s.Courses)
	return s
}

// Invalidate marks the current catalog stale so the caller knows to refetch.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.Phase == Resolved {
		l.state.Stale = true
	}
}

func (l *Loader) fail(err *FetchError) error {
	l.log.Warn("catalog fetch failed", zap.String("stage", string(err.Stage)), zap.Error(err.Err))
	l.mu.Lock()
	prev := l.state.Courses
	l.state = State{Phase: Failed, Courses: prev, Err: err, Stale: prev != nil}
	l.mu.Unlock()
	return err
}

func cloneCourses(in []Course) []Course {
	if in == nil {
		return nil
	}
	out := make([]Course, len(in))
	copy(out, in)
	return out
}
