// Package dashboard fetches the personalised welcome shown after login.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var ErrNoMessage = errors.New("dashboard response has no message")

type Requester interface {
	Request(ctx context.Context, method, url string, body any, authorize bool) (json.RawMessage, error)
}

type Loader struct {
	api Requester
	url string
}

func NewLoader(requester Requester, dashboardURL string) (*Loader, error) {
	if requester == nil {
		return nil, fmt.Errorf("api requester is required")
	}
	if strings.TrimSpace(dashboardURL) == "" {
		return nil, fmt.Errorf("dashboard url is required")
	}
	return &Loader{api: requester, url: dashboardURL}, nil
}

func (l *Loader) Welcome(ctx context.Context) (string, error) {
	raw, err := l.api.Request(ctx, http.MethodGet, l.url, nil, true)
	if err != nil {
		return "", fmt.Errorf("fetch dashboard: %w", err)
	}
	var resp struct {
		Message *string `json:"message"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode dashboard response: %w", err)
	}
	if resp.Message == nil {
		return "", ErrNoMessage
	}
	return *resp.Message, nil
}
