// Package client talks to a running visitor counter over HTTP.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is where a server started with default config listens.
const DefaultBaseURL = "http://localhost:8000"

// ErrEmptyURL is returned when a page URL is required but empty.
var ErrEmptyURL = errors.New("page URL is required")

// Visit is a visitor record as returned by the server.
type Visit struct {
	ID            int64  `json:"id"`
	PageURL       string `json:"page_url"`
	VisitCount    int64  `json:"visit_count"`
	LastVisited   string `json:"last_visited"`
	CreatedAt     string `json:"created_at"`
	SecurityToken string `json:"security_token,omitempty"`
}

// StatusError is a non-2xx reply.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error: status %d: %s", e.StatusCode, e.Body)
}

// Tracker sends update and count requests to a server.
type Tracker struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New returns a Tracker for baseURL with a 10 second request timeout.
func New(baseURL string) *Tracker {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Tracker{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// UpdateVisitorCount records a visit to pageURL and returns the updated
// record, including its security token.
func (t *Tracker) UpdateVisitorCount(ctx context.Context, pageURL string) (*Visit, error) {
	if pageURL == "" {
		return nil, ErrEmptyURL
	}

	var v Visit
	if err := t.get(ctx, "/update", url.Values{"url": {pageURL}}, &v); err != nil {
		return nil, fmt.Errorf("update visitor count: %w", err)
	}
	return &v, nil
}

// GetVisitorCount returns the record for pageURL, or every record when
// pageURL is empty. An unknown pageURL yields an empty slice.
func (t *Tracker) GetVisitorCount(ctx context.Context, pageURL string) ([]Visit, error) {
	if pageURL == "" {
		visits := []Visit{}
		if err := t.get(ctx, "/count", nil, &visits); err != nil {
			return nil, fmt.Errorf("get visitor counts: %w", err)
		}
		return visits, nil
	}

	var v *Visit
	if err := t.get(ctx, "/count", url.Values{"url": {pageURL}}, &v); err != nil {
		return nil, fmt.Errorf("get visitor count: %w", err)
	}
	if v == nil {
		return []Visit{}, nil
	}
	return []Visit{*v}, nil
}

func (t *Tracker) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	target := t.BaseURL + endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := t.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
