package meeting

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

const statusActive = "active"

// maxStatusResponseBytes bounds how much of the meeting service's response is
// read; the status document is a handful of fields.
const maxStatusResponseBytes = 64 * 1024

// HTTPValidator resolves meeting status against the meeting-management
// service (`GET {base}/meetings/{id}`), which fronts the meeting document
// store.
type HTTPValidator struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
}

func NewHTTPValidator(baseURL string, timeout time.Duration) (*HTTPValidator, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid meeting service URL %q", baseURL)
	}
	if timeout <= 0 {
		return nil, errors.New("meeting lookup timeout must be positive")
	}
	return &HTTPValidator{
		baseURL: trimmed,
		client:  &http.Client{},
		timeout: timeout,
	}, nil
}

type statusDocument struct {
	Status string `json:"status"`
}

func (v *HTTPValidator) IsActive(ctx context.Context, meetingID string) (bool, error) {
	if meetingID == "" {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/meetings/"+url.PathEscape(meetingID), nil)
	if err != nil {
		return false, fmt.Errorf("meeting lookup: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("meeting lookup: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return false, nil
	default:
		// Drain so the connection can be reused before reporting the failure.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxStatusResponseBytes))
		return false, fmt.Errorf("meeting lookup: unexpected status %d", resp.StatusCode)
	}

	var doc statusDocument
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxStatusResponseBytes)).Decode(&doc); err != nil {
		return false, fmt.Errorf("meeting lookup: decode response: %w", err)
	}
	return doc.Status == statusActive, nil
}
