package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// APIError represents an error returned by the admin API (status >= 400).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// RoundState summarises one round as reported by the admin API.
type RoundState struct {
	SolutionID   uint64    `json:"solution_id"`
	TraceID      string    `json:"trace_id"`
	Outcome      string    `json:"outcome"`
	Error        string    `json:"error,omitempty"`
	Generation   uint64    `json:"generation"`
	NumEdges     int       `json:"num_edges"`
	NumNodes     int       `json:"num_nodes"`
	NumSamples   int       `json:"num_samples"`
	NumGroups    int       `json:"num_groups"`
	Segmentation []uint64  `json:"segmentation,omitempty"`
	Started      time.Time `json:"started"`
	DurationMs   float64   `json:"duration_ms"`
}

// Status is the body of GET /state.
type Status struct {
	LastSolutionID uint64      `json:"last_solution_id"`
	Pending        int         `json:"pending"`
	Latest         *RoundState `json:"latest"`
	LatestAttempt  *RoundState `json:"latest_attempt"`
}

// Round is the progress of one round.
type Round struct {
	SolutionID uint64    `json:"solution_id"`
	TraceID    string    `json:"trace_id,omitempty"`
	Status     string    `json:"status"`
	Outcome    string    `json:"outcome,omitempty"`
	Error      string    `json:"error,omitempty"`
	QueuedAt   time.Time `json:"queued_at"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Finished reports whether the round reached a terminal status.
func (r *Round) Finished() bool {
	return r.Status == "done" || r.Status == "discarded"
}

// Admin is a client for the admin HTTP API.
type Admin struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// NewAdmin creates an admin client for baseURL (e.g. http://localhost:9095).
func NewAdmin(baseURL, authToken string) *Admin {
	return &Admin{
		baseURL:    baseURL,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// jsonRequest executes one API call, decoding a JSON response into out.
func (a *Admin) jsonRequest(ctx context.Context, method, endpoint string, payload, out any) error {
	var reqBody io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal JSON payload: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if a.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+a.authToken)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connection error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		if json.Unmarshal(respBody, &errResp) == nil {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp["error"]}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// State returns the service status. withSegmentation includes the latest
// segmentation.
func (a *Admin) State(ctx context.Context, withSegmentation bool) (*Status, error) {
	endpoint := "/state"
	if withSegmentation {
		endpoint += "?segmentation=true"
	}
	var st Status
	if err := a.jsonRequest(ctx, http.MethodGet, endpoint, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Round returns the progress of round id.
func (a *Admin) Round(ctx context.Context, id uint64) (*Round, error) {
	var r Round
	if err := a.jsonRequest(ctx, http.MethodGet, fmt.Sprintf("/rounds/%d", id), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Refresh asks the service to reload edge features.
func (a *Admin) Refresh(ctx context.Context) error {
	return a.jsonRequest(ctx, http.MethodPost, "/refresh", nil, nil)
}

// WaitRound polls round id until it finishes or ctx is done.
func (a *Admin) WaitRound(ctx context.Context, id uint64, interval time.Duration) (*Round, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		r, err := a.Round(ctx, id)
		if err != nil {
			return nil, err
		}
		if r.Finished() {
			return r, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for round %d: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}
