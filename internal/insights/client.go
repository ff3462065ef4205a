package insights

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Sentinel errors for insights API failures.
var (
	ErrUnavailable    = errors.New("insights api unavailable")
	ErrThrottled      = errors.New("insights api rate limited")
	ErrReportNotFound = errors.New("report run not found")
	ErrRequestFailed  = errors.New("insights api request failed")
)

// IsTransient reports whether err is worth retrying: rate limiting and
// transport-level faults pass, everything else (bad request, not found,
// usage errors) does not.
func IsTransient(err error) bool {
	return errors.Is(err, ErrThrottled) || errors.Is(err, ErrUnavailable)
}

// TimeRange is the inclusive date window a report covers.
type TimeRange struct {
	Since string `json:"since"`
	Until string `json:"until"`
}

func (tr TimeRange) String() string {
	return fmt.Sprintf("%s..%s", tr.Since, tr.Until)
}

// ReportParams describes a report computation. Set once per run and reused
// verbatim when a failed run is restarted.
type ReportParams struct {
	Level      string    `json:"level"`
	TimeRange  TimeRange `json:"time_range"`
	Breakdowns []string  `json:"breakdowns"`
	Metrics    []string  `json:"metrics"`
}

// ReportRun is the server-reported snapshot of a running report.
type ReportRun struct {
	ID              string `json:"report_run_id"`
	Status          string `json:"status"`
	PercentComplete int    `json:"percent_complete"`
	RowCount        int    `json:"row_count"`
}

// Result is the raw output of a completed report. Rows are opaque to this
// package; interpreting them is the caller's concern.
type Result struct {
	ReportRunID string           `json:"report_run_id"`
	Rows        []map[string]any `json:"rows"`
}

// Client is the interface for driving report runs on the insights API.
// Implementations must be safe for concurrent use.
type Client interface {
	StartReport(ctx context.Context, params ReportParams) (*ReportRun, error)
	GetReport(ctx context.Context, id string) (*ReportRun, error)
	ExecuteBatch(ctx context.Context, reqs []BatchRequest) ([]BatchResponse, error)
	FetchResult(ctx context.Context, id string) (*Result, error)
}

// HTTPClient implements Client using the insights JSON API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a new insights HTTP client.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) StartReport(ctx context.Context, params ReportParams) (*ReportRun, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding report params: %w", err)
	}

	u := fmt.Sprintf("%s/v1/reports", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, http.StatusCreated, http.StatusOK); err != nil {
		return nil, err
	}

	var run ReportRun
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return nil, fmt.Errorf("decoding report run: %w", err)
	}
	return &run, nil
}

func (c *HTTPClient) GetReport(ctx context.Context, id string) (*ReportRun, error) {
	u := fmt.Sprintf("%s/v1/reports/%s", c.baseURL, url.PathEscape(id))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, http.StatusOK); err != nil {
		return nil, err
	}

	var run ReportRun
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return nil, fmt.Errorf("decoding report run: %w", err)
	}
	return &run, nil
}

func (c *HTTPClient) ExecuteBatch(ctx context.Context, reqs []BatchRequest) ([]BatchResponse, error) {
	body, err := json.Marshal(batchEnvelope{Requests: reqs})
	if err != nil {
		return nil, fmt.Errorf("encoding batch: %w", err)
	}

	u := fmt.Sprintf("%s/v1/batch", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, http.StatusOK); err != nil {
		return nil, err
	}

	var batchResp batchResponseEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&batchResp); err != nil {
		return nil, fmt.Errorf("decoding batch response: %w", err)
	}
	if len(batchResp.Responses) != len(reqs) {
		return nil, fmt.Errorf("%w: batch returned %d responses for %d requests",
			ErrRequestFailed, len(batchResp.Responses), len(reqs))
	}
	return batchResp.Responses, nil
}

func (c *HTTPClient) FetchResult(ctx context.Context, id string) (*Result, error) {
	u := fmt.Sprintf("%s/v1/reports/%s/rows", c.baseURL, url.PathEscape(id))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode, http.StatusOK); err != nil {
		return nil, err
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding result: %w", err)
	}
	return &result, nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// classifyStatus maps an unexpected HTTP status to a sentinel error.
func classifyStatus(got int, want ...int) error {
	for _, w := range want {
		if got == w {
			return nil
		}
	}
	switch {
	case got == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrThrottled, got)
	case got == http.StatusNotFound:
		return fmt.Errorf("%w: status %d", ErrReportNotFound, got)
	case got >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, got)
	default:
		return fmt.Errorf("%w: status %d", ErrRequestFailed, got)
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
