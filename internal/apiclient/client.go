// Package apiclient is the HTTP client pipelinectl uses to drive the
// pipeline API.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"bookpipeline/internal/batch"
	"bookpipeline/internal/health"
	"bookpipeline/internal/recovery"
	"bookpipeline/internal/run"
)

// Error is a failure envelope returned by the API.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("api: %s: %s", e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    map[string]any  `json:"meta"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

type Client struct {
	http *resty.Client
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetHeader("Accept", "application/json").
			SetHeader("User-Agent", "pipelinectl/1.0").
			SetTimeout(cfg.Timeout).
			SetRetryCount(cfg.MaxRetries).
			SetRetryWaitTime(300 * time.Millisecond).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				if r == nil {
					return err != nil
				}
				return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() == http.StatusServiceUnavailable
			}),
	}
}

// RunView is a run as served by the API.
type RunView struct {
	run.Run
	Percent float64 `json:"percent"`
}

type SubmitRequest struct {
	Environment string `json:"environment"`
	Source      string `json:"source"`
	BooklistRef string `json:"booklist_ref"`
	CreatedBy   string `json:"created_by,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

func (c *Client) Submit(ctx context.Context, req SubmitRequest) (RunView, error) {
	var out RunView
	_, err := c.do(ctx, http.MethodPost, "/v1/runs", req, &out)
	return out, err
}

func (c *Client) Poll(ctx context.Context, runID string) (RunView, error) {
	var out RunView
	_, err := c.do(ctx, http.MethodGet, "/v1/runs/"+url.PathEscape(runID), nil, &out)
	return out, err
}

func (c *Client) Cancel(ctx context.Context, runID string) (run.CancelResult, error) {
	var out run.CancelResult
	_, err := c.do(ctx, http.MethodPost, "/v1/runs/"+url.PathEscape(runID)+"/cancel", nil, &out)
	return out, err
}

func (c *Client) Abort(ctx context.Context, runID string) (run.CancelResult, error) {
	var out run.CancelResult
	_, err := c.do(ctx, http.MethodPost, "/v1/runs/"+url.PathEscape(runID)+"/abort", nil, &out)
	return out, err
}

func (c *Client) Retry(ctx context.Context, runID string) (RunView, error) {
	var out RunView
	_, err := c.do(ctx, http.MethodPost, "/v1/runs/"+url.PathEscape(runID)+"/retry", nil, &out)
	return out, err
}

type ListOptions struct {
	Status      string
	Source      string
	Environment string
	Page        int
	PageSize    int
}

type Page struct {
	Total      int
	TotalPages int
}

func (c *Client) ListBatches(ctx context.Context, opts ListOptions) ([]batch.Batch, Page, error) {
	q := url.Values{}
	setIf(q, "status", opts.Status)
	setIf(q, "source", opts.Source)
	setIf(q, "environment", opts.Environment)
	if opts.Page > 0 {
		q.Set("page", fmt.Sprint(opts.Page))
	}
	if opts.PageSize > 0 {
		q.Set("page_size", fmt.Sprint(opts.PageSize))
	}
	path := "/v1/batches"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []batch.Batch
	meta, err := c.do(ctx, http.MethodGet, path, nil, &out)
	if err != nil {
		return nil, Page{}, err
	}
	return out, Page{Total: metaInt(meta, "total"), TotalPages: metaInt(meta, "total_pages")}, nil
}

func (c *Client) GetBatch(ctx context.Context, batchID string) (batch.Batch, error) {
	var out batch.Batch
	_, err := c.do(ctx, http.MethodGet, "/v1/batches/"+url.PathEscape(batchID), nil, &out)
	return out, err
}

func (c *Client) Stats(ctx context.Context, window string) (batch.Stats, error) {
	path := "/v1/batches/stats"
	if window != "" {
		path += "?window=" + url.QueryEscape(window)
	}
	var out batch.Stats
	_, err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) CheckResume(ctx context.Context, batchID string) (recovery.Precondition, error) {
	var out recovery.Precondition
	_, err := c.do(ctx, http.MethodGet, "/v1/batches/"+url.PathEscape(batchID)+"/resume", nil, &out)
	return out, err
}

func (c *Client) Resume(ctx context.Context, batchID, createdBy string) (recovery.ResumeResult, error) {
	var body any
	if createdBy != "" {
		body = map[string]string{"created_by": createdBy}
	}
	var out recovery.ResumeResult
	_, err := c.do(ctx, http.MethodPost, "/v1/batches/"+url.PathEscape(batchID)+"/resume", body, &out)
	return out, err
}

func (c *Client) CheckRollback(ctx context.Context, batchID string) (recovery.Precondition, error) {
	var out recovery.Precondition
	_, err := c.do(ctx, http.MethodGet, "/v1/batches/"+url.PathEscape(batchID)+"/rollback", nil, &out)
	return out, err
}

// Rollback returns the itemised result. A partial rollback is not an error.
func (c *Client) Rollback(ctx context.Context, batchID string) (recovery.RollbackResult, error) {
	var out recovery.RollbackResult
	_, err := c.do(ctx, http.MethodPost, "/v1/batches/"+url.PathEscape(batchID)+"/rollback", nil, &out)
	return out, err
}

func (c *Client) Health(ctx context.Context) (health.Report, error) {
	var out health.Report
	_, err := c.do(ctx, http.MethodGet, "/v1/health", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) (map[string]any, error) {
	var env envelope
	req := c.http.R().SetContext(ctx).SetResult(&env).SetError(&env)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() || !env.Success {
		return nil, &Error{StatusCode: resp.StatusCode(), Code: env.Error.Code, Message: env.Error.Message}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return env.Meta, nil
}

func setIf(q url.Values, key, val string) {
	if val != "" {
		q.Set(key, val)
	}
}

func metaInt(meta map[string]any, key string) int {
	if f, ok := meta[key].(float64); ok {
		return int(f)
	}
	return 0
}
