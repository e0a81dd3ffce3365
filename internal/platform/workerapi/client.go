package workerapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// ErrJobNotFound is returned when the worker queue has no record of a job.
var ErrJobNotFound = errors.New("job not found")

// TransportError is a failure to get a usable answer from the worker queue:
// the request never completed or it ended in a non-success status after
// retries.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("worker api %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("worker api %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

type Config struct {
	BaseURL    string
	Token      string
	RPS        int
	MaxRetries int
	Timeout    time.Duration
}

// Client talks to the remote worker queue. Requests are rate limited and
// retried on 429 and 5xx responses.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
}

func NewClient(cfg Config) *Client {
	if cfg.RPS <= 0 {
		cfg.RPS = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := &Client{
		limiter: rate.NewLimiter(rate.Every(time.Second/time.Duration(cfg.RPS)), 1),
	}
	c.http = resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("User-Agent", "bookpipeline/1.0").
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(4 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil {
				return err != nil
			}
			return r.StatusCode() == http.StatusTooManyRequests || (r.StatusCode() >= 500 && r.StatusCode() <= 504)
		}).
		OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return c.limiter.Wait(req.Context())
		})
	if cfg.Token != "" {
		c.http.SetAuthToken(cfg.Token)
	}
	return c
}

// Submit enqueues a job. The batch id doubles as the idempotency key so a
// retried submission does not enqueue twice.
func (c *Client) Submit(ctx context.Context, req JobRequest) (*JobAccepted, error) {
	var out JobAccepted
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", req.BatchID).
		SetBody(req).
		SetResult(&out).
		Post("/v1/jobs")
	if err := check("submit", resp, err); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, &TransportError{Op: "submit", Err: errors.New("response carried no job id")}
	}
	return &out, nil
}

func (c *Client) Get(ctx context.Context, jobID string) (*JobStatus, error) {
	var out JobStatus
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", jobID).
		SetResult(&out).
		Get("/v1/jobs/{id}")
	if err := check("get", resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cancel asks the worker to stop a job. A job the worker no longer knows
// about is reported as ErrJobNotFound.
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", jobID).
		Delete("/v1/jobs/{id}")
	return check("cancel", resp, err)
}

func check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return ErrJobNotFound
	case resp.IsError():
		return &TransportError{Op: op, StatusCode: resp.StatusCode()}
	}
	return nil
}
