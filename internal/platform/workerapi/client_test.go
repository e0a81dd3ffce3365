package workerapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string, retries int) *Client {
	return NewClient(Config{BaseURL: url, Token: "s3cret", RPS: 1000, MaxRetries: retries})
}

func TestClient_Submit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/jobs", r.URL.Path)
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		assert.Equal(t, "batch-1", r.Header.Get("Idempotency-Key"))

		var req JobRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "books-staging", req.Queue)
		assert.Equal(t, []string{"a", "b"}, req.Items)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(JobAccepted{ID: "job-9", LogURL: "https://logs/job-9"})
	}))
	defer srv.Close()

	out, err := newTestClient(srv.URL, 0).Submit(context.Background(), JobRequest{
		Queue: "books-staging", BatchID: "batch-1", Items: []string{"a", "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, "job-9", out.ID)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(JobStatus{ID: "job-1", Status: "running", Stage: "persist"})
	}))
	defer srv.Close()

	st, err := newTestClient(srv.URL, 3).Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "persist", st.Stage)
	assert.EqualValues(t, 3, calls.Load())
}

func TestClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/jobs/gone":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()
	c := newTestClient(srv.URL, 0)

	_, err := c.Get(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrJobNotFound)

	err = c.Cancel(context.Background(), "broken")
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusBadGateway, te.StatusCode)
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url, 0).Submit(context.Background(), JobRequest{BatchID: "b"})
	var te *TransportError
	assert.True(t, errors.As(err, &te))
}
