package run

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"bookpipeline/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPHandler_Submit(t *testing.T) {
	h := newHarness(t)
	handler := NewHTTPHandler(h.coord)

	t.Run("accepted", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.Submit(w, testutil.NewRequest(http.MethodPost, "/v1/runs", map[string]string{
			"environment": "local", "source": "STANDARD_EBOOKS", "booklist_ref": "lists/se.txt",
		}))

		res := testutil.RecordHTTPResponse(w)
		require.Equal(t, http.StatusAccepted, res.Code)
		data := res.Data()
		assert.Equal(t, "submitted", data["status"])
		assert.Equal(t, "local", data["executor"])
		assert.EqualValues(t, 0, data["percent"])
		assert.Len(t, data["nodes"], 4)
	})

	t.Run("validation", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.Submit(w, testutil.NewRequest(http.MethodPost, "/v1/runs", map[string]string{
			"environment": "qa", "source": "GUTENBERG",
		}))

		res := testutil.RecordHTTPResponse(w)
		assert.Equal(t, http.StatusBadRequest, res.Code)
		assert.Equal(t, "VALIDATION_ERROR", res.ErrorCode())
	})

	t.Run("malformed body", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.Submit(w, httptest.NewRequest(http.MethodPost, "/v1/runs", bytes.NewBufferString("{")))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHTTPHandler_PollAndCancel(t *testing.T) {
	h := newHarness(t)
	handler := NewHTTPHandler(h.coord)
	r := h.submit(t)

	t.Run("unknown run", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/runs/nope", nil)
		req.SetPathValue("id", "nope")
		handler.Poll(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("cancel then cancel again", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/runs/"+r.ID+"/cancel", nil)
		req.SetPathValue("id", r.ID)

		w := httptest.NewRecorder()
		handler.Cancel(w, req)
		res := testutil.RecordHTTPResponse(w)
		require.Equal(t, http.StatusOK, res.Code)
		assert.Equal(t, "tracking_only", res.Data()["semantics"])
		assert.Equal(t, false, res.Data()["process_stopped"])

		w = httptest.NewRecorder()
		handler.Cancel(w, req)
		res = testutil.RecordHTTPResponse(w)
		assert.Equal(t, http.StatusConflict, res.Code)
		assert.Equal(t, "INVALID_TRANSITION", res.ErrorCode())
	})
}

func TestHTTPHandler_AdvanceNode(t *testing.T) {
	h := newHarness(t)
	handler := NewHTTPHandler(h.coord)
	r := h.submit(t)

	call := func(node string, body any) testutil.RecordResponse {
		req := testutil.NewRequest(http.MethodPost, "/internal/runs/"+r.ID+"/nodes/"+node, body)
		req.SetPathValue("id", r.ID)
		req.SetPathValue("node", node)
		w := httptest.NewRecorder()
		handler.AdvanceNode(w, req)
		return testutil.RecordHTTPResponse(w)
	}

	assert.Equal(t, http.StatusBadRequest, call("first", map[string]any{}).Code)
	assert.Equal(t, http.StatusConflict, call("2", map[string]any{"processed_delta": 1}).Code)
	assert.Equal(t, http.StatusBadRequest, call("1", map[string]any{"status": "paused"}).Code)

	res := call("1", map[string]any{"total": 8, "processed_delta": 2, "status": "running"})
	require.Equal(t, http.StatusOK, res.Code)
	assert.EqualValues(t, 25, res.Data()["percent"])
	assert.Equal(t, "running", res.Data()["status"])
}
