package run

import (
	"net/http"
	"strconv"

	"bookpipeline/internal/apperr"
	"bookpipeline/internal/batch"
	"bookpipeline/internal/executor"
	"bookpipeline/internal/httpx"
)

type HTTPHandler struct {
	coord *Coordinator
}

func NewHTTPHandler(coord *Coordinator) *HTTPHandler {
	return &HTTPHandler{coord: coord}
}

// runResponse adds derived fields to a run.
type runResponse struct {
	Run
	Percent float64 `json:"percent"`
}

func present(r Run) runResponse {
	return runResponse{Run: r, Percent: r.Nodes.Percent()}
}

type submitRequest struct {
	Environment string `json:"environment" validate:"required,environment"`
	Source      string `json:"source" validate:"required,book_source"`
	BooklistRef string `json:"booklist_ref" validate:"required,max=1024"`
	CreatedBy   string `json:"created_by" validate:"max=255"`
	Notes       string `json:"notes" validate:"max=2000"`
}

// Submit handles POST /v1/runs
func (h *HTTPHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !httpx.DecodeAndValidate(w, r, &req) {
		return
	}

	run, err := h.coord.Submit(r.Context(), SubmitRequest{
		Environment: executor.Environment(req.Environment),
		Source:      batch.Source(req.Source),
		BooklistRef: req.BooklistRef,
		CreatedBy:   req.CreatedBy,
		Notes:       req.Notes,
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONStatus(w, r, http.StatusAccepted, present(run), nil)
}

// Poll handles GET /v1/runs/{id}
func (h *HTTPHandler) Poll(w http.ResponseWriter, r *http.Request) {
	run, err := h.coord.Poll(r.Context(), r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, present(run), nil)
}

// Cancel handles POST /v1/runs/{id}/cancel
func (h *HTTPHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	res, err := h.coord.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, res, nil)
}

// Abort handles POST /v1/runs/{id}/abort
func (h *HTTPHandler) Abort(w http.ResponseWriter, r *http.Request) {
	res, err := h.coord.Abort(r.Context(), r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, res, nil)
}

// Retry handles POST /v1/runs/{id}/retry
func (h *HTTPHandler) Retry(w http.ResponseWriter, r *http.Request) {
	run, err := h.coord.Retry(r.Context(), r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONStatus(w, r, http.StatusAccepted, present(run), nil)
}

type nodeUpdateRequest struct {
	ProcessedDelta int    `json:"processed_delta" validate:"min=0"`
	Status         string `json:"status" validate:"omitempty,oneof=pending running completed failed"`
	Total          *int   `json:"total" validate:"omitempty,min=0"`
}

// AdvanceNode handles POST /internal/runs/{id}/nodes/{node}
func (h *HTTPHandler) AdvanceNode(w http.ResponseWriter, r *http.Request) {
	node, err := strconv.Atoi(r.PathValue("node"))
	if err != nil {
		httpx.WriteError(w, r, apperr.Invalid("node must be a number"))
		return
	}
	var req nodeUpdateRequest
	if !httpx.DecodeAndValidate(w, r, &req) {
		return
	}

	id := r.PathValue("id")
	if batchID, ok := httpx.CallbackBatchFrom(r); ok {
		cur, err := h.coord.Get(r.Context(), id)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		if cur.BatchID != batchID {
			httpx.JSONError(w, r, http.StatusForbidden, "FORBIDDEN", "callback token is not valid for this run", nil)
			return
		}
	}
	var run Run
	if req.Total != nil {
		if run, err = h.coord.SizeNode(r.Context(), id, node, *req.Total); err != nil {
			httpx.WriteError(w, r, err)
			return
		}
	}
	if req.ProcessedDelta > 0 || req.Status != "" || req.Total == nil {
		if run, err = h.coord.Advance(r.Context(), id, node, req.ProcessedDelta, NodeStatus(req.Status)); err != nil {
			httpx.WriteError(w, r, err)
			return
		}
	}
	httpx.JSONSuccess(w, r, present(run), nil)
}
