package recovery

import (
	"net/http"

	"bookpipeline/internal/httpx"
)

type HTTPHandler struct {
	resume   *ResumeEngine
	rollback *RollbackEngine
}

func NewHTTPHandler(resume *ResumeEngine, rollback *RollbackEngine) *HTTPHandler {
	return &HTTPHandler{resume: resume, rollback: rollback}
}

type resumeRequest struct {
	CreatedBy string `json:"created_by" validate:"max=255"`
}

// CheckResume handles GET /v1/batches/{id}/resume
func (h *HTTPHandler) CheckResume(w http.ResponseWriter, r *http.Request) {
	p, err := h.resume.Check(r.Context(), r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, p, nil)
}

// Resume handles POST /v1/batches/{id}/resume
func (h *HTTPHandler) Resume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if r.ContentLength != 0 && !httpx.DecodeAndValidate(w, r, &req) {
		return
	}
	res, err := h.resume.Resume(r.Context(), r.PathValue("id"), req.CreatedBy)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONStatus(w, r, http.StatusAccepted, res, nil)
}

// CheckRollback handles GET /v1/batches/{id}/rollback
func (h *HTTPHandler) CheckRollback(w http.ResponseWriter, r *http.Request) {
	p, err := h.rollback.Check(r.Context(), r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, p, nil)
}

// Rollback handles POST /v1/batches/{id}/rollback. A partial rollback is
// a successful response whose outcome is PARTIAL.
func (h *HTTPHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	res, err := h.rollback.Rollback(r.Context(), r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	meta := map[string]any{"outcome": res.Outcome}
	if perr := res.Err(); perr != nil {
		meta["warning"] = perr.Error()
	}
	httpx.JSONSuccess(w, r, res, meta)
}
