package catalog

import (
	"net/http"

	"bookpipeline/internal/apperr"
	"bookpipeline/internal/httpx"
)

type HTTPHandler struct {
	svc *Service
}

func NewHTTPHandler(svc *Service) *HTTPHandler {
	return &HTTPHandler{svc: svc}
}

// GetByRef handles GET /v1/catalog/books/{ref}
func (h *HTTPHandler) GetByRef(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("ref")
	if ref == "" {
		httpx.WriteError(w, r, apperr.Invalid("item ref is required"))
		return
	}

	book, err := h.svc.GetByRef(r.Context(), ref)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}

	httpx.JSONSuccess(w, r, book, nil)
}
