package batch

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"bookpipeline/internal/apperr"
	"bookpipeline/internal/httpx"
)

type HTTPHandler struct {
	svc *Service
}

func NewHTTPHandler(svc *Service) *HTTPHandler {
	return &HTTPHandler{svc: svc}
}

// List handles GET /v1/batches
func (h *HTTPHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	page, _ := strconv.Atoi(query.Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(query.Get("page_size"))
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	q := Query{
		Status:      Status(strings.ToUpper(query.Get("status"))),
		Source:      Source(strings.ToUpper(query.Get("source"))),
		Environment: query.Get("environment"),
		CreatedBy:   query.Get("created_by"),
		Limit:       pageSize,
		Offset:      (page - 1) * pageSize,
	}

	batches, total, err := h.svc.List(r.Context(), q)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if batches == nil {
		batches = []Batch{}
	}

	httpx.JSONSuccess(w, r, batches, map[string]any{
		"page":        page,
		"page_size":   pageSize,
		"total":       total,
		"total_pages": (total + pageSize - 1) / pageSize,
	})
}

// Get handles GET /v1/batches/{id}
func (h *HTTPHandler) Get(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, b, nil)
}

// Stats handles GET /v1/batches/stats?window=7d
func (h *HTTPHandler) Stats(w http.ResponseWriter, r *http.Request) {
	window, err := ParseWindow(r.URL.Query().Get("window"))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	stats, err := h.svc.Stats(r.Context(), window)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, stats, map[string]any{"window": window.String()})
}

// ParseWindow accepts Go durations plus a day suffix ("7d"). An empty
// string means no window.
func ParseWindow(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, apperr.Invalid("invalid window %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, apperr.Invalid("invalid window %q", s)
	}
	return d, nil
}
