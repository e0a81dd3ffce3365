package debuglog

import (
	"log/slog"
	"net/http"
	"strconv"

	"bookpipeline/internal/apperr"
	"bookpipeline/internal/httpx"
)

type HTTPHandler struct {
	buf *Buffer
}

func NewHTTPHandler(buf *Buffer) *HTTPHandler {
	return &HTTPHandler{buf: buf}
}

// Logs handles GET /v1/debug/logs?limit=100&level=warn
func (h *HTTPHandler) Logs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httpx.WriteError(w, r, apperr.Invalid("limit must be a positive number"))
			return
		}
		limit = n
	}

	level := slog.LevelDebug
	if v := q.Get("level"); v != "" {
		if err := level.UnmarshalText([]byte(v)); err != nil {
			httpx.WriteError(w, r, apperr.Invalid("unknown level %q", v))
			return
		}
	}

	entries := h.buf.Entries(limit, level)
	httpx.JSONSuccess(w, r, entries, map[string]any{
		"count":    len(entries),
		"buffered": h.buf.Len(),
		"capacity": h.buf.Cap(),
	})
}
