package health

import (
	"net/http"

	"bookpipeline/internal/httpx"
)

type HTTPHandler struct {
	monitor *Monitor
}

func NewHTTPHandler(monitor *Monitor) *HTTPHandler {
	return &HTTPHandler{monitor: monitor}
}

// Health handles GET /v1/health
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	report, err := h.monitor.Health(r.Context())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	httpx.JSONSuccess(w, r, report, map[string]any{"window": h.monitor.agg.Window().String()})
}
