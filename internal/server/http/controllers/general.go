package controllers

import (
	"context"
	"net/http"
)

// HealthChecker reports whether the engine can serve traffic.
type HealthChecker func(ctx context.Context) error

// GeneralController serves health and readiness endpoints.
type GeneralController struct {
	check HealthChecker
}

// NewGeneralController creates the health controller.
func NewGeneralController(check HealthChecker) *GeneralController {
	return &GeneralController{check: check}
}

// RegisterRoutes registers the health endpoints.
func (c *GeneralController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/healthz", c.handleHealth)
}

func (c *GeneralController) handleHealth(w http.ResponseWriter, r *http.Request) {
	if c.check != nil {
		if err := c.check(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			writeJSON(w, map[string]string{"status": "not_serving"})
			return
		}
	}
	writeJSON(w, map[string]string{"status": "ok"})
}
