package controllers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/tidalhq/tidal/internal/event"
	"github.com/tidalhq/tidal/internal/eventlog"
	"github.com/tidalhq/tidal/internal/fault"
	"github.com/tidalhq/tidal/internal/identity"
	"github.com/tidalhq/tidal/internal/ratelimit"
	adminsvc "github.com/tidalhq/tidal/internal/services/admin"
	"github.com/tidalhq/tidal/pkg/log"
)

// AdminController serves the control plane endpoints.
type AdminController struct {
	svc    *adminsvc.Service
	auth   identity.Authorizer
	logger log.Logger
}

// NewAdminController creates the control plane controller.
func NewAdminController(svc *adminsvc.Service, auth identity.Authorizer, logger log.Logger) *AdminController {
	return &AdminController{svc: svc, auth: auth, logger: logger}
}

// RegisterRoutes registers the control plane endpoints.
func (c *AdminController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/admin/tenants", withAuth(c.auth, c.handleCreateTenant))
	mux.HandleFunc("GET /v1/admin/tenants", withAuth(c.auth, c.handleListTenants))
	mux.HandleFunc("POST /v1/admin/tenants/suspend", withAuth(c.auth, c.handleSuspend))
	mux.HandleFunc("POST /v1/admin/tenants/resume", withAuth(c.auth, c.handleResume))
	mux.HandleFunc("GET /v1/admin/tenants/stats", withAuth(c.auth, c.handleTenantStats))
	mux.HandleFunc("POST /v1/admin/projects", withAuth(c.auth, c.handleCreateProject))
	mux.HandleFunc("POST /v1/admin/keys", withAuth(c.auth, c.handleCreateKey))
	mux.HandleFunc("POST /v1/admin/keys/revoke", withAuth(c.auth, c.handleRevokeKey))
	mux.HandleFunc("POST /v1/admin/retention", withAuth(c.auth, c.handleSetRetention))
	mux.HandleFunc("GET /v1/admin/usage", withAuth(c.auth, c.handleUsage))
}

func decodeBody(r *http.Request, into any) error {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return fault.New(fault.ValidationFailed, "malformed request body")
	}
	return nil
}

type tenantReq struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	Plan string `json:"plan,omitempty"`
}

func (c *AdminController) handleCreateTenant(w http.ResponseWriter, r *http.Request, ac identity.AuthContext) {
	var req tenantReq
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	t, err := c.svc.CreateTenant(r.Context(), ac, identity.Tenant{ID: req.ID, Name: req.Name, Plan: req.Plan})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, t)
}

func (c *AdminController) handleListTenants(w http.ResponseWriter, r *http.Request, ac identity.AuthContext) {
	tenants, err := c.svc.ListTenants(r.Context(), ac)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"tenants": tenants})
}

type tenantIDReq struct {
	Tenant string `json:"tenant"`
}

func (c *AdminController) handleSuspend(w http.ResponseWriter, r *http.Request, ac identity.AuthContext) {
	var req tenantIDReq
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	closed, err := c.svc.SuspendTenant(r.Context(), ac, req.Tenant)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"closed_connections": closed})
}

func (c *AdminController) handleResume(w http.ResponseWriter, r *http.Request, ac identity.AuthContext) {
	var req tenantIDReq
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := c.svc.ResumeTenant(r.Context(), ac, req.Tenant); err != nil {
		writeError(w, err)
		return
	}
	writeNoContent(w)
}

func (c *AdminController) handleTenantStats(w http.ResponseWriter, r *http.Request, ac identity.AuthContext) {
	stats, err := c.svc.TenantStats(r.Context(), ac, r.URL.Query().Get("tenant"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, stats)
}

type projectReq struct {
	Tenant string `json:"tenant"`
	Name   string `json:"name"`

	MaxConnections  int     `json:"max_connections,omitempty"`
	MaxEventsPerSec float64 `json:"max_events_per_sec,omitempty"`
	MaxPayloadBytes int     `json:"max_payload_bytes,omitempty"`
}

func (c *AdminController) handleCreateProject(w http.ResponseWriter, r *http.Request, ac identity.AuthContext) {
	var req projectReq
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := c.svc.CreateProject(r.Context(), ac, identity.Project{
		TenantID: req.Tenant,
		Name:     req.Name,
		Limits: identity.Limits{
			MaxConnections:  req.MaxConnections,
			MaxEventsPerSec: req.MaxEventsPerSec,
			MaxPayloadBytes: req.MaxPayloadBytes,
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, p)
}

type keyReq struct {
	Tenant  string   `json:"tenant"`
	Project string   `json:"project"`
	Scopes  []string `json:"scopes"`

	RateCapacity float64 `json:"rate_capacity,omitempty"`
	RateRefill   float64 `json:"rate_refill,omitempty"`
	ExpiresAtMs  int64   `json:"expires_at_ms,omitempty"`
}

func (c *AdminController) handleCreateKey(w http.ResponseWriter, r *http.Request, ac identity.AuthContext) {
	var req keyReq
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var expires time.Time
	if req.ExpiresAtMs > 0 {
		expires = time.UnixMilli(req.ExpiresAtMs)
	}
	secret, key, err := c.svc.CreateAPIKey(r.Context(), ac, req.Tenant, req.Project, req.Scopes,
		ratelimit.Limit{Capacity: req.RateCapacity, RefillPerSec: req.RateRefill}, expires)
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]any{"secret": secret, "hash": key.Hash})
}

type revokeReq struct {
	Hash string `json:"hash"`
}

func (c *AdminController) handleRevokeKey(w http.ResponseWriter, r *http.Request, ac identity.AuthContext) {
	var req revokeReq
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := c.svc.RevokeAPIKey(r.Context(), ac, req.Hash); err != nil {
		writeError(w, err)
		return
	}
	writeNoContent(w)
}

type retentionReq struct {
	Tenant   string `json:"tenant"`
	Project  string `json:"project"`
	Topic    string `json:"topic"`
	MaxAgeMs int64  `json:"max_age_ms,omitempty"`
	MaxBytes int64  `json:"max_bytes,omitempty"`
}

func (c *AdminController) handleSetRetention(w http.ResponseWriter, r *http.Request, ac identity.AuthContext) {
	var req retentionReq
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	scope := event.Scope{Tenant: req.Tenant, Project: req.Project}
	p := eventlog.Policy{MaxAge: time.Duration(req.MaxAgeMs) * time.Millisecond, MaxBytes: req.MaxBytes}
	if err := c.svc.SetRetentionPolicy(r.Context(), ac, scope, req.Topic, p); err != nil {
		writeError(w, err)
		return
	}
	writeNoContent(w)
}

func (c *AdminController) handleUsage(w http.ResponseWriter, r *http.Request, ac identity.AuthContext) {
	q := r.URL.Query()
	total, err := c.svc.UsageTotal(r.Context(), ac, q.Get("tenant"), q.Get("project"), q.Get("metric"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"metric": q.Get("metric"), "total": total})
}
