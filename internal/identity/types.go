// Package identity is the control plane: tenants, projects, API keys, and
// usage records, persisted in SQLite. It implements the capability check the
// ingestion and subscribe paths consume.
package identity

import (
	"time"

	"github.com/tidalhq/tidal/internal/event"
	"github.com/tidalhq/tidal/internal/ratelimit"
)

// Tenant statuses.
const (
	StatusActive    = "active"
	StatusTrial     = "trial"
	StatusPastDue   = "past_due"
	StatusSuspended = "suspended"
)

// API key scopes.
const (
	ScopePublish    = "events:publish"
	ScopeSubscribe  = "events:subscribe"
	ScopeAdminRead  = "admin:read"
	ScopeAdminWrite = "admin:write"
)

// Tenant is the top-level ownership boundary.
type Tenant struct {
	ID        string
	Name      string
	Status    string
	Plan      string
	CreatedAt time.Time
}

// Limits are the per-project quotas enforced by the core.
type Limits struct {
	MaxConnections  int
	MaxEventsPerSec float64
	MaxPayloadBytes int
}

// Project subdivides a tenant.
type Project struct {
	ID        string
	TenantID  string
	Name      string
	Limits    Limits
	CreatedAt time.Time
}

// APIKey is the stored form of a credential. Only the SHA-256 of the secret
// is persisted.
type APIKey struct {
	Hash      string
	TenantID  string
	ProjectID string
	Scopes    []string
	RateLimit ratelimit.Limit
	Active    bool
	ExpiresAt time.Time // zero = never
	CreatedAt time.Time
}

// AuthContext is the result of a successful capability check.
type AuthContext struct {
	Tenant       string
	Project      string
	TenantStatus string
	Scopes       []string
	KeyHash      string
	RateLimit    ratelimit.Limit
	Limits       Limits
}

// Scope returns the tenant/project pair for log addressing.
func (a AuthContext) Scope() event.Scope {
	return event.Scope{Tenant: a.Tenant, Project: a.Project}
}

// HasScope reports whether the key carries the given scope.
func (a AuthContext) HasScope(scope string) bool {
	for _, s := range a.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// UsageRecord is one flushed usage counter window.
type UsageRecord struct {
	Tenant     string
	Project    string
	Metric     string
	Value      int64
	WindowFrom time.Time
	WindowTo   time.Time
}

// Usage metric names.
const (
	MetricEventsPublished   = "events_published"
	MetricEventsDelivered   = "events_delivered"
	MetricConnectionSeconds = "connection_seconds"
)
