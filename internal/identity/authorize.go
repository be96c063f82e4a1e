package identity

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/tidalhq/tidal/internal/fault"
	"github.com/tidalhq/tidal/internal/ratelimit"
)

// Authorizer resolves an API credential to an AuthContext.
type Authorizer interface {
	Authorize(ctx context.Context, secret string) (AuthContext, error)
}

// Authorize looks up a credential by its hash and returns the caller's
// capabilities. Suspended tenants fail here so a revoked tenant cannot
// open new connections or publish.
func (s *Store) Authorize(ctx context.Context, secret string) (AuthContext, error) {
	if secret == "" {
		return AuthContext{}, fault.New(fault.Unauthorized, "missing credential")
	}
	hash := HashSecret(secret)

	var (
		ac           AuthContext
		scopesCSV    string
		active       int
		expNs        int64
		tenantStatus string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT k.tenant_id, k.project_id, k.scopes, k.rate_capacity, k.rate_refill,
		       k.active, k.expires_at_ns, t.status,
		       p.max_connections, p.max_events_per_sec, p.max_payload_bytes
		FROM api_keys k
		JOIN tenants t ON t.id = k.tenant_id
		JOIN projects p ON p.id = k.project_id
		WHERE k.hash = ?`, hash).
		Scan(&ac.Tenant, &ac.Project, &scopesCSV,
			&ac.RateLimit.Capacity, &ac.RateLimit.RefillPerSec,
			&active, &expNs, &tenantStatus,
			&ac.Limits.MaxConnections, &ac.Limits.MaxEventsPerSec, &ac.Limits.MaxPayloadBytes)
	if err == sql.ErrNoRows {
		return AuthContext{}, fault.New(fault.Unauthorized, "unknown credential")
	}
	if err != nil {
		return AuthContext{}, fmt.Errorf("identity: authorize: %w", err)
	}
	if active == 0 {
		return AuthContext{}, fault.New(fault.Unauthorized, "credential revoked")
	}
	if expNs > 0 && s.now().After(time.Unix(0, expNs)) {
		return AuthContext{}, fault.New(fault.Unauthorized, "credential expired")
	}
	if tenantStatus == StatusSuspended {
		return AuthContext{}, fault.New(fault.TenantSuspended, "tenant %q is suspended", ac.Tenant).
			WithScope(ac.Tenant, ac.Project, "")
	}

	ac.TenantStatus = tenantStatus
	ac.KeyHash = hash
	if scopesCSV != "" {
		ac.Scopes = strings.Split(scopesCSV, ",")
	}
	if ac.RateLimit == (ratelimit.Limit{}) {
		ac.RateLimit = ratelimit.Limit{Capacity: ac.Limits.MaxEventsPerSec, RefillPerSec: ac.Limits.MaxEventsPerSec}
	}
	return ac, nil
}
