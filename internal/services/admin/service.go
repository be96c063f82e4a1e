// Package adminsvc implements the control plane operations: tenant
// lifecycle, API key management, retention policies, and stats.
package adminsvc

import (
	"context"
	"time"

	"github.com/tidalhq/tidal/internal/connmgr"
	"github.com/tidalhq/tidal/internal/event"
	"github.com/tidalhq/tidal/internal/eventlog"
	"github.com/tidalhq/tidal/internal/fault"
	"github.com/tidalhq/tidal/internal/identity"
	"github.com/tidalhq/tidal/internal/ratelimit"
	"github.com/tidalhq/tidal/internal/validate"
	"github.com/tidalhq/tidal/pkg/log"
)

// Options wire a Service.
type Options struct {
	Identity *identity.Store
	Store    *eventlog.Store
	Manager  *connmgr.Manager
	Limiter  *ratelimit.Limiter
	Logger   log.Logger
}

// Service exposes administrative operations. Every method requires an
// AuthContext carrying the matching admin scope.
type Service struct {
	ident   *identity.Store
	store   *eventlog.Store
	mgr     *connmgr.Manager
	limiter *ratelimit.Limiter
	logger  log.Logger
}

// New returns a Service.
func New(opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = log.NewLogger().With(log.Component("admin"))
	}
	return &Service{
		ident:   opts.Identity,
		store:   opts.Store,
		mgr:     opts.Manager,
		limiter: opts.Limiter,
		logger:  opts.Logger,
	}
}

func requireScope(ac identity.AuthContext, scope string) error {
	if !ac.HasScope(scope) {
		return fault.New(fault.Unauthorized, "credential lacks %s", scope)
	}
	return nil
}

// CreateTenant registers a tenant.
func (s *Service) CreateTenant(ctx context.Context, ac identity.AuthContext, t identity.Tenant) (identity.Tenant, error) {
	if err := requireScope(ac, identity.ScopeAdminWrite); err != nil {
		return identity.Tenant{}, err
	}
	return s.ident.CreateTenant(ctx, t)
}

// CreateProject registers a project under a tenant.
func (s *Service) CreateProject(ctx context.Context, ac identity.AuthContext, p identity.Project) (identity.Project, error) {
	if err := requireScope(ac, identity.ScopeAdminWrite); err != nil {
		return identity.Project{}, err
	}
	if _, err := s.ident.GetTenant(ctx, p.TenantID); err != nil {
		return identity.Project{}, err
	}
	return s.ident.CreateProject(ctx, p)
}

// CreateAPIKey mints a credential. The secret is returned once.
func (s *Service) CreateAPIKey(ctx context.Context, ac identity.AuthContext, tenantID, projectID string, scopes []string, limit ratelimit.Limit, expiresAt time.Time) (string, identity.APIKey, error) {
	if err := requireScope(ac, identity.ScopeAdminWrite); err != nil {
		return "", identity.APIKey{}, err
	}
	if _, err := s.ident.GetProject(ctx, projectID); err != nil {
		return "", identity.APIKey{}, err
	}
	return s.ident.CreateAPIKey(ctx, tenantID, projectID, scopes, limit, expiresAt)
}

// RevokeAPIKey deactivates a credential by hash.
func (s *Service) RevokeAPIKey(ctx context.Context, ac identity.AuthContext, hash string) error {
	if err := requireScope(ac, identity.ScopeAdminWrite); err != nil {
		return err
	}
	if err := s.ident.RevokeAPIKey(ctx, hash); err != nil {
		return err
	}
	// The bucket is keyed by the same hash; drop it so the revoked key's
	// state does not linger.
	if s.limiter != nil {
		s.limiter.Forget(hash)
	}
	return nil
}

// SuspendTenant marks the tenant suspended in the identity store, then cuts
// over the live plane: new publishes and admissions fail, and every active
// connection is closed. Returns how many connections were closed.
func (s *Service) SuspendTenant(ctx context.Context, ac identity.AuthContext, tenantID string) (int, error) {
	if err := requireScope(ac, identity.ScopeAdminWrite); err != nil {
		return 0, err
	}
	if err := s.ident.SetTenantStatus(ctx, tenantID, identity.StatusSuspended); err != nil {
		return 0, err
	}
	closed := s.mgr.SuspendTenant(ctx, tenantID)
	s.logger.Info("tenant suspended",
		log.Str("tenant", tenantID), log.Int("closed", closed))
	return closed, nil
}

// ResumeTenant lifts a suspension.
func (s *Service) ResumeTenant(ctx context.Context, ac identity.AuthContext, tenantID string) error {
	if err := requireScope(ac, identity.ScopeAdminWrite); err != nil {
		return err
	}
	if err := s.ident.SetTenantStatus(ctx, tenantID, identity.StatusActive); err != nil {
		return err
	}
	s.mgr.ResumeTenant(tenantID)
	s.logger.Info("tenant resumed", log.Str("tenant", tenantID))
	return nil
}

// SetRetentionPolicy persists a per-topic retention override.
func (s *Service) SetRetentionPolicy(ctx context.Context, ac identity.AuthContext, scope event.Scope, topic string, p eventlog.Policy) error {
	if err := requireScope(ac, identity.ScopeAdminWrite); err != nil {
		return err
	}
	if err := validate.ReplayTopic(topic); err != nil {
		return err
	}
	if p.MaxAge < 0 || p.MaxBytes < 0 {
		return fault.New(fault.ValidationFailed, "retention bounds must be non-negative")
	}
	return s.store.SetPolicy(event.Ref{Scope: scope, Topic: topic}, p)
}

// TenantStats summarizes one tenant's live and stored footprint.
type TenantStats struct {
	Tenant            string
	Status            string
	ActiveConnections int
	DiskBytes         uint64
	Topics            []eventlog.Stats
}

// TenantStats reports stats across every project and topic of a tenant.
func (s *Service) TenantStats(ctx context.Context, ac identity.AuthContext, tenantID string) (TenantStats, error) {
	if err := requireScope(ac, identity.ScopeAdminRead); err != nil {
		return TenantStats{}, err
	}
	t, err := s.ident.GetTenant(ctx, tenantID)
	if err != nil {
		return TenantStats{}, err
	}

	stats := TenantStats{Tenant: tenantID, Status: t.Status}
	refs, err := s.store.ListRefs()
	if err != nil {
		return TenantStats{}, err
	}
	seenScopes := map[event.Scope]bool{}
	for _, ref := range refs {
		if ref.Scope.Tenant != tenantID {
			continue
		}
		ts, err := s.store.TopicStats(ref)
		if err != nil {
			return TenantStats{}, err
		}
		stats.Topics = append(stats.Topics, ts)
		if !seenScopes[ref.Scope] {
			seenScopes[ref.Scope] = true
			stats.ActiveConnections += s.mgr.ActiveCount(ref.Scope)
		}
	}
	if du, err := s.store.DiskUsage(tenantID); err == nil {
		stats.DiskBytes = du
	}
	return stats, nil
}

// ListTenants returns every registered tenant.
func (s *Service) ListTenants(ctx context.Context, ac identity.AuthContext) ([]identity.Tenant, error) {
	if err := requireScope(ac, identity.ScopeAdminRead); err != nil {
		return nil, err
	}
	return s.ident.ListTenants(ctx)
}

// UsageTotal reports the accumulated value of one usage metric.
func (s *Service) UsageTotal(ctx context.Context, ac identity.AuthContext, tenantID, projectID, metric string) (int64, error) {
	if err := requireScope(ac, identity.ScopeAdminRead); err != nil {
		return 0, err
	}
	return s.ident.UsageTotal(ctx, tenantID, projectID, metric)
}
