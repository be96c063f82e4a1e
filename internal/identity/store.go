package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tidalhq/tidal/internal/fault"
	"github.com/tidalhq/tidal/internal/ratelimit"
)

const schema = `
CREATE TABLE IF NOT EXISTS tenants (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	plan TEXT NOT NULL DEFAULT 'free',
	created_at_ns INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL REFERENCES tenants(id),
	name TEXT NOT NULL,
	max_connections INTEGER NOT NULL DEFAULT 100,
	max_events_per_sec REAL NOT NULL DEFAULT 100,
	max_payload_bytes INTEGER NOT NULL DEFAULT 65536,
	created_at_ns INTEGER NOT NULL,
	UNIQUE(tenant_id, name)
);

CREATE TABLE IF NOT EXISTS api_keys (
	hash TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL REFERENCES tenants(id),
	project_id TEXT NOT NULL REFERENCES projects(id),
	scopes TEXT NOT NULL,
	rate_capacity REAL NOT NULL DEFAULT 0,
	rate_refill REAL NOT NULL DEFAULT 0,
	active INTEGER NOT NULL DEFAULT 1,
	expires_at_ns INTEGER NOT NULL DEFAULT 0,
	created_at_ns INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_api_keys_tenant ON api_keys(tenant_id);

CREATE TABLE IF NOT EXISTS usage_records (
	tenant_id TEXT NOT NULL,
	project_id TEXT NOT NULL,
	metric TEXT NOT NULL,
	value INTEGER NOT NULL,
	window_from_ns INTEGER NOT NULL,
	window_to_ns INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usage_scope ON usage_records(tenant_id, project_id, metric);
`

// Store is the SQLite-backed control plane.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the identity database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("identity: mkdir: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_fk=1")
	if err != nil {
		return nil, fmt.Errorf("identity: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("identity: apply schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// CreateTenant inserts a tenant. Empty id gets a generated UUID.
func (s *Store) CreateTenant(ctx context.Context, t Tenant) (Tenant, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = StatusActive
	}
	if t.Plan == "" {
		t.Plan = "free"
	}
	t.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants (id, name, status, plan, created_at_ns) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Status, t.Plan, t.CreatedAt.UnixNano())
	if err != nil {
		return Tenant{}, fmt.Errorf("identity: create tenant: %w", err)
	}
	return t, nil
}

// GetTenant loads one tenant.
func (s *Store) GetTenant(ctx context.Context, id string) (Tenant, error) {
	var t Tenant
	var ns int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, status, plan, created_at_ns FROM tenants WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &t.Status, &t.Plan, &ns)
	if err == sql.ErrNoRows {
		return Tenant{}, fault.New(fault.NotFound, "tenant %q not found", id)
	}
	if err != nil {
		return Tenant{}, fmt.Errorf("identity: get tenant: %w", err)
	}
	t.CreatedAt = time.Unix(0, ns)
	return t, nil
}

// SetTenantStatus updates a tenant's status.
func (s *Store) SetTenantStatus(ctx context.Context, id, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tenants SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("identity: set tenant status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.NotFound, "tenant %q not found", id)
	}
	return nil
}

// ListTenants returns all tenants ordered by creation.
func (s *Store) ListTenants(ctx context.Context) ([]Tenant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, status, plan, created_at_ns FROM tenants ORDER BY created_at_ns`)
	if err != nil {
		return nil, fmt.Errorf("identity: list tenants: %w", err)
	}
	defer rows.Close()
	var out []Tenant
	for rows.Next() {
		var t Tenant
		var ns int64
		if err := rows.Scan(&t.ID, &t.Name, &t.Status, &t.Plan, &ns); err != nil {
			return nil, err
		}
		t.CreatedAt = time.Unix(0, ns)
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateProject inserts a project under a tenant.
func (s *Store) CreateProject(ctx context.Context, p Project) (Project, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Limits.MaxConnections == 0 {
		p.Limits.MaxConnections = 100
	}
	if p.Limits.MaxEventsPerSec == 0 {
		p.Limits.MaxEventsPerSec = 100
	}
	if p.Limits.MaxPayloadBytes == 0 {
		p.Limits.MaxPayloadBytes = 64 * 1024
	}
	p.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, tenant_id, name, max_connections, max_events_per_sec, max_payload_bytes, created_at_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.TenantID, p.Name, p.Limits.MaxConnections, p.Limits.MaxEventsPerSec,
		p.Limits.MaxPayloadBytes, p.CreatedAt.UnixNano())
	if err != nil {
		return Project{}, fmt.Errorf("identity: create project: %w", err)
	}
	return p, nil
}

// GetProject loads one project.
func (s *Store) GetProject(ctx context.Context, id string) (Project, error) {
	var p Project
	var ns int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, name, max_connections, max_events_per_sec, max_payload_bytes, created_at_ns
		 FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.TenantID, &p.Name, &p.Limits.MaxConnections,
			&p.Limits.MaxEventsPerSec, &p.Limits.MaxPayloadBytes, &ns)
	if err == sql.ErrNoRows {
		return Project{}, fault.New(fault.NotFound, "project %q not found", id)
	}
	if err != nil {
		return Project{}, fmt.Errorf("identity: get project: %w", err)
	}
	p.CreatedAt = time.Unix(0, ns)
	return p, nil
}

// UpdateProjectLimits overwrites a project's quota configuration.
func (s *Store) UpdateProjectLimits(ctx context.Context, id string, limits Limits) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET max_connections = ?, max_events_per_sec = ?, max_payload_bytes = ? WHERE id = ?`,
		limits.MaxConnections, limits.MaxEventsPerSec, limits.MaxPayloadBytes, id)
	if err != nil {
		return fmt.Errorf("identity: update limits: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.NotFound, "project %q not found", id)
	}
	return nil
}

// CreateAPIKey mints a new key for a project and returns the secret. The
// secret is shown once; only its hash is stored.
func (s *Store) CreateAPIKey(ctx context.Context, tenantID, projectID string, scopes []string, limit ratelimit.Limit, expiresAt time.Time) (secret string, key APIKey, err error) {
	var raw [24]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", APIKey{}, fmt.Errorf("identity: generate key: %w", err)
	}
	secret = "tk_" + hex.EncodeToString(raw[:])
	key = APIKey{
		Hash:      HashSecret(secret),
		TenantID:  tenantID,
		ProjectID: projectID,
		Scopes:    scopes,
		RateLimit: limit,
		Active:    true,
		ExpiresAt: expiresAt,
		CreatedAt: s.now(),
	}
	var expNs int64
	if !expiresAt.IsZero() {
		expNs = expiresAt.UnixNano()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO api_keys (hash, tenant_id, project_id, scopes, rate_capacity, rate_refill, active, expires_at_ns, created_at_ns)
		 VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		key.Hash, tenantID, projectID, strings.Join(scopes, ","),
		limit.Capacity, limit.RefillPerSec, expNs, key.CreatedAt.UnixNano())
	if err != nil {
		return "", APIKey{}, fmt.Errorf("identity: create api key: %w", err)
	}
	return secret, key, nil
}

// RevokeAPIKey deactivates a key by hash.
func (s *Store) RevokeAPIKey(ctx context.Context, hash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE api_keys SET active = 0 WHERE hash = ?`, hash)
	if err != nil {
		return fmt.Errorf("identity: revoke key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.NotFound, "api key not found")
	}
	return nil
}

// InsertUsage flushes aggregated usage counters. Called by the usage
// recorder off the hot path.
func (s *Store) InsertUsage(ctx context.Context, records []UsageRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("identity: usage tx: %w", err)
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO usage_records (tenant_id, project_id, metric, value, window_from_ns, window_to_ns)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.Tenant, r.Project, r.Metric, r.Value,
			r.WindowFrom.UnixNano(), r.WindowTo.UnixNano()); err != nil {
			return fmt.Errorf("identity: insert usage: %w", err)
		}
	}
	return tx.Commit()
}

// UsageTotal sums a metric for a tenant/project.
func (s *Store) UsageTotal(ctx context.Context, tenant, project, metric string) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT SUM(value) FROM usage_records WHERE tenant_id = ? AND project_id = ? AND metric = ?`,
		tenant, project, metric).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("identity: usage total: %w", err)
	}
	return total.Int64, nil
}

// HashSecret returns the hex SHA-256 used to look up a credential.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
