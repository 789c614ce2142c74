// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the sync engine
// from the concrete stores it talks to.
package port

import (
	"context"

	"github.com/boddenberg/sso-sync/internal/domain"
)

// Row is one record of a tenant table with an unknown column set.
type Row = map[string]any

// Filter is an equality predicate on one column.
type Filter struct {
	Column string
	Value  string
}

// Query describes a bounded read of a tenant table.
type Query struct {
	Columns []string // empty selects every column
	Filters []Filter
	Limit   int
	OrderBy string
	Desc    bool
}

// TenantStore is the uniform row contract of a remote per-tenant store.
// "Table does not exist" errors are returned as *domain.ErrTableNotFound.
type TenantStore interface {
	QueryRows(ctx context.Context, table string, q Query) ([]Row, error)
	UpsertRow(ctx context.Context, table string, row Row, conflictKey string) (Row, error)
	UpdateRows(ctx context.Context, table string, patch Row, filters []Filter) ([]Row, error)
	DeleteRows(ctx context.Context, table string, filters []Filter) error
}

// IdentityAdmin is the optional elevated identity-provider sub-API.
type IdentityAdmin interface {
	FindIdentityByEmail(ctx context.Context, email string) (*domain.Identity, error)
	CreateIdentity(ctx context.Context, id, email, secret string, metadata map[string]any) (*domain.Identity, error)
	UpdateIdentity(ctx context.Context, id string, patch domain.IdentityPatch) (*domain.Identity, error)
	DeleteIdentity(ctx context.Context, id string) error
}

// TenantConn is an open, reusable connection to one tenant.
// Identity is nil when the tenant has no elevated key.
type TenantConn struct {
	Store    TenantStore
	Identity IdentityAdmin
}

// TenantConnector opens connections to tenant stores.
type TenantConnector interface {
	Connect(ctx context.Context, tenant *domain.Tenant) (*TenantConn, error)
}

// Directory is the central registry: canonical users and tenants.
type Directory interface {
	GetUser(ctx context.Context, userID string) (*domain.CanonicalUser, error)
	ListUsers(ctx context.Context) ([]domain.CanonicalUser, error)
	GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error)
	ListActiveTenants(ctx context.Context) ([]domain.Tenant, error)
	UpdateTenantUserCount(ctx context.Context, tenantID string, total int) error
	UpdateTenantCredentials(ctx context.Context, tenantID string, upd domain.CredentialsUpdate) (*domain.Tenant, error)
}

// SyncLogStore persists sync attempts. Used for observability and the
// coarse "already synced" check only.
type SyncLogStore interface {
	Create(ctx context.Context, entry *domain.SyncLogEntry) error
	Complete(ctx context.Context, entry *domain.SyncLogEntry) error
	HasSuccess(ctx context.Context, userID, siteID string) (bool, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
