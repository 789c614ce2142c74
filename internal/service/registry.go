package service

import (
	"context"
	"net/url"
	"strings"

	"github.com/boddenberg/sso-sync/internal/domain"
	"github.com/boddenberg/sso-sync/internal/port"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Registry resolves tenants from the central directory and opens
// connections to them.
type Registry struct {
	directory port.Directory
	connector port.TenantConnector
	logger    *zap.Logger
}

// NewRegistry creates a Registry.
func NewRegistry(directory port.Directory, connector port.TenantConnector, logger *zap.Logger) *Registry {
	return &Registry{directory: directory, connector: connector, logger: logger}
}

// Tenant loads an active, configured tenant. Inactive tenants are reported
// as not found.
func (r *Registry) Tenant(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	tenant, err := r.directory.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if err := checkTenant(tenant); err != nil {
		return nil, err
	}
	return tenant, nil
}

func checkTenant(t *domain.Tenant) error {
	if !t.Active {
		return &domain.ErrNotFound{Resource: "site", ID: t.ID}
	}
	if !t.Configured() {
		return &domain.ErrMisconfigured{Site: t.Name, Reason: "endpoint or keys not configured"}
	}
	return nil
}

// Resolve returns the tenant together with an open connection.
func (r *Registry) Resolve(ctx context.Context, tenantID string) (*domain.Tenant, *port.TenantConn, error) {
	tenant, err := r.Tenant(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}
	conn, err := r.connector.Connect(ctx, tenant)
	if err != nil {
		return nil, nil, err
	}
	return tenant, conn, nil
}

// Connect opens a connection to an already-checked tenant.
func (r *Registry) Connect(ctx context.Context, tenant *domain.Tenant) (*port.TenantConn, error) {
	return r.connector.Connect(ctx, tenant)
}

// ActiveTenants lists every active tenant, configured or not.
func (r *Registry) ActiveTenants(ctx context.Context) ([]domain.Tenant, error) {
	return r.directory.ListActiveTenants(ctx)
}

// UpdateCredentials sets the endpoint and keys of a tenant. Connections
// opened with the previous keys are not reused afterwards.
func (r *Registry) UpdateCredentials(ctx context.Context, tenantID string, upd domain.CredentialsUpdate) (*domain.Tenant, error) {
	ctx, span := syncTracer.Start(ctx, "Registry.UpdateCredentials")
	defer span.End()
	span.SetAttributes(attribute.String("site_id", tenantID))

	if upd.Endpoint == nil && upd.PublicKey == nil && upd.ElevatedKey == nil {
		return nil, &domain.ErrValidation{Field: "body", Message: "at least one of endpoint, public_key, elevated_key is required"}
	}
	if upd.Endpoint != nil {
		endpoint := strings.TrimSpace(*upd.Endpoint)
		u, err := url.Parse(endpoint)
		if endpoint != "" && (err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "") {
			return nil, &domain.ErrValidation{Field: "endpoint", Message: "must be an absolute http(s) URL"}
		}
		upd.Endpoint = &endpoint
	}

	// Ensures the tenant exists before writing.
	if _, err := r.directory.GetTenant(ctx, tenantID); err != nil {
		return nil, err
	}

	tenant, err := r.directory.UpdateTenantCredentials(ctx, tenantID, upd)
	if err != nil {
		return nil, err
	}
	r.logger.Info("tenant credentials updated",
		zap.String("site", tenant.Name),
		zap.Bool("elevated", tenant.HasElevatedAccess()),
		zap.Bool("configured", tenant.Configured()),
	)
	return tenant, nil
}
