package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/boddenberg/sso-sync/internal/domain"
	"github.com/boddenberg/sso-sync/internal/port"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Directory implementation: central registry tables
// ============================================================

const (
	tableUserProfiles   = "user_profiles"
	tableConnectedSites = "connected_sites"
)

// DirectoryStore reads canonical users and tenants from the central project.
type DirectoryStore struct {
	client *Client
}

// NewDirectoryStore creates a DirectoryStore on the central client.
func NewDirectoryStore(c *Client) *DirectoryStore {
	return &DirectoryStore{client: c}
}

var _ port.Directory = (*DirectoryStore)(nil)

type userProfileRow struct {
	ID           string    `json:"id"`
	ClerkUserID  *string   `json:"clerk_user_id"`
	Email        string    `json:"email"`
	FullName     *string   `json:"full_name"`
	Role         *string   `json:"role"`
	Team         *string   `json:"team"`
	Department   *string   `json:"department"`
	Phone        *string   `json:"phone"`
	AvatarURL    *string   `json:"avatar_url"`
	PasswordHash *string   `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (r userProfileRow) toDomain() domain.CanonicalUser {
	return domain.CanonicalUser{
		ID:         r.ID,
		ExternalID: deref(r.ClerkUserID),
		Email:      r.Email,
		FullName:   deref(r.FullName),
		Role:       deref(r.Role),
		Team:       deref(r.Team),
		Department: deref(r.Department),
		Phone:      deref(r.Phone),
		AvatarURL:  deref(r.AvatarURL),
		Secret:     deref(r.PasswordHash),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

type connectedSiteRow struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	DisplayName        *string `json:"display_name"`
	Category           *string `json:"category"`
	SupabaseURL        *string `json:"supabase_url"`
	SupabaseAnonKey    *string `json:"supabase_anon_key"`
	SupabaseServiceKey *string `json:"supabase_service_key"`
	IsActive           bool    `json:"is_active"`
	TotalUsers         *int    `json:"total_users"`
}

func (r connectedSiteRow) toDomain() domain.Tenant {
	t := domain.Tenant{
		ID:          r.ID,
		Name:        r.Name,
		DisplayName: deref(r.DisplayName),
		Category:    deref(r.Category),
		Endpoint:    deref(r.SupabaseURL),
		Credentials: domain.Credentials{
			PublicKey:   deref(r.SupabaseAnonKey),
			ElevatedKey: deref(r.SupabaseServiceKey),
		},
		Active: r.IsActive,
	}
	if t.DisplayName == "" {
		t.DisplayName = t.Name
	}
	if r.TotalUsers != nil {
		t.TotalUsers = *r.TotalUsers
	}
	return t
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (d *DirectoryStore) list(ctx context.Context, table string, query url.Values, out any) error {
	body, err := d.client.execute(ctx, request{
		method: http.MethodGet,
		path:   "rest/v1/" + table,
		query:  query,
	})
	if err != nil {
		return &domain.ErrExternalService{Service: "directory", Err: err}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &domain.ErrExternalService{Service: "directory", Err: fmt.Errorf("decode %s: %w", table, err)}
	}
	return nil
}

// GetUser returns the canonical user with userID.
func (d *DirectoryStore) GetUser(ctx context.Context, userID string) (*domain.CanonicalUser, error) {
	ctx, span := tracer.Start(ctx, "Directory.GetUser")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID))

	query := url.Values{}
	query.Set("select", "*")
	query.Set("id", "eq."+userID)
	query.Set("limit", "1")

	var rows []userProfileRow
	if err := d.list(ctx, tableUserProfiles, query, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "user", ID: userID}
	}
	u := rows[0].toDomain()
	return &u, nil
}

// ListUsers returns every canonical user, oldest first.
func (d *DirectoryStore) ListUsers(ctx context.Context) ([]domain.CanonicalUser, error) {
	ctx, span := tracer.Start(ctx, "Directory.ListUsers")
	defer span.End()

	query := url.Values{}
	query.Set("select", "*")
	query.Set("order", "created_at.asc")

	var rows []userProfileRow
	if err := d.list(ctx, tableUserProfiles, query, &rows); err != nil {
		return nil, err
	}
	users := make([]domain.CanonicalUser, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.toDomain())
	}
	return users, nil
}

// GetTenant returns the tenant with tenantID, active or not.
func (d *DirectoryStore) GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	ctx, span := tracer.Start(ctx, "Directory.GetTenant")
	defer span.End()
	span.SetAttributes(attribute.String("site_id", tenantID))

	query := url.Values{}
	query.Set("select", "*")
	query.Set("id", "eq."+tenantID)
	query.Set("limit", "1")

	var rows []connectedSiteRow
	if err := d.list(ctx, tableConnectedSites, query, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "site", ID: tenantID}
	}
	t := rows[0].toDomain()
	return &t, nil
}

// ListActiveTenants returns tenants flagged is_active, by name.
func (d *DirectoryStore) ListActiveTenants(ctx context.Context) ([]domain.Tenant, error) {
	ctx, span := tracer.Start(ctx, "Directory.ListActiveTenants")
	defer span.End()

	query := url.Values{}
	query.Set("select", "*")
	query.Set("is_active", "eq.true")
	query.Set("order", "name.asc")

	var rows []connectedSiteRow
	if err := d.list(ctx, tableConnectedSites, query, &rows); err != nil {
		return nil, err
	}
	tenants := make([]domain.Tenant, 0, len(rows))
	for _, r := range rows {
		tenants = append(tenants, r.toDomain())
	}
	return tenants, nil
}

// UpdateTenantUserCount stores the latest distinct-user count of a tenant.
func (d *DirectoryStore) UpdateTenantUserCount(ctx context.Context, tenantID string, total int) error {
	ctx, span := tracer.Start(ctx, "Directory.UpdateTenantUserCount")
	defer span.End()
	span.SetAttributes(attribute.String("site_id", tenantID), attribute.Int("total_users", total))

	query := url.Values{}
	query.Set("id", "eq."+tenantID)
	_, err := d.client.execute(ctx, request{
		method: http.MethodPatch,
		path:   "rest/v1/" + tableConnectedSites,
		query:  query,
		body: map[string]any{
			"total_users": total,
			"updated_at":  time.Now().UTC().Format(time.RFC3339),
		},
		prefer: "return=minimal",
	})
	if err != nil {
		return &domain.ErrExternalService{Service: "directory", Err: err}
	}
	return nil
}

// UpdateTenantCredentials applies upd and returns the stored tenant.
func (d *DirectoryStore) UpdateTenantCredentials(ctx context.Context, tenantID string, upd domain.CredentialsUpdate) (*domain.Tenant, error) {
	ctx, span := tracer.Start(ctx, "Directory.UpdateTenantCredentials")
	defer span.End()
	span.SetAttributes(attribute.String("site_id", tenantID))

	patch := map[string]any{"updated_at": time.Now().UTC().Format(time.RFC3339)}
	if upd.Endpoint != nil {
		patch["supabase_url"] = *upd.Endpoint
	}
	if upd.PublicKey != nil {
		patch["supabase_anon_key"] = *upd.PublicKey
	}
	if upd.ElevatedKey != nil {
		patch["supabase_service_key"] = *upd.ElevatedKey
	}

	query := url.Values{}
	query.Set("id", "eq."+tenantID)
	body, err := d.client.execute(ctx, request{
		method: http.MethodPatch,
		path:   "rest/v1/" + tableConnectedSites,
		query:  query,
		body:   patch,
		prefer: "return=representation",
	})
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "directory", Err: err}
	}

	var rows []connectedSiteRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &domain.ErrExternalService{Service: "directory", Err: fmt.Errorf("decode %s: %w", tableConnectedSites, err)}
	}
	if len(rows) == 0 {
		return nil, &domain.ErrNotFound{Resource: "site", ID: tenantID}
	}
	t := rows[0].toDomain()
	return &t, nil
}
