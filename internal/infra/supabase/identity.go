package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/boddenberg/sso-sync/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// IdentityAdmin implementation (GoTrue admin API)
// ============================================================

const defaultIdentityPageSize = 200

// maxIdentityPages bounds FindIdentityByEmail on very large projects.
const maxIdentityPages = 50

// IdentityClient drives the GoTrue admin endpoints of one tenant. It must be
// built on a Client that carries the elevated key.
type IdentityClient struct {
	client   *Client
	pageSize int
}

// NewIdentityClient wraps c. pageSize <= 0 uses the default page size.
func NewIdentityClient(c *Client, pageSize int) *IdentityClient {
	if pageSize <= 0 {
		pageSize = defaultIdentityPageSize
	}
	return &IdentityClient{client: c, pageSize: pageSize}
}

type identityJSON struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

func (j identityJSON) toDomain() *domain.Identity {
	return &domain.Identity{ID: j.ID, Email: j.Email, Metadata: j.UserMetadata}
}

// FindIdentityByEmail pages through the admin user list. It returns
// (nil, nil) when no identity carries the email.
func (ic *IdentityClient) FindIdentityByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	ctx, span := tracer.Start(ctx, "Supabase.FindIdentityByEmail")
	defer span.End()
	span.SetAttributes(attribute.String("site", ic.client.name))

	want := domain.NormalizeEmail(email)
	for page := 1; page <= maxIdentityPages; page++ {
		query := url.Values{}
		query.Set("page", strconv.Itoa(page))
		query.Set("per_page", strconv.Itoa(ic.pageSize))

		body, err := ic.client.execute(ctx, request{
			method: http.MethodGet,
			path:   "auth/v1/admin/users",
			query:  query,
		})
		if err != nil {
			span.RecordError(err)
			return nil, &domain.ErrExternalService{Service: "identity/" + ic.client.name, Err: err}
		}

		var payload struct {
			Users []identityJSON `json:"users"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, &domain.ErrExternalService{Service: "identity/" + ic.client.name, Err: fmt.Errorf("decode users: %w", err)}
		}
		for _, u := range payload.Users {
			if domain.NormalizeEmail(u.Email) == want {
				return u.toDomain(), nil
			}
		}
		if len(payload.Users) < ic.pageSize {
			return nil, nil
		}
	}

	ic.client.logger.Warn("supabase: identity scan hit page limit",
		zap.Int("pages", maxIdentityPages),
		zap.Int("per_page", ic.pageSize),
	)
	return nil, nil
}

// CreateIdentity creates a confirmed identity with a fixed id.
func (ic *IdentityClient) CreateIdentity(ctx context.Context, id, email, secret string, metadata map[string]any) (*domain.Identity, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateIdentity")
	defer span.End()
	span.SetAttributes(attribute.String("site", ic.client.name))

	payload := map[string]any{
		"email":         email,
		"password":      secret,
		"email_confirm": true,
	}
	if id != "" {
		payload["id"] = id
	}
	if len(metadata) > 0 {
		payload["user_metadata"] = metadata
	}

	body, err := ic.client.execute(ctx, request{
		method: http.MethodPost,
		path:   "auth/v1/admin/users",
		body:   payload,
	})
	if err != nil {
		span.RecordError(err)
		return nil, &domain.ErrExternalService{Service: "identity/" + ic.client.name, Err: err}
	}
	return decodeIdentity(body, id, email)
}

// UpdateIdentity replaces the credential and/or metadata of an identity.
func (ic *IdentityClient) UpdateIdentity(ctx context.Context, id string, patch domain.IdentityPatch) (*domain.Identity, error) {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateIdentity")
	defer span.End()
	span.SetAttributes(attribute.String("site", ic.client.name))

	body, err := ic.client.execute(ctx, request{
		method: http.MethodPut,
		path:   "auth/v1/admin/users/" + url.PathEscape(id),
		body:   patch,
	})
	if err != nil {
		span.RecordError(err)
		return nil, &domain.ErrExternalService{Service: "identity/" + ic.client.name, Err: err}
	}
	return decodeIdentity(body, id, "")
}

// DeleteIdentity removes an identity. A missing identity is not an error.
func (ic *IdentityClient) DeleteIdentity(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteIdentity")
	defer span.End()
	span.SetAttributes(attribute.String("site", ic.client.name))

	_, err := ic.client.execute(ctx, request{
		method: http.MethodDelete,
		path:   "auth/v1/admin/users/" + url.PathEscape(id),
	})
	if err != nil {
		if apiErr, ok := asAPIError(err); ok && apiErr.Status == http.StatusNotFound {
			return nil
		}
		span.RecordError(err)
		return &domain.ErrExternalService{Service: "identity/" + ic.client.name, Err: err}
	}
	return nil
}

func decodeIdentity(body []byte, fallbackID, fallbackEmail string) (*domain.Identity, error) {
	var j identityJSON
	if len(body) > 0 {
		if err := json.Unmarshal(body, &j); err != nil {
			return nil, fmt.Errorf("decode identity: %w", err)
		}
	}
	if j.ID == "" {
		j.ID = fallbackID
	}
	if j.Email == "" {
		j.Email = fallbackEmail
	}
	return j.toDomain(), nil
}
