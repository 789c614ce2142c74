package domain

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Canonical roles of the central registry.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleUser    = "user"
)

// CanonicalUser is the source-of-truth user record held by the central
// registry (user_profiles). The sync engine reads it and never deletes it.
type CanonicalUser struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"clerk_user_id,omitempty"`
	Email      string    `json:"email"`
	FullName   string    `json:"full_name,omitempty"`
	Role       string    `json:"role"`
	Team       string    `json:"team,omitempty"`
	Department string    `json:"department,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	AvatarURL  string    `json:"avatar_url,omitempty"`
	Secret     string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// HasSecret reports whether the user carries a login credential.
func (u *CanonicalUser) HasSecret() bool {
	return u.Secret != ""
}

// NormalizeEmail is the identity key used for every comparison and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(email)))
}

// TenantUser is a tenant row normalised into the canonical shape.
type TenantUser struct {
	ID          string `json:"id"`
	ExternalID  string `json:"clerk_user_id,omitempty"`
	Email       string `json:"email"`
	FullName    string `json:"full_name,omitempty"`
	Role        string `json:"role,omitempty"`
	Team        string `json:"team,omitempty"`
	Department  string `json:"department,omitempty"`
	Phone       string `json:"phone,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
	UpdatedAt   string `json:"updated_at,omitempty"`
	SourceTable string `json:"source_table"`
}

// UserPatch carries the fields an operator edits on a tenant row.
// Nil means "leave unchanged".
type UserPatch struct {
	FullName   *string `json:"full_name,omitempty"`
	Email      *string `json:"email,omitempty"`
	Role       *string `json:"role,omitempty"`
	Department *string `json:"department,omitempty"`
	Team       *string `json:"team,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	AvatarURL  *string `json:"avatar_url,omitempty"`
}

// TenantUserList is the aggregated read result for one tenant.
type TenantUserList struct {
	Site          SiteSummary  `json:"site"`
	Users         []TenantUser `json:"users"`
	Count         int          `json:"count"`
	TablesQueried []string     `json:"tables_queried"`
	TablesPresent []string     `json:"tables_present"`
	TablesFound   []string     `json:"tables_found"`
	Errors        []string     `json:"errors,omitempty"`
}
