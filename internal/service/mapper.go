package service

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/sso-sync/internal/domain"
	"github.com/boddenberg/sso-sync/internal/port"
)

// ============================================================
// Column synonyms per logical field, preferred column first
// ============================================================

type logicalField int

const (
	fieldName logicalField = iota
	fieldEmail
	fieldRole
	fieldDepartment
	fieldTeam
	fieldPhone
	fieldAvatar
	fieldUpdatedAt
	fieldCreatedAt
	fieldID
)

var fieldColumns = map[logicalField][]string{
	fieldName:       {"full_name", "name", "display_name", "employee_name"},
	fieldEmail:      {"email"},
	fieldRole:       {"role", "user_role", "position"},
	fieldDepartment: {"department", "dept", "department_name"},
	fieldTeam:       {"team", "team_name"},
	fieldPhone:      {"phone", "phone_number", "mobile"},
	fieldAvatar:     {"avatar_url", "avatar", "profile_picture"},
	fieldUpdatedAt:  {"updated_at", "modified_at"},
	fieldCreatedAt:  {"created_at", "created_date"},
	fieldID:         {"id", "user_id", "clerk_user_id", "employee_id"},
}

const (
	colID           = "id"
	colEmail        = "email"
	colExternalID   = "clerk_user_id"
	colPasswordHash = "password_hash"
	colIsActive     = "is_active"
	colEmployeeStat = "employee_status"
)

// resolveColumn returns the first synonym of f present in has.
func resolveColumn(f logicalField, has func(string) bool) (string, bool) {
	for _, col := range fieldColumns[f] {
		if has(col) {
			return col, true
		}
	}
	return "", false
}

// ============================================================
// Role translation
// ============================================================

// MapRoleForSite translates a canonical role into the site's vocabulary
// for writing. Empty roles are treated as "user".
func MapRoleForSite(role string, siteType domain.SiteType) string {
	r := strings.ToLower(strings.TrimSpace(role))
	if r == "" {
		r = domain.RoleUser
	}

	switch siteType {
	case domain.SiteSales:
		switch r {
		case "admin", "owner":
			return "owner"
		case "manager":
			return "manager"
		default:
			return "salesman"
		}
	case domain.SiteCMS:
		switch r {
		case "admin", "administrator":
			return "admin"
		case "hr", "manager", "user":
			return "hr"
		}
	}
	if strings.TrimSpace(role) == "" {
		return domain.RoleUser
	}
	return strings.TrimSpace(role)
}

// NormalizeRole maps a tenant role value back into a canonical or
// site-level value. Unknown values pass through unchanged.
func NormalizeRole(raw string, siteType domain.SiteType) string {
	r := strings.ToLower(strings.TrimSpace(raw))

	switch siteType {
	case domain.SiteSales:
		switch r {
		case "owner", "admin":
			return "owner"
		case "manager", "sales_manager":
			return "manager"
		case "salesman", "sales_rep", "user":
			return "salesman"
		}
	case domain.SiteCMS:
		switch r {
		case "admin", "administrator":
			return "admin"
		case "hr", "manager", "user":
			return "hr"
		case "editor", "author":
			return r
		}
		return raw
	}

	switch r {
	case "admin", "administrator", "owner":
		return domain.RoleAdmin
	case "manager", "supervisor", "lead":
		return domain.RoleManager
	case "user", "employee", "staff", "member":
		return domain.RoleUser
	}
	return raw
}

// ============================================================
// Write direction
// ============================================================

// BuildRow maps u onto the columns of schema. Fields with no matching
// column are skipped; identity and secret columns are left to the caller.
func BuildRow(u *domain.CanonicalUser, schema *domain.TableSchema, now time.Time) port.Row {
	row := port.Row{}
	siteType := schema.Site.Type

	set := func(f logicalField, value string) {
		if col, ok := resolveColumn(f, schema.Has); ok {
			row[col] = nullable(value)
		}
	}

	if schema.Has(colEmail) {
		row[colEmail] = domain.NormalizeEmail(u.Email)
	}
	set(fieldName, u.FullName)
	set(fieldDepartment, u.Department)
	set(fieldTeam, u.Team)
	set(fieldPhone, u.Phone)
	set(fieldAvatar, u.AvatarURL)
	if col, ok := resolveColumn(fieldRole, schema.Has); ok {
		row[col] = MapRoleForSite(u.Role, siteType)
	}
	if col, ok := resolveColumn(fieldUpdatedAt, schema.Has); ok {
		row[col] = now.UTC().Format(time.RFC3339)
	}

	if schema.Has(colExternalID) {
		ext := u.ExternalID
		if ext == "" {
			ext = "clerk_" + u.ID
		}
		row[colExternalID] = ext
	}
	if schema.Has(colIsActive) {
		row[colIsActive] = true
	}
	if schema.Has(colEmployeeStat) {
		row[colEmployeeStat] = "Active"
	}
	return row
}

// BuildPatch maps patch onto the columns of an existing row. Role values
// are translated into the site's vocabulary.
func BuildPatch(patch domain.UserPatch, existing port.Row, siteType domain.SiteType, now time.Time) port.Row {
	has := func(col string) bool {
		_, ok := existing[col]
		return ok
	}
	out := port.Row{}
	set := func(f logicalField, value *string) {
		if value == nil {
			return
		}
		if col, ok := resolveColumn(f, has); ok {
			out[col] = nullable(*value)
		}
	}

	set(fieldName, patch.FullName)
	if patch.Email != nil && has(colEmail) {
		out[colEmail] = domain.NormalizeEmail(*patch.Email)
	}
	if patch.Role != nil {
		if col, ok := resolveColumn(fieldRole, has); ok {
			out[col] = MapRoleForSite(*patch.Role, siteType)
		}
	}
	set(fieldDepartment, patch.Department)
	set(fieldTeam, patch.Team)
	set(fieldPhone, patch.Phone)
	set(fieldAvatar, patch.AvatarURL)

	if len(out) == 0 {
		return out
	}
	if col, ok := resolveColumn(fieldUpdatedAt, has); ok {
		out[col] = now.UTC().Format(time.RFC3339)
	}
	return out
}

// Snapshot is the subset of fields recorded in the sync log.
func Snapshot(u *domain.CanonicalUser) map[string]any {
	return map[string]any{
		"email":     domain.NormalizeEmail(u.Email),
		"full_name": u.FullName,
		"role":      u.Role,
	}
}

// ============================================================
// Read direction
// ============================================================

// NormalizeRow converts a tenant row into the canonical shape.
func NormalizeRow(row port.Row, table string, siteType domain.SiteType) domain.TenantUser {
	pick := func(f logicalField) string {
		for _, col := range fieldColumns[f] {
			if v := stringValue(row[col]); v != "" {
				return v
			}
		}
		return ""
	}

	u := domain.TenantUser{
		ID:          pick(fieldID),
		ExternalID:  stringValue(row[colExternalID]),
		Email:       stringValue(row[colEmail]),
		FullName:    pick(fieldName),
		Team:        pick(fieldTeam),
		Department:  pick(fieldDepartment),
		Phone:       pick(fieldPhone),
		AvatarURL:   pick(fieldAvatar),
		CreatedAt:   pick(fieldCreatedAt),
		UpdatedAt:   pick(fieldUpdatedAt),
		SourceTable: table,
	}
	if u.UpdatedAt == "" {
		u.UpdatedAt = u.CreatedAt
	}
	if role := pick(fieldRole); role != "" {
		u.Role = NormalizeRole(role, siteType)
	}
	return u
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(t)
	}
}

// nullable turns empty optional values into SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
