package domain

import "strings"

// SiteType is the closed classification of a tenant. It is always derived
// from the tenant's name and category, never stored.
type SiteType string

const (
	SiteHRMS    SiteType = "hrms"
	SiteSales   SiteType = "sales"
	SiteCMS     SiteType = "cms"
	SiteGarage  SiteType = "garage"
	SiteGeneric SiteType = "generic"
)

// Classify maps a tenant's name and category onto a SiteType.
// First match wins; the result is total and deterministic.
func Classify(name, category string) SiteType {
	n := strings.ToLower(strings.TrimSpace(name))
	c := strings.ToLower(strings.TrimSpace(category))

	switch {
	case strings.Contains(n, "hrms") || c == "hrms" || strings.Contains(n, "hr"):
		return SiteHRMS
	case strings.Contains(n, "sales") || strings.Contains(c, "sales"):
		return SiteSales
	case strings.Contains(n, "cms") || strings.Contains(c, "cms"):
		return SiteCMS
	case strings.Contains(n, "garage") || strings.Contains(c, "garage"):
		return SiteGarage
	default:
		return SiteGeneric
	}
}

// ============================================================
// Static per-site-type data
// ============================================================

// DefaultTable is the write target used when the caller gives no override.
func (s SiteType) DefaultTable() string {
	switch s {
	case SiteSales:
		return "users"
	case SiteHRMS:
		return "employees"
	case SiteCMS:
		return "hr_users"
	default:
		return "user_profiles"
	}
}

// candidateTables lists user tables per site type, most specific first.
var candidateTables = map[SiteType][]string{
	SiteSales:   {"sales_managers", "managers", "sales_team", "sales_users", "users", "user_profiles"},
	SiteHRMS:    {"employees", "user_profiles", "staff", "hr_users", "users"},
	SiteCMS:     {"hr_users", "editors", "authors", "cms_users", "users", "user_profiles"},
	SiteGarage:  {"mechanics", "staff", "garage_users", "users", "user_profiles"},
	SiteGeneric: {"user_profiles", "users", "employees", "staff", "managers"},
}

// CandidateTables returns a copy of the ordered table search list.
func (s SiteType) CandidateTables() []string {
	tables, ok := candidateTables[s]
	if !ok {
		tables = candidateTables[SiteGeneric]
	}
	out := make([]string, len(tables))
	copy(out, tables)
	return out
}

// RoleOption is one entry of a site's role vocabulary.
type RoleOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

var siteRoles = map[SiteType][]RoleOption{
	SiteSales: {
		{Value: "owner", Label: "Owner"},
		{Value: "manager", Label: "Manager"},
		{Value: "salesman", Label: "Salesman"},
	},
	SiteHRMS: {
		{Value: "admin", Label: "Admin"},
		{Value: "manager", Label: "Manager"},
		{Value: "user", Label: "User"},
		{Value: "employee", Label: "Employee"},
	},
	SiteCMS: {
		{Value: "admin", Label: "Admin"},
		{Value: "hr", Label: "HR"},
		{Value: "editor", Label: "Editor"},
		{Value: "author", Label: "Author"},
		{Value: "user", Label: "User"},
	},
	SiteGarage: {
		{Value: "admin", Label: "Admin"},
		{Value: "manager", Label: "Manager"},
		{Value: "mechanic", Label: "Mechanic"},
		{Value: "staff", Label: "Staff"},
	},
}

var genericRoles = []RoleOption{
	{Value: "admin", Label: "Admin"},
	{Value: "manager", Label: "Manager"},
	{Value: "user", Label: "User"},
}

// Roles returns the role vocabulary for the site type.
func (s SiteType) Roles() []RoleOption {
	roles, ok := siteRoles[s]
	if !ok {
		roles = genericRoles
	}
	out := make([]RoleOption, len(roles))
	copy(out, roles)
	return out
}

// Fallback column sets for tables that cannot be sampled.
var (
	salesUsersColumns    = []string{"id", "email", "full_name", "role", "phone", "department", "is_active", "created_at", "updated_at"}
	hrmsEmployeesColumns = []string{"id", "email", "full_name", "role", "department", "employee_status", "created_at", "updated_at"}
	cmsHRUsersColumns    = []string{"id", "email", "full_name", "role", "department", "phone", "created_at", "updated_at"}
	userProfilesColumns  = []string{"id", "clerk_user_id", "email", "full_name", "avatar_url", "role", "team", "department", "phone", "created_at", "updated_at"}
)

// DefaultColumns returns the static column set for (site type, table).
// Never empty: unknown combinations get the user_profiles shape.
func DefaultColumns(s SiteType, table string) []string {
	var cols []string
	switch {
	case s == SiteSales && table == "users":
		cols = salesUsersColumns
	case s == SiteHRMS && table == "employees":
		cols = hrmsEmployeesColumns
	case s == SiteCMS && table == "hr_users":
		cols = cmsHRUsersColumns
	default:
		cols = userProfilesColumns
	}
	out := make([]string, len(cols))
	copy(out, cols)
	return out
}
