package domain

// Credentials are the keys used to reach a tenant's store.
type Credentials struct {
	PublicKey   string `json:"public_key,omitempty"`
	ElevatedKey string `json:"elevated_key,omitempty"`
}

// Tenant is one connected external system (connected_sites row).
type Tenant struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	DisplayName string      `json:"display_name"`
	Category    string      `json:"category,omitempty"`
	Endpoint    string      `json:"endpoint"`
	Credentials Credentials `json:"-"`
	Active      bool        `json:"active"`
	TotalUsers  int         `json:"total_users"`
}

// SiteType classifies the tenant from its current name and category.
func (t *Tenant) SiteType() SiteType {
	return Classify(t.Name, t.Category)
}

// HasElevatedAccess reports whether identity-provider operations are possible.
func (t *Tenant) HasElevatedAccess() bool {
	return t.Credentials.ElevatedKey != ""
}

// Configured reports whether the tenant can be reached at all.
func (t *Tenant) Configured() bool {
	return t.Endpoint != "" && (t.Credentials.PublicKey != "" || t.Credentials.ElevatedKey != "")
}

// BestKey prefers the elevated key over the public key.
func (t *Tenant) BestKey() string {
	if t.Credentials.ElevatedKey != "" {
		return t.Credentials.ElevatedKey
	}
	return t.Credentials.PublicKey
}

// Summary is the tenant view embedded in API responses.
func (t *Tenant) Summary() SiteSummary {
	return SiteSummary{
		ID:          t.ID,
		Name:        t.Name,
		DisplayName: t.DisplayName,
		Category:    t.Category,
		Type:        t.SiteType(),
	}
}

// SiteSummary identifies a tenant in responses.
type SiteSummary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name,omitempty"`
	Category    string   `json:"category,omitempty"`
	Type        SiteType `json:"type"`
}

// CredentialsUpdate is an explicit configuration action on a tenant.
type CredentialsUpdate struct {
	Endpoint    *string `json:"endpoint,omitempty"`
	PublicKey   *string `json:"public_key,omitempty"`
	ElevatedKey *string `json:"elevated_key,omitempty"`
}
