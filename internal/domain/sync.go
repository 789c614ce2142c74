package domain

import "time"

// SyncStatus is the lifecycle state of a sync log entry.
type SyncStatus string

const (
	SyncPending    SyncStatus = "pending"
	SyncInProgress SyncStatus = "in_progress"
	SyncSuccess    SyncStatus = "success"
	SyncFailed     SyncStatus = "failed"
)

// Sync actions reported back to the caller.
const (
	ActionCreated  = "created"
	ActionUpdated  = "updated"
	ActionUpserted = "upserted"
	ActionSkipped  = "skipped"
)

// ErrorKind classifies a failed or degraded SyncOutcome.
type ErrorKind string

const (
	KindNotFound       ErrorKind = "not_found"
	KindMisconfigured  ErrorKind = "misconfigured"
	KindRemoteRead     ErrorKind = "remote_read_failed"
	KindRemoteWrite    ErrorKind = "remote_write_failed"
	KindPartialWarning ErrorKind = "partial_warning"
)

// SyncOutcome is the typed result of syncing one user to one tenant.
// A PartialWarning outcome is still a success.
type SyncOutcome struct {
	Success    bool      `json:"success"`
	UserID     string    `json:"user_id"`
	UserEmail  string    `json:"user_email,omitempty"`
	SiteID     string    `json:"site_id"`
	Site       string    `json:"site,omitempty"`
	SiteType   SiteType  `json:"site_type,omitempty"`
	Table      string    `json:"table,omitempty"`
	Action     string    `json:"action,omitempty"`
	IdentityID string    `json:"identity_id,omitempty"`
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  ErrorKind `json:"error_kind,omitempty"`
	Warning    string    `json:"warning,omitempty"`
}

// Partial reports a success whose identity-provider step failed.
func (o *SyncOutcome) Partial() bool {
	return o.Success && o.ErrorKind == KindPartialWarning
}

// SyncBatch aggregates outcomes of a fan-out.
type SyncBatch struct {
	UserID       string        `json:"user_id,omitempty"`
	Total        int           `json:"total"`
	SuccessCount int           `json:"success_count"`
	FailCount    int           `json:"fail_count"`
	SkipCount    int           `json:"skip_count"`
	Results      []SyncOutcome `json:"results"`
}

// Add folds one outcome into the batch counters.
func (b *SyncBatch) Add(o SyncOutcome) {
	b.Results = append(b.Results, o)
	b.Total++
	switch {
	case o.Action == ActionSkipped:
		b.SkipCount++
	case o.Success:
		b.SuccessCount++
	default:
		b.FailCount++
	}
}

// SyncLogEntry records one (user, tenant, attempt).
type SyncLogEntry struct {
	ID           string         `json:"id"`
	UserID       string         `json:"user_id"`
	SiteID       string         `json:"site_id"`
	TargetSite   string         `json:"target_site"`
	Status       SyncStatus     `json:"sync_status"`
	SyncType     string         `json:"sync_type"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Snapshot     map[string]any `json:"synced_data,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// Identity is an entry in a tenant's identity provider (auth.users).
type Identity struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"user_metadata,omitempty"`
}

// IdentityPatch updates credential and metadata of an identity.
type IdentityPatch struct {
	Secret   string         `json:"password,omitempty"`
	Metadata map[string]any `json:"user_metadata,omitempty"`
}
