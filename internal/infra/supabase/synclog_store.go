package supabase

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/boddenberg/sso-sync/internal/domain"
	"github.com/boddenberg/sso-sync/internal/port"
)

// ============================================================
// SyncLogStore implementation: user_sync_log
// ============================================================

const tableSyncLog = "user_sync_log"

// SyncLogStore records sync attempts in the central project.
type SyncLogStore struct {
	client *Client
}

// NewSyncLogStore creates a SyncLogStore on the central client.
func NewSyncLogStore(c *Client) *SyncLogStore {
	return &SyncLogStore{client: c}
}

var _ port.SyncLogStore = (*SyncLogStore)(nil)

// Create inserts entry.
func (s *SyncLogStore) Create(ctx context.Context, entry *domain.SyncLogEntry) error {
	ctx, span := tracer.Start(ctx, "SyncLog.Create")
	defer span.End()

	row := map[string]any{
		"id":          entry.ID,
		"user_id":     entry.UserID,
		"site_id":     entry.SiteID,
		"target_site": entry.TargetSite,
		"sync_status": string(entry.Status),
		"sync_type":   entry.SyncType,
		"synced_data": entry.Snapshot,
		"created_at":  entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	_, err := s.client.execute(ctx, request{
		method: http.MethodPost,
		path:   "rest/v1/" + tableSyncLog,
		body:   row,
		prefer: "return=minimal",
	})
	if err != nil {
		return &domain.ErrExternalService{Service: "sync_log", Err: err}
	}
	return nil
}

// Complete stores the final status of entry.
func (s *SyncLogStore) Complete(ctx context.Context, entry *domain.SyncLogEntry) error {
	ctx, span := tracer.Start(ctx, "SyncLog.Complete")
	defer span.End()

	patch := map[string]any{
		"sync_status":   string(entry.Status),
		"error_message": nullIfEmpty(entry.ErrorMessage),
	}
	if entry.Snapshot != nil {
		patch["synced_data"] = entry.Snapshot
	}
	if entry.CompletedAt != nil {
		patch["completed_at"] = entry.CompletedAt.UTC().Format(time.RFC3339Nano)
	}

	query := url.Values{}
	query.Set("id", "eq."+entry.ID)
	_, err := s.client.execute(ctx, request{
		method: http.MethodPatch,
		path:   "rest/v1/" + tableSyncLog,
		query:  query,
		body:   patch,
		prefer: "return=minimal",
	})
	if err != nil {
		return &domain.ErrExternalService{Service: "sync_log", Err: err}
	}
	return nil
}

// HasSuccess reports whether a successful attempt exists for the pair.
func (s *SyncLogStore) HasSuccess(ctx context.Context, userID, siteID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "SyncLog.HasSuccess")
	defer span.End()

	query := url.Values{}
	query.Set("select", "id")
	query.Set("user_id", "eq."+userID)
	query.Set("site_id", "eq."+siteID)
	query.Set("sync_status", "eq."+string(domain.SyncSuccess))
	query.Set("limit", strconv.Itoa(1))

	body, err := s.client.execute(ctx, request{
		method: http.MethodGet,
		path:   "rest/v1/" + tableSyncLog,
		query:  query,
	})
	if err != nil {
		return false, &domain.ErrExternalService{Service: "sync_log", Err: err}
	}
	rows, err := decodeRows(body)
	if err != nil {
		return false, &domain.ErrExternalService{Service: "sync_log", Err: err}
	}
	return len(rows) > 0, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
