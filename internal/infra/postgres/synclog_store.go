// Package postgres stores the sync log in a plain Postgres database when
// SYNC_LOG_DATABASE_URL is set, instead of the central project's REST API.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/boddenberg/sso-sync/internal/domain"
	"github.com/boddenberg/sso-sync/internal/port"
)

// SyncLogStore implements port.SyncLogStore on database/sql.
type SyncLogStore struct {
	db *sql.DB
}

var _ port.SyncLogStore = (*SyncLogStore)(nil)

// Open connects with the pgx driver.
func Open(dsn string) (*SyncLogStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &SyncLogStore{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *SyncLogStore {
	return &SyncLogStore{db: db}
}

func (s *SyncLogStore) Close() error { return s.db.Close() }

// Ping checks the connection; used by /readyz.
func (s *SyncLogStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureSchema creates the user_sync_log table when it is missing.
func (s *SyncLogStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		create table if not exists user_sync_log (
			id            uuid primary key,
			user_id       text not null,
			site_id       text not null,
			target_site   text not null,
			sync_status   text not null,
			sync_type     text not null,
			synced_data   jsonb,
			error_message text,
			created_at    timestamptz not null default now(),
			completed_at  timestamptz
		)`)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		create index if not exists user_sync_log_pair_idx
		on user_sync_log (user_id, site_id, sync_status)`)
	return err
}

func (s *SyncLogStore) Create(ctx context.Context, entry *domain.SyncLogEntry) error {
	snapshot, err := marshalSnapshot(entry.Snapshot)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into user_sync_log (id, user_id, site_id, target_site, sync_status, sync_type, synced_data, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.UserID, entry.SiteID, entry.TargetSite, string(entry.Status), entry.SyncType, snapshot, entry.CreatedAt.UTC())
	return err
}

func (s *SyncLogStore) Complete(ctx context.Context, entry *domain.SyncLogEntry) error {
	snapshot, err := marshalSnapshot(entry.Snapshot)
	if err != nil {
		return err
	}
	var errMsg sql.NullString
	if entry.ErrorMessage != "" {
		errMsg = sql.NullString{String: entry.ErrorMessage, Valid: true}
	}
	var completed sql.NullTime
	if entry.CompletedAt != nil {
		completed = sql.NullTime{Time: entry.CompletedAt.UTC(), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		update user_sync_log
		set sync_status = $2, error_message = $3, synced_data = coalesce($4, synced_data), completed_at = $5
		where id = $1
	`, entry.ID, string(entry.Status), errMsg, snapshot, completed)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &domain.ErrNotFound{Resource: "sync_log", ID: entry.ID}
	}
	return nil
}

func (s *SyncLogStore) HasSuccess(ctx context.Context, userID, siteID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists (
			select 1 from user_sync_log
			where user_id = $1 and site_id = $2 and sync_status = 'success'
		)
	`, userID, siteID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func marshalSnapshot(snapshot map[string]any) ([]byte, error) {
	if snapshot == nil {
		return nil, nil
	}
	return json.Marshal(snapshot)
}
