// Package service holds the synchronisation engine and the aggregated
// tenant user reader.
package service

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"time"

	"github.com/boddenberg/sso-sync/internal/domain"
	"github.com/boddenberg/sso-sync/internal/infra/observability"
	"github.com/boddenberg/sso-sync/internal/port"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"
)

var syncTracer = otel.Tracer("service/sync")

const defaultMaxConcurrency = 8

// Options tunes the sync engine and the reader.
type Options struct {
	MaxConcurrency int // parallel tenant syncs in a fan-out
	ReadLimit      int // row cap per candidate table
	HashCost       int // bcrypt cost for password_hash columns
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = defaultMaxConcurrency
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1000
	}
	if o.HashCost == 0 {
		o.HashCost = bcrypt.DefaultCost
	}
	return o
}

// SyncService replicates canonical users into tenant stores.
type SyncService struct {
	directory port.Directory
	registry  *Registry
	prober    *SchemaProber
	logs      port.SyncLogStore
	opts      Options
	metrics   *observability.Metrics
	logger    *zap.Logger

	now     func() time.Time
	entropy *ulid.MonotonicEntropy
	mu      sync.Mutex
}

// NewSyncService creates the sync engine. logs may be nil.
func NewSyncService(
	directory port.Directory,
	registry *Registry,
	prober *SchemaProber,
	logs port.SyncLogStore,
	opts Options,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *SyncService {
	return &SyncService{
		directory: directory,
		registry:  registry,
		prober:    prober,
		logs:      logs,
		opts:      opts.withDefaults(),
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
		entropy:   ulid.Monotonic(rand.Reader, 0),
	}
}

// ============================================================
// Single tenant
// ============================================================

// SyncUserToTenant replicates one user into one tenant. table overrides
// the site type's default table when non-empty. Failures are reported in
// the outcome, never as a Go error.
func (s *SyncService) SyncUserToTenant(ctx context.Context, userID, tenantID, table string) domain.SyncOutcome {
	ctx, span := syncTracer.Start(ctx, "SyncService.SyncUserToTenant")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID), attribute.String("site_id", tenantID))

	user, err := s.directory.GetUser(ctx, userID)
	if err != nil {
		return s.failEarly(userID, tenantID, err)
	}
	tenant, err := s.registry.Tenant(ctx, tenantID)
	if err != nil {
		return s.failEarly(userID, tenantID, err)
	}
	return s.syncPair(ctx, user, tenant, table)
}

func (s *SyncService) failEarly(userID, tenantID string, err error) domain.SyncOutcome {
	out := domain.SyncOutcome{UserID: userID, SiteID: tenantID}
	fail(&out, err)
	s.metrics.RecordSync(out)
	return out
}

// syncPair runs the per-tenant steps in order: identity provider, target
// table, schema probe, mapping, upsert.
func (s *SyncService) syncPair(ctx context.Context, user *domain.CanonicalUser, tenant *domain.Tenant, table string) domain.SyncOutcome {
	start := s.now()
	defer func() { s.metrics.RecordDuration("sync_user_to_site", time.Since(start)) }()

	siteType := tenant.SiteType()
	out := domain.SyncOutcome{
		UserID:    user.ID,
		UserEmail: domain.NormalizeEmail(user.Email),
		SiteID:    tenant.ID,
		Site:      tenant.Name,
		SiteType:  siteType,
	}
	if err := checkTenant(tenant); err != nil {
		fail(&out, err)
		s.metrics.RecordSync(out)
		return out
	}

	logger := s.logger.With(
		zap.String("user_id", user.ID),
		zap.String("site", tenant.Name),
		zap.String("site_type", string(siteType)),
	)

	conn, err := s.registry.Connect(ctx, tenant)
	if err != nil {
		fail(&out, err)
		s.metrics.RecordSync(out)
		return out
	}

	entry := s.startLog(ctx, user, tenant)

	// Identity provider step. Its failure degrades the outcome to a
	// partial warning.
	var identityID string
	var identityErr error
	if conn.Identity != nil && user.HasSecret() {
		identityID, identityErr = s.ensureIdentity(ctx, conn.Identity, user, siteType)
		if identityErr != nil {
			logger.Warn("identity provider step failed, continuing with profile sync", zap.Error(identityErr))
		}
		out.IdentityID = identityID
	}

	if table == "" {
		table = siteType.DefaultTable()
	}
	out.Table = table

	schema := s.prober.Probe(ctx, conn.Store, tenant, table)
	row := BuildRow(user, schema, s.now())

	var existing port.Row
	existsKnown := false
	if schema.Has(colEmail) {
		rows, err := conn.Store.QueryRows(ctx, table, port.Query{
			Filters: []port.Filter{{Column: colEmail, Value: domain.NormalizeEmail(user.Email)}},
			Limit:   1,
		})
		if err == nil {
			existsKnown = true
			if len(rows) > 0 {
				existing = rows[0]
			}
		} else {
			logger.Debug("existing row lookup failed", zap.String("table", table), zap.Error(err))
		}
	}

	conflictKey := colEmail
	if schema.Has(colID) {
		conflictKey = colID
		row[colID] = rowKey(existing, identityID, user.ID)
	}
	if schema.Has(colPasswordHash) && user.HasSecret() {
		hash, err := s.hashSecret(user.Secret, stringValue(existing[colPasswordHash]))
		if err != nil {
			logger.Warn("could not hash secret, leaving password_hash unchanged", zap.Error(err))
		} else {
			row[colPasswordHash] = hash
		}
	}

	if _, err := conn.Store.UpsertRow(ctx, table, row, conflictKey); err != nil {
		logger.Error("tenant upsert failed", zap.String("table", table), zap.Error(err))
		s.metrics.IncrRemoteError(tenant.Name, "upsert")
		fail(&out, err)
		s.finishLog(ctx, entry, out)
		s.metrics.RecordSync(out)
		return out
	}

	switch {
	case !existsKnown:
		out.Action = domain.ActionUpserted
	case existing != nil:
		out.Action = domain.ActionUpdated
	default:
		out.Action = domain.ActionCreated
	}
	out.Success = true
	out.Message = "user " + out.Action + " in " + tenant.Name + "." + table
	if identityErr != nil {
		out.ErrorKind = domain.KindPartialWarning
		out.Warning = "identity provider sync failed: " + identityErr.Error()
	}

	logger.Info("user synced",
		zap.String("table", table),
		zap.String("action", out.Action),
		zap.Bool("schema_defaulted", schema.Defaulted()),
		zap.Bool("partial", out.Partial()),
	)
	s.finishLog(ctx, entry, out)
	s.metrics.RecordSync(out)
	return out
}

// rowKey picks the primary key of the tenant row: an existing row's id,
// then the identity-provider id, then the canonical id.
func rowKey(existing port.Row, identityID, canonicalID string) string {
	if id := stringValue(existing[colID]); id != "" {
		return id
	}
	if identityID != "" {
		return identityID
	}
	return canonicalID
}

// hashSecret returns a bcrypt hash of secret, reusing current when it
// already matches.
func (s *SyncService) hashSecret(secret, current string) (string, error) {
	if current != "" && bcrypt.CompareHashAndPassword([]byte(current), []byte(secret)) == nil {
		return current, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.opts.HashCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ensureIdentity finds the user's identity by email and refreshes it, or
// creates it with an id derived from the canonical id.
func (s *SyncService) ensureIdentity(ctx context.Context, idp port.IdentityAdmin, user *domain.CanonicalUser, siteType domain.SiteType) (string, error) {
	ctx, span := syncTracer.Start(ctx, "SyncService.ensureIdentity")
	defer span.End()

	email := domain.NormalizeEmail(user.Email)
	metadata := map[string]any{
		"full_name":       user.FullName,
		"role":            MapRoleForSite(user.Role, siteType),
		"central_user_id": user.ID,
	}

	found, err := idp.FindIdentityByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if found != nil {
		_, err := idp.UpdateIdentity(ctx, found.ID, domain.IdentityPatch{Secret: user.Secret, Metadata: metadata})
		return found.ID, err
	}

	created, err := idp.CreateIdentity(ctx, surrogateID(user.ID), email, user.Secret, metadata)
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

// surrogateID is stable per canonical id: UUIDs are kept, anything else
// maps to a name-based UUID.
func surrogateID(canonicalID string) string {
	if id, err := uuid.Parse(canonicalID); err == nil {
		return id.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("sso-sync:user:"+canonicalID)).String()
}

// fail fills the error fields of out from err.
func fail(out *domain.SyncOutcome, err error) {
	out.Success = false
	out.Error = err.Error()

	var notFound *domain.ErrNotFound
	var misconfigured *domain.ErrMisconfigured
	var writeErr *domain.ErrRemoteWrite
	switch {
	case errors.As(err, &notFound):
		out.ErrorKind = domain.KindNotFound
	case errors.As(err, &misconfigured):
		out.ErrorKind = domain.KindMisconfigured
	case errors.As(err, &writeErr):
		out.ErrorKind = domain.KindRemoteWrite
	default:
		out.ErrorKind = domain.KindRemoteRead
	}
}

// ============================================================
// Sync log
// ============================================================

// newLogID returns a time-ordered ULID in UUID form; user_sync_log.id is a uuid column.
func (s *SyncService) newLogID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uuid.UUID(ulid.MustNew(ulid.Timestamp(s.now()), s.entropy)).String()
}

func (s *SyncService) startLog(ctx context.Context, user *domain.CanonicalUser, tenant *domain.Tenant) *domain.SyncLogEntry {
	if s.logs == nil {
		return nil
	}
	entry := &domain.SyncLogEntry{
		ID:         s.newLogID(),
		UserID:     user.ID,
		SiteID:     tenant.ID,
		TargetSite: tenant.Name,
		Status:     domain.SyncInProgress,
		SyncType:   "upsert",
		Snapshot:   Snapshot(user),
		CreatedAt:  s.now(),
	}
	if err := s.logs.Create(ctx, entry); err != nil {
		s.logger.Warn("could not create sync log entry", zap.String("site", tenant.Name), zap.Error(err))
		return nil
	}
	return entry
}

func (s *SyncService) finishLog(ctx context.Context, entry *domain.SyncLogEntry, out domain.SyncOutcome) {
	if entry == nil {
		return
	}
	done := s.now()
	entry.CompletedAt = &done
	entry.Status = domain.SyncSuccess
	entry.ErrorMessage = out.Warning
	if !out.Success {
		entry.Status = domain.SyncFailed
		entry.ErrorMessage = out.Error
	}
	if out.Action != "" {
		entry.SyncType = out.Action
	}
	if err := s.logs.Complete(ctx, entry); err != nil {
		s.logger.Warn("could not complete sync log entry", zap.String("id", entry.ID), zap.Error(err))
	}
}

// ============================================================
// Fan-out
// ============================================================

// SyncUserToTenants syncs one user into each tenant independently.
// Outcomes keep the order of tenantIDs.
func (s *SyncService) SyncUserToTenants(ctx context.Context, userID string, tenantIDs []string) *domain.SyncBatch {
	ctx, span := syncTracer.Start(ctx, "SyncService.SyncUserToTenants")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userID), attribute.Int("sites", len(tenantIDs)))

	batch := &domain.SyncBatch{UserID: userID, Results: []domain.SyncOutcome{}}
	user, err := s.directory.GetUser(ctx, userID)
	if err != nil {
		for _, id := range tenantIDs {
			batch.Add(s.failEarly(userID, id, err))
		}
		return batch
	}

	results := make([]domain.SyncOutcome, len(tenantIDs))
	g := new(errgroup.Group)
	g.SetLimit(s.opts.MaxConcurrency)
	for i, tenantID := range tenantIDs {
		g.Go(func() error {
			tenant, err := s.registry.Tenant(ctx, tenantID)
			if err != nil {
				results[i] = s.failEarly(userID, tenantID, err)
				return nil
			}
			results[i] = s.syncPair(ctx, user, tenant, "")
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		batch.Add(r)
	}
	return batch
}

// SyncUserToAllTenants syncs one user into every active tenant.
func (s *SyncService) SyncUserToAllTenants(ctx context.Context, userID string) (*domain.SyncBatch, error) {
	ctx, span := syncTracer.Start(ctx, "SyncService.SyncUserToAllTenants")
	defer span.End()

	user, err := s.directory.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	tenants, err := s.registry.ActiveTenants(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]domain.SyncOutcome, len(tenants))
	g := new(errgroup.Group)
	g.SetLimit(s.opts.MaxConcurrency)
	for i := range tenants {
		g.Go(func() error {
			results[i] = s.syncPair(ctx, user, &tenants[i], "")
			return nil
		})
	}
	_ = g.Wait()

	batch := &domain.SyncBatch{UserID: userID, Results: []domain.SyncOutcome{}}
	for _, r := range results {
		batch.Add(r)
	}
	return batch, nil
}

// SyncAllUsersToAllTenants syncs every canonical user into every active
// tenant, skipping pairs the sync log already records as successful.
func (s *SyncService) SyncAllUsersToAllTenants(ctx context.Context) (*domain.SyncBatch, error) {
	ctx, span := syncTracer.Start(ctx, "SyncService.SyncAllUsersToAllTenants")
	defer span.End()

	start := s.now()
	defer func() { s.metrics.RecordDuration("sync_all_users", time.Since(start)) }()

	users, err := s.directory.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	tenants, err := s.registry.ActiveTenants(ctx)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("users", len(users)), attribute.Int("sites", len(tenants)))

	results := make([]domain.SyncOutcome, len(users)*len(tenants))
	g := new(errgroup.Group)
	g.SetLimit(s.opts.MaxConcurrency)
	for ui := range users {
		for ti := range tenants {
			i := ui*len(tenants) + ti
			user, tenant := &users[ui], &tenants[ti]
			g.Go(func() error {
				if s.alreadySynced(ctx, user, tenant) {
					results[i] = domain.SyncOutcome{
						Success:   true,
						UserID:    user.ID,
						UserEmail: domain.NormalizeEmail(user.Email),
						SiteID:    tenant.ID,
						Site:      tenant.Name,
						SiteType:  tenant.SiteType(),
						Action:    domain.ActionSkipped,
						Message:   "already synced",
					}
					s.metrics.RecordSync(results[i])
					return nil
				}
				results[i] = s.syncPair(ctx, user, tenant, "")
				return nil
			})
		}
	}
	_ = g.Wait()

	batch := &domain.SyncBatch{Results: []domain.SyncOutcome{}}
	for _, r := range results {
		batch.Add(r)
	}
	s.logger.Info("bulk sync finished",
		zap.Int("total", batch.Total),
		zap.Int("success", batch.SuccessCount),
		zap.Int("failed", batch.FailCount),
		zap.Int("skipped", batch.SkipCount),
	)
	return batch, nil
}

func (s *SyncService) alreadySynced(ctx context.Context, user *domain.CanonicalUser, tenant *domain.Tenant) bool {
	if s.logs == nil {
		return false
	}
	ok, err := s.logs.HasSuccess(ctx, user.ID, tenant.ID)
	if err != nil {
		s.logger.Warn("sync log lookup failed, syncing anyway",
			zap.String("user_id", user.ID),
			zap.String("site", tenant.Name),
			zap.Error(err),
		)
		return false
	}
	return ok
}
