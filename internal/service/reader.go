package service

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/boddenberg/sso-sync/internal/domain"
	"github.com/boddenberg/sso-sync/internal/infra/observability"
	"github.com/boddenberg/sso-sync/internal/port"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const orderColumn = "created_at"

// UserReader reads, edits and counts users held in tenant stores.
type UserReader struct {
	directory port.Directory
	registry  *Registry
	prober    *SchemaProber
	opts      Options
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewUserReader creates a UserReader.
func NewUserReader(directory port.Directory, registry *Registry, prober *SchemaProber, opts Options, metrics *observability.Metrics, logger *zap.Logger) *UserReader {
	return &UserReader{
		directory: directory,
		registry:  registry,
		prober:    prober,
		opts:      opts.withDefaults(),
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// ============================================================
// Aggregated read
// ============================================================

type taggedRow struct {
	row   port.Row
	table string
}

// ListTenantUsers reads every candidate user table of the tenant, newest
// rows first, and merges them by email. When two rows share an email the
// one from the longer table name wins. Returns *domain.ErrNoUserTables
// when none of the candidate tables exist.
func (r *UserReader) ListTenantUsers(ctx context.Context, tenantID string) (*domain.TenantUserList, error) {
	ctx, span := syncTracer.Start(ctx, "UserReader.ListTenantUsers")
	defer span.End()
	span.SetAttributes(attribute.String("site_id", tenantID))

	start := r.now()
	defer func() { r.metrics.RecordDuration("list_site_users", time.Since(start)) }()

	tenant, conn, err := r.registry.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	siteType := tenant.SiteType()
	candidates := siteType.CandidateTables()

	result := &domain.TenantUserList{
		Site:          tenant.Summary(),
		Users:         []domain.TenantUser{},
		TablesQueried: candidates,
		TablesPresent: []string{},
		TablesFound:   []string{},
	}

	var merged []taggedRow
	byEmail := make(map[string]int)
	for _, table := range candidates {
		rows, err := conn.Store.QueryRows(ctx, table, port.Query{
			Limit:   r.opts.ReadLimit,
			OrderBy: orderColumn,
			Desc:    true,
		})
		if err != nil {
			var notFound *domain.ErrTableNotFound
			if errors.As(err, &notFound) {
				continue
			}
			r.logger.Warn("candidate table read failed",
				zap.String("site", tenant.Name),
				zap.String("table", table),
				zap.Error(err),
			)
			r.metrics.IncrRemoteError(tenant.Name, "query")
			result.Errors = append(result.Errors, table+": "+rootMessage(err))
			continue
		}

		result.TablesPresent = append(result.TablesPresent, table)
		if len(rows) == 0 {
			continue
		}
		result.TablesFound = append(result.TablesFound, table)
		r.metrics.IncrTableFound(siteType, table)

		for _, row := range rows {
			email := domain.NormalizeEmail(stringValue(row[colEmail]))
			if email == "" {
				merged = append(merged, taggedRow{row: row, table: table})
				continue
			}
			if idx, ok := byEmail[email]; ok {
				if len(table) > len(merged[idx].table) {
					merged[idx] = taggedRow{row: row, table: table}
				}
				continue
			}
			byEmail[email] = len(merged)
			merged = append(merged, taggedRow{row: row, table: table})
		}
	}

	if len(result.TablesPresent) == 0 {
		if len(result.Errors) > 0 {
			return nil, &domain.ErrRemoteRead{
				Site:  tenant.Name,
				Table: strings.Join(candidates, ","),
				Err:   errors.New(strings.Join(result.Errors, "; ")),
			}
		}
		return nil, &domain.ErrNoUserTables{Site: tenant.Name, Checked: candidates}
	}

	for _, tr := range merged {
		result.Users = append(result.Users, NormalizeRow(tr.row, tr.table, siteType))
	}
	result.Count = len(result.Users)

	r.logger.Debug("tenant users listed",
		zap.String("site", tenant.Name),
		zap.Int("count", result.Count),
		zap.Strings("tables_found", result.TablesFound),
	)
	return result, nil
}

// rootMessage returns the innermost error text, the tenant's own message.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

// ============================================================
// Schema
// ============================================================

// TableSchema probes table, or the site type's default table.
func (r *UserReader) TableSchema(ctx context.Context, tenantID, table string) (*domain.TableSchema, error) {
	ctx, span := syncTracer.Start(ctx, "UserReader.TableSchema")
	defer span.End()

	tenant, conn, err := r.registry.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if table == "" {
		table = tenant.SiteType().DefaultTable()
	}
	return r.prober.Probe(ctx, conn.Store, tenant, table), nil
}

// ============================================================
// Edit and delete
// ============================================================

// findRow looks a row up by id, then by email when one is given.
func (r *UserReader) findRow(ctx context.Context, store port.TenantStore, table, userID, email string) (port.Row, error) {
	rows, idErr := store.QueryRows(ctx, table, port.Query{
		Filters: []port.Filter{{Column: colID, Value: userID}},
		Limit:   1,
	})
	if idErr != nil {
		var notFound *domain.ErrTableNotFound
		if errors.As(idErr, &notFound) {
			return nil, &domain.ErrNotFound{Resource: "table", ID: table}
		}
		// A typed id column rejects ids of another shape; the email may still match.
		r.logger.Debug("row lookup by id failed", zap.String("table", table), zap.Error(idErr))
	} else if len(rows) > 0 {
		return rows[0], nil
	}

	if email != "" {
		rows, err := store.QueryRows(ctx, table, port.Query{
			Filters: []port.Filter{{Column: colEmail, Value: domain.NormalizeEmail(email)}},
			Limit:   1,
		})
		if err == nil {
			if len(rows) > 0 {
				return rows[0], nil
			}
			return nil, &domain.ErrNotFound{Resource: "user in " + table, ID: userID}
		}
		r.logger.Debug("row lookup by email failed", zap.String("table", table), zap.Error(err))
	}
	if idErr != nil {
		return nil, idErr
	}
	return nil, &domain.ErrNotFound{Resource: "user in " + table, ID: userID}
}

// rowFilter addresses row by id when it has one, by email otherwise.
func rowFilter(row port.Row, fallbackID string) []port.Filter {
	if id := stringValue(row[colID]); id != "" {
		return []port.Filter{{Column: colID, Value: id}}
	}
	if email := stringValue(row[colEmail]); email != "" {
		return []port.Filter{{Column: colEmail, Value: email}}
	}
	return []port.Filter{{Column: colID, Value: fallbackID}}
}

// UpdateUser patches one tenant row. Only columns already present on the
// row are written; the role is translated into the site's vocabulary.
// Returns the updated row and the table it lives in.
func (r *UserReader) UpdateUser(ctx context.Context, tenantID, userID string, patch domain.UserPatch, sourceTable string) (port.Row, string, error) {
	ctx, span := syncTracer.Start(ctx, "UserReader.UpdateUser")
	defer span.End()
	span.SetAttributes(attribute.String("site_id", tenantID), attribute.String("user_id", userID))

	tenant, conn, err := r.registry.Resolve(ctx, tenantID)
	if err != nil {
		return nil, "", err
	}
	table := sourceTable
	if table == "" {
		table = tenant.SiteType().DefaultTable()
	}

	var email string
	if patch.Email != nil {
		email = *patch.Email
	}
	existing, err := r.findRow(ctx, conn.Store, table, userID, email)
	if err != nil {
		return nil, "", err
	}

	update := BuildPatch(patch, existing, tenant.SiteType(), r.now())
	if len(update) == 0 {
		return nil, "", &domain.ErrNoValidColumns{Table: table, Available: slices.Sorted(maps.Keys(existing))}
	}

	rows, err := conn.Store.UpdateRows(ctx, table, update, rowFilter(existing, userID))
	if err != nil {
		r.metrics.IncrRemoteError(tenant.Name, "update")
		return nil, "", err
	}

	var updated port.Row
	if len(rows) > 0 {
		updated = rows[0]
	} else {
		updated = maps.Clone(existing)
		maps.Copy(updated, update)
	}

	r.logger.Info("tenant user updated",
		zap.String("site", tenant.Name),
		zap.String("table", table),
		zap.Strings("columns", slices.Sorted(maps.Keys(update))),
	)
	r.refreshCountBestEffort(ctx, tenant, conn)
	return updated, table, nil
}

// DeleteUser removes one tenant row and, with an elevated key, the
// matching identity. Returns the table the row was deleted from.
func (r *UserReader) DeleteUser(ctx context.Context, tenantID, userID, sourceTable string) (string, error) {
	ctx, span := syncTracer.Start(ctx, "UserReader.DeleteUser")
	defer span.End()
	span.SetAttributes(attribute.String("site_id", tenantID), attribute.String("user_id", userID))

	tenant, conn, err := r.registry.Resolve(ctx, tenantID)
	if err != nil {
		return "", err
	}
	table := sourceTable
	if table == "" {
		table = tenant.SiteType().DefaultTable()
	}

	existing, err := r.findRow(ctx, conn.Store, table, userID, "")
	if err != nil {
		return "", err
	}
	if err := conn.Store.DeleteRows(ctx, table, []port.Filter{{Column: colID, Value: userID}}); err != nil {
		r.metrics.IncrRemoteError(tenant.Name, "delete")
		return "", err
	}

	if email := stringValue(existing[colEmail]); conn.Identity != nil && email != "" {
		r.deleteIdentity(ctx, conn.Identity, tenant, email)
	}

	r.logger.Info("tenant user deleted",
		zap.String("site", tenant.Name),
		zap.String("table", table),
		zap.String("user_id", userID),
	)
	r.refreshCountBestEffort(ctx, tenant, conn)
	return table, nil
}

func (r *UserReader) deleteIdentity(ctx context.Context, idp port.IdentityAdmin, tenant *domain.Tenant, email string) {
	identity, err := idp.FindIdentityByEmail(ctx, email)
	if err == nil && identity != nil {
		err = idp.DeleteIdentity(ctx, identity.ID)
	}
	if err != nil {
		r.logger.Warn("could not delete identity provider entry",
			zap.String("site", tenant.Name),
			zap.Error(err),
		)
	}
}

// ============================================================
// User count
// ============================================================

// RefreshUserCount counts distinct users across the candidate tables (by
// email, falling back to id) and stores the total in the directory.
func (r *UserReader) RefreshUserCount(ctx context.Context, tenantID string) (int, error) {
	ctx, span := syncTracer.Start(ctx, "UserReader.RefreshUserCount")
	defer span.End()

	tenant, conn, err := r.registry.Resolve(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	total := r.countUsers(ctx, tenant, conn.Store)
	if err := r.directory.UpdateTenantUserCount(ctx, tenant.ID, total); err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int("total_users", total))
	return total, nil
}

func (r *UserReader) countUsers(ctx context.Context, tenant *domain.Tenant, store port.TenantStore) int {
	emails := make(map[string]struct{})
	ids := make(map[string]struct{})
	for _, table := range tenant.SiteType().CandidateTables() {
		rows, err := store.QueryRows(ctx, table, port.Query{})
		if err != nil {
			var notFound *domain.ErrTableNotFound
			if !errors.As(err, &notFound) {
				r.logger.Warn("count: table read failed",
					zap.String("site", tenant.Name),
					zap.String("table", table),
					zap.Error(err),
				)
			}
			continue
		}
		for _, row := range rows {
			if email := domain.NormalizeEmail(stringValue(row[colEmail])); email != "" {
				emails[email] = struct{}{}
			} else if id := stringValue(row[colID]); id != "" {
				ids[id] = struct{}{}
			}
		}
	}
	return len(emails) + len(ids)
}

func (r *UserReader) refreshCountBestEffort(ctx context.Context, tenant *domain.Tenant, conn *port.TenantConn) {
	total := r.countUsers(ctx, tenant, conn.Store)
	if err := r.directory.UpdateTenantUserCount(ctx, tenant.ID, total); err != nil {
		r.logger.Warn("could not refresh user count", zap.String("site", tenant.Name), zap.Error(err))
	}
}
