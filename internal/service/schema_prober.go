package service

import (
	"context"
	"errors"
	"maps"
	"slices"

	"github.com/boddenberg/sso-sync/internal/domain"
	"github.com/boddenberg/sso-sync/internal/infra/observability"
	"github.com/boddenberg/sso-sync/internal/port"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// SchemaProber discovers the usable columns of a tenant table.
type SchemaProber struct {
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewSchemaProber creates a SchemaProber.
func NewSchemaProber(metrics *observability.Metrics, logger *zap.Logger) *SchemaProber {
	return &SchemaProber{metrics: metrics, logger: logger}
}

// Probe samples one row of table. When the read fails or the table is
// empty it falls back to static defaults. It never fails and the returned
// column set is never empty.
func (p *SchemaProber) Probe(ctx context.Context, store port.TenantStore, tenant *domain.Tenant, table string) *domain.TableSchema {
	ctx, span := syncTracer.Start(ctx, "SchemaProber.Probe")
	defer span.End()
	span.SetAttributes(attribute.String("site", tenant.Name), attribute.String("table", table))

	siteType := tenant.SiteType()
	schema := &domain.TableSchema{
		Site:  tenant.Summary(),
		Table: table,
		Roles: siteType.Roles(),
	}

	rows, err := store.QueryRows(ctx, table, port.Query{Limit: 1})
	switch {
	case err != nil:
		var notFound *domain.ErrTableNotFound
		if errors.As(err, &notFound) {
			p.logger.Debug("probe: table does not exist",
				zap.String("site", tenant.Name),
				zap.String("table", table),
			)
		} else {
			p.logger.Warn("probe: sample read failed, using defaults",
				zap.String("site", tenant.Name),
				zap.String("table", table),
				zap.Error(err),
			)
		}
		schema.ProbeError = err.Error()
	case len(rows) > 0 && len(rows[0]) > 0:
		schema.Columns = slices.Sorted(maps.Keys(rows[0]))
		schema.HasData = true
		schema.SampleRow = redactSample(rows[0])
		return schema
	}

	schema.Columns = domain.DefaultColumns(siteType, table)
	p.metrics.IncrSchemaDefaulted(siteType)
	span.SetAttributes(attribute.Bool("defaulted", true))
	return schema
}

// redactSample hides secret columns of the sample row.
func redactSample(row port.Row) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		if k == colPasswordHash {
			out[k] = "[redacted]"
			continue
		}
		out[k] = v
	}
	return out
}
