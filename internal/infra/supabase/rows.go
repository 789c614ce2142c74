package supabase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/boddenberg/sso-sync/internal/domain"
	"github.com/boddenberg/sso-sync/internal/port"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// TenantStore row verbs via PostgREST
// ============================================================

// QueryRows reads rows from table. A missing table yields
// *domain.ErrTableNotFound; an unknown order column is retried unordered.
func (c *Client) QueryRows(ctx context.Context, table string, q port.Query) ([]port.Row, error) {
	ctx, span := tracer.Start(ctx, "Supabase.QueryRows")
	defer span.End()
	span.SetAttributes(attribute.String("site", c.name), attribute.String("table", table))

	body, err := c.execute(ctx, request{
		method: http.MethodGet,
		path:   "rest/v1/" + url.PathEscape(table),
		query:  encodeQuery(q),
	})
	if err != nil && q.OrderBy != "" && isMissingColumn(err) {
		c.logger.Debug("supabase: order column missing, retrying unordered",
			zap.String("table", table),
			zap.String("order_by", q.OrderBy),
		)
		q.OrderBy = ""
		body, err = c.execute(ctx, request{
			method: http.MethodGet,
			path:   "rest/v1/" + url.PathEscape(table),
			query:  encodeQuery(q),
		})
	}
	if err != nil {
		if isMissingTable(err) {
			return nil, &domain.ErrTableNotFound{Table: table}
		}
		span.RecordError(err)
		return nil, &domain.ErrRemoteRead{Site: c.name, Table: table, Err: err}
	}

	rows, err := decodeRows(body)
	if err != nil {
		return nil, &domain.ErrRemoteRead{Site: c.name, Table: table, Err: fmt.Errorf("decode rows: %w", err)}
	}
	return rows, nil
}

// UpsertRow inserts row or merges it into the existing row with the same
// conflictKey value.
func (c *Client) UpsertRow(ctx context.Context, table string, row port.Row, conflictKey string) (port.Row, error) {
	ctx, span := tracer.Start(ctx, "Supabase.UpsertRow")
	defer span.End()
	span.SetAttributes(attribute.String("site", c.name), attribute.String("table", table))

	query := url.Values{}
	if conflictKey != "" {
		query.Set("on_conflict", conflictKey)
	}
	body, err := c.execute(ctx, request{
		method: http.MethodPost,
		path:   "rest/v1/" + url.PathEscape(table),
		query:  query,
		body:   row,
		prefer: "resolution=merge-duplicates,return=representation",
	})
	if err != nil {
		span.RecordError(err)
		if isMissingTable(err) {
			err = &domain.ErrTableNotFound{Table: table}
		}
		return nil, &domain.ErrRemoteWrite{Site: c.name, Table: table, Err: err}
	}

	rows, err := decodeRows(body)
	if err != nil || len(rows) == 0 {
		// The write went through; representation is best effort.
		return row, nil
	}
	return rows[0], nil
}

// UpdateRows patches every row matching filters and returns them.
func (c *Client) UpdateRows(ctx context.Context, table string, patch port.Row, filters []port.Filter) ([]port.Row, error) {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateRows")
	defer span.End()
	span.SetAttributes(attribute.String("site", c.name), attribute.String("table", table))

	if len(filters) == 0 {
		return nil, &domain.ErrValidation{Field: "filters", Message: "refusing unfiltered update"}
	}

	query := url.Values{}
	addFilters(query, filters)
	body, err := c.execute(ctx, request{
		method: http.MethodPatch,
		path:   "rest/v1/" + url.PathEscape(table),
		query:  query,
		body:   patch,
		prefer: "return=representation",
	})
	if err != nil {
		span.RecordError(err)
		if isMissingTable(err) {
			err = &domain.ErrTableNotFound{Table: table}
		}
		return nil, &domain.ErrRemoteWrite{Site: c.name, Table: table, Err: err}
	}

	rows, err := decodeRows(body)
	if err != nil {
		return nil, &domain.ErrRemoteWrite{Site: c.name, Table: table, Err: fmt.Errorf("decode rows: %w", err)}
	}
	return rows, nil
}

// DeleteRows deletes every row matching filters.
func (c *Client) DeleteRows(ctx context.Context, table string, filters []port.Filter) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteRows")
	defer span.End()
	span.SetAttributes(attribute.String("site", c.name), attribute.String("table", table))

	if len(filters) == 0 {
		return &domain.ErrValidation{Field: "filters", Message: "refusing unfiltered delete"}
	}

	query := url.Values{}
	addFilters(query, filters)
	_, err := c.execute(ctx, request{
		method: http.MethodDelete,
		path:   "rest/v1/" + url.PathEscape(table),
		query:  query,
		prefer: "return=minimal",
	})
	if err != nil {
		span.RecordError(err)
		if isMissingTable(err) {
			err = &domain.ErrTableNotFound{Table: table}
		}
		return &domain.ErrRemoteWrite{Site: c.name, Table: table, Err: err}
	}
	return nil
}
