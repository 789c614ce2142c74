package handler

import (
	"net/http"

	"github.com/boddenberg/sso-sync/internal/domain"
	"github.com/boddenberg/sso-sync/internal/port"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type updateUserRequest struct {
	domain.UserPatch
	SourceTable string `json:"source_table,omitempty"`
}

type updateUserResponse struct {
	Success bool     `json:"success"`
	Table   string   `json:"table,omitempty"`
	User    port.Row `json:"user"`
}

type deleteUserRequest struct {
	SourceTable string `json:"source_table,omitempty"`
}

type deleteUserResponse struct {
	Success bool   `json:"success"`
	UserID  string `json:"user_id"`
	Table   string `json:"table"`
}

type updateCountResponse struct {
	SiteID     string `json:"site_id"`
	TotalUsers int    `json:"total_users"`
}

type credentialsResponse struct {
	Site        domain.SiteSummary `json:"site"`
	Endpoint    string             `json:"endpoint"`
	Configured  bool               `json:"configured"`
	HasElevated bool               `json:"has_elevated_key"`
}

// ============================================================
// GET /v1/sites/{siteId}/users
// ============================================================

func listSiteUsersHandler(svc SiteUsers, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/sites/{siteId}/users")
		defer span.End()

		siteID := chi.URLParam(r, "siteId")
		span.SetAttributes(attribute.String("site.id", siteID))

		list, err := svc.ListTenantUsers(ctx, siteID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// ============================================================
// GET /v1/sites/{siteId}/table-schema?table=
// ============================================================

func tableSchemaHandler(svc SiteUsers, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/sites/{siteId}/table-schema")
		defer span.End()

		siteID := chi.URLParam(r, "siteId")
		table := r.URL.Query().Get("table")
		span.SetAttributes(attribute.String("site.id", siteID), attribute.String("table", table))

		schema, err := svc.TableSchema(ctx, siteID, table)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, schema)
	}
}

// ============================================================
// PATCH /v1/sites/{siteId}/users/{userId}
// ============================================================

func updateSiteUserHandler(svc SiteUsers, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PATCH /v1/sites/{siteId}/users/{userId}")
		defer span.End()

		siteID := chi.URLParam(r, "siteId")
		userID := chi.URLParam(r, "userId")
		span.SetAttributes(attribute.String("site.id", siteID), attribute.String("user.id", userID))

		var req updateUserRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		table := req.SourceTable
		if table == "" {
			table = r.URL.Query().Get("source_table")
		}

		row, resolved, err := svc.UpdateUser(ctx, siteID, userID, req.UserPatch, table)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		logger.Info("site user updated",
			zap.String("site_id", siteID),
			zap.String("user_id", userID),
			zap.String("table", resolved),
			zap.String("admin", AdminSubjectFromContext(ctx)),
		)
		writeJSON(w, http.StatusOK, updateUserResponse{Success: true, Table: resolved, User: row})
	}
}

// ============================================================
// DELETE /v1/sites/{siteId}/users/{userId}?source_table=
// ============================================================

func deleteSiteUserHandler(svc SiteUsers, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/sites/{siteId}/users/{userId}")
		defer span.End()

		siteID := chi.URLParam(r, "siteId")
		userID := chi.URLParam(r, "userId")
		span.SetAttributes(attribute.String("site.id", siteID), attribute.String("user.id", userID))

		var req deleteUserRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		sourceTable := r.URL.Query().Get("source_table")
		if sourceTable == "" {
			sourceTable = req.SourceTable
		}

		table, err := svc.DeleteUser(ctx, siteID, userID, sourceTable)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		logger.Info("site user deleted",
			zap.String("site_id", siteID),
			zap.String("user_id", userID),
			zap.String("table", table),
			zap.String("admin", AdminSubjectFromContext(ctx)),
		)
		writeJSON(w, http.StatusOK, deleteUserResponse{Success: true, UserID: userID, Table: table})
	}
}

// ============================================================
// POST /v1/sites/{siteId}/update-count
// ============================================================

func updateCountHandler(svc SiteUsers, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/sites/{siteId}/update-count")
		defer span.End()

		siteID := chi.URLParam(r, "siteId")
		span.SetAttributes(attribute.String("site.id", siteID))

		total, err := svc.RefreshUserCount(ctx, siteID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, updateCountResponse{SiteID: siteID, TotalUsers: total})
	}
}

// ============================================================
// PUT /v1/sites/{siteId}/credentials
// ============================================================

func updateCredentialsHandler(svc SiteAdmin, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/sites/{siteId}/credentials")
		defer span.End()

		siteID := chi.URLParam(r, "siteId")
		span.SetAttributes(attribute.String("site.id", siteID))

		var upd domain.CredentialsUpdate
		if err := decodeBody(r, &upd); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		tenant, err := svc.UpdateCredentials(ctx, siteID, upd)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		logger.Info("site credentials updated",
			zap.String("site_id", siteID),
			zap.String("admin", AdminSubjectFromContext(ctx)),
		)
		writeJSON(w, http.StatusOK, credentialsResponse{
			Site:        tenant.Summary(),
			Endpoint:    tenant.Endpoint,
			Configured:  tenant.Configured(),
			HasElevated: tenant.HasElevatedAccess(),
		})
	}
}
