package handler

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type syncUserToSiteRequest struct {
	UserID string `json:"userId"`
	SiteID string `json:"siteId"`
	Table  string `json:"table,omitempty"`
}

type syncUserToSitesRequest struct {
	UserID  string   `json:"userId"`
	SiteIDs []string `json:"siteIds"`
}

type syncUserRequest struct {
	UserID string `json:"userId"`
}

// ============================================================
// POST /v1/sync/user-to-site
// ============================================================

func syncUserToSiteHandler(svc Syncer, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/sync/user-to-site")
		defer span.End()

		var req syncUserToSiteRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := required("userId", req.UserID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if err := required("siteId", req.SiteID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("user.id", req.UserID), attribute.String("site.id", req.SiteID))

		out := svc.SyncUserToTenant(ctx, req.UserID, req.SiteID, req.Table)
		writeJSON(w, outcomeStatus(out), out)
	}
}

// ============================================================
// POST /v1/sync/user-to-sites
// ============================================================

func syncUserToSitesHandler(svc Syncer, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/sync/user-to-sites")
		defer span.End()

		var req syncUserToSitesRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := required("userId", req.UserID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if len(req.SiteIDs) == 0 {
			writeError(w, http.StatusBadRequest, "siteIds must not be empty")
			return
		}
		span.SetAttributes(attribute.String("user.id", req.UserID), attribute.Int("sites", len(req.SiteIDs)))

		writeJSON(w, http.StatusOK, svc.SyncUserToTenants(ctx, req.UserID, req.SiteIDs))
	}
}

// ============================================================
// POST /v1/sync/user
// ============================================================

func syncUserToAllSitesHandler(svc Syncer, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/sync/user")
		defer span.End()

		var req syncUserRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := required("userId", req.UserID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.String("user.id", req.UserID))

		batch, err := svc.SyncUserToAllTenants(ctx, req.UserID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, batch)
	}
}

// ============================================================
// POST /v1/sync/all-users
// ============================================================

func syncAllUsersHandler(svc Syncer, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/sync/all-users")
		defer span.End()

		logger.Info("full sync requested", zap.String("admin", AdminSubjectFromContext(ctx)))
		batch, err := svc.SyncAllUsersToAllTenants(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.Int("total", batch.Total), attribute.Int("failed", batch.FailCount))
		writeJSON(w, http.StatusOK, batch)
	}
}
