package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/sso-sync/internal/domain"
	"github.com/boddenberg/sso-sync/internal/infra/observability"
	"github.com/boddenberg/sso-sync/internal/port"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Syncer replicates canonical users into tenants.
type Syncer interface {
	SyncUserToTenant(ctx context.Context, userID, tenantID, table string) domain.SyncOutcome
	SyncUserToTenants(ctx context.Context, userID string, tenantIDs []string) *domain.SyncBatch
	SyncUserToAllTenants(ctx context.Context, userID string) (*domain.SyncBatch, error)
	SyncAllUsersToAllTenants(ctx context.Context) (*domain.SyncBatch, error)
}

// SiteUsers reads and edits users inside one tenant.
type SiteUsers interface {
	ListTenantUsers(ctx context.Context, tenantID string) (*domain.TenantUserList, error)
	TableSchema(ctx context.Context, tenantID, table string) (*domain.TableSchema, error)
	UpdateUser(ctx context.Context, tenantID, userID string, patch domain.UserPatch, sourceTable string) (port.Row, string, error)
	DeleteUser(ctx context.Context, tenantID, userID, sourceTable string) (string, error)
	RefreshUserCount(ctx context.Context, tenantID string) (int, error)
}

// SiteAdmin configures tenants in the central registry.
type SiteAdmin interface {
	ActiveTenants(ctx context.Context) ([]domain.Tenant, error)
	UpdateCredentials(ctx context.Context, tenantID string, upd domain.CredentialsUpdate) (*domain.Tenant, error)
}

// Pinger is a dependency checked by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies are the collaborators of the router. Nil services leave
// their routes answering 503.
type Dependencies struct {
	Sync        Syncer
	Users       SiteUsers
	Sites       SiteAdmin
	Ready       []Pinger
	Metrics     *observability.Metrics
	AdminSecret string // enables AdminAuthMiddleware on /v1 when set
	Logger      *zap.Logger
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observability.NewMetrics()
	}

	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(deps.Sites, logger))
	r.Get("/readyz", readyzHandler(deps.Ready, logger))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		if deps.AdminSecret != "" {
			r.Use(AdminAuthMiddleware(deps.AdminSecret, logger))
		}

		// =============================================
		// Sync
		// =============================================
		r.Route("/sync", func(r chi.Router) {
			r.Use(requireService(deps.Sync != nil, "sync"))
			r.Post("/user-to-site", syncUserToSiteHandler(deps.Sync, logger))
			r.Post("/user-to-sites", syncUserToSitesHandler(deps.Sync, logger))
			r.Post("/user", syncUserToAllSitesHandler(deps.Sync, logger))
			r.Post("/all-users", syncAllUsersHandler(deps.Sync, logger))
		})

		// =============================================
		// Sites
		// =============================================
		r.Route("/sites/{siteId}", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(requireService(deps.Users != nil, "site users"))
				r.Get("/users", listSiteUsersHandler(deps.Users, logger))
				r.Get("/table-schema", tableSchemaHandler(deps.Users, logger))
				r.Patch("/users/{userId}", updateSiteUserHandler(deps.Users, logger))
				r.Delete("/users/{userId}", deleteSiteUserHandler(deps.Users, logger))
				r.Post("/update-count", updateCountHandler(deps.Users, logger))
			})
			r.With(requireService(deps.Sites != nil, "site registry")).
				Put("/credentials", updateCredentialsHandler(deps.Sites, logger))
		})

		// =============================================
		// Metrics
		// =============================================
		r.Get("/metrics/sync", syncMetricsHandler(metrics))
	})

	return r
}

// requireService answers 503 when a route's service was not wired.
func requireService(ok bool, name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if ok {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusServiceUnavailable, name+" service not configured")
		})
	}
}

// ============================================================
// Operational
// ============================================================

func healthzHandler(sites SiteAdmin, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "sso-sync", Status: "healthy", LatencyMs: 0, LastChecked: now},
		}

		if sites != nil {
			start := time.Now()
			_, err := sites.ActiveTenants(ctx)
			latency := time.Since(start).Milliseconds()
			status := "healthy"
			if err != nil {
				status = "degraded"
				logger.Warn("healthz: central registry unreachable", zap.Error(err))
			}
			services = append(services, domain.ServiceHealth{
				Name: "central-registry", Status: status, LatencyMs: latency, LastChecked: now,
			})
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "unhealthy" {
				overallStatus = "unhealthy"
				break
			}
			if s.Status == "degraded" {
				overallStatus = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func readyzHandler(checks []Pinger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		for _, c := range checks {
			if err := c.Ping(ctx); err != nil {
				logger.Warn("readyz: dependency not ready", zap.Error(err))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func syncMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetSyncSnapshot())
	}
}
