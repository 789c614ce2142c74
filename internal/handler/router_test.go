package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/boddenberg/sso-sync/internal/domain"
	"github.com/boddenberg/sso-sync/internal/handler"
	"github.com/boddenberg/sso-sync/internal/infra/observability"
	"github.com/boddenberg/sso-sync/internal/port"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// --- fakes ---

type fakeSyncer struct {
	outcome  domain.SyncOutcome
	batch    *domain.SyncBatch
	err      error
	gotUser  string
	gotSites []string
	gotTable string
}

func (f *fakeSyncer) SyncUserToTenant(_ context.Context, userID, tenantID, table string) domain.SyncOutcome {
	f.gotUser, f.gotSites, f.gotTable = userID, []string{tenantID}, table
	return f.outcome
}

func (f *fakeSyncer) SyncUserToTenants(_ context.Context, userID string, tenantIDs []string) *domain.SyncBatch {
	f.gotUser, f.gotSites = userID, tenantIDs
	return f.batch
}

func (f *fakeSyncer) SyncUserToAllTenants(_ context.Context, userID string) (*domain.SyncBatch, error) {
	f.gotUser = userID
	return f.batch, f.err
}

func (f *fakeSyncer) SyncAllUsersToAllTenants(context.Context) (*domain.SyncBatch, error) {
	return f.batch, f.err
}

type fakeUsers struct {
	list     *domain.TenantUserList
	schema   *domain.TableSchema
	row      port.Row
	table    string
	count    int
	err      error
	gotPatch domain.UserPatch
	gotTable string
}

func (f *fakeUsers) ListTenantUsers(context.Context, string) (*domain.TenantUserList, error) {
	return f.list, f.err
}

func (f *fakeUsers) TableSchema(_ context.Context, _, table string) (*domain.TableSchema, error) {
	f.gotTable = table
	return f.schema, f.err
}

func (f *fakeUsers) UpdateUser(_ context.Context, _, _ string, patch domain.UserPatch, sourceTable string) (port.Row, string, error) {
	f.gotPatch, f.gotTable = patch, sourceTable
	return f.row, f.table, f.err
}

func (f *fakeUsers) DeleteUser(_ context.Context, _, _, sourceTable string) (string, error) {
	f.gotTable = sourceTable
	return f.table, f.err
}

func (f *fakeUsers) RefreshUserCount(context.Context, string) (int, error) {
	return f.count, f.err
}

type fakeSites struct {
	tenant *domain.Tenant
	err    error
	got    domain.CredentialsUpdate
}

func (f *fakeSites) ActiveTenants(context.Context) ([]domain.Tenant, error) {
	return nil, f.err
}

func (f *fakeSites) UpdateCredentials(_ context.Context, _ string, upd domain.CredentialsUpdate) (*domain.Tenant, error) {
	f.got = upd
	return f.tenant, f.err
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func serve(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// --- operational ---

func TestHealthz(t *testing.T) {
	router := handler.NewRouter(handler.Dependencies{Logger: zap.NewNop()})

	rec := serve(router, http.MethodGet, "/healthz", "")

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHealthz_DegradedRegistry(t *testing.T) {
	router := handler.NewRouter(handler.Dependencies{Sites: &fakeSites{err: errors.New("down")}})

	rec := serve(router, http.MethodGet, "/healthz", "")

	var health domain.HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "degraded" {
		t.Errorf("expected degraded, got %s", health.Status)
	}
}

func TestReadyz(t *testing.T) {
	router := handler.NewRouter(handler.Dependencies{Ready: []handler.Pinger{fakePinger{}}})
	if rec := serve(router, http.MethodGet, "/readyz", ""); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	router = handler.NewRouter(handler.Dependencies{Ready: []handler.Pinger{fakePinger{err: errors.New("no db")}}})
	if rec := serve(router, http.MethodGet, "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	router := handler.NewRouter(handler.Dependencies{Metrics: observability.NewMetrics()})

	rec := serve(router, http.MethodGet, "/metrics", "")

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestSyncMetrics(t *testing.T) {
	metrics := observability.NewMetrics()
	metrics.RecordSync(domain.SyncOutcome{Success: true, SiteType: domain.SiteSales})
	metrics.RecordSync(domain.SyncOutcome{Success: false, SiteType: domain.SiteCMS})
	router := handler.NewRouter(handler.Dependencies{Metrics: metrics})

	rec := serve(router, http.MethodGet, "/v1/metrics/sync", "")

	var snap domain.SyncMetrics
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.TotalSyncs != 2 || snap.Succeeded != 1 || snap.Failed != 1 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestUnwiredServiceAnswers503(t *testing.T) {
	router := handler.NewRouter(handler.Dependencies{})

	rec := serve(router, http.MethodPost, "/v1/sync/user-to-site", `{"userId":"u1","siteId":"s1"}`)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

// --- sync ---

func TestSyncUserToSite(t *testing.T) {
	syncer := &fakeSyncer{outcome: domain.SyncOutcome{Success: true, UserID: "u1", SiteID: "s1", Action: domain.ActionCreated}}
	router := handler.NewRouter(handler.Dependencies{Sync: syncer})

	rec := serve(router, http.MethodPost, "/v1/sync/user-to-site", `{"userId":"u1","siteId":"s1","table":"staff"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if syncer.gotUser != "u1" || syncer.gotSites[0] != "s1" || syncer.gotTable != "staff" {
		t.Errorf("unexpected call: %+v", syncer)
	}
	var out domain.SyncOutcome
	json.NewDecoder(rec.Body).Decode(&out)
	if out.Action != domain.ActionCreated {
		t.Errorf("expected action created, got %q", out.Action)
	}
}

func TestSyncUserToSite_OutcomeStatus(t *testing.T) {
	tests := []struct {
		kind domain.ErrorKind
		want int
	}{
		{domain.KindNotFound, http.StatusNotFound},
		{domain.KindMisconfigured, http.StatusUnprocessableEntity},
		{domain.KindRemoteWrite, http.StatusBadGateway},
		{domain.KindRemoteRead, http.StatusBadGateway},
	}
	for _, tt := range tests {
		syncer := &fakeSyncer{outcome: domain.SyncOutcome{Success: false, ErrorKind: tt.kind}}
		router := handler.NewRouter(handler.Dependencies{Sync: syncer})

		rec := serve(router, http.MethodPost, "/v1/sync/user-to-site", `{"userId":"u1","siteId":"s1"}`)

		if rec.Code != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.kind, tt.want, rec.Code)
		}
	}
}

func TestSyncUserToSite_PartialWarningIsOK(t *testing.T) {
	syncer := &fakeSyncer{outcome: domain.SyncOutcome{Success: true, ErrorKind: domain.KindPartialWarning}}
	router := handler.NewRouter(handler.Dependencies{Sync: syncer})

	rec := serve(router, http.MethodPost, "/v1/sync/user-to-site", `{"userId":"u1","siteId":"s1"}`)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestSyncUserToSite_Validation(t *testing.T) {
	router := handler.NewRouter(handler.Dependencies{Sync: &fakeSyncer{}})

	tests := []struct {
		name string
		body string
	}{
		{"missing user", `{"siteId":"s1"}`},
		{"missing site", `{"userId":"u1"}`},
		{"bad json", `{"userId":`},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(router, http.MethodPost, "/v1/sync/user-to-site", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestSyncUserToSites(t *testing.T) {
	syncer := &fakeSyncer{batch: &domain.SyncBatch{Total: 2, SuccessCount: 1, FailCount: 1}}
	router := handler.NewRouter(handler.Dependencies{Sync: syncer})

	rec := serve(router, http.MethodPost, "/v1/sync/user-to-sites", `{"userId":"u1","siteIds":["a","b"]}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(syncer.gotSites) != 2 || syncer.gotSites[1] != "b" {
		t.Errorf("unexpected sites: %v", syncer.gotSites)
	}

	rec = serve(router, http.MethodPost, "/v1/sync/user-to-sites", `{"userId":"u1","siteIds":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty siteIds, got %d", rec.Code)
	}
}

func TestSyncUserToAllSites_UserNotFound(t *testing.T) {
	syncer := &fakeSyncer{err: &domain.ErrNotFound{Resource: "user", ID: "ghost"}}
	router := handler.NewRouter(handler.Dependencies{Sync: syncer})

	rec := serve(router, http.MethodPost, "/v1/sync/user", `{"userId":"ghost"}`)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestSyncAllUsers(t *testing.T) {
	syncer := &fakeSyncer{batch: &domain.SyncBatch{Total: 3, SuccessCount: 2, SkipCount: 1}}
	router := handler.NewRouter(handler.Dependencies{Sync: syncer})

	rec := serve(router, http.MethodPost, "/v1/sync/all-users", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var batch domain.SyncBatch
	json.NewDecoder(rec.Body).Decode(&batch)
	if batch.SkipCount != 1 {
		t.Errorf("expected 1 skipped, got %d", batch.SkipCount)
	}
}

// --- sites ---

func TestListSiteUsers_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"no tables", &domain.ErrNoUserTables{Site: "x"}, http.StatusNotFound},
		{"site not found", &domain.ErrNotFound{Resource: "site", ID: "x"}, http.StatusNotFound},
		{"misconfigured", &domain.ErrMisconfigured{Site: "x", Reason: "no keys"}, http.StatusUnprocessableEntity},
		{"remote read", &domain.ErrRemoteRead{Site: "x", Table: "users", Err: errors.New("boom")}, http.StatusBadGateway},
		{"circuit open", &domain.ErrCircuitOpen{Service: "tenant:x"}, http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := handler.NewRouter(handler.Dependencies{Users: &fakeUsers{err: tt.err}})
			rec := serve(router, http.MethodGet, "/v1/sites/x/users", "")
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestListSiteUsers(t *testing.T) {
	users := &fakeUsers{list: &domain.TenantUserList{
		Users: []domain.TenantUser{{ID: "1", Email: "a@x.io", SourceTable: "users"}},
		Count: 1,
	}}
	router := handler.NewRouter(handler.Dependencies{Users: users})

	rec := serve(router, http.MethodGet, "/v1/sites/s1/users", "")

	var list domain.TenantUserList
	json.NewDecoder(rec.Body).Decode(&list)
	if rec.Code != http.StatusOK || list.Count != 1 || list.Users[0].SourceTable != "users" {
		t.Errorf("unexpected response %d: %s", rec.Code, rec.Body.String())
	}
}

func TestTableSchema(t *testing.T) {
	users := &fakeUsers{schema: &domain.TableSchema{Table: "staff", Columns: []string{"email", "id"}}}
	router := handler.NewRouter(handler.Dependencies{Users: users})

	rec := serve(router, http.MethodGet, "/v1/sites/s1/table-schema?table=staff", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if users.gotTable != "staff" {
		t.Errorf("expected table staff, got %q", users.gotTable)
	}
}

func TestUpdateSiteUser(t *testing.T) {
	users := &fakeUsers{row: port.Row{"id": "u1", "role": "owner"}}
	router := handler.NewRouter(handler.Dependencies{Users: users})

	rec := serve(router, http.MethodPatch, "/v1/sites/s1/users/u1", `{"role":"admin","source_table":"sales_managers"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if users.gotPatch.Role == nil || *users.gotPatch.Role != "admin" {
		t.Errorf("expected role patch, got %+v", users.gotPatch)
	}
	if users.gotTable != "sales_managers" {
		t.Errorf("expected source table from body, got %q", users.gotTable)
	}
}

func TestUpdateSiteUser_ReportsResolvedTable(t *testing.T) {
	users := &fakeUsers{row: port.Row{"id": "u1", "role": "owner"}, table: "mechanics"}
	router := handler.NewRouter(handler.Dependencies{Users: users})

	rec := serve(router, http.MethodPatch, "/v1/sites/s1/users/u1", `{"full_name":"Bob"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if users.gotTable != "" {
		t.Errorf("expected no source table forwarded, got %q", users.gotTable)
	}
	var resp struct {
		Success bool   `json:"success"`
		Table   string `json:"table"`
	}
	json.NewDecoder(rec.Body).Decode(&resp)
	if !resp.Success || resp.Table != "mechanics" {
		t.Errorf("expected table resolved by the service, got %+v", resp)
	}
}

func TestUpdateSiteUser_NoValidColumns(t *testing.T) {
	users := &fakeUsers{err: &domain.ErrNoValidColumns{Table: "users", Available: []string{"email", "id"}}}
	router := handler.NewRouter(handler.Dependencies{Users: users})

	rec := serve(router, http.MethodPatch, "/v1/sites/s1/users/u1", `{"team":"x"}`)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestDeleteSiteUser(t *testing.T) {
	users := &fakeUsers{table: "staff"}
	router := handler.NewRouter(handler.Dependencies{Users: users})

	rec := serve(router, http.MethodDelete, "/v1/sites/s1/users/u1?source_table=staff", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if users.gotTable != "staff" {
		t.Errorf("expected source_table staff, got %q", users.gotTable)
	}
}

func TestDeleteSiteUser_SourceTableFromBody(t *testing.T) {
	users := &fakeUsers{table: "sales_managers"}
	router := handler.NewRouter(handler.Dependencies{Users: users})

	rec := serve(router, http.MethodDelete, "/v1/sites/s1/users/u1", `{"source_table":"sales_managers"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if users.gotTable != "sales_managers" {
		t.Errorf("expected source table from body, got %q", users.gotTable)
	}
	var resp struct {
		Table string `json:"table"`
	}
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Table != "sales_managers" {
		t.Errorf("unexpected table %q", resp.Table)
	}
}

func TestDeleteSiteUser_InvalidBody(t *testing.T) {
	users := &fakeUsers{table: "users"}
	router := handler.NewRouter(handler.Dependencies{Users: users})

	rec := serve(router, http.MethodDelete, "/v1/sites/s1/users/u1", `{"source_table":`)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestUpdateCount(t *testing.T) {
	router := handler.NewRouter(handler.Dependencies{Users: &fakeUsers{count: 7}})

	rec := serve(router, http.MethodPost, "/v1/sites/s1/update-count", "")

	var resp struct {
		TotalUsers int `json:"total_users"`
	}
	json.NewDecoder(rec.Body).Decode(&resp)
	if rec.Code != http.StatusOK || resp.TotalUsers != 7 {
		t.Errorf("unexpected response %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUpdateCredentials(t *testing.T) {
	sites := &fakeSites{tenant: &domain.Tenant{
		ID: "s1", Name: "sales-east", Endpoint: "https://east.example.co",
		Credentials: domain.Credentials{ElevatedKey: "svc"},
	}}
	router := handler.NewRouter(handler.Dependencies{Sites: sites})

	rec := serve(router, http.MethodPut, "/v1/sites/s1/credentials", `{"elevated_key":"svc"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if sites.got.ElevatedKey == nil || *sites.got.ElevatedKey != "svc" || sites.got.Endpoint != nil {
		t.Errorf("unexpected update: %+v", sites.got)
	}
	if strings.Contains(rec.Body.String(), `"svc"`) {
		t.Error("response must not echo credentials")
	}
}

// --- auth ---

func signToken(t *testing.T, secret string, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ops",
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestAdminAuth(t *testing.T) {
	syncer := &fakeSyncer{batch: &domain.SyncBatch{}}
	router := handler.NewRouter(handler.Dependencies{Sync: syncer, AdminSecret: "s3cret"})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"bad scheme", "Basic abc", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, "other", time.Now().Add(time.Hour)), http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, "s3cret", time.Now().Add(-time.Hour)), http.StatusUnauthorized},
		{"valid", "Bearer " + signToken(t, "s3cret", time.Now().Add(time.Hour)), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/sync/all-users", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestAdminAuth_ErrorBody(t *testing.T) {
	router := handler.NewRouter(handler.Dependencies{Sync: &fakeSyncer{}, AdminSecret: "s3cret"})

	req := httptest.NewRequest(http.MethodPost, "/v1/sync/all-users", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "s3cret", time.Now().Add(-time.Hour)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp struct {
		Error string `json:"error"`
	}
	json.NewDecoder(rec.Body).Decode(&resp)
	if rec.Code != http.StatusUnauthorized || resp.Error != "token expired" {
		t.Errorf("expected 401 token expired, got %d %q", rec.Code, resp.Error)
	}
}

func TestAdminAuth_SubjectReachesHandlers(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	syncer := &fakeSyncer{batch: &domain.SyncBatch{}}
	router := handler.NewRouter(handler.Dependencies{
		Sync:        syncer,
		AdminSecret: "s3cret",
		Logger:      zap.New(core),
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/sync/all-users", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "s3cret", time.Now().Add(time.Hour)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	entries := logs.FilterMessage("full sync requested").All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["admin"]; got != "ops" {
		t.Errorf("expected admin subject ops, got %v", got)
	}
}

func TestAdminSubjectFromContext_Empty(t *testing.T) {
	if got := handler.AdminSubjectFromContext(context.Background()); got != "" {
		t.Errorf("expected empty subject, got %q", got)
	}
}

func TestAdminAuth_OperationalRoutesOpen(t *testing.T) {
	router := handler.NewRouter(handler.Dependencies{AdminSecret: "s3cret"})

	if rec := serve(router, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("expected /healthz open, got %d", rec.Code)
	}
}
