package service_test

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/boddenberg/sso-sync/internal/domain"
	"github.com/boddenberg/sso-sync/internal/infra/observability"
	"github.com/boddenberg/sso-sync/internal/port"
	"github.com/boddenberg/sso-sync/internal/service"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// --- Fake tenant store ---

type fakeStore struct {
	mu        sync.Mutex
	tables    map[string][]port.Row // a missing key means the table does not exist
	readErr   map[string]error
	filterErr map[string]error // by filter column
	upsertErr error
	upserts   int
}

func newFakeStore(tables ...string) *fakeStore {
	s := &fakeStore{tables: map[string][]port.Row{}, readErr: map[string]error{}}
	for _, t := range tables {
		s.tables[t] = []port.Row{}
	}
	return s
}

func matches(row port.Row, filters []port.Filter) bool {
	for _, f := range filters {
		if fmt.Sprint(row[f.Column]) != f.Value {
			return false
		}
	}
	return true
}

func (s *fakeStore) QueryRows(_ context.Context, table string, q port.Query) ([]port.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.readErr[table]; err != nil {
		return nil, err
	}
	for _, f := range q.Filters {
		if err := s.filterErr[f.Column]; err != nil {
			return nil, err
		}
	}
	rows, ok := s.tables[table]
	if !ok {
		return nil, &domain.ErrTableNotFound{Table: table}
	}
	out := []port.Row{}
	for _, r := range rows {
		if matches(r, q.Filters) {
			out = append(out, maps.Clone(r))
		}
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) UpsertRow(_ context.Context, table string, row port.Row, conflictKey string) (port.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.upserts++
	if s.upsertErr != nil {
		return nil, &domain.ErrRemoteWrite{Site: "fake", Table: table, Err: s.upsertErr}
	}
	rows, ok := s.tables[table]
	if !ok {
		return nil, &domain.ErrRemoteWrite{Site: "fake", Table: table, Err: &domain.ErrTableNotFound{Table: table}}
	}
	for i, r := range rows {
		if fmt.Sprint(r[conflictKey]) == fmt.Sprint(row[conflictKey]) {
			maps.Copy(rows[i], row)
			return maps.Clone(rows[i]), nil
		}
	}
	s.tables[table] = append(rows, maps.Clone(row))
	return maps.Clone(row), nil
}

func (s *fakeStore) UpdateRows(_ context.Context, table string, patch port.Row, filters []port.Filter) ([]port.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []port.Row
	for i, r := range s.tables[table] {
		if matches(r, filters) {
			maps.Copy(s.tables[table][i], patch)
			out = append(out, maps.Clone(s.tables[table][i]))
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteRows(_ context.Context, table string, filters []port.Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := []port.Row{}
	for _, r := range s.tables[table] {
		if !matches(r, filters) {
			kept = append(kept, r)
		}
	}
	s.tables[table] = kept
	return nil
}

func (s *fakeStore) rows(table string) []port.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tables[table]
}

// --- Fake identity provider ---

type fakeIdentity struct {
	mu         sync.Mutex
	identities map[string]*domain.Identity // by id
	findErr    error
	created    []string
	updated    []string
	deleted    []string
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{identities: map[string]*domain.Identity{}}
}

func (f *fakeIdentity) FindIdentityByEmail(_ context.Context, email string) (*domain.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	for _, id := range f.identities {
		if id.Email == email {
			return id, nil
		}
	}
	return nil, nil
}

func (f *fakeIdentity) CreateIdentity(_ context.Context, id, email, _ string, metadata map[string]any) (*domain.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	identity := &domain.Identity{ID: id, Email: email, Metadata: metadata}
	f.identities[id] = identity
	f.created = append(f.created, id)
	return identity, nil
}

func (f *fakeIdentity) UpdateIdentity(_ context.Context, id string, patch domain.IdentityPatch) (*domain.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	identity, ok := f.identities[id]
	if !ok {
		return nil, errors.New("identity not found")
	}
	identity.Metadata = patch.Metadata
	f.updated = append(f.updated, id)
	return identity, nil
}

func (f *fakeIdentity) DeleteIdentity(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.identities, id)
	f.deleted = append(f.deleted, id)
	return nil
}

// --- Fake connector ---

type fakeConnector struct {
	mu       sync.Mutex
	stores   map[string]*fakeStore
	identity map[string]*fakeIdentity
	connects int
}

func (c *fakeConnector) Connect(_ context.Context, tenant *domain.Tenant) (*port.TenantConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	store, ok := c.stores[tenant.ID]
	if !ok {
		return nil, fmt.Errorf("no store for %s", tenant.ID)
	}
	conn := &port.TenantConn{Store: store}
	if tenant.HasElevatedAccess() {
		if idp, ok := c.identity[tenant.ID]; ok {
			conn.Identity = idp
		}
	}
	return conn, nil
}

// --- Fake directory ---

type fakeDirectory struct {
	mu      sync.Mutex
	users   map[string]*domain.CanonicalUser
	tenants map[string]*domain.Tenant
	counts  map[string]int
}

func (d *fakeDirectory) GetUser(_ context.Context, userID string) (*domain.CanonicalUser, error) {
	u, ok := d.users[userID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "user", ID: userID}
	}
	cp := *u
	return &cp, nil
}

func (d *fakeDirectory) ListUsers(_ context.Context) ([]domain.CanonicalUser, error) {
	var out []domain.CanonicalUser
	for _, id := range sortedKeys(d.users) {
		out = append(out, *d.users[id])
	}
	return out, nil
}

func (d *fakeDirectory) GetTenant(_ context.Context, tenantID string) (*domain.Tenant, error) {
	t, ok := d.tenants[tenantID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "site", ID: tenantID}
	}
	cp := *t
	return &cp, nil
}

func (d *fakeDirectory) ListActiveTenants(_ context.Context) ([]domain.Tenant, error) {
	var out []domain.Tenant
	for _, id := range sortedKeys(d.tenants) {
		if d.tenants[id].Active {
			out = append(out, *d.tenants[id])
		}
	}
	return out, nil
}

func (d *fakeDirectory) UpdateTenantUserCount(_ context.Context, tenantID string, total int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counts[tenantID] = total
	return nil
}

func (d *fakeDirectory) UpdateTenantCredentials(_ context.Context, tenantID string, upd domain.CredentialsUpdate) (*domain.Tenant, error) {
	t, ok := d.tenants[tenantID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "site", ID: tenantID}
	}
	if upd.Endpoint != nil {
		t.Endpoint = *upd.Endpoint
	}
	if upd.PublicKey != nil {
		t.Credentials.PublicKey = *upd.PublicKey
	}
	if upd.ElevatedKey != nil {
		t.Credentials.ElevatedKey = *upd.ElevatedKey
	}
	cp := *t
	return &cp, nil
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

// --- Fake sync log ---

type fakeSyncLog struct {
	mu      sync.Mutex
	entries map[string]domain.SyncLogEntry
	created []domain.SyncStatus
}

func newFakeSyncLog() *fakeSyncLog {
	return &fakeSyncLog{entries: map[string]domain.SyncLogEntry{}}
}

func (l *fakeSyncLog) Create(_ context.Context, entry *domain.SyncLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[entry.ID] = *entry
	l.created = append(l.created, entry.Status)
	return nil
}

func (l *fakeSyncLog) Complete(_ context.Context, entry *domain.SyncLogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[entry.ID] = *entry
	return nil
}

func (l *fakeSyncLog) HasSuccess(_ context.Context, userID, siteID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.UserID == userID && e.SiteID == siteID && e.Status == domain.SyncSuccess {
			return true, nil
		}
	}
	return false, nil
}

// --- Fixture ---

type fixture struct {
	dir       *fakeDirectory
	connector *fakeConnector
	logs      *fakeSyncLog
	sync      *service.SyncService
	reader    *service.UserReader
	registry  *service.Registry
}

func newFixture() *fixture {
	dir := &fakeDirectory{
		users:   map[string]*domain.CanonicalUser{},
		tenants: map[string]*domain.Tenant{},
		counts:  map[string]int{},
	}
	connector := &fakeConnector{stores: map[string]*fakeStore{}, identity: map[string]*fakeIdentity{}}
	logs := newFakeSyncLog()
	metrics := observability.NewMetrics()
	logger := zap.NewNop()
	opts := service.Options{MaxConcurrency: 4, HashCost: bcrypt.MinCost}

	registry := service.NewRegistry(dir, connector, logger)
	prober := service.NewSchemaProber(metrics, logger)
	return &fixture{
		dir:       dir,
		connector: connector,
		logs:      logs,
		sync:      service.NewSyncService(dir, registry, prober, logs, opts, metrics, logger),
		reader:    service.NewUserReader(dir, registry, prober, opts, metrics, logger),
		registry:  registry,
	}
}

func (f *fixture) addUser(u domain.CanonicalUser) {
	f.dir.users[u.ID] = &u
}

// addTenant registers an active tenant with both keys and the given store.
func (f *fixture) addTenant(id, name, category string, store *fakeStore) *domain.Tenant {
	t := &domain.Tenant{
		ID:          id,
		Name:        name,
		DisplayName: name,
		Category:    category,
		Endpoint:    "https://" + name + ".example.co",
		Credentials: domain.Credentials{PublicKey: "anon", ElevatedKey: "service"},
		Active:      true,
	}
	f.dir.tenants[id] = t
	f.connector.stores[id] = store
	return t
}
