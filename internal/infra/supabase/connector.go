package supabase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sync"

	"github.com/boddenberg/sso-sync/internal/domain"
	"github.com/boddenberg/sso-sync/internal/infra/resilience"
	"github.com/boddenberg/sso-sync/internal/port"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ConnectorConfig tunes the per-tenant guards.
type ConnectorConfig struct {
	Resilience       resilience.Config
	RateLimit        float64 // requests per second per tenant, 0 disables pacing
	RateBurst        int
	IdentityPageSize int
}

// guards are shared by every connection to one tenant, so breaker state
// and pacing survive credential rotation and cache expiry.
type guards struct {
	cb       *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	bulkhead *resilience.Bulkhead
}

// Connector opens tenant connections and reuses them while the tenant's
// endpoint and keys are unchanged.
type Connector struct {
	httpClient *http.Client
	cfg        ConnectorConfig
	conns      port.Cache[*port.TenantConn]
	logger     *zap.Logger

	mu     sync.Mutex
	guards map[string]*guards
}

// NewConnector creates a Connector caching connections in conns.
func NewConnector(httpClient *http.Client, cfg ConnectorConfig, conns port.Cache[*port.TenantConn], logger *zap.Logger) *Connector {
	return &Connector{
		httpClient: httpClient,
		cfg:        cfg,
		conns:      conns,
		logger:     logger,
		guards:     make(map[string]*guards),
	}
}

var _ port.TenantConnector = (*Connector)(nil)

// Connect returns a connection for tenant. The caller is expected to have
// checked tenant.Configured.
func (c *Connector) Connect(_ context.Context, tenant *domain.Tenant) (*port.TenantConn, error) {
	if !tenant.Configured() {
		return nil, &domain.ErrMisconfigured{Site: tenant.Name, Reason: "endpoint or keys not configured"}
	}

	key := connKey(tenant)
	if conn, ok := c.conns.Get(key); ok {
		return conn, nil
	}

	g := c.guardsFor(tenant)
	bestKey := tenant.BestKey()
	client := NewClient(c.httpClient, ClientConfig{
		Name:      tenant.Name,
		BaseURL:   tenant.Endpoint,
		APIKey:    bestKey,
		BearerKey: bestKey,
	}, g.cb, c.cfg.Resilience, g.limiter, g.bulkhead, c.logger)

	conn := &port.TenantConn{Store: client}
	if tenant.HasElevatedAccess() {
		conn.Identity = NewIdentityClient(client, c.cfg.IdentityPageSize)
	}

	c.conns.Set(key, conn)
	c.logger.Debug("supabase: opened tenant connection",
		zap.String("site", tenant.Name),
		zap.Bool("elevated", tenant.HasElevatedAccess()),
	)
	return conn, nil
}

func (c *Connector) guardsFor(tenant *domain.Tenant) *guards {
	c.mu.Lock()
	defer c.mu.Unlock()

	if g, ok := c.guards[tenant.ID]; ok {
		return g
	}
	g := &guards{
		cb:       resilience.NewCircuitBreaker("tenant:"+tenant.Name, IgnoreForBreaker),
		limiter:  resilience.NewLimiter(c.cfg.RateLimit, c.cfg.RateBurst),
		bulkhead: resilience.NewBulkhead(c.cfg.Resilience.MaxConcurrency),
	}
	c.guards[tenant.ID] = g
	return g
}

// connKey changes whenever the tenant's endpoint or keys change.
func connKey(t *domain.Tenant) string {
	h := sha256.New()
	h.Write([]byte(t.Endpoint))
	h.Write([]byte{0})
	h.Write([]byte(t.Credentials.PublicKey))
	h.Write([]byte{0})
	h.Write([]byte(t.Credentials.ElevatedKey))
	return t.ID + ":" + hex.EncodeToString(h.Sum(nil)[:8])
}
