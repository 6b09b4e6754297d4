package provision

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dukex/flowpatch/pkg/protocol"
	"golang.org/x/sync/singleflight"
)

const (
	endpointDefinitionTable = "sys_ws_definition"
	endpointOperationTable  = "sys_ws_operation"

	DefaultEndpointName = "flow_factory"
	DefaultEndpointTTL  = 30 * time.Minute
)

// Endpoint identifies the bootstrap scripted REST service.
type Endpoint struct {
	DefinitionID string    `json:"definition_id"`
	Path         string    `json:"path"`
	Provisioned  bool      `json:"provisioned"` // created by this process rather than discovered
	DerivedAt    time.Time `json:"derived_at"`
}

// EndpointStore is what the cache needs from the platform.
type EndpointStore interface {
	protocol.RecordReader
	protocol.RecordWriter
}

// EndpointCache remembers the bootstrap endpoint for a TTL. Concurrent
// derivations are collapsed into one.
type EndpointCache struct {
	store  EndpointStore
	name   string
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	group singleflight.Group

	mu          sync.Mutex
	current     *Endpoint
	expires     time.Time
	derivations int
}

func NewEndpointCache(store EndpointStore, name string, ttl time.Duration, logger *slog.Logger) *EndpointCache {
	if name == "" {
		name = DefaultEndpointName
	}

	if ttl <= 0 {
		ttl = DefaultEndpointTTL
	}

	return &EndpointCache{
		store:  store,
		name:   name,
		ttl:    ttl,
		logger: logger.With("module", "endpoint_cache"),
		now:    time.Now,
	}
}

// Get returns the cached endpoint, deriving it when missing or expired.
func (c *EndpointCache) Get(ctx context.Context) (*Endpoint, error) {
	c.mu.Lock()
	if c.current != nil && c.now().Before(c.expires) {
		ep := *c.current
		c.mu.Unlock()

		return &ep, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(c.name, func() (any, error) {
		return c.derive(ctx)
	})
	if err != nil {
		return nil, err
	}

	ep := *v.(*Endpoint)

	return &ep, nil
}

// Invalidate forgets the cached endpoint.
func (c *EndpointCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = nil
}

// Derivations counts how many times the endpoint was looked up or provisioned.
func (c *EndpointCache) Derivations() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.derivations
}

func (c *EndpointCache) derive(ctx context.Context) (*Endpoint, error) {
	c.mu.Lock()
	c.derivations++
	c.mu.Unlock()

	ep, err := c.discover(ctx)
	if err != nil {
		return nil, err
	}

	if ep == nil {
		ep, err = c.provision(ctx)
		if err != nil {
			return nil, err
		}
	}

	ep.DerivedAt = c.now()

	c.mu.Lock()
	c.current = ep
	c.expires = ep.DerivedAt.Add(c.ttl)
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "Bootstrap endpoint derived", "path", ep.Path, "provisioned", ep.Provisioned)

	return ep, nil
}

func (c *EndpointCache) discover(ctx context.Context) (*Endpoint, error) {
	rows, err := c.store.Query(ctx, endpointDefinitionTable, protocol.RecordQuery{
		Query:  "service_id=" + c.name + "^active=true",
		Fields: []string{"sys_id", "service_id", "namespace", "base_uri"},
		Limit:  1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to look up bootstrap endpoint %s: %w", c.name, err)
	}

	if len(rows) == 0 {
		return nil, nil
	}

	return &Endpoint{DefinitionID: rows[0].SysID(), Path: c.basePath(rows[0])}, nil
}

func (c *EndpointCache) provision(ctx context.Context) (*Endpoint, error) {
	c.logger.InfoContext(ctx, "Provisioning bootstrap endpoint", "name", c.name)

	def, err := c.store.Create(ctx, endpointDefinitionTable, map[string]any{
		"name":       "Flow Factory",
		"service_id": c.name,
		"active":     true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bootstrap endpoint %s: %w", c.name, err)
	}

	operations := []struct{ name, script string }{
		{"create", createScript},
		{"version", versionScript},
	}

	for _, op := range operations {
		_, err := c.store.Create(ctx, endpointOperationTable, map[string]any{
			"web_service_definition": def.SysID(),
			"name":                   op.name,
			"http_method":            "POST",
			"relative_path":          "/" + op.name,
			"operation_script":       op.script,
			"active":                 true,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create %s operation of %s: %w", op.name, c.name, err)
		}
	}

	return &Endpoint{DefinitionID: def.SysID(), Path: c.basePath(def), Provisioned: true}, nil
}

func (c *EndpointCache) basePath(r protocol.Record) string {
	if base := r.String("base_uri"); base != "" {
		return strings.TrimSuffix(base, "/")
	}

	namespace := r.String("namespace")
	if namespace == "" {
		namespace = "global"
	}

	service := r.String("service_id")
	if service == "" {
		service = c.name
	}

	return "/api/" + namespace + "/" + service
}
