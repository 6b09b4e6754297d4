// Package order assigns the global insertion order of new flow elements.
package order

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/dukex/flowpatch/pkg/protocol"
)

// Allocator hands out orders for one flow. Orders are global across element
// kinds: a new element always sorts after everything already in the graph.
type Allocator struct {
	flowID string
	graphs protocol.GraphReader
	logger *slog.Logger

	mu   sync.Mutex
	last int
}

func NewAllocator(flowID string, graphs protocol.GraphReader, logger *slog.Logger) *Allocator {
	return &Allocator{
		flowID: flowID,
		graphs: graphs,
		logger: logger.With("module", "order", "flow_id", flowID),
	}
}

// Allocate returns explicit unchanged when given, otherwise one past the
// highest order found in the graph or previously allocated.
func (a *Allocator) Allocate(ctx context.Context, explicit *int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if explicit != nil {
		if *explicit > a.last {
			a.last = *explicit
		}

		return *explicit, nil
	}

	payload, err := a.graphs.GraphPayload(ctx, a.flowID)
	if err != nil {
		return 0, fmt.Errorf("reading graph of flow %s: %w", a.flowID, err)
	}

	highest, err := MaxOrder(payload)
	if err != nil {
		return 0, fmt.Errorf("scanning graph of flow %s: %w", a.flowID, err)
	}

	next := max(highest, a.last) + 1
	a.last = next

	a.logger.DebugContext(ctx, "order allocated", "order", next, "graph_max", highest)

	return next, nil
}

// Last returns the highest order handed out so far.
func (a *Allocator) Last() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.last
}

// MaxOrder scans every "order" member of payload, at any depth, and returns
// the largest. Orders may be numbers or numeric strings; zero for an empty graph.
func MaxOrder(payload json.RawMessage) (int, error) {
	if len(strings.TrimSpace(string(payload))) == 0 {
		return 0, nil
	}

	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return 0, err
	}

	return scan(doc), nil
}

func scan(v any) int {
	highest := 0

	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			if k == "order" {
				highest = max(highest, asOrder(child))
			}

			highest = max(highest, scan(child))
		}
	case []any:
		for _, child := range t {
			highest = max(highest, scan(child))
		}
	case string:
		// Payloads nest serialized JSON in string members.
		s := strings.TrimSpace(t)
		if len(s) > 1 && (s[0] == '{' || s[0] == '[') {
			var nested any
			if json.Unmarshal([]byte(s), &nested) == nil {
				highest = max(highest, scan(nested))
			}
		}
	}

	return highest
}

func asOrder(v any) int {
	switch t := v.(type) {
	case float64:
		if t > math.MaxInt32 {
			return 0
		}

		return int(t)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0
		}

		return n
	}

	return 0
}

// Registry keeps one allocator per flow.
type Registry struct {
	graphs protocol.GraphReader
	logger *slog.Logger

	mu         sync.Mutex
	allocators map[string]*Allocator
}

func NewRegistry(graphs protocol.GraphReader, logger *slog.Logger) *Registry {
	return &Registry{
		graphs:     graphs,
		logger:     logger,
		allocators: make(map[string]*Allocator),
	}
}

// For returns the allocator of flowID, creating it on first use.
func (r *Registry) For(flowID string) *Allocator {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.allocators[flowID]
	if !ok {
		a = NewAllocator(flowID, r.graphs, r.logger)
		r.allocators[flowID] = a
	}

	return a
}

// Forget drops the allocator of flowID, e.g. once its edit session ends.
func (r *Registry) Forget(flowID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.allocators, flowID)
}
