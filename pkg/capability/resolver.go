package capability

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dukex/flowpatch/pkg/cache"
	"github.com/dukex/flowpatch/pkg/flowerrors"
	"github.com/dukex/flowpatch/pkg/models"
	"github.com/dukex/flowpatch/pkg/protocol"
)

var definitionFields = []string{"sys_id", "internal_name", "name", "label", "sys_scope.scope", "category", "type"}

// Resolver looks up definitions in the platform's catalogs.
type Resolver struct {
	records  protocol.RecordReader
	cache    cache.Cache
	cacheTTL time.Duration
	tables   Tables
	logger   *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithCache stores resolved definitions in c for ttl.
func WithCache(c cache.Cache, ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.cache = c
		r.cacheTTL = ttl
	}
}

// WithTables overrides catalog table names.
func WithTables(t Tables) ResolverOption {
	return func(r *Resolver) { r.tables = DefaultTables().Merge(t) }
}

func NewResolver(records protocol.RecordReader, logger *slog.Logger, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		records: records,
		tables:  DefaultTables(),
		logger:  logger.With("module", "capability"),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve finds the definition for requested, trying each stage only when the
// previous one failed. The returned Resolution carries the full trail even on error.
func (r *Resolver) Resolve(ctx context.Context, kind models.ElementKind, requested string, opts ...Option) (*Resolution, error) {
	res := &Resolution{Requested: requested, Kind: kind, Attempts: []Attempt{}}

	catalog, ok := r.tables[kind]
	if !ok {
		return res, flowerrors.NewValidationError("resolve capability", "unknown element kind %q", kind)
	}

	if strings.TrimSpace(requested) == "" {
		return res, flowerrors.NewValidationError("resolve capability", "%s name is required", kind)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	key := cache.Key("definition", string(kind), normalize(requested), o.scope, o.category)
	if def := r.cached(ctx, key); def != nil {
		res.Definition = def
		res.Stage = StageCache
		res.Attempts = append(res.Attempts, Attempt{Stage: StageCache, Terms: []string{requested}, Matched: def.InternalName})

		return res, nil
	}

	stages := []struct {
		stage Stage
		terms []string
		query func() string
	}{
		{StageInternalName, []string{requested}, func() string { return "internal_name=" + requested }},
		{StageDisplayName, []string{requested}, func() string { return "name=" + requested }},
		{StageAlias, Variants(requested), func() string {
			list := strings.Join(Variants(requested), ",")

			return "internal_nameIN" + list + "^ORnameIN" + list
		}},
		{StageFuzzy, fuzzyTerms(requested), func() string {
			terms := fuzzyTerms(requested)

			return "internal_nameLIKE" + terms[0] + "^ORnameLIKE" + terms[1]
		}},
	}

	for _, s := range stages {
		if len(s.terms) == 0 {
			continue
		}

		attempt := Attempt{Stage: s.stage, Terms: s.terms}

		rows, err := r.records.Query(ctx, catalog.Definitions, protocol.RecordQuery{
			Query:  withFilter(catalog.Filter, s.query()),
			Fields: definitionFields,
			Limit:  50,
		})
		if err != nil {
			attempt.Error = err.Error()
			res.Attempts = append(res.Attempts, attempt)
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s lookup failed: %v", s.stage, err))
			r.logger.WarnContext(ctx, "catalog lookup failed", "stage", s.stage, "kind", kind, "name", requested, "error", err)

			continue
		}

		candidates := toDefinitions(kind, rows)
		if s.stage == StageAlias {
			candidates = rankByVariant(candidates, s.terms)
		}

		best, rejected := choose(candidates, o, s.stage == StageFuzzy)
		attempt.Rejected = rejected

		if best == nil {
			res.Attempts = append(res.Attempts, attempt)

			continue
		}

		attempt.Matched = best.InternalName
		res.Attempts = append(res.Attempts, attempt)

		if err := r.loadParameters(ctx, catalog, best, res); err != nil {
			return res, err
		}

		res.Definition = best
		res.Stage = s.stage
		r.store(ctx, key, best)

		r.logger.DebugContext(ctx, "capability resolved", "kind", kind, "name", requested, "stage", s.stage, "internal_name", best.InternalName)

		return res, nil
	}

	attempt := Attempt{Stage: StageFallback, Terms: []string{requested}}

	if def, ok := fallbackFor(kind, requested); ok {
		attempt.Matched = def.InternalName
		res.Attempts = append(res.Attempts, attempt)
		res.Definition = def
		res.Stage = StageFallback
		res.Warnings = append(res.Warnings, fmt.Sprintf("using built-in %s definition %q", kind, def.InternalName))

		r.logger.InfoContext(ctx, "using fallback definition", "kind", kind, "name", requested, "internal_name", def.InternalName)

		return res, nil
	}

	res.Attempts = append(res.Attempts, attempt)

	return res, &flowerrors.NotFoundError{Kind: string(kind), Name: requested, Attempted: res.Terms()}
}

// TryResolve is Resolve for optional lookups: failures become warnings and a nil definition.
func (r *Resolver) TryResolve(ctx context.Context, kind models.ElementKind, requested string, opts ...Option) *Resolution {
	res, err := r.Resolve(ctx, kind, requested, opts...)
	if err != nil {
		res.Definition = nil
		res.Warnings = append(res.Warnings, err.Error())
	}

	return res
}

// Definition loads a definition by sys_id, including its parameters.
func (r *Resolver) Definition(ctx context.Context, kind models.ElementKind, sysID string) (*models.Definition, error) {
	catalog, ok := r.tables[kind]
	if !ok {
		return nil, flowerrors.NewValidationError("load definition", "unknown element kind %q", kind)
	}

	key := cache.Key("definition", string(kind), "sys_id", sysID)
	if def := r.cached(ctx, key); def != nil {
		return def, nil
	}

	rows, err := r.records.Query(ctx, catalog.Definitions, protocol.RecordQuery{
		Query:  "sys_id=" + sysID,
		Fields: definitionFields,
		Limit:  1,
	})
	if err != nil {
		return nil, fmt.Errorf("loading %s definition %s: %w", kind, sysID, err)
	}

	if len(rows) == 0 {
		return nil, &flowerrors.NotFoundError{Kind: string(kind), Name: sysID}
	}

	def := toDefinitions(kind, rows)[0]

	res := &Resolution{}
	if err := r.loadParameters(ctx, catalog, def, res); err != nil {
		return nil, err
	}

	for _, w := range res.Warnings {
		r.logger.WarnContext(ctx, w, "kind", kind, "sys_id", sysID)
	}

	r.store(ctx, key, def)

	return def, nil
}

// List browses a catalog. Parameters are not loaded.
func (r *Resolver) List(ctx context.Context, kind models.ElementKind, filter string) ([]models.Definition, error) {
	catalog, ok := r.tables[kind]
	if !ok {
		return nil, flowerrors.NewValidationError("list capabilities", "unknown element kind %q", kind)
	}

	query := "ORDERBYname"
	if f := strings.TrimSpace(filter); f != "" {
		query = "nameLIKE" + f + "^ORinternal_nameLIKE" + f + "^ORDERBYname"
	}

	rows, err := r.records.Query(ctx, catalog.Definitions, protocol.RecordQuery{
		Query:  withFilter(catalog.Filter, query),
		Fields: definitionFields,
		Limit:  200,
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s definitions: %w", kind, err)
	}

	defs := toDefinitions(kind, rows)
	out := make([]models.Definition, 0, len(defs))

	for _, d := range defs {
		out = append(out, *d)
	}

	return out, nil
}

func (r *Resolver) cached(ctx context.Context, key string) *models.Definition {
	if r.cache == nil {
		return nil
	}

	var def models.Definition

	ok, err := r.cache.Get(ctx, key, &def)
	if err != nil {
		r.logger.WarnContext(ctx, "definition cache read failed", "key", key, "error", err)

		return nil
	}

	if !ok {
		return nil
	}

	return &def
}

func (r *Resolver) store(ctx context.Context, key string, def *models.Definition) {
	if r.cache == nil {
		return
	}

	if err := r.cache.Set(ctx, key, def, r.cacheTTL); err != nil {
		r.logger.WarnContext(ctx, "definition cache write failed", "key", key, "error", err)
	}
}

func withFilter(filter, query string) string {
	if filter == "" {
		return query
	}

	return filter + "^" + query
}

// fuzzyTerms returns the substring searched in internal names and display names.
func fuzzyTerms(requested string) []string {
	toks := tokens(requested)
	if len(toks) == 0 {
		return nil
	}

	return []string{strings.Join(toks, "_"), strings.Join(toks, " ")}
}

func toDefinitions(kind models.ElementKind, rows []protocol.Record) []*models.Definition {
	out := make([]*models.Definition, 0, len(rows))

	for _, row := range rows {
		out = append(out, &models.Definition{
			Kind:         kind,
			SysID:        row.SysID(),
			InternalName: row.String("internal_name"),
			Name:         row.String("name"),
			Label:        row.String("label"),
			Scope:        row.String("sys_scope.scope"),
			Category:     row.String("category"),
			Type:         row.String("type"),
		})
	}

	return out
}

// rankByVariant orders candidates by the position of the first variant they match.
func rankByVariant(candidates []*models.Definition, variants []string) []*models.Definition {
	rank := func(d *models.Definition) int {
		for i, v := range variants {
			if strings.EqualFold(d.InternalName, v) || strings.EqualFold(d.Name, v) {
				return i
			}
		}

		return len(variants)
	}

	out := slices.Clone(candidates)
	slices.SortStableFunc(out, func(a, b *models.Definition) int { return rank(a) - rank(b) })

	return out
}

func isVendorScope(scope string) bool {
	return strings.HasPrefix(scope, "sn_")
}

func scopeRank(scope string) int {
	switch {
	case scope == "global" || scope == "":
		return 0
	case isVendorScope(scope):
		return 2
	default:
		return 1
	}
}

func matchesFilter(d *models.Definition, o options) bool {
	if o.scope != "" && !strings.EqualFold(d.Scope, o.scope) {
		return false
	}

	if o.category != "" && !strings.EqualFold(d.Category, o.category) {
		return false
	}

	return true
}

// choose picks the best candidate. Explicit filters win; during fuzzy matching
// they also exclude non-matching candidates. Ties prefer global over custom over
// vendor scopes, then the shortest name. Candidate order is otherwise kept.
func choose(candidates []*models.Definition, o options, strict bool) (*models.Definition, []string) {
	if len(candidates) == 0 {
		return nil, nil
	}

	filtered := o.scope != "" || o.category != ""

	pool := make([]*models.Definition, 0, len(candidates))

	var rejected []string

	for _, c := range candidates {
		if filtered && strict && !matchesFilter(c, o) {
			rejected = append(rejected, c.InternalName)

			continue
		}

		pool = append(pool, c)
	}

	if len(pool) == 0 {
		return nil, rejected
	}

	sorted := slices.Clone(pool)
	slices.SortStableFunc(sorted, func(a, b *models.Definition) int {
		if filtered {
			am, bm := matchesFilter(a, o), matchesFilter(b, o)
			if am != bm {
				if am {
					return -1
				}

				return 1
			}
		}

		if strict {
			if d := scopeRank(a.Scope) - scopeRank(b.Scope); d != 0 {
				return d
			}

			return len(a.DisplayName()) - len(b.DisplayName())
		}

		return scopeRank(a.Scope) - scopeRank(b.Scope)
	})

	for _, c := range sorted[1:] {
		rejected = append(rejected, c.InternalName)
	}

	return sorted[0], rejected
}
