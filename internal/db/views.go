package db

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Logical tables read through materialized views.
const (
	TableEnrichedUser           = "enriched_user"
	TableRecommendableOffersRaw = "recommendable_offers_raw"
	TableIrisFrance             = "iris_france"
	TableNonRecommendableItems  = "non_recommendable_items"
	TableItemIDs                = "item_ids"
)

// viewSuffixes lists physical variants in preference order: primary,
// hot-swap temporary, previous.
var viewSuffixes = []string{"_mv", "_mv_tmp", "_mv_old"}

var logicalTables = map[string]bool{
	TableEnrichedUser:           true,
	TableRecommendableOffersRaw: true,
	TableIrisFrance:             true,
	TableNonRecommendableItems:  true,
	TableItemIDs:                true,
}

// ErrNoView is returned when none of the physical variants exist.
var ErrNoView = eris.New("db: no materialized view available")

// Variants returns the physical candidates for a logical table, in order.
func Variants(table string) []string {
	out := make([]string, len(viewSuffixes))
	for i, s := range viewSuffixes {
		out[i] = table + s
	}
	return out
}

// ViewResolver picks the first physically present variant of each logical
// table. Resolutions are kept for ttl so the catalog is not queried on every read.
type ViewResolver struct {
	pool Pool
	ttl  time.Duration

	mu       sync.Mutex
	resolved map[string]resolvedView

	nowFunc func() time.Time
}

type resolvedView struct {
	name       string
	resolvedAt time.Time
}

// NewViewResolver creates a resolver. A ttl of zero disables memoization.
func NewViewResolver(pool Pool, ttl time.Duration) *ViewResolver {
	return &ViewResolver{
		pool:     pool,
		ttl:      ttl,
		resolved: make(map[string]resolvedView),
		nowFunc:  time.Now,
	}
}

// Resolve returns the physical relation name backing table.
func (r *ViewResolver) Resolve(ctx context.Context, table string) (string, error) {
	if !logicalTables[table] {
		return "", eris.Errorf("db: unknown logical table %q", table)
	}

	if r.ttl > 0 {
		r.mu.Lock()
		rv, ok := r.resolved[table]
		r.mu.Unlock()
		if ok && r.nowFunc().Sub(rv.resolvedAt) < r.ttl {
			return rv.name, nil
		}
	}

	candidates := Variants(table)
	rows, err := r.pool.Query(ctx,
		`SELECT relname FROM pg_class WHERE relname = ANY($1) AND relkind IN ('m', 'r', 'v')`,
		candidates,
	)
	if err != nil {
		return "", eris.Wrapf(err, "db: resolve view %s", table)
	}
	present, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return "", eris.Wrapf(err, "db: scan views for %s", table)
	}

	exists := make(map[string]bool, len(present))
	for _, name := range present {
		exists[name] = true
	}
	for _, name := range candidates {
		if exists[name] {
			if r.ttl > 0 {
				r.mu.Lock()
				r.resolved[table] = resolvedView{name: name, resolvedAt: r.nowFunc()}
				r.mu.Unlock()
			}
			return name, nil
		}
	}
	return "", eris.Wrapf(ErrNoView, "table %s", table)
}

// Quoted resolves table and returns it as a sanitized SQL identifier.
func (r *ViewResolver) Quoted(ctx context.Context, table string) (string, error) {
	name, err := r.Resolve(ctx, table)
	if err != nil {
		return "", err
	}
	return pgx.Identifier{name}.Sanitize(), nil
}
