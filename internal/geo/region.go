package geo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/offerreco/reco-api/internal/db"
)

// RegionResolver maps coordinates to a region identifier by polygon
// containment against the iris_france view.
type RegionResolver struct {
	pool  db.Pool
	views *db.ViewResolver
}

// NewRegionResolver creates a RegionResolver.
func NewRegionResolver(pool db.Pool, views *db.ViewResolver) *RegionResolver {
	return &RegionResolver{pool: pool, views: views}
}

// Region returns the identifier of the polygon containing (lat, lon). The
// boolean is false when no polygon contains the point.
func (r *RegionResolver) Region(ctx context.Context, lat, lon float64) (string, bool, error) {
	table, err := r.views.Quoted(ctx, db.TableIrisFrance)
	if err != nil {
		return "", false, err
	}

	point, err := EncodePoint(lat, lon)
	if err != nil {
		return "", false, err
	}

	sql := fmt.Sprintf(`SELECT id FROM %s WHERE ST_Contains(shape, ST_GeomFromEWKB($1)) LIMIT 1`, table)

	var id string
	if err := r.pool.QueryRow(ctx, sql, point).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, eris.Wrap(err, "geo: resolve region")
	}
	return id, true, nil
}
