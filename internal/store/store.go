// Package store reads the per-user exclusion set and persists the audit
// trail of every scored call.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/offerreco/reco-api/internal/db"
	"github.com/offerreco/reco-api/internal/model"
)

// Store is backed by a pgx pool.
type Store struct {
	pool  db.Pool
	views *db.ViewResolver
}

// New creates a Store.
func New(pool db.Pool, views *db.ViewResolver) *Store {
	return &Store{pool: pool, views: views}
}

// NonRecommendable returns the item ids userID must never be shown. Read
// failures are logged and yield an empty set.
func (s *Store) NonRecommendable(ctx context.Context, userID string) map[string]struct{} {
	out := make(map[string]struct{})

	table, err := s.views.Quoted(ctx, db.TableNonRecommendableItems)
	if err != nil {
		zap.L().Error("store: resolve non recommendable view", zap.String("user_id", userID), zap.Error(err))
		return out
	}

	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT item_id FROM %s WHERE user_id = $1 AND item_id IS NOT NULL`, table),
		userID,
	)
	if err != nil {
		zap.L().Error("store: query non recommendable items", zap.String("user_id", userID), zap.Error(err))
		return out
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		zap.L().Error("store: scan non recommendable items", zap.String("user_id", userID), zap.Error(err))
		return out
	}
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

// OfferContextColumns are the past_offer_context columns written by COPY.
var OfferContextColumns = []string{
	"call_id", "context", "context_extra_data", "date",
	"user_id", "user_bookings_count", "user_clicks_count", "user_favorites_count",
	"user_deposit_remaining_credit", "user_iris_id", "user_latitude", "user_longitude",
	"offer_id", "offer_item_id", "offer_user_distance", "offer_is_geolocated",
	"offer_booking_number", "offer_stock_price", "offer_creation_date", "offer_stock_beginning_date",
	"offer_category", "offer_subcategory_id", "offer_item_rank", "offer_item_score",
	"offer_order", "offer_venue_id", "offer_extra_data",
}

// SaveAudit writes one batch in a single transaction.
func (s *Store) SaveAudit(ctx context.Context, batch model.AuditBatch) error {
	if len(batch.OfferContexts) == 0 && batch.Recommendation == nil && batch.Similar == nil {
		return nil
	}

	rows := make([][]any, 0, len(batch.OfferContexts))
	for _, c := range batch.OfferContexts {
		row, err := offerContextRow(c)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := db.CopyFrom(ctx, tx, "past_offer_context", OfferContextColumns, rows); err != nil {
			return eris.Wrap(err, "store: write offer contexts")
		}
		if r := batch.Recommendation; r != nil {
			if err := insertRecommendation(ctx, tx, r); err != nil {
				return err
			}
		}
		if sim := batch.Similar; sim != nil {
			if err := insertSimilar(ctx, tx, sim); err != nil {
				return err
			}
		}
		return nil
	})
}

func offerContextRow(c model.PastOfferContext) ([]any, error) {
	ctxExtra, err := marshalJSON(c.ContextExtraData)
	if err != nil {
		return nil, eris.Wrapf(err, "store: marshal context extra data for %s", c.OfferID)
	}
	offerExtra, err := marshalJSON(c.OfferExtraData)
	if err != nil {
		return nil, eris.Wrapf(err, "store: marshal offer extra data for %s", c.OfferID)
	}
	return []any{
		c.CallID, c.Context, ctxExtra, c.Date,
		c.UserID, c.UserBookingsCount, c.UserClicksCount, c.UserFavoritesCount,
		c.UserDepositRemainingCredit, c.UserRegionID, c.UserLatitude, c.UserLongitude,
		c.OfferID, c.OfferItemID, c.OfferUserDistance, c.OfferIsGeolocated,
		c.OfferBookingNumber, c.OfferStockPrice, c.OfferCreationDate, c.OfferStockBeginningDate,
		c.OfferCategory, c.OfferSubcategoryID, c.OfferItemRank, c.OfferItemScore,
		c.OfferOrder, c.OfferVenueID, offerExtra,
	}, nil
}

func insertRecommendation(ctx context.Context, tx pgx.Tx, r *model.PastRecommendation) error {
	filters, err := marshalJSON(r.RecoFilters)
	if err != nil {
		return eris.Wrap(err, "store: marshal reco filters")
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO public.past_recommended_offers
			(call_id, userid, offerid, date, group_id, reco_origin, model_name, model_version, user_iris_id, reco_filters)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, r.CallID, r.UserID, r.OfferIDs, r.Date, r.GroupID, r.RecoOrigin, r.ModelName, r.ModelVersion, r.UserRegionID, filters)
	if err != nil {
		return eris.Wrapf(err, "store: insert past recommendation %s", r.CallID)
	}
	return nil
}

func insertSimilar(ctx context.Context, tx pgx.Tx, s *model.PastSimilar) error {
	filters, err := marshalJSON(s.RecoFilters)
	if err != nil {
		return eris.Wrap(err, "store: marshal reco filters")
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO public.past_similar_offers
			(call_id, user_id, origin_offer_id, offer_ids, date, group_id, model_name, model_version, venue_iris_id, reco_filters)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, s.CallID, s.UserID, s.OriginOfferID, s.OfferIDs, s.Date, s.GroupID, s.ModelName, s.ModelVersion, s.VenueRegionID, filters)
	if err != nil {
		return eris.Wrapf(err, "store: insert past similar offers %s", s.CallID)
	}
	return nil
}

func marshalJSON(v map[string]any) ([]byte, error) {
	if len(v) == 0 {
		return nil, nil
	}
	return json.Marshal(v)
}
