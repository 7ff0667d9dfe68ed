// Package profile loads the requesting user and anchor offers from the
// materialized snapshots and attaches their region.
package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/offerreco/reco-api/internal/db"
	"github.com/offerreco/reco-api/internal/model"
)

// RegionLocator resolves coordinates to a region identifier.
type RegionLocator interface {
	Region(ctx context.Context, lat, lon float64) (string, bool, error)
}

// Loader reads user and offer contexts. Read failures are logged and
// degrade to a not-found context.
type Loader struct {
	pool    db.Pool
	views   *db.ViewResolver
	regions RegionLocator
}

// NewLoader creates a Loader.
func NewLoader(pool db.Pool, views *db.ViewResolver, regions RegionLocator) *Loader {
	return &Loader{pool: pool, views: views, regions: regions}
}

const userQuery = `SELECT
	user_theoretical_remaining_credit,
	booking_cnt,
	consult_offer,
	has_added_offer_to_favorites,
	EXTRACT(YEAR FROM age(now(), user_birth_date))::int
FROM %s WHERE user_id = $1`

// User loads the profile of userID located at (lat, lon) when given.
func (l *Loader) User(ctx context.Context, userID string, lat, lon *float64) model.UserContext {
	u := model.NewUserContext(userID)
	u.Latitude, u.Longitude = lat, lon

	if lat != nil && lon != nil {
		u.RegionID = l.region(ctx, *lat, *lon)
	}

	table, err := l.views.Quoted(ctx, db.TableEnrichedUser)
	if err != nil {
		zap.L().Error("profile: resolve user view", zap.String("user_id", userID), zap.Error(err))
		return u
	}

	var (
		credit                     *float64
		bookings, clicks, favorite *int
		age                        *int
	)
	err = l.pool.QueryRow(ctx, fmt.Sprintf(userQuery, table), userID).
		Scan(&credit, &bookings, &clicks, &favorite, &age)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			zap.L().Error("profile: load user", zap.String("user_id", userID), zap.Error(err))
		}
		return u
	}

	u.Found = true
	u.BookingsCount = deref(bookings, 0)
	u.ClicksCount = deref(clicks, 0)
	u.FavoritesCount = deref(favorite, 0)
	u.Age = deref(age, model.DefaultAge)
	u.RemainingCredit = deref(credit, model.DefaultRemainingCredit)
	return u
}

const offerQuery = `SELECT
	item_id,
	booking_number,
	venue_latitude,
	venue_longitude,
	is_sensitive
FROM %s WHERE offer_id = $1`

// Offer loads an anchor offer. When lat and lon are given they take
// precedence over the venue coordinates for region resolution.
func (l *Loader) Offer(ctx context.Context, offerID string, lat, lon *float64) model.Offer {
	o := model.Offer{OfferID: offerID, Latitude: lat, Longitude: lon}

	table, err := l.views.Quoted(ctx, db.TableItemIDs)
	if err != nil {
		zap.L().Error("profile: resolve offer view", zap.String("offer_id", offerID), zap.Error(err))
		return l.withRegion(ctx, o)
	}

	var (
		itemID            *string
		bookings          *int
		venueLat, venueLo *float64
		sensitive         *bool
	)
	err = l.pool.QueryRow(ctx, fmt.Sprintf(offerQuery, table), offerID).
		Scan(&itemID, &bookings, &venueLat, &venueLo, &sensitive)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			zap.L().Error("profile: load offer", zap.String("offer_id", offerID), zap.Error(err))
		}
		return l.withRegion(ctx, o)
	}

	o.Found = true
	o.ItemID = itemID
	o.BookingNumber = deref(bookings, 0)
	o.IsSensitive = deref(sensitive, false)
	if o.Latitude == nil || o.Longitude == nil {
		o.Latitude, o.Longitude = venueLat, venueLo
	}
	return l.withRegion(ctx, o)
}

// Offers loads every anchor offer in order.
func (l *Loader) Offers(ctx context.Context, offerIDs []string, lat, lon *float64) []model.Offer {
	out := make([]model.Offer, 0, len(offerIDs))
	for _, id := range offerIDs {
		out = append(out, l.Offer(ctx, id, lat, lon))
	}
	return out
}

func (l *Loader) withRegion(ctx context.Context, o model.Offer) model.Offer {
	if o.Latitude != nil && o.Longitude != nil {
		o.RegionID = l.region(ctx, *o.Latitude, *o.Longitude)
	}
	return o
}

func (l *Loader) region(ctx context.Context, lat, lon float64) *string {
	if l.regions == nil {
		return nil
	}
	id, ok, err := l.regions.Region(ctx, lat, lon)
	if err != nil {
		zap.L().Error("profile: resolve region",
			zap.Float64("latitude", lat),
			zap.Float64("longitude", lon),
			zap.Error(err),
		)
		return nil
	}
	if !ok {
		return nil
	}
	return &id
}

func deref[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}
