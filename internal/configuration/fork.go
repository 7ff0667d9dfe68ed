package configuration

import (
	"github.com/rotisserie/eris"

	"github.com/offerreco/reco-api/internal/model"
)

// ForkKind selects the statistics a fork reads.
type ForkKind string

const (
	ForkUser  ForkKind = "user"
	ForkOffer ForkKind = "offer"
)

// Thresholds are the warm-start minimums. A nil threshold is ignored.
type Thresholds struct {
	Bookings  *int `json:"bookings,omitempty" yaml:"bookings,omitempty" validate:"omitempty,gte=0"`
	Clicks    *int `json:"clicks,omitempty" yaml:"clicks,omitempty" validate:"omitempty,gte=0"`
	Favorites *int `json:"favorites,omitempty" yaml:"favorites,omitempty" validate:"omitempty,gte=0"`
}

// Clone returns a deep copy.
func (t Thresholds) Clone() Thresholds {
	return Thresholds{Bookings: clonePtr(t.Bookings), Clicks: clonePtr(t.Clicks), Favorites: clonePtr(t.Favorites)}
}

// DefaultUserThresholds returns bookings=2, clicks=25, no favorites threshold.
func DefaultUserThresholds() Thresholds {
	return Thresholds{Bookings: intPtr(2), Clicks: intPtr(25)}
}

// DefaultOfferThresholds returns bookings=0.
func DefaultOfferThresholds() Thresholds {
	return Thresholds{Bookings: intPtr(0)}
}

// ModelFork pairs a warm and a cold configuration.
type ModelFork struct {
	Name       string             `json:"name" yaml:"name" validate:"required"`
	Kind       ForkKind           `json:"kind" yaml:"kind" validate:"required,oneof=user offer"`
	Thresholds Thresholds         `json:"thresholds" yaml:"thresholds"`
	Warm       ModelConfiguration `json:"warm" yaml:"warm"`
	Cold       ModelConfiguration `json:"cold" yaml:"cold"`
}

// Clone returns a deep copy.
func (f ModelFork) Clone() ModelFork {
	out := f
	out.Thresholds = f.Thresholds.Clone()
	out.Warm = f.Warm.Clone()
	out.Cold = f.Cold.Clone()
	return out
}

// Validate checks both variants.
func (f ModelFork) Validate() error {
	if err := validate.Struct(f); err != nil {
		return eris.Wrap(ErrInvalidOverride, err.Error())
	}
	if err := f.Warm.Validate(); err != nil {
		return eris.Wrap(err, "warm")
	}
	if err := f.Cold.Validate(); err != nil {
		return eris.Wrap(err, "cold")
	}
	return nil
}

// Decision is the outcome of a fork.
type Decision struct {
	Fork   string
	Config ModelConfiguration
	Origin string
}

// ForUser picks the variant for a user. The returned configuration is a
// deep copy.
func (f ModelFork) ForUser(u model.UserContext) Decision {
	if !u.Found {
		return f.decide(false, OriginUnknown)
	}
	t := f.Thresholds
	warm := (t.Favorites != nil && u.FavoritesCount >= *t.Favorites) ||
		(t.Bookings != nil && u.BookingsCount >= *t.Bookings) ||
		(t.Clicks != nil && u.ClicksCount >= *t.Clicks)
	return f.decide(warm, "")
}

// ForOffers picks the variant for anchor offers using the summed booking
// count of the anchors that were found. No found anchor means cold and
// unknown.
func (f ModelFork) ForOffers(offers []model.Offer) Decision {
	bookings, found := 0, 0
	for _, o := range offers {
		if !o.Found {
			continue
		}
		found++
		bookings += o.BookingNumber
	}
	if found == 0 {
		return f.decide(false, OriginUnknown)
	}
	warm := f.Thresholds.Bookings != nil && bookings >= *f.Thresholds.Bookings
	return f.decide(warm, "")
}

func (f ModelFork) decide(warm bool, origin string) Decision {
	d := Decision{Fork: f.Name}
	if warm {
		d.Config = f.Warm.Clone()
		d.Origin = OriginAlgo
	} else {
		d.Config = f.Cold.Clone()
		d.Origin = OriginColdStart
	}
	if origin != "" {
		d.Origin = origin
	}
	return d
}

func intPtr(v int) *int { return &v }

func clonePtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
