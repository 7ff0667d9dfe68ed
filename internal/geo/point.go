// Package geo resolves coordinates to administrative regions and computes
// great-circle distances between offers and users.
package geo

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

// SRID of every point sent to PostGIS.
const SRID = 4326

const earthRadiusKM = 6371.0

// EncodePoint returns the EWKB encoding of (lon, lat) with SRID 4326.
func EncodePoint(lat, lon float64) ([]byte, error) {
	p := geom.NewPointFlat(geom.XY, []float64{lon, lat}).SetSRID(SRID)
	data, err := ewkb.Marshal(p, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geo: encode point")
	}
	return data, nil
}

// HaversineKM returns the great-circle distance in kilometers.
func HaversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Asin(math.Min(1, math.Sqrt(a)))
}

// HaversineMeters returns the great-circle distance in meters.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	return HaversineKM(lat1, lon1, lat2, lon2) * 1000
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

// Coordinate is a (lat, lon) pair.
type Coordinate struct {
	Latitude  float64
	Longitude float64
}

// MeanCoordinate returns the arithmetic mean of the given points. It
// returns false for an empty input.
func MeanCoordinate(points []Coordinate) (Coordinate, bool) {
	if len(points) == 0 {
		return Coordinate{}, false
	}
	var sum Coordinate
	for _, p := range points {
		sum.Latitude += p.Latitude
		sum.Longitude += p.Longitude
	}
	n := float64(len(points))
	return Coordinate{Latitude: sum.Latitude / n, Longitude: sum.Longitude / n}, true
}
