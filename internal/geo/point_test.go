package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

func TestEncodePoint_RoundTrip(t *testing.T) {
	data, err := EncodePoint(48.832, 2.333)
	require.NoError(t, err)

	g, err := ewkb.Unmarshal(data)
	require.NoError(t, err)
	p, ok := g.(*geom.Point)
	require.True(t, ok)
	assert.Equal(t, SRID, p.SRID())
	assert.InDelta(t, 2.333, p.X(), 1e-9)
	assert.InDelta(t, 48.832, p.Y(), 1e-9)
}

func TestHaversine(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		wantKM                 float64
		delta                  float64
	}{
		{"same point", 48.8566, 2.3522, 48.8566, 2.3522, 0, 1e-9},
		{"paris to lyon", 48.8566, 2.3522, 45.7640, 4.8357, 392, 3},
		{"paris to marseille", 48.8566, 2.3522, 43.2965, 5.3698, 661, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineKM(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			assert.InDelta(t, tt.wantKM, got, tt.delta)
			assert.InDelta(t, got*1000, HaversineMeters(tt.lat1, tt.lon1, tt.lat2, tt.lon2), 1e-6)
		})
	}
}

func TestHaversine_Symmetric(t *testing.T) {
	a := HaversineKM(48.832, 2.333, 43.6, 1.44)
	b := HaversineKM(43.6, 1.44, 48.832, 2.333)
	assert.InDelta(t, a, b, 1e-9)
}

func TestMeanCoordinate(t *testing.T) {
	_, ok := MeanCoordinate(nil)
	assert.False(t, ok)

	c, ok := MeanCoordinate([]Coordinate{
		{Latitude: 48.0, Longitude: 2.0},
		{Latitude: 50.0, Longitude: 4.0},
	})
	require.True(t, ok)
	assert.InDelta(t, 49.0, c.Latitude, 1e-9)
	assert.InDelta(t, 3.0, c.Longitude, 1e-9)
}
