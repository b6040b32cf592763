package sonde

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGPSToDate(t *testing.T) {
	y, m, d := GPSToDate(0, 0)
	assert.Equal(t, [3]int{1980, 1, 6}, [3]int{y, m, d})

	y, m, d = GPSToDate(2290, 432000)
	assert.Equal(t, [3]int{2023, 12, 1}, [3]int{y, m, d})

	// week rollover continuity: last second of one week, first of next
	y1, m1, d1 := GPSToDate(2289, 7*86400-1)
	y2, m2, d2 := GPSToDate(2290, 0)
	assert.Equal(t, [3]int{y1, m1, d1}, [3]int{2023, 11, 25})
	assert.Equal(t, [3]int{y2, m2, d2}, [3]int{2023, 11, 26})
}

// geodeticToECEF is the forward transform the decoder inverts.
func geodeticToECEF(latDeg, lonDeg, h float64) (x, y, z float64) {
	phi := latDeg * math.Pi / 180
	lam := lonDeg * math.Pi / 180
	n := earthA / math.Sqrt(1-earthE2*math.Sin(phi)*math.Sin(phi))
	x = (n + h) * math.Cos(phi) * math.Cos(lam)
	y = (n + h) * math.Cos(phi) * math.Sin(lam)
	z = (n*(1-earthE2) + h) * math.Sin(phi)
	return x, y, z
}

func TestECEFToGeodeticRoundTrip(t *testing.T) {
	cases := []struct{ lat, lon, h float64 }{
		{0, 0, 0},
		{45, 7.5, 12000},
		{-33.9, 151.2, 500},
		{70.1, -45.0, 30000},
	}
	for _, tc := range cases {
		x, y, z := geodeticToECEF(tc.lat, tc.lon, tc.h)
		lat, lon, alt := ECEFToGeodetic(x, y, z)
		assert.InDelta(t, tc.lat, lat, 1e-6, "lat %v", tc)
		assert.InDelta(t, tc.lon, lon, 1e-9, "lon %v", tc)
		assert.InDelta(t, tc.h, alt, 0.1, "alt %v", tc)
	}
}

func TestECEFVelocityAtOrigin(t *testing.T) {
	// at lat 0, lon 0 the axes line up: x is up, y is east, z is north
	velH, heading, velV := ECEFVelocity(3, 4, 0, 0, 0)
	assert.InDelta(t, 4.0, velH, 1e-9)
	assert.InDelta(t, 90.0, heading, 1e-9)
	assert.InDelta(t, 3.0, velV, 1e-9)

	_, heading, _ = ECEFVelocity(0, 0, 5, 0, 0)
	assert.InDelta(t, 0.0, heading, 1e-9)
}

func TestTelemetryJSONOmitsAbsentFields(t *testing.T) {
	tel := &Telemetry{
		Type:        "RS41",
		Frame:       5,
		ID:          "S2420123",
		Datetime:    "2023-12-01T00:00:00.000Z",
		RefDatetime: "GPS",
		RefPosition: "GPS",
	}
	line := tel.JSONLine()
	assert.Contains(t, line, `"type":"RS41"`)
	assert.Contains(t, line, `"frame":5`)
	assert.NotContains(t, line, "temp")
	assert.NotContains(t, line, "sats")
	assert.NotContains(t, line, "freq")
	assert.NotContains(t, line, "subtype")

	v := 12.5
	tel.Temp = &v
	assert.Contains(t, tel.JSONLine(), `"temp":12.5`)
}

func TestDispatchFallsBackToRaw(t *testing.T) {
	reg := NewRegistry()
	bits := make([]byte, 16)
	bits[0] = 1 // byte 0x01 LSB first
	res, err := Dispatch(reg, 99, bits, FrameMeta{})
	require.NoError(t, err)
	require.Len(t, res.Lines, 1)
	assert.True(t, strings.HasPrefix(res.Lines[0], "01 00"))
}

func TestRegistryLookup(t *testing.T) {
	reg := NewRegistry()
	d := &RawDecoder{FamilyName: "X", FrameSpec: FrameSpec{RawBits: 8}}
	reg.Register(7, d)
	got, ok := reg.Lookup(7)
	assert.True(t, ok)
	assert.Equal(t, d, got)
	_, ok = reg.Lookup(8)
	assert.False(t, ok)
}
