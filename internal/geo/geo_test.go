package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name   string
		a, b   Coordinate
		wantM  float64
		deltaM float64
	}{
		{
			name:   "same point",
			a:      Coordinate{48.858, 2.294},
			b:      Coordinate{48.858, 2.294},
			wantM:  0,
			deltaM: 0.001,
		},
		{
			name:   "one degree of longitude at the equator",
			a:      Coordinate{0, 0},
			b:      Coordinate{0, 1},
			wantM:  111194.93,
			deltaM: 1,
		},
		{
			name:   "one degree of latitude",
			a:      Coordinate{10, 20},
			b:      Coordinate{11, 20},
			wantM:  111194.93,
			deltaM: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.wantM, Distance(tt.a, tt.b), tt.deltaM)
		})
	}
}

func TestValidateBoundary(t *testing.T) {
	ref := &Coordinate{0, 0}
	cand := &Coordinate{0, 0.00045} // ~50 m east along the equator

	v, err := Validate(ref, cand, 50)
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, 50, v.DistanceM)

	v, err = Validate(ref, cand, 49)
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, 50, v.DistanceM)
}

func TestValidateMissingCoordinate(t *testing.T) {
	_, err := Validate(nil, &Coordinate{0, 0}, 100)
	assert.ErrorIs(t, err, ErrMissingCoordinate)

	_, err = Validate(&Coordinate{0, 0}, nil, 100)
	assert.ErrorIs(t, err, ErrMissingCoordinate)
}
