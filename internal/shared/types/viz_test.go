package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDimension(t *testing.T) {
	tests := []struct {
		in   string
		want Dimension
		ok   bool
	}{
		{"2d", Dimension2D, true},
		{"2D", Dimension2D, true},
		{" 3d ", Dimension3D, true},
		{"Demo", DimensionDemo, true},
		{"4d", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDimension(tt.in)
			if !tt.ok {
				assert.ErrorIs(t, err, ErrUnsupportedDimension)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDisplayMode(t *testing.T) {
	m, err := ParseDisplayMode("CODE")
	require.NoError(t, err)
	assert.Equal(t, DisplayCode, m)

	_, err = ParseDisplayMode("split")
	assert.Error(t, err)
}
