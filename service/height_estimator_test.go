package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateHeight(t *testing.T) {
	tests := []struct {
		name   string
		shadow float64
		angle  float64
		want   float64
	}{
		{"thirty degrees", 80, 30, 46.188},
		{"forty five degrees", 10, 45, 10},
		{"zero angle", 80, 0, 0},
		{"negative angle", 80, -5, 0},
		{"zero shadow", 0, 30, 0},
		{"negative shadow passes through", -10, 45, -10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, EstimateHeight(tt.shadow, tt.angle), 1e-3)
		})
	}
}

func TestEstimateHeightChecked(t *testing.T) {
	h, err := EstimateHeightChecked(80, 30)
	require.NoError(t, err)
	assert.InDelta(t, 46.188, h, 1e-3)

	_, err = EstimateHeightChecked(-1, 30)
	assert.ErrorIs(t, err, ErrNegativeShadow)
}
