package service

import (
	"math"
	"testing"

	"github.com/TIANLI0/SlideKit/raster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlope(t *testing.T) {
	t.Run("flat surface has zero slope", func(t *testing.T) {
		elev := grid(16, 16, func(r, c int) float64 { return 1200 })

		slope, err := Slope(elev, 5, 5)
		require.NoError(t, err)

		rows, cols := slope.Dims()
		assert.Equal(t, 16, rows)
		assert.Equal(t, 16, cols)
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				assert.Zero(t, slope.At(r, c))
			}
		}
	})

	t.Run("uniform ramp along columns is 45 degrees everywhere", func(t *testing.T) {
		elev := grid(8, 8, func(r, c int) float64 { return float64(c) * 2 })

		slope, err := Slope(elev, 2, 2)
		require.NoError(t, err)

		for r := 0; r < 8; r++ {
			for c := 0; c < 8; c++ {
				assert.InDelta(t, 45, slope.At(r, c), 1e-9)
			}
		}
	})

	t.Run("row spacing scales the row gradient", func(t *testing.T) {
		elev := grid(6, 6, func(r, c int) float64 { return float64(r) * 10 })

		slope, err := Slope(elev, 1, 10)
		require.NoError(t, err)
		assert.InDelta(t, 45, slope.At(3, 3), 1e-9)
	})

	t.Run("single pixel", func(t *testing.T) {
		slope, err := Slope(grid(1, 1, func(r, c int) float64 { return 3 }), 1, 1)
		require.NoError(t, err)
		assert.Zero(t, slope.At(0, 0))
	})

	t.Run("rejects non-positive spacing", func(t *testing.T) {
		_, err := Slope(grid(2, 2, func(r, c int) float64 { return 0 }), 0, 1)
		assert.Error(t, err)
	})
}

func TestSlopeNoData(t *testing.T) {
	elev := grid(5, 5, func(r, c int) float64 { return 10 })
	elev.Set(2, 2, -1)

	slope, err := SlopeNoData(elev, 1, 1, -1)
	require.NoError(t, err)

	for _, p := range [][2]int{{2, 2}, {1, 2}, {3, 2}, {2, 1}, {2, 3}} {
		assert.Equal(t, -1.0, slope.At(p[0], p[1]), "pixel %v", p)
	}
	assert.Equal(t, 0.0, slope.At(1, 1))
	assert.Equal(t, 0.0, slope.At(0, 2))

	t.Run("nan stays nan", func(t *testing.T) {
		elev.Set(2, 2, math.NaN())
		slope, err := Slope(elev, 1, 1)
		require.NoError(t, err)
		assert.True(t, math.IsNaN(slope.At(2, 2)))
		assert.True(t, math.IsNaN(slope.At(2, 3)))
		assert.Equal(t, 0.0, slope.At(4, 4))
	})
}

func TestStencil(t *testing.T) {
	tests := []struct{ n, i, lo, hi int }{
		{1, 0, 0, 0},
		{4, 0, 0, 1},
		{4, 2, 1, 3},
		{4, 3, 2, 3},
	}
	for _, tt := range tests {
		lo, hi := stencil(tt.n, tt.i)
		assert.Equal(t, [2]int{tt.lo, tt.hi}, [2]int{lo, hi}, "n=%d i=%d", tt.n, tt.i)
	}
}

func TestGradientEdges(t *testing.T) {
	vals := []float64{1, 4, 9, 16}
	at := func(i int) float64 { return vals[i] }

	assert.Equal(t, 3.0, gradient(4, 0, 1, at))
	assert.Equal(t, 4.0, gradient(4, 1, 1, at))
	assert.Equal(t, 6.0, gradient(4, 2, 1, at))
	assert.Equal(t, 7.0, gradient(4, 3, 1, at))
}

func TestPixelSpacing(t *testing.T) {
	t.Run("projected grid uses transform units", func(t *testing.T) {
		g := raster.Grid{
			Transform: raster.FromOrigin(0, 1000, 5, 7),
			CRS:       raster.EPSG(3857),
			Rows:      10,
			Cols:      10,
		}
		dx, dy := PixelSpacing(g, 1737400)
		assert.Equal(t, 5.0, dx)
		assert.Equal(t, 7.0, dy)
	})

	t.Run("geographic grid converts degrees on the body sphere", func(t *testing.T) {
		g := raster.Grid{
			Transform: raster.FromOrigin(0, 0.5, 0.001, 0.001),
			CRS:       raster.EPSG(4326),
			Rows:      1000,
			Cols:      1000,
		}
		dx, dy := PixelSpacing(g, 1737400)

		metres := 1737400 * math.Pi / 180 * 0.001
		assert.InDelta(t, metres, dy, 1e-6)
		// 中心纬度为 0，经向与纬向间距相同
		assert.InDelta(t, metres, dx, 1e-6)
	})
}
