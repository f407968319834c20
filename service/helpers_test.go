package service

import (
	"math"
	"testing"

	"github.com/TIANLI0/SlideKit/config"
	"github.com/TIANLI0/SlideKit/raster"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// grid 构造 rows×cols 的矩阵，值由 f(r,c) 给出
func grid(rows, cols int, f func(r, c int) float64) *mat.Dense {
	m := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			m.Set(r, c, f(r, c))
		}
	}
	return m
}

func newRaster(t *testing.T, band *mat.Dense, gt raster.GeoTransform, crs raster.CRS) *raster.Raster {
	t.Helper()
	r, err := raster.New([]*mat.Dense{band}, gt, crs)
	require.NoError(t, err)
	return r
}

// requireSameGrid 逐像素比较，NaN 与 NaN 视为相等
func requireSameGrid(t *testing.T, want, got *mat.Dense) {
	t.Helper()
	wr, wc := want.Dims()
	gr, gc := got.Dims()
	require.Equal(t, []int{wr, wc}, []int{gr, gc})
	for r := 0; r < wr; r++ {
		for c := 0; c < wc; c++ {
			w, g := want.At(r, c), got.At(r, c)
			if math.IsNaN(w) {
				require.True(t, math.IsNaN(g), "pixel (%d,%d): want NaN, got %v", r, c, g)
				continue
			}
			require.Equal(t, w, g, "pixel (%d,%d)", r, c)
		}
	}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Pipeline.QueueTimeout = 5
	return cfg
}
