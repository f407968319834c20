package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/TIANLI0/SlideKit/config"
	"github.com/TIANLI0/SlideKit/geotiff"
	"github.com/TIANLI0/SlideKit/raster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func newTiler(size int, overlap, minMean float64) *Tiler {
	return NewTiler(&config.TilingConfig{Size: size, Overlap: overlap, MinMean: minMean})
}

func TestTilerWindows(t *testing.T) {
	t.Run("covers the grid and snaps to the edge", func(t *testing.T) {
		tiles := newTiler(100, 0.2, 0).Windows(250, 180)

		covered := make([][]bool, 250)
		for i := range covered {
			covered[i] = make([]bool, 180)
		}
		for _, tile := range tiles {
			assert.Equal(t, 100, tile.Rows)
			assert.Equal(t, 100, tile.Cols)
			assert.LessOrEqual(t, tile.Row+tile.Rows, 250)
			assert.LessOrEqual(t, tile.Col+tile.Cols, 180)
			for r := tile.Row; r < tile.Row+tile.Rows; r++ {
				for c := tile.Col; c < tile.Col+tile.Cols; c++ {
					covered[r][c] = true
				}
			}
		}
		for r := range covered {
			for c := range covered[r] {
				require.True(t, covered[r][c], "pixel (%d,%d) not covered", r, c)
			}
		}
	})

	t.Run("small grid is a single window", func(t *testing.T) {
		tiles := newTiler(512, 0.2, 0).Windows(100, 300)
		require.Len(t, tiles, 1)
		assert.Equal(t, Tile{Row: 0, Col: 0, Rows: 100, Cols: 300}, tiles[0])
	})
}

func TestTilerTrainingWindows(t *testing.T) {
	// 左半边暗，右半边亮
	optical := grid(64, 128, func(r, c int) float64 {
		if c < 64 {
			return 1
		}
		return 100
	})

	tiles := newTiler(32, 0, 5).TrainingWindows(optical)
	require.Len(t, tiles, 4)
	for _, tile := range tiles {
		assert.GreaterOrEqual(t, tile.Col, 64)
		assert.Equal(t, 32, tile.Rows)
	}

	t.Run("partial edge tiles are skipped", func(t *testing.T) {
		tiles := newTiler(50, 0, 0).TrainingWindows(grid(120, 120, func(r, c int) float64 { return 10 }))
		assert.Len(t, tiles, 4)
	})

	t.Run("flat tiles are skipped when edge density is required", func(t *testing.T) {
		tiler := NewTiler(&config.TilingConfig{Size: 32, MinEdgeDensity: 0.01})
		flat := grid(32, 64, func(r, c int) float64 {
			if c >= 32 && (r/4+c/4)%2 == 0 {
				return 200
			}
			return 50
		})

		tiles := tiler.TrainingWindows(flat)
		require.Len(t, tiles, 1)
		assert.Equal(t, 32, tiles[0].Col)
	})
}

func TestTilerExtract(t *testing.T) {
	band := grid(10, 10, func(r, c int) float64 { return float64(r*10 + c) })
	sample := &FusedSample{
		Bands: [FusedBands]*mat.Dense{band, band, band},
		Grid: raster.Grid{
			Transform: raster.FromOrigin(100, 200, 2, 2),
			CRS:       raster.EPSG(3857),
			Rows:      10,
			Cols:      10,
		},
	}

	sub := newTiler(4, 0, 0).Extract(sample, Tile{Row: 3, Col: 5, Rows: 4, Cols: 4})

	assert.Equal(t, 35.0, sub.Bands[BandOptical].At(0, 0))
	assert.Equal(t, 68.0, sub.Bands[BandSlope].At(3, 3))
	assert.Equal(t, raster.FromOrigin(110, 194, 2, 2), sub.Grid.Transform)

	// 子样本是拷贝
	sub.Bands[BandOptical].Set(0, 0, -1)
	assert.Equal(t, 35.0, band.At(3, 5))
}

func TestTilerWriteTraining(t *testing.T) {
	band := grid(64, 64, func(r, c int) float64 { return 50 })
	sample := &FusedSample{
		Bands: [FusedBands]*mat.Dense{band, band, band},
		Grid: raster.Grid{
			Transform: raster.FromOrigin(0, 64, 1, 1),
			CRS:       raster.EPSG(3857),
			Rows:      64,
			Cols:      64,
		},
	}

	dir := t.TempDir()
	paths, err := newTiler(32, 0, 5).WriteTraining(sample, dir, "site")
	require.NoError(t, err)
	require.Len(t, paths, 4)

	for _, p := range paths {
		_, err := os.Stat(p)
		require.NoError(t, err)
	}

	tile, err := geotiff.Read(filepath.Join(dir, "site_r32_c32.tif"))
	require.NoError(t, err)
	assert.Equal(t, 3, tile.BandCount())
	assert.Equal(t, 32, tile.Rows())
	assert.Equal(t, raster.FromOrigin(32, 32, 1, 1), tile.Transform)
}
