package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("overrides merge with defaults", func(t *testing.T) {
		path := writeConfig(t, `
server:
  port: ":9090"
  read_timeout: 5s
pipeline:
  max_concurrent: 4
  sun_azimuth: 135
  nodata: "-9999"
change:
  window: 11
tiling:
  min_edge_density: 0.02
`)
		cfg, err := Load(path)
		require.NoError(t, err)

		assert.Equal(t, ":9090", cfg.Server.Port)
		assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, 4, cfg.Pipeline.MaxConcurrent)
		assert.Equal(t, 135.0, cfg.Pipeline.SunAzimuth)
		assert.Equal(t, 30.0, cfg.Pipeline.SunElevation)
		assert.Equal(t, 11, cfg.Change.Window)
		assert.Equal(t, 1.5, cfg.Change.Sigma)
		assert.Equal(t, 0.02, cfg.Tiling.MinEdgeDensity)
		assert.Equal(t, 512, cfg.Tiling.Size)
		assert.Equal(t, "images", cfg.Models.Detection.InputName)
		assert.Equal(t, int64(1<<28), cfg.Pipeline.MaxRasterSamples)

		nodata, err := cfg.Pipeline.NoDataValue()
		require.NoError(t, err)
		assert.Equal(t, -9999.0, nodata)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		path := writeConfig(t, `
pipeline:
  max_concurrent: 0
change:
  window: 8
`)
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pipeline.max_concurrent")
		assert.Contains(t, err.Error(), "change.window")
	})

	t.Run("new falls back to defaults", func(t *testing.T) {
		cfg := New(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Equal(t, Default(), cfg)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"body radius", func(c *Config) { c.Pipeline.BodyRadius = 0 }, "pipeline.body_radius"},
		{"landslide class", func(c *Config) { c.Pipeline.LandslideClass = 300 }, "pipeline.landslide_class"},
		{"nodata", func(c *Config) { c.Pipeline.NoData = "none" }, "pipeline.nodata"},
		{"kernel", func(c *Config) { c.Change.KernelSize = 0 }, "change.kernel_size"},
		{"raster samples", func(c *Config) { c.Pipeline.MaxRasterSamples = 0 }, "pipeline.max_raster_samples"},
		{"tile size", func(c *Config) { c.Tiling.Size = -1 }, "tiling.size"},
		{"overlap", func(c *Config) { c.Tiling.Overlap = 1 }, "tiling.overlap"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNoDataValue(t *testing.T) {
	for _, s := range []string{"", "nan", "NaN"} {
		v, err := PipelineConfig{NoData: s}.NoDataValue()
		require.NoError(t, err)
		assert.True(t, math.IsNaN(v), "%q", s)
	}

	v, err := PipelineConfig{NoData: "0"}.NoDataValue()
	require.NoError(t, err)
	assert.Zero(t, v)
}
