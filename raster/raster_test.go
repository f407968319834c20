package raster

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestGeoTransform(t *testing.T) {
	t.Run("pixel to world and back", func(t *testing.T) {
		gt := GeoTransform{100, 0.5, 0.1, 200, -0.05, -0.5}
		inv, err := gt.Inverse()
		require.NoError(t, err)

		x, y := gt.PixelToWorld(12.5, 7.25)
		col, row := inv.WorldToPixel(x, y)
		assert.InDelta(t, 12.5, col, 1e-9)
		assert.InDelta(t, 7.25, row, 1e-9)
	})

	t.Run("center of pixel", func(t *testing.T) {
		x, y := FromOrigin(10, 20, 2, 2).Center(0, 0)
		assert.Equal(t, 11.0, x)
		assert.Equal(t, 19.0, y)
	})

	t.Run("validity", func(t *testing.T) {
		assert.True(t, FromOrigin(0, 0, 1, 1).Valid())
		assert.False(t, GeoTransform{}.Valid())
		assert.False(t, GeoTransform{0, 1, 0, 0, 0, math.NaN()}.Valid())
		assert.False(t, GeoTransform{0, 1, 1, 0, 1, 1}.Valid())
	})

	t.Run("degenerate transform has no inverse", func(t *testing.T) {
		_, err := GeoTransform{}.Inverse()
		var cfgErr *ConfigurationError
		assert.True(t, errors.As(err, &cfgErr))
	})

	t.Run("resolution", func(t *testing.T) {
		dx, dy := FromOrigin(0, 0, 3, 4).Resolution()
		assert.Equal(t, 3.0, dx)
		assert.Equal(t, 4.0, dy)
	})
}

func TestParseCRS(t *testing.T) {
	tests := []struct {
		in      string
		want    CRS
		wantErr bool
	}{
		{in: "EPSG:4326", want: CRS{Code: 4326, Geographic: true}},
		{in: "epsg:3857", want: CRS{Code: 3857}},
		{in: "Moon_2000_Equirectangular", want: CRS{Citation: "Moon_2000_Equirectangular"}},
		{in: "EPSG:abc", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCRS(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCRSEqual(t *testing.T) {
	assert.True(t, EPSG(4326).Equal(CRS{Code: 4326, Citation: "WGS 84"}))
	assert.False(t, EPSG(4326).Equal(EPSG(3857)))
	assert.True(t, CRS{Citation: "a"}.Equal(CRS{Citation: "a"}))
	assert.False(t, CRS{}.Equal(CRS{}))
	assert.Equal(t, "EPSG:3857", EPSG(3857).String())
}

func TestNewRaster(t *testing.T) {
	t.Run("bands must share a shape", func(t *testing.T) {
		_, err := New([]*mat.Dense{mat.NewDense(2, 3, nil), mat.NewDense(3, 2, nil)}, GeoTransform{}, CRS{})
		var shapeErr *ShapeMismatchError
		require.True(t, errors.As(err, &shapeErr))
		assert.Equal(t, 2, shapeErr.WantRows)
		assert.Equal(t, 3, shapeErr.GotRows)
	})

	t.Run("needs a band", func(t *testing.T) {
		_, err := New(nil, GeoTransform{}, CRS{})
		assert.Error(t, err)
	})

	t.Run("georeferencing", func(t *testing.T) {
		r, err := New([]*mat.Dense{mat.NewDense(2, 2, nil)}, FromOrigin(0, 0, 1, 1), CRS{})
		require.NoError(t, err)
		assert.Equal(t, 2, r.Rows())
		assert.Equal(t, 1, r.BandCount())

		var cfgErr *ConfigurationError
		require.True(t, errors.As(r.Georeferenced("dtm"), &cfgErr))
		assert.Equal(t, "dtm", cfgErr.Source)

		r.CRS = EPSG(4326)
		assert.NoError(t, r.Georeferenced("dtm"))
	})

	t.Run("nodata", func(t *testing.T) {
		r := &Raster{NoData: -9999, HasNoData: true}
		assert.True(t, r.IsNoData(-9999))
		assert.True(t, r.IsNoData(math.NaN()))
		assert.False(t, r.IsNoData(0))
	})
}

func TestMask(t *testing.T) {
	m := NewMask(3, 3)
	m.Set(0, 0, 1)
	m.Set(1, 1, 2)
	m.Set(2, 2, 1)

	assert.Equal(t, 3, m.Count())
	assert.Equal(t, uint8(2), m.At(1, 1))

	landslide := m.Select(1)
	assert.Equal(t, 2, landslide.Count())
	assert.Equal(t, uint8(0), landslide.At(1, 1))

	scaled := landslide.Scale(255)
	assert.Equal(t, uint8(255), scaled.At(2, 2))

	clone := m.Clone()
	clone.Set(0, 0, 9)
	assert.Equal(t, uint8(1), m.At(0, 0))

	assert.True(t, Mask{}.Empty())
	assert.False(t, m.Empty())
}

func TestIOFailureUnwrap(t *testing.T) {
	base := errors.New("permission denied")
	err := error(&IOFailure{Path: "/tmp/x.tif", Err: base})
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "/tmp/x.tif")
}
