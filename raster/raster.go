package raster

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Raster 带地理参考的栅格，所有波段共享同一网格
type Raster struct {
	Bands     []*mat.Dense
	Transform GeoTransform
	CRS       CRS
	// NoData 仅在 HasNoData 为真时有效，NaN 总是视为无效值
	NoData    float64
	HasNoData bool
}

// New 创建栅格，波段数与尺寸在创建后固定
func New(bands []*mat.Dense, gt GeoTransform, crs CRS) (*Raster, error) {
	if len(bands) == 0 {
		return nil, fmt.Errorf("raster needs at least one band")
	}

	rows, cols := bands[0].Dims()
	for i, b := range bands[1:] {
		r, c := b.Dims()
		if err := CheckShape(fmt.Sprintf("band %d", i+1), rows, cols, r, c); err != nil {
			return nil, err
		}
	}

	return &Raster{
		Bands:     bands,
		Transform: gt,
		CRS:       crs,
	}, nil
}

func (r *Raster) Rows() int {
	rows, _ := r.Bands[0].Dims()
	return rows
}

func (r *Raster) Cols() int {
	_, cols := r.Bands[0].Dims()
	return cols
}

func (r *Raster) BandCount() int {
	return len(r.Bands)
}

// Band 返回第 i 个波段（从 0 开始）
func (r *Raster) Band(i int) *mat.Dense {
	return r.Bands[i]
}

// IsNoData 判断像元值是否为无效值
func (r *Raster) IsNoData(v float64) bool {
	if math.IsNaN(v) {
		return true
	}
	return r.HasNoData && v == r.NoData
}

// Georeferenced 校验地理参考信息，缺失时返回 ConfigurationError
func (r *Raster) Georeferenced(source string) error {
	if !r.Transform.Valid() {
		return &ConfigurationError{Source: source, Reason: "missing or degenerate geotransform"}
	}
	if !r.CRS.Defined() {
		return &ConfigurationError{Source: source, Reason: "missing coordinate reference system"}
	}
	return nil
}

// Grid 目标网格：变换、参考系和尺寸
type Grid struct {
	Transform GeoTransform
	CRS       CRS
	Rows      int
	Cols      int
}

// Grid 返回栅格所在的网格
func (r *Raster) Grid() Grid {
	return Grid{
		Transform: r.Transform,
		CRS:       r.CRS,
		Rows:      r.Rows(),
		Cols:      r.Cols(),
	}
}
