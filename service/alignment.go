package service

import (
	"fmt"
	"math"

	"github.com/TIANLI0/SlideKit/raster"
	"gonum.org/v1/gonum/mat"
)

// snapEpsilon 把浮点误差内的整数像素坐标对齐，保证同网格时逐像素复制
const snapEpsilon = 1e-9

// Align 将 src 的第一个波段重采样到 target 网格（双线性插值）。
// 源数据覆盖范围外的像元填充 nodata，输出尺寸与 target 完全一致。
func Align(src *raster.Raster, target raster.Grid, nodata float64) (*mat.Dense, error) {
	if err := src.Georeferenced("source"); err != nil {
		return nil, err
	}
	if !target.Transform.Valid() {
		return nil, &raster.ConfigurationError{Source: "target", Reason: "missing or degenerate geotransform"}
	}
	if !target.CRS.Defined() {
		return nil, &raster.ConfigurationError{Source: "target", Reason: "missing coordinate reference system"}
	}
	if target.Rows <= 0 || target.Cols <= 0 {
		return nil, fmt.Errorf("invalid target shape %dx%d", target.Rows, target.Cols)
	}

	inv, err := src.Transform.Inverse()
	if err != nil {
		return nil, err
	}
	toSource, err := NewPointTransformer(target.CRS, src.CRS)
	if err != nil {
		return nil, err
	}

	band := src.Band(0)
	out := mat.NewDense(target.Rows, target.Cols, nil)

	for r := 0; r < target.Rows; r++ {
		for c := 0; c < target.Cols; c++ {
			x, y := target.Transform.Center(c, r)

			sx, sy, err := toSource(x, y)
			if err != nil {
				out.Set(r, c, nodata)
				continue
			}

			col, row := inv.WorldToPixel(sx, sy)
			out.Set(r, c, bilinear(src, band, col-0.5, row-0.5, nodata))
		}
	}

	return out, nil
}

// bilinear 在像元中心坐标 (fx,fy) 处插值，跳过源 nodata 并重新归一化权重
func bilinear(src *raster.Raster, band *mat.Dense, fx, fy, nodata float64) float64 {
	rows, cols := band.Dims()

	if fx < -0.5 || fy < -0.5 || fx > float64(cols)-0.5 || fy > float64(rows)-0.5 {
		return nodata
	}

	fx, fy = snap(fx), snap(fy)

	x0, y0 := math.Floor(fx), math.Floor(fy)
	wx, wy := fx-x0, fy-y0

	taps := [4]struct {
		col, row int
		w        float64
	}{
		{int(x0), int(y0), (1 - wx) * (1 - wy)},
		{int(x0) + 1, int(y0), wx * (1 - wy)},
		{int(x0), int(y0) + 1, (1 - wx) * wy},
		{int(x0) + 1, int(y0) + 1, wx * wy},
	}

	var sum, wsum float64
	for _, t := range taps {
		if t.w == 0 {
			continue
		}
		c := clampInt(t.col, 0, cols-1)
		r := clampInt(t.row, 0, rows-1)
		v := band.At(r, c)
		if src.IsNoData(v) {
			continue
		}
		sum += v * t.w
		wsum += t.w
	}

	if wsum == 0 {
		return nodata
	}
	return sum / wsum
}

func snap(v float64) float64 {
	if r := math.Round(v); math.Abs(v-r) < snapEpsilon {
		return r
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// isNoData 判断值是否等于填充值，NaN 按 NaN 比较
func isNoData(v, nodata float64) bool {
	if math.IsNaN(nodata) {
		return math.IsNaN(v)
	}
	return v == nodata
}

// allNoData 网格是否全部为填充值
func allNoData(m *mat.Dense, nodata float64) bool {
	rows, cols := m.Dims()
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if !isNoData(m.At(r, c), nodata) {
				return false
			}
		}
	}
	return true
}
