package service

import (
	"fmt"
	"math"

	"github.com/TIANLI0/SlideKit/raster"
	"gonum.org/v1/gonum/mat"
)

// Slope 由高程网格计算坡度（度），NaN 视为无效值。
// 内部使用中心差分，边缘使用单侧差分，dx 为列方向间距，dy 为行方向间距。
func Slope(elev *mat.Dense, dx, dy float64) (*mat.Dense, error) {
	return SlopeNoData(elev, dx, dy, math.NaN())
}

// SlopeNoData 与 Slope 相同，但中心像元或差分用到的任一邻域为 nodata 时输出 nodata
func SlopeNoData(elev *mat.Dense, dx, dy, nodata float64) (*mat.Dense, error) {
	if dx <= 0 || dy <= 0 || math.IsNaN(dx) || math.IsNaN(dy) {
		return nil, fmt.Errorf("pixel spacing must be positive, got dx=%g dy=%g", dx, dy)
	}

	rows, cols := elev.Dims()
	out := mat.NewDense(rows, cols, nil)
	invalid := func(r, c int) bool {
		v := elev.At(r, c)
		return math.IsNaN(v) || isNoData(v, nodata)
	}

	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			c0, c1 := stencil(cols, c)
			r0, r1 := stencil(rows, r)
			if invalid(r, c) || invalid(r, c0) || invalid(r, c1) || invalid(r0, c) || invalid(r1, c) {
				out.Set(r, c, nodata)
				continue
			}

			gx := gradient(cols, c, dx, func(i int) float64 { return elev.At(r, i) })
			gy := gradient(rows, r, dy, func(i int) float64 { return elev.At(i, c) })
			out.Set(r, c, math.Atan(math.Hypot(gx, gy))*180/math.Pi)
		}
	}

	return out, nil
}

// stencil 返回 gradient 在位置 i 用到的两个下标
func stencil(n, i int) (lo, hi int) {
	switch {
	case n < 2:
		return i, i
	case i == 0:
		return 0, 1
	case i == n-1:
		return n - 2, n - 1
	default:
		return i - 1, i + 1
	}
}

// gradient 一维有限差分，长度为 1 时梯度为 0
func gradient(n, i int, h float64, at func(int) float64) float64 {
	switch {
	case n < 2:
		return 0
	case i == 0:
		return (at(1) - at(0)) / h
	case i == n-1:
		return (at(n-1) - at(n-2)) / h
	default:
		return (at(i+1) - at(i-1)) / (2 * h)
	}
}

// PixelSpacing 返回像元的物理间距（米）。
// 地理坐标系下按半径为 bodyRadius 的球体换算，经向间距随纬度缩放。
func PixelSpacing(grid raster.Grid, bodyRadius float64) (dx, dy float64) {
	dx, dy = grid.Transform.Resolution()
	if !grid.CRS.Geographic {
		return dx, dy
	}

	metersPerDegree := bodyRadius * math.Pi / 180
	_, lat := grid.Transform.PixelToWorld(float64(grid.Cols)/2, float64(grid.Rows)/2)

	return dx * metersPerDegree * math.Cos(lat*math.Pi/180), dy * metersPerDegree
}
