package service

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ValidRange 返回网格有效值的最小值和最大值，NaN、无穷和 nodata 不参与统计
func ValidRange(m *mat.Dense, nodata float64) (lo, hi float64, ok bool) {
	rows, cols := m.Dims()
	vals := make([]float64, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if v := m.At(r, c); !math.IsNaN(v) && !math.IsInf(v, 0) && !isNoData(v, nodata) {
				vals = append(vals, v)
			}
		}
	}
	if len(vals) == 0 {
		return 0, 0, false
	}
	return floats.Min(vals), floats.Max(vals), true
}

// Stretch8 把网格按有效值范围线性拉伸到 [0,255]，无效值输出 NaN。
// 取值范围为常数时全部映射为 0。
func Stretch8(m *mat.Dense, nodata float64) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(rows, cols, nil)

	lo, hi, ok := ValidRange(m, nodata)
	scale := 0.0
	if ok && hi > lo {
		scale = 255 / (hi - lo)
	}

	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			v := m.At(r, c)
			if math.IsNaN(v) || math.IsInf(v, 0) || isNoData(v, nodata) {
				out.Set(r, c, math.NaN())
				continue
			}
			out.Set(r, c, math.Round((v-lo)*scale))
		}
	}
	return out
}
