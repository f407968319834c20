package service

import (
	"math"

	"github.com/TIANLI0/SlideKit/raster"
	"gonum.org/v1/gonum/mat"
)

// SourcePoint 滑坡源点的像素坐标
type SourcePoint struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// TraceSource 在掩码覆盖的像元中寻找高程最高点。
// 同高程取行优先顺序中第一个出现的像元，NaN 高程跳过。
// 掩码为空时返回 false 而不是错误。
func TraceSource(mask raster.Mask, elev *mat.Dense) (SourcePoint, bool, error) {
	rows, cols := elev.Dims()
	if err := raster.CheckShape("landslide mask", rows, cols, mask.Rows, mask.Cols); err != nil {
		return SourcePoint{}, false, err
	}

	var (
		best  SourcePoint
		found bool
		top   = math.Inf(-1)
	)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if mask.At(r, c) == 0 {
				continue
			}
			v := elev.At(r, c)
			if math.IsNaN(v) {
				continue
			}
			if !found || v > top {
				best = SourcePoint{Row: r, Col: c}
				top = v
				found = true
			}
		}
	}

	return best, found, nil
}
