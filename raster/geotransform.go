package raster

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// GeoTransform 仿射地理变换，采用 GDAL 顺序:
// originX, pixelWidth, rowRotation, originY, colRotation, pixelHeight
type GeoTransform [6]float64

// FromOrigin 由左上角坐标和像元大小构造北向上的变换
func FromOrigin(west, north, xSize, ySize float64) GeoTransform {
	return GeoTransform{west, xSize, 0, north, 0, -ySize}
}

func (gt GeoTransform) det() float64 {
	return gt[1]*gt[5] - gt[2]*gt[4]
}

// Valid 像元大小非零且仿射矩阵可逆
func (gt GeoTransform) Valid() bool {
	for _, v := range gt {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return gt[1] != 0 && gt[5] != 0 && gt.det() != 0
}

// PixelToWorld 像素坐标 (col,row) 转为参考系坐标
func (gt GeoTransform) PixelToWorld(col, row float64) (x, y float64) {
	x = gt[0] + col*gt[1] + row*gt[2]
	y = gt[3] + col*gt[4] + row*gt[5]
	return x, y
}

// Inverse 返回世界坐标到像素坐标的逆变换
func (gt GeoTransform) Inverse() (GeoTransform, error) {
	if !gt.Valid() {
		return GeoTransform{}, &ConfigurationError{Reason: "degenerate geotransform"}
	}

	a := mat.NewDense(3, 3, []float64{
		gt[1], gt[2], gt[0],
		gt[4], gt[5], gt[3],
		0, 0, 1,
	})

	var inv mat.Dense
	if err := inv.Inverse(a); err != nil {
		// 病态矩阵仍会给出结果，仅在奇异时放弃
		var cond mat.Condition
		if !errors.As(err, &cond) || math.IsInf(float64(cond), 1) {
			return GeoTransform{}, &ConfigurationError{Reason: "geotransform is not invertible"}
		}
	}

	return GeoTransform{
		inv.At(0, 2), inv.At(0, 0), inv.At(0, 1),
		inv.At(1, 2), inv.At(1, 0), inv.At(1, 1),
	}, nil
}

// WorldToPixel 把参考系坐标转为像素坐标，gt 须为 Inverse 的返回值
func (gt GeoTransform) WorldToPixel(x, y float64) (col, row float64) {
	return gt.PixelToWorld(x, y)
}

// Resolution 返回沿列和沿行方向的像元尺寸（绝对值）
func (gt GeoTransform) Resolution() (dx, dy float64) {
	return math.Hypot(gt[1], gt[4]), math.Hypot(gt[2], gt[5])
}

// Center 返回像素 (col,row) 中心的参考系坐标
func (gt GeoTransform) Center(col, row int) (x, y float64) {
	return gt.PixelToWorld(float64(col)+0.5, float64(row)+0.5)
}
