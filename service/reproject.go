package service

import (
	"fmt"

	"github.com/TIANLI0/SlideKit/raster"
	"github.com/go-spatial/proj"
)

// PointTransformer 在两个参考系间转换坐标
type PointTransformer func(x, y float64) (float64, float64, error)

// projectedCodes 由 go-spatial/proj 支持、以 WGS84 经纬度为中转的投影
var projectedCodes = map[int]proj.EPSGCode{
	3395: proj.EPSG3395,
	3857: proj.EPSG3857,
	4087: proj.EPSG4087,
}

// NewPointTransformer 返回 src 到 dst 的坐标转换函数
func NewPointTransformer(src, dst raster.CRS) (PointTransformer, error) {
	if !src.Defined() || !dst.Defined() {
		return nil, &raster.ConfigurationError{Reason: "coordinate reference system is not defined"}
	}

	if src.Equal(dst) {
		return func(x, y float64) (float64, float64, error) { return x, y, nil }, nil
	}

	toLonLat, err := lonLatInverse(src)
	if err != nil {
		return nil, err
	}
	fromLonLat, err := lonLatForward(dst)
	if err != nil {
		return nil, err
	}

	return func(x, y float64) (float64, float64, error) {
		lon, lat, err := toLonLat(x, y)
		if err != nil {
			return 0, 0, err
		}
		return fromLonLat(lon, lat)
	}, nil
}

func lonLatInverse(c raster.CRS) (PointTransformer, error) {
	if c.Code == 4326 {
		return func(x, y float64) (float64, float64, error) { return x, y, nil }, nil
	}

	code, ok := projectedCodes[c.Code]
	if !ok {
		return nil, &raster.ConfigurationError{Reason: fmt.Sprintf("unsupported crs %s", c)}
	}

	return func(x, y float64) (float64, float64, error) {
		out, err := proj.Inverse(code, []float64{x, y})
		if err != nil {
			return 0, 0, err
		}
		return out[0], out[1], nil
	}, nil
}

func lonLatForward(c raster.CRS) (PointTransformer, error) {
	if c.Code == 4326 {
		return func(x, y float64) (float64, float64, error) { return x, y, nil }, nil
	}

	code, ok := projectedCodes[c.Code]
	if !ok {
		return nil, &raster.ConfigurationError{Reason: fmt.Sprintf("unsupported crs %s", c)}
	}

	return func(lon, lat float64) (float64, float64, error) {
		out, err := proj.Convert(code, []float64{lon, lat})
		if err != nil {
			return 0, 0, err
		}
		return out[0], out[1], nil
	}, nil
}
