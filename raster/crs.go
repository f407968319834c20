package raster

import (
	"fmt"
	"strconv"
	"strings"
)

// CRS 坐标参考系标识
type CRS struct {
	// Code 为 EPSG 代码，自定义参考系为 0
	Code int
	// Citation 为 GeoTIFF 中的描述文本
	Citation string
	// Geographic 表示坐标单位为经纬度
	Geographic bool
}

// EPSG 由 EPSG 代码构造参考系
func EPSG(code int) CRS {
	return CRS{Code: code, Geographic: code == 4326}
}

// ParseCRS 解析 "EPSG:4326" 形式的标识
func ParseCRS(s string) (CRS, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CRS{}, fmt.Errorf("empty crs")
	}

	prefix, code, ok := strings.Cut(s, ":")
	if !ok || !strings.EqualFold(prefix, "EPSG") {
		return CRS{Citation: s}, nil
	}

	n, err := strconv.Atoi(code)
	if err != nil || n <= 0 {
		return CRS{}, fmt.Errorf("invalid epsg code %q", code)
	}
	return EPSG(n), nil
}

func (c CRS) Defined() bool {
	return c.Code > 0 || c.Citation != ""
}

// Equal 两个参考系是否相同
func (c CRS) Equal(o CRS) bool {
	if c.Code > 0 || o.Code > 0 {
		return c.Code == o.Code
	}
	return c.Citation != "" && c.Citation == o.Citation
}

func (c CRS) String() string {
	if c.Code > 0 {
		return "EPSG:" + strconv.Itoa(c.Code)
	}
	return c.Citation
}
