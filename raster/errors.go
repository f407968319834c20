package raster

import (
	"errors"
	"fmt"
)

// ErrNoOverlap 重投影后对齐结果全部为 nodata
var ErrNoOverlap = errors.New("rasters do not overlap after reprojection")

// ConfigurationError 输入栅格缺失或包含无效的地理参考信息
type ConfigurationError struct {
	Source string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Source == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error (%s): %s", e.Source, e.Reason)
}

// ShapeMismatchError 两个应当同尺寸的网格尺寸不一致
type ShapeMismatchError struct {
	What     string
	WantRows int
	WantCols int
	GotRows  int
	GotCols  int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch (%s): want %dx%d, got %dx%d",
		e.What, e.WantRows, e.WantCols, e.GotRows, e.GotCols)
}

// IOFailure 文件缺失、不可读或已损坏
type IOFailure struct {
	Path string
	Err  error
}

func (e *IOFailure) Error() string {
	return fmt.Sprintf("io failure (%s): %v", e.Path, e.Err)
}

func (e *IOFailure) Unwrap() error {
	return e.Err
}

// CheckShape 校验网格尺寸，不一致时返回 ShapeMismatchError
func CheckShape(what string, wantRows, wantCols, gotRows, gotCols int) error {
	if wantRows == gotRows && wantCols == gotCols {
		return nil
	}
	return &ShapeMismatchError{
		What:     what,
		WantRows: wantRows,
		WantCols: wantCols,
		GotRows:  gotRows,
		GotCols:  gotCols,
	}
}
