package service

import (
	"errors"
	"math"
)

// ErrNegativeShadow 阴影长度为负
var ErrNegativeShadow = errors.New("shadow length must not be negative")

// EstimateHeight 由阴影长度和太阳高度角（度）估算高度，单位与阴影长度一致。
// 高度角不大于 0 时返回 0。
func EstimateHeight(shadowLength, sunElevation float64) float64 {
	if sunElevation <= 0 {
		return 0
	}
	return math.Tan(sunElevation*math.Pi/180) * shadowLength
}

// EstimateHeightChecked 与 EstimateHeight 相同，但拒绝负的阴影长度
func EstimateHeightChecked(shadowLength, sunElevation float64) (float64, error) {
	if shadowLength < 0 {
		return 0, ErrNegativeShadow
	}
	return EstimateHeight(shadowLength, sunElevation), nil
}
