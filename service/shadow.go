package service

import (
	"math"

	"github.com/TIANLI0/SlideKit/config"
	"gonum.org/v1/gonum/mat"
)

// ShadowMeasurer 沿背离太阳的方向测量目标投下的阴影长度（像素）。
// threshold 按 8 位灰度理解，调用方先用 Stretch8 拉伸光学波段。
type ShadowMeasurer struct {
	threshold float64
	maxLength int
}

func NewShadowMeasurer(cfg *config.PipelineConfig) *ShadowMeasurer {
	return &ShadowMeasurer{
		threshold: cfg.ShadowThreshold,
		maxLength: cfg.MaxShadowLength,
	}
}

// Measure 从框中心出发，沿方位角 azimuth（度，北起顺时针）的反方向步进。
// 离开边界框后统计连续暗像元的步数，遇到亮像元、影像边缘或长度上限即停止。
func (s *ShadowMeasurer) Measure(optical *mat.Dense, box BBox, azimuth float64) float64 {
	rows, cols := optical.Dims()

	rad := azimuth * math.Pi / 180
	// 影像行向下为南，阴影方向与太阳方向相反
	dx, dy := -math.Sin(rad), math.Cos(rad)

	x, y := box.Center()
	inside := func(px, py float64) bool {
		return px >= box.X0 && px < box.X1 && py >= box.Y0 && py < box.Y1
	}

	limit := s.maxLength + int(math.Ceil(math.Hypot(box.Width(), box.Height())))
	length := 0
	for step := 0; step < limit && length < s.maxLength; step++ {
		x += dx
		y += dy
		if inside(x, y) {
			continue
		}

		c, r := int(math.Floor(x)), int(math.Floor(y))
		if c < 0 || r < 0 || c >= cols || r >= rows {
			break
		}
		v := optical.At(r, c)
		if math.IsNaN(v) || v >= s.threshold {
			break
		}
		length++
	}

	return float64(length)
}
