package service

import (
	"testing"

	"github.com/TIANLI0/SlideKit/config"
	"github.com/stretchr/testify/assert"
)

func TestShadowMeasure(t *testing.T) {
	cfg := config.Default().Pipeline
	cfg.ShadowThreshold = 40
	cfg.MaxShadowLength = 20
	measurer := NewShadowMeasurer(&cfg)

	// 亮背景上一块巨石，东侧 6 个像素的阴影
	optical := grid(50, 50, func(r, c int) float64 {
		switch {
		case r >= 20 && r < 30 && c >= 20 && c < 30:
			return 200
		case r >= 20 && r < 30 && c >= 30 && c < 36:
			return 10
		default:
			return 120
		}
	})
	box := BBox{X0: 20, Y0: 20, X1: 30, Y1: 30}

	t.Run("sun in the west casts shadow east", func(t *testing.T) {
		assert.Equal(t, 6.0, measurer.Measure(optical, box, 270))
	})

	t.Run("sun in the east finds no shadow on the west side", func(t *testing.T) {
		assert.Equal(t, 0.0, measurer.Measure(optical, box, 90))
	})

	t.Run("length is capped", func(t *testing.T) {
		dark := grid(50, 50, func(r, c int) float64 { return 0 })
		assert.Equal(t, 20.0, measurer.Measure(dark, box, 270))
	})

	t.Run("stops at the image edge", func(t *testing.T) {
		dark := grid(50, 50, func(r, c int) float64 { return 0 })
		edgeBox := BBox{X0: 40, Y0: 20, X1: 45, Y1: 25}
		assert.Equal(t, 5.0, measurer.Measure(dark, edgeBox, 270))
	})
}
