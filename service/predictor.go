package service

import (
	"context"

	"github.com/TIANLI0/SlideKit/raster"
	"gonum.org/v1/gonum/mat"
)

// BBox 像素坐标下的轴对齐边界框，(X0,Y0) 左上，(X1,Y1) 右下
type BBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

func (b BBox) Width() float64 {
	return b.X1 - b.X0
}

func (b BBox) Height() float64 {
	return b.Y1 - b.Y0
}

func (b BBox) Area() float64 {
	if b.X1 <= b.X0 || b.Y1 <= b.Y0 {
		return 0
	}
	return b.Width() * b.Height()
}

// Center 返回中心点 (x, y)
func (b BBox) Center() (float64, float64) {
	return (b.X0 + b.X1) / 2, (b.Y0 + b.Y1) / 2
}

// IoU 交并比
func (b BBox) IoU(o BBox) float64 {
	inter := BBox{
		X0: max(b.X0, o.X0),
		Y0: max(b.Y0, o.Y0),
		X1: min(b.X1, o.X1),
		Y1: min(b.Y1, o.Y1),
	}.Area()
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Detection 检测器输出的单个目标
type Detection struct {
	Box        BBox
	Confidence float64
	Class      int
}

// Segmenter 对融合样本做逐像素分类，输出与样本同尺寸的类别网格
type Segmenter interface {
	Segment(ctx context.Context, sample *FusedSample) (raster.Mask, error)
}

// Detector 在光学波段上检测巨石
type Detector interface {
	Detect(ctx context.Context, optical *mat.Dense) ([]Detection, error)
}
