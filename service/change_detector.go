package service

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/TIANLI0/SlideKit/config"
	"github.com/TIANLI0/SlideKit/geotiff"
	"github.com/TIANLI0/SlideKit/raster"
	"github.com/TIANLI0/SlideKit/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// SSIM 稳定常数，动态范围 255
const (
	ssimC1 = (0.01 * 255) * (0.01 * 255)
	ssimC2 = (0.03 * 255) * (0.03 * 255)
)

// ChangeResult 变化检测结果
type ChangeResult struct {
	// Mask 取值 {0,255}，尺寸与较新的影像一致
	Mask raster.Mask
	// Score 平均结构相似度，1 表示完全相同
	Score     float64
	Threshold float32
	// Aligned 为真表示使用了地理配准而非直接缩放
	Aligned bool
}

// ChangeDetector 基于结构相似度的时序变化检测
type ChangeDetector struct {
	window        int
	sigma         float64
	kernelSize    int
	maskProcessor *MaskProcessor
}

func NewChangeDetector(cfg *config.ChangeConfig) *ChangeDetector {
	return &ChangeDetector{
		window:        cfg.Window,
		sigma:         cfg.Sigma,
		kernelSize:    cfg.KernelSize,
		maskProcessor: NewMaskProcessor(),
	}
}

// DetectFiles 比较两期影像文件。
// 两者都是带参考系的 GeoTIFF 时先做地理配准，否则把旧影像缩放到新影像尺寸。
func (d *ChangeDetector) DetectFiles(beforePath, afterPath string) (*ChangeResult, error) {
	result, err := d.detectGeoreferenced(beforePath, afterPath)
	if err == nil {
		return result, nil
	}
	if errors.Is(err, raster.ErrNoOverlap) {
		return nil, err
	}
	utils.Logger.Debug("georeferenced change path unavailable, resizing instead", zap.Error(err))

	before := gocv.IMRead(beforePath, gocv.IMReadGrayScale)
	defer before.Close()
	if before.Empty() {
		return nil, &raster.IOFailure{Path: beforePath, Err: errors.New("failed to read image")}
	}

	after := gocv.IMRead(afterPath, gocv.IMReadGrayScale)
	defer after.Close()
	if after.Empty() {
		return nil, &raster.IOFailure{Path: afterPath, Err: errors.New("failed to read image")}
	}

	return d.Detect(before, after)
}

// Detect 比较两幅灰度影像，旧影像尺寸不同时缩放到新影像尺寸
func (d *ChangeDetector) Detect(before, after gocv.Mat) (*ChangeResult, error) {
	if before.Empty() || after.Empty() {
		return nil, &raster.IOFailure{Err: errors.New("empty image")}
	}

	b := toGray(before)
	defer b.Close()
	a := toGray(after)
	defer a.Close()

	if b.Rows() != a.Rows() || b.Cols() != a.Cols() {
		resized := gocv.NewMat()
		gocv.Resize(b, &resized, image.Point{X: a.Cols(), Y: a.Rows()}, 0, 0, gocv.InterpolationLinear)
		b.Close()
		b = resized
	}

	return d.compare(b, a, false)
}

func (d *ChangeDetector) compare(before, after gocv.Mat, aligned bool) (*ChangeResult, error) {
	ssimMap, score := d.SSIM(before, after)
	defer ssimMap.Close()

	diff := gocv.NewMat()
	defer diff.Close()
	ssimMap.ConvertToWithParams(&diff, gocv.MatTypeCV8U, 255, 0)

	minVal, maxVal, _, _ := gocv.MinMaxLoc(diff)
	if minVal == maxVal {
		// 差异图为常数时 Otsu 无意义：高相似度视为无变化，低相似度视为整体变化
		mask := raster.NewMask(diff.Rows(), diff.Cols())
		if maxVal < 128 {
			mask = mask.Select(0).Scale(255)
		}
		return &ChangeResult{Mask: mask, Score: score, Aligned: aligned}, nil
	}

	thresh, t := d.maskProcessor.ThresholdInverse(&diff)
	defer thresh.Close()

	opened := d.maskProcessor.MorphologyOpen(&thresh, d.kernelSize)
	defer opened.Close()

	mask, err := d.maskProcessor.ToMask(&opened)
	if err != nil {
		return nil, err
	}

	return &ChangeResult{
		Mask:      mask,
		Score:     score,
		Threshold: t,
		Aligned:   aligned,
	}, nil
}

// SSIM 计算高斯加权的结构相似度图和平均得分
func (d *ChangeDetector) SSIM(x, y gocv.Mat) (gocv.Mat, float64) {
	var mats []gocv.Mat
	track := func(m gocv.Mat) gocv.Mat {
		mats = append(mats, m)
		return m
	}
	defer func() {
		for i := range mats {
			mats[i].Close()
		}
	}()

	fx := track(gocv.NewMat())
	fy := track(gocv.NewMat())
	x.ConvertTo(&fx, gocv.MatTypeCV32F)
	y.ConvertTo(&fy, gocv.MatTypeCV32F)

	ksize := image.Point{X: d.window, Y: d.window}
	blur := func(src gocv.Mat) gocv.Mat {
		dst := track(gocv.NewMat())
		gocv.GaussianBlur(src, &dst, ksize, d.sigma, d.sigma, gocv.BorderDefault)
		return dst
	}
	mul := func(a, b gocv.Mat) gocv.Mat {
		dst := track(gocv.NewMat())
		gocv.Multiply(a, b, &dst)
		return dst
	}
	sub := func(a, b gocv.Mat) gocv.Mat {
		dst := track(gocv.NewMat())
		gocv.Subtract(a, b, &dst)
		return dst
	}
	add := func(a, b gocv.Mat) gocv.Mat {
		dst := track(gocv.NewMat())
		gocv.Add(a, b, &dst)
		return dst
	}

	muX, muY := blur(fx), blur(fy)
	muX2, muY2, muXY := mul(muX, muX), mul(muY, muY), mul(muX, muY)

	sigX := sub(blur(mul(fx, fx)), muX2)
	sigY := sub(blur(mul(fy, fy)), muY2)
	sigXY := sub(blur(mul(fx, fy)), muXY)

	// (2μxμy + C1)(2σxy + C2) / ((μx² + μy² + C1)(σx² + σy² + C2))
	muXY.MultiplyFloat(2)
	muXY.AddFloat(ssimC1)
	sigXY.MultiplyFloat(2)
	sigXY.AddFloat(ssimC2)

	den1 := add(muX2, muY2)
	den1.AddFloat(ssimC1)
	den2 := add(sigX, sigY)
	den2.AddFloat(ssimC2)

	num := mul(muXY, sigXY)
	den := mul(den1, den2)

	s := gocv.NewMat()
	gocv.Divide(num, den, &s)

	return s, s.Mean().Val1
}

// detectGeoreferenced 两期数据都带地理参考时，先把旧影像对齐到新影像网格
func (d *ChangeDetector) detectGeoreferenced(beforePath, afterPath string) (*ChangeResult, error) {
	before, err := geotiff.Read(beforePath)
	if err != nil {
		return nil, err
	}
	after, err := geotiff.Read(afterPath)
	if err != nil {
		return nil, err
	}
	if err := before.Georeferenced("before"); err != nil {
		return nil, err
	}
	if err := after.Georeferenced("after"); err != nil {
		return nil, err
	}

	nodata := math.NaN()
	aligned, err := Align(before, after.Grid(), nodata)
	if err != nil {
		return nil, err
	}
	if allNoData(aligned, nodata) {
		return nil, raster.ErrNoOverlap
	}

	b, a, err := toGray8Pair(aligned, after.Band(0), after)
	if err != nil {
		return nil, err
	}
	defer b.Close()
	defer a.Close()

	return d.compare(b, a, true)
}

// toGray8Pair 以两期共同的取值范围把浮点网格量化为 8 位影像。
// 旧影像无数据处取新影像的值，不计为变化。
func toGray8Pair(before, after *mat.Dense, afterRaster *raster.Raster) (gocv.Mat, gocv.Mat, error) {
	rows, cols := after.Dims()

	lo, hi := math.Inf(1), math.Inf(-1)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			for _, v := range []float64{before.At(r, c), after.At(r, c)} {
				if math.IsNaN(v) || afterRaster.IsNoData(v) {
					continue
				}
				lo = math.Min(lo, v)
				hi = math.Max(hi, v)
			}
		}
	}
	if math.IsInf(lo, 1) {
		return gocv.Mat{}, gocv.Mat{}, fmt.Errorf("no valid pixels to compare")
	}

	scale := 0.0
	if hi > lo {
		scale = 255 / (hi - lo)
	}
	quantize := func(v float64) uint8 {
		return uint8(math.Round(math.Min(255, math.Max(0, (v-lo)*scale))))
	}

	bPix := make([]byte, rows*cols)
	aPix := make([]byte, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			av := after.At(r, c)
			if math.IsNaN(av) || afterRaster.IsNoData(av) {
				av = lo
			}
			bv := before.At(r, c)
			if math.IsNaN(bv) {
				bv = av
			}
			aPix[r*cols+c] = quantize(av)
			bPix[r*cols+c] = quantize(bv)
		}
	}

	b, err := gocv.NewMatFromBytes(rows, cols, gocv.MatTypeCV8U, bPix)
	if err != nil {
		return gocv.Mat{}, gocv.Mat{}, err
	}
	a, err := gocv.NewMatFromBytes(rows, cols, gocv.MatTypeCV8U, aPix)
	if err != nil {
		b.Close()
		return gocv.Mat{}, gocv.Mat{}, err
	}
	return b, a, nil
}

// toGray 返回单通道副本
func toGray(src gocv.Mat) gocv.Mat {
	dst := gocv.NewMat()
	switch src.Channels() {
	case 3:
		gocv.CvtColor(src, &dst, gocv.ColorBGRToGray)
	case 4:
		gocv.CvtColor(src, &dst, gocv.ColorBGRAToGray)
	default:
		src.CopyTo(&dst)
	}
	return dst
}
