package inference

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"
	"time"

	"github.com/TIANLI0/SlideKit/config"
	"github.com/TIANLI0/SlideKit/raster"
	"github.com/TIANLI0/SlideKit/service"
	"github.com/TIANLI0/SlideKit/utils"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Segmenter 基于 ONNX 模型的逐像素分类器。
// 输入 (1,3,S,S) 标准化后的融合样本，输出 (1,C,S,S) 类别得分。
type Segmenter struct {
	mu         sync.Mutex
	session    *session
	inputSize  int
	numClasses int
	tiler      *service.Tiler
}

func NewSegmenter(cfg *config.SegmentationConfig, tiler *service.Tiler) (*Segmenter, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("segmentation model path is empty")
	}

	size := int64(cfg.InputSize)
	s, err := newSession(cfg.Path, cfg.InputName, cfg.OutputName,
		ort.NewShape(1, service.FusedBands, size, size),
		ort.NewShape(1, int64(cfg.NumClasses), size, size))
	if err != nil {
		return nil, err
	}

	return &Segmenter{
		session:    s,
		inputSize:  cfg.InputSize,
		numClasses: cfg.NumClasses,
		tiler:      tiler,
	}, nil
}

// Segment 按窗口切片推理后拼回原网格，重叠区域以后推理的窗口为准
func (s *Segmenter) Segment(ctx context.Context, sample *service.FusedSample) (raster.Mask, error) {
	start := time.Now()
	_, rows, cols := sample.Shape()
	out := raster.NewMask(rows, cols)

	norm := normalizer(sample)
	tiles := s.tiler.Windows(rows, cols)

	for _, tile := range tiles {
		if err := ctx.Err(); err != nil {
			return raster.Mask{}, err
		}

		sub := s.tiler.Extract(sample, tile)
		input := resizeBands(sub, norm, s.inputSize)

		s.mu.Lock()
		logits, err := s.session.run(input)
		var classes []uint8
		if err == nil {
			classes = argmax(logits, s.numClasses, s.inputSize, s.inputSize)
		}
		s.mu.Unlock()
		if err != nil {
			return raster.Mask{}, err
		}

		labels, err := resizeLabels(classes, s.inputSize, tile.Rows, tile.Cols)
		if err != nil {
			return raster.Mask{}, err
		}
		for r := 0; r < tile.Rows; r++ {
			copy(out.Pix[(tile.Row+r)*cols+tile.Col:], labels[r*tile.Cols:(r+1)*tile.Cols])
		}
	}

	utils.Logger.Debug("segmentation inference done",
		zap.Int("tiles", len(tiles)),
		zap.Duration("duration", time.Since(start)))

	return out, nil
}

func (s *Segmenter) Close() {
	s.session.close()
}

// normalizer 返回按整幅样本各波段均值和标准差做 z-score 的函数，无效值置 0
func normalizer(sample *service.FusedSample) func(band int, v float64) float32 {
	stats := sample.Stats()
	return func(band int, v float64) float32 {
		st := stats[band]
		if math.IsNaN(v) || math.IsInf(v, 0) || st.Valid == 0 {
			return 0
		}
		if st.StdDev == 0 {
			return float32(v - st.Mean)
		}
		return float32((v - st.Mean) / st.StdDev)
	}
}

// resizeBands 把各波段双线性缩放到 size×size，按 CHW 展开
func resizeBands(sample *service.FusedSample, norm func(int, float64) float32, size int) []float32 {
	out := make([]float32, 0, service.FusedBands*size*size)
	rows, cols := sample.Grid.Rows, sample.Grid.Cols

	for i, b := range sample.Bands {
		src := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV32F)
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				src.SetFloatAt(r, c, norm(i, b.At(r, c)))
			}
		}

		dst := gocv.NewMat()
		gocv.Resize(src, &dst, image.Point{X: size, Y: size}, 0, 0, gocv.InterpolationLinear)
		for r := 0; r < size; r++ {
			for c := 0; c < size; c++ {
				out = append(out, dst.GetFloatAt(r, c))
			}
		}

		src.Close()
		dst.Close()
	}
	return out
}

// argmax 对 (C,H,W) 得分逐像素取最大类别，同分取编号小的类别
func argmax(logits []float32, classes, h, w int) []uint8 {
	plane := h * w
	out := make([]uint8, plane)
	for p := 0; p < plane; p++ {
		best := logits[p]
		for c := 1; c < classes; c++ {
			if v := logits[c*plane+p]; v > best {
				best = v
				out[p] = uint8(c)
			}
		}
	}
	return out
}

// resizeLabels 最近邻缩放类别图，保持类别编号不被插值
func resizeLabels(labels []uint8, size, rows, cols int) ([]uint8, error) {
	if rows == size && cols == size {
		return labels, nil
	}

	src, err := gocv.NewMatFromBytes(size, size, gocv.MatTypeCV8U, labels)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	gocv.Resize(src, &dst, image.Point{X: cols, Y: rows}, 0, 0, gocv.InterpolationNearestNeighbor)

	return dst.ToBytes(), nil
}
