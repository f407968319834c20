package inference

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"sync"

	"github.com/TIANLI0/SlideKit/config"
	"github.com/TIANLI0/SlideKit/service"
	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// yoloStrides YOLOv8 三个检测头的下采样倍数
var yoloStrides = []int{8, 16, 32}

// letterboxColor 填充边的灰度
var letterboxColor = color.RGBA{R: 114, G: 114, B: 114, A: 255}

// Detector 基于 ONNX 的 YOLOv8 巨石检测器。
// 输出张量为 (1, 4+C, N)，前 4 行为 cx,cy,w,h，其余为各类别得分。
type Detector struct {
	mu           sync.Mutex
	session      *session
	inputSize    int
	numClasses   int
	anchors      int
	boxThreshold float32
	nmsThreshold float32
	maxObjects   int
}

func NewDetector(cfg *config.DetectionConfig) (*Detector, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("detection model path is empty")
	}

	anchors := anchorCount(cfg.InputSize)
	size := int64(cfg.InputSize)
	s, err := newSession(cfg.Path, cfg.InputName, cfg.OutputName,
		ort.NewShape(1, 3, size, size),
		ort.NewShape(1, int64(4+cfg.NumClasses), int64(anchors)))
	if err != nil {
		return nil, err
	}

	return &Detector{
		session:      s,
		inputSize:    cfg.InputSize,
		numClasses:   cfg.NumClasses,
		anchors:      anchors,
		boxThreshold: cfg.BoxThreshold,
		nmsThreshold: cfg.NMSThreshold,
		maxObjects:   cfg.MaxObjects,
	}, nil
}

// Detect 在光学波段上检测巨石，返回原图像素坐标下的边界框
func (d *Detector) Detect(ctx context.Context, optical *mat.Dense) ([]service.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, cols := optical.Dims()
	lb := newLetterbox(cols, rows, d.inputSize)

	input, err := lb.tensor(optical)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	output, err := d.session.run(input)
	var candidates []service.Detection
	if err == nil {
		candidates = decodeYOLOv8(output, d.numClasses, d.anchors, d.boxThreshold)
	}
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}

	kept := nms(candidates, float64(d.nmsThreshold), d.maxObjects)
	for i := range kept {
		kept[i].Box = lb.unscale(kept[i].Box)
	}
	return kept, nil
}

func (d *Detector) Close() {
	d.session.close()
}

func anchorCount(size int) int {
	n := 0
	for _, s := range yoloStrides {
		n += (size / s) * (size / s)
	}
	return n
}

// decodeYOLOv8 解析 (4+C, N) 输出，保留最高类别得分不低于阈值的候选框
func decodeYOLOv8(output []float32, classes, anchors int, threshold float32) []service.Detection {
	var out []service.Detection
	for i := 0; i < anchors; i++ {
		best, cls := float32(0), -1
		for c := 0; c < classes; c++ {
			if v := output[(4+c)*anchors+i]; v > best {
				best, cls = v, c
			}
		}
		if cls < 0 || best < threshold {
			continue
		}

		cx, cy := float64(output[i]), float64(output[anchors+i])
		w, h := float64(output[2*anchors+i]), float64(output[3*anchors+i])
		out = append(out, service.Detection{
			Box: service.BBox{
				X0: cx - w/2,
				Y0: cy - h/2,
				X1: cx + w/2,
				Y1: cy + h/2,
			},
			Confidence: float64(best),
			Class:      cls,
		})
	}
	return out
}

// letterbox 保持长宽比缩放并居中填充到模型输入尺寸
type letterbox struct {
	srcW, srcH       int
	size             int
	scale            float64
	resizeW, resizeH int
	xPad, yPad       int
}

func newLetterbox(srcW, srcH, size int) letterbox {
	lb := letterbox{srcW: srcW, srcH: srcH, size: size}

	scaleW := float64(size) / float64(srcW)
	scaleH := float64(size) / float64(srcH)
	lb.scale = math.Min(scaleW, scaleH)
	lb.resizeW = int(float64(srcW) * lb.scale)
	lb.resizeH = int(float64(srcH) * lb.scale)
	lb.xPad = (size - lb.resizeW) / 2
	lb.yPad = (size - lb.resizeH) / 2

	return lb
}

// tensor 把光学波段按有效值范围拉伸为 8 位灰度，转三通道后填充，输出 RGB CHW 且归一化到 [0,1]
func (lb letterbox) tensor(optical *mat.Dense) ([]float32, error) {
	rows, cols := optical.Dims()
	stretched := service.Stretch8(optical, math.NaN())
	pix := make([]byte, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			if v := stretched.At(r, c); !math.IsNaN(v) {
				pix[r*cols+c] = uint8(v)
			}
		}
	}

	gray, err := gocv.NewMatFromBytes(rows, cols, gocv.MatTypeCV8U, pix)
	if err != nil {
		return nil, err
	}
	defer gray.Close()

	bgr := gocv.NewMat()
	defer bgr.Close()
	gocv.CvtColor(gray, &bgr, gocv.ColorGrayToBGR)

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(bgr, &resized, image.Pt(lb.resizeW, lb.resizeH), 0, 0, gocv.InterpolationArea)

	padded := gocv.NewMat()
	defer padded.Close()
	gocv.CopyMakeBorder(resized, &padded, lb.yPad, lb.size-lb.resizeH-lb.yPad,
		lb.xPad, lb.size-lb.resizeW-lb.xPad, gocv.BorderConstant, letterboxColor)

	data := padded.ToBytes()
	plane := lb.size * lb.size
	out := make([]float32, 3*plane)
	for p := 0; p < plane; p++ {
		// BGR 转 RGB
		out[p] = float32(data[p*3+2]) / 255
		out[plane+p] = float32(data[p*3+1]) / 255
		out[2*plane+p] = float32(data[p*3]) / 255
	}
	return out, nil
}

// unscale 把模型输入坐标还原为原图坐标并裁剪到图像范围内
func (lb letterbox) unscale(b service.BBox) service.BBox {
	clip := func(v float64, hi int) float64 {
		return math.Max(0, math.Min(v, float64(hi)))
	}
	return service.BBox{
		X0: clip((b.X0-float64(lb.xPad))/lb.scale, lb.srcW),
		Y0: clip((b.Y0-float64(lb.yPad))/lb.scale, lb.srcH),
		X1: clip((b.X1-float64(lb.xPad))/lb.scale, lb.srcW),
		Y1: clip((b.Y1-float64(lb.yPad))/lb.scale, lb.srcH),
	}
}
