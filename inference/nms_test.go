package inference

import (
	"testing"

	"github.com/TIANLI0/SlideKit/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func box(x0, y0, x1, y1 float64) service.BBox {
	return service.BBox{X0: x0, Y0: y0, X1: x1, Y1: y1}
}

func TestNMS(t *testing.T) {
	tests := []struct {
		name       string
		dets       []service.Detection
		threshold  float64
		maxObjects int
		wantConfs  []float64
	}{
		{
			name: "overlapping boxes keep the most confident",
			dets: []service.Detection{
				{Box: box(0, 0, 10, 10), Confidence: 0.6},
				{Box: box(1, 1, 11, 11), Confidence: 0.9},
				{Box: box(50, 50, 60, 60), Confidence: 0.5},
			},
			threshold: 0.45,
			wantConfs: []float64{0.9, 0.5},
		},
		{
			name: "different classes are not suppressed",
			dets: []service.Detection{
				{Box: box(0, 0, 10, 10), Confidence: 0.8, Class: 0},
				{Box: box(0, 0, 10, 10), Confidence: 0.7, Class: 1},
			},
			threshold: 0.45,
			wantConfs: []float64{0.8, 0.7},
		},
		{
			name: "low overlap survives",
			dets: []service.Detection{
				{Box: box(0, 0, 10, 10), Confidence: 0.8},
				{Box: box(8, 0, 18, 10), Confidence: 0.7},
			},
			threshold: 0.45,
			wantConfs: []float64{0.8, 0.7},
		},
		{
			name: "max objects caps the result",
			dets: []service.Detection{
				{Box: box(0, 0, 1, 1), Confidence: 0.3},
				{Box: box(10, 10, 11, 11), Confidence: 0.9},
				{Box: box(20, 20, 21, 21), Confidence: 0.6},
			},
			threshold:  0.45,
			maxObjects: 2,
			wantConfs:  []float64{0.9, 0.6},
		},
		{
			name:      "empty input",
			threshold: 0.45,
			wantConfs: []float64{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kept := nms(tt.dets, tt.threshold, tt.maxObjects)
			confs := make([]float64, 0, len(kept))
			for _, d := range kept {
				confs = append(confs, d.Confidence)
			}
			assert.Equal(t, tt.wantConfs, confs)
		})
	}
}

func TestDecodeYOLOv8(t *testing.T) {
	const anchors, classes = 3, 2
	output := make([]float32, (4+classes)*anchors)
	set := func(row, anchor int, v float32) { output[row*anchors+anchor] = v }

	// anchor 0: 类别 1 得分 0.8
	set(0, 0, 50)
	set(1, 0, 40)
	set(2, 0, 20)
	set(3, 0, 10)
	set(4, 0, 0.1)
	set(5, 0, 0.8)
	// anchor 1: 低于阈值
	set(4, 1, 0.2)
	// anchor 2: 类别 0 得分 0.5
	set(0, 2, 100)
	set(1, 2, 100)
	set(2, 2, 10)
	set(3, 2, 10)
	set(4, 2, 0.5)

	dets := decodeYOLOv8(output, classes, anchors, 0.25)
	require.Len(t, dets, 2)

	assert.Equal(t, 1, dets[0].Class)
	assert.InDelta(t, 0.8, dets[0].Confidence, 1e-6)
	assert.Equal(t, box(40, 35, 60, 45), dets[0].Box)

	assert.Equal(t, 0, dets[1].Class)
	assert.Equal(t, box(95, 95, 105, 105), dets[1].Box)
}

func TestLetterbox(t *testing.T) {
	lb := newLetterbox(1280, 640, 640)

	assert.Equal(t, 0.5, lb.scale)
	assert.Equal(t, 640, lb.resizeW)
	assert.Equal(t, 320, lb.resizeH)
	assert.Equal(t, 0, lb.xPad)
	assert.Equal(t, 160, lb.yPad)

	got := lb.unscale(box(100, 200, 300, 400))
	assert.Equal(t, box(200, 80, 600, 480), got)

	t.Run("boxes are clipped to the image", func(t *testing.T) {
		got := lb.unscale(box(-10, 100, 700, 700))
		assert.Equal(t, box(0, 0, 1280, 640), got)
	})
}

func TestLetterboxTensorStretches(t *testing.T) {
	// 左半 1000、右半 4000 的 16 位影像，不应饱和成全白
	optical := mat.NewDense(8, 8, nil)
	for r := 0; r < 8; r++ {
		for c := 0; c < 8; c++ {
			v := 1000.0
			if c >= 4 {
				v = 4000
			}
			optical.Set(r, c, v)
		}
	}

	lb := newLetterbox(8, 8, 8)
	out, err := lb.tensor(optical)
	require.NoError(t, err)
	require.Len(t, out, 3*64)

	for ch := 0; ch < 3; ch++ {
		plane := out[ch*64 : (ch+1)*64]
		assert.Equal(t, float32(0), plane[0])
		assert.Equal(t, float32(1), plane[7])
	}
}

func TestAnchorCount(t *testing.T) {
	assert.Equal(t, 8400, anchorCount(640))
	assert.Equal(t, 1344, anchorCount(256))
}

func TestArgmax(t *testing.T) {
	// 3 类，2×2
	logits := []float32{
		0.1, 0.9, 0.3, 0.5,
		0.2, 0.1, 0.3, 0.1,
		0.7, 0.0, 0.1, 0.5,
	}
	assert.Equal(t, []uint8{2, 0, 0, 0}, argmax(logits, 3, 2, 2))
}
