package service

import (
	"math"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// TextureAnalyzer 评估光学影像的纹理丰富程度
type TextureAnalyzer struct{}

type TextureInfo struct {
	Level       string
	EdgeDensity float64
	Contrast    float64
}

func NewTextureAnalyzer() *TextureAnalyzer {
	return &TextureAnalyzer{}
}

// Analyze 对 8 位量化后的窗口计算边缘密度和灰度标准差
func (ta *TextureAnalyzer) Analyze(optical *mat.Dense, tile Tile) TextureInfo {
	gray, err := gocv.NewMatFromBytes(tile.Rows, tile.Cols, gocv.MatTypeCV8U, quantizeWindow(optical, tile))
	if err != nil {
		return TextureInfo{Level: "unknown"}
	}
	defer gray.Close()

	edgeDensity := ta.calculateEdgeDensity(&gray)
	contrast := ta.calculateContrast(&gray)

	var level string
	if edgeDensity < 0.01 && contrast < 5 {
		level = "featureless"
	} else if edgeDensity > 0.15 || contrast > 40 {
		level = "rough"
	} else {
		level = "textured"
	}

	return TextureInfo{
		Level:       level,
		EdgeDensity: edgeDensity,
		Contrast:    contrast,
	}
}

// calculateEdgeDensity 计算边缘像素占比
func (ta *TextureAnalyzer) calculateEdgeDensity(gray *gocv.Mat) float64 {
	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(*gray, &edges, 50, 150)

	edgePixels := float64(gocv.CountNonZero(edges))
	totalPixels := float64(gray.Rows() * gray.Cols())

	return edgePixels / totalPixels
}

// calculateContrast 灰度标准差
func (ta *TextureAnalyzer) calculateContrast(gray *gocv.Mat) float64 {
	mean := gocv.NewMat()
	stddev := gocv.NewMat()
	defer mean.Close()
	defer stddev.Close()
	gocv.MeanStdDev(*gray, &mean, &stddev)

	return stddev.GetDoubleAt(0, 0)
}

func quantizeWindow(m *mat.Dense, tile Tile) []byte {
	pix := make([]byte, 0, tile.Rows*tile.Cols)
	for r := tile.Row; r < tile.Row+tile.Rows; r++ {
		for c := tile.Col; c < tile.Col+tile.Cols; c++ {
			v := m.At(r, c)
			if math.IsNaN(v) {
				v = 0
			}
			pix = append(pix, uint8(math.Round(math.Min(255, math.Max(0, v)))))
		}
	}
	return pix
}
