package service

import (
	"encoding/base64"
	"fmt"
	"image"

	"github.com/TIANLI0/SlideKit/raster"
	"github.com/TIANLI0/SlideKit/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// MaskProcessor 负责阈值分割、形态学清理和掩码转换
type MaskProcessor struct{}

func NewMaskProcessor() *MaskProcessor {
	return &MaskProcessor{}
}

// ThresholdInverse 反向 Otsu 阈值，差异大（相似度低）的像素置为 255
func (mp *MaskProcessor) ThresholdInverse(diff *gocv.Mat) (gocv.Mat, float32) {
	out := gocv.NewMat()
	t := gocv.Threshold(*diff, &out, 0, 255, gocv.ThresholdBinaryInv|gocv.ThresholdOtsu)
	return out, t
}

// MorphologyOpen 先腐蚀后膨胀，去除孤立噪点
func (mp *MaskProcessor) MorphologyOpen(mask *gocv.Mat, kernelSize int) gocv.Mat {
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Point{X: kernelSize, Y: kernelSize})
	defer kernel.Close()

	opened := gocv.NewMat()
	gocv.MorphologyEx(*mask, &opened, gocv.MorphOpen, kernel)

	return opened
}

// ToMask 把 8 位单通道 Mat 转为 Mask，非零值保留原值
func (mp *MaskProcessor) ToMask(m *gocv.Mat) (raster.Mask, error) {
	if m.Empty() {
		return raster.Mask{}, fmt.Errorf("empty mat")
	}
	if m.Type() != gocv.MatTypeCV8U {
		return raster.Mask{}, fmt.Errorf("expected 8-bit single channel mat, got %v", m.Type())
	}

	out := raster.NewMask(m.Rows(), m.Cols())
	for y := 0; y < m.Rows(); y++ {
		for x := 0; x < m.Cols(); x++ {
			out.Pix[y*out.Cols+x] = m.GetUCharAt(y, x)
		}
	}
	return out, nil
}

// FromMask 把 Mask 转为 8 位单通道 Mat
func (mp *MaskProcessor) FromMask(mask raster.Mask) (gocv.Mat, error) {
	return gocv.NewMatFromBytes(mask.Rows, mask.Cols, gocv.MatTypeCV8U, mask.Pix)
}

// EncodeMask 将掩码编码为 PNG 的 Base64 字符串，{0,1} 掩码放大到 {0,255}
func (mp *MaskProcessor) EncodeMask(mask raster.Mask, binary bool) string {
	if mask.Empty() {
		return ""
	}
	if binary {
		mask = mask.Scale(255)
	}

	m, err := mp.FromMask(mask)
	if err != nil {
		utils.Logger.Error("failed to build mask mat", zap.Error(err))
		return ""
	}
	defer m.Close()

	data, err := gocv.IMEncode(gocv.PNGFileExt, m)
	if err != nil {
		utils.Logger.Error("failed to encode mask", zap.Error(err))
		return ""
	}
	defer data.Close()

	return base64.StdEncoding.EncodeToString(data.GetBytes())
}
