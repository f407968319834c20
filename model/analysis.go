package model

// AnalysisResponse 单次分析的展示结果
type AnalysisResponse struct {
	Key       string `json:"key"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Timestamp int64  `json:"timestamp"`
	// SegmentationMask base64 编码的 PNG 类别图
	SegmentationMask    string    `json:"segmentation_mask"`
	LandslideSource     *Point    `json:"landslide_source"`
	Boulders            []Boulder `json:"boulders"`
	LandslidePixelCount int       `json:"landslide_pixel_count"`
	ChangeMask          string    `json:"change_mask,omitempty"`
	ChangeScore         *float64  `json:"change_score,omitempty"`
}

// ChangeResponse 两期影像变化检测结果
type ChangeResponse struct {
	Key       string  `json:"key"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	Timestamp int64   `json:"timestamp"`
	Mask      string  `json:"mask"`
	Score     float64 `json:"score"`
	Threshold float32 `json:"threshold"`
	Aligned   bool    `json:"aligned"`
	Changed   int     `json:"changed_pixels"`
}

// Point 像素坐标
type Point struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Boulder 巨石检测记录
type Boulder struct {
	ID           int     `json:"id"`
	BoundingBox  BBox    `json:"bounding_box"`
	Confidence   float64 `json:"confidence"`
	ShadowLength float64 `json:"shadow_length"`
	Height       float64 `json:"height"`
	HeightMeters float64 `json:"height_m"`
}

// BBox 边界框，(X0,Y0) 左上，(X1,Y1) 右下
type BBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// AnalysisEnvelope 分析接口响应
type AnalysisEnvelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    *AnalysisResponse `json:"data,omitempty"`
}

// ChangeEnvelope 变化检测接口响应
type ChangeEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    *ChangeResponse `json:"data,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
