package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/TIANLI0/SlideKit/config"
	"github.com/TIANLI0/SlideKit/model"
	"github.com/TIANLI0/SlideKit/raster"
	"github.com/TIANLI0/SlideKit/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrQueueFull 等待处理名额超时
var ErrQueueFull = errors.New("processing queue is full, try again later")

// Request 单次分析的输入
type Request struct {
	Key           string
	PrimaryPath   string
	ElevationPath string
	// BeforePath 可选的历史影像，为空时不做变化检测
	BeforePath string
	// 为 nil 时使用配置中的太阳角度
	SunElevation *float64
	SunAzimuth   *float64
}

// BoulderRecord 单个巨石的检测与测量结果，创建后不再修改
type BoulderRecord struct {
	ID           int
	Box          BBox
	Confidence   float64
	ShadowLength float64
	// Height 像素单位
	Height       float64
	HeightMeters float64
}

// AnalysisResult 流水线输出，字段固定
type AnalysisResult struct {
	SegmentationMask    raster.Mask
	LandslideSource     *SourcePoint
	Boulders            []BoulderRecord
	LandslidePixelCount int
	ChangeMask          *raster.Mask
	ChangeScore         *float64
}

// Pipeline 串联融合、分割、源点追踪、巨石检测、高度估算和变化检测
type Pipeline struct {
	fuser          *Fuser
	segmenter      Segmenter
	detector       Detector
	changeDetector *ChangeDetector
	shadow         *ShadowMeasurer
	maskProcessor  *MaskProcessor
	landslideClass uint8
	sunElevation   float64
	sunAzimuth     float64
	bodyRadius     float64
	maxConcurrent  int
	semaphore      chan struct{}
	queueTimeout   time.Duration
}

func NewPipeline(cfg *config.Config, segmenter Segmenter, detector Detector) *Pipeline {
	return &Pipeline{
		fuser:          NewFuser(&cfg.Pipeline),
		segmenter:      segmenter,
		detector:       detector,
		changeDetector: NewChangeDetector(&cfg.Change),
		shadow:         NewShadowMeasurer(&cfg.Pipeline),
		maskProcessor:  NewMaskProcessor(),
		landslideClass: uint8(cfg.Pipeline.LandslideClass),
		sunElevation:   cfg.Pipeline.SunElevation,
		sunAzimuth:     cfg.Pipeline.SunAzimuth,
		bodyRadius:     cfg.Pipeline.BodyRadius,
		maxConcurrent:  cfg.Pipeline.MaxConcurrent,
		semaphore:      make(chan struct{}, cfg.Pipeline.MaxConcurrent),
		queueTimeout:   time.Duration(cfg.Pipeline.QueueTimeout) * time.Second,
	}
}

// Run 执行一次完整分析。融合失败直接返回错误，变化检测失败只记录日志。
func (p *Pipeline) Run(ctx context.Context, req Request) (*AnalysisResult, error) {
	// 并发控制
	waitCtx, cancel := context.WithTimeout(ctx, p.queueTimeout)
	defer cancel()

	select {
	case p.semaphore <- struct{}{}:
		defer func() { <-p.semaphore }()
	case <-waitCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrQueueFull
	}

	startTime := time.Now()
	log := utils.Logger.With(zap.String("key", req.Key))

	sample, err := p.fuser.Fuse(ctx, req.PrimaryPath, req.ElevationPath)
	if err != nil {
		return nil, fmt.Errorf("fusion failed: %w", err)
	}
	_, rows, cols := sample.Shape()
	log.Info("inputs fused",
		zap.Int("width", cols),
		zap.Int("height", rows),
		zap.Duration("elapsed", time.Since(startTime)))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	segmentation, err := p.segmenter.Segment(ctx, sample)
	if err != nil {
		return nil, fmt.Errorf("segmentation failed: %w", err)
	}
	if err := raster.CheckShape("segmentation mask", rows, cols, segmentation.Rows, segmentation.Cols); err != nil {
		return nil, err
	}

	landslide := segmentation.Select(p.landslideClass)
	result := &AnalysisResult{
		SegmentationMask:    segmentation,
		LandslidePixelCount: landslide.Count(),
		Boulders:            []BoulderRecord{},
	}

	source, found, err := TraceSource(landslide, sample.Bands[BandElevation])
	if err != nil {
		return nil, err
	}
	if found {
		result.LandslideSource = &source
	}
	log.Info("segmentation done",
		zap.Int("landslide_pixels", result.LandslidePixelCount),
		zap.Bool("source_found", found))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	optical := sample.Bands[BandOptical]
	detections, err := p.detector.Detect(ctx, optical)
	if err != nil {
		return nil, fmt.Errorf("boulder detection failed: %w", err)
	}

	elevation, azimuth := p.sunElevation, p.sunAzimuth
	if req.SunElevation != nil {
		elevation = *req.SunElevation
	}
	if req.SunAzimuth != nil {
		azimuth = *req.SunAzimuth
	}
	dx, dy := PixelSpacing(sample.Grid, p.bodyRadius)

	// 阴影阈值作用于拉伸到 8 位的光学波段，与传感器位深无关
	gray := Stretch8(optical, sample.NoData)
	for i, d := range detections {
		shadow := p.shadow.Measure(gray, d.Box, azimuth)
		height, err := EstimateHeightChecked(shadow, elevation)
		if err != nil {
			log.Warn("skipping height estimate", zap.Int("boulder", i+1), zap.Error(err))
		}
		result.Boulders = append(result.Boulders, BoulderRecord{
			ID:           i + 1,
			Box:          d.Box,
			Confidence:   d.Confidence,
			ShadowLength: shadow,
			Height:       height,
			HeightMeters: EstimateHeight(shadowMeters(shadow, azimuth, dx, dy), elevation),
		})
	}
	log.Info("boulders measured",
		zap.Int("count", len(result.Boulders)),
		zap.Float64("sun_elevation", elevation),
		zap.Float64("sun_azimuth", azimuth))

	if req.BeforePath != "" {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		change, err := p.changeDetector.DetectFiles(req.BeforePath, req.PrimaryPath)
		if err != nil {
			log.Warn("change detection failed", zap.Error(err))
		} else {
			result.ChangeMask = &change.Mask
			result.ChangeScore = &change.Score
			log.Info("change detected",
				zap.Float64("ssim", change.Score),
				zap.Int("changed_pixels", change.Mask.Count()),
				zap.Bool("aligned", change.Aligned))
		}
	}

	log.Info("analysis completed", zap.Duration("duration", time.Since(startTime)))

	return result, nil
}

// RunBatch 并行执行多个请求，单个失败不影响其他请求，结果与错误按输入顺序返回
func (p *Pipeline) RunBatch(ctx context.Context, reqs []Request) ([]*AnalysisResult, []error) {
	results := make([]*AnalysisResult, len(reqs))
	errs := make([]error, len(reqs))

	var g errgroup.Group
	g.SetLimit(p.maxConcurrent)
	for i, req := range reqs {
		g.Go(func() error {
			results[i], errs[i] = p.Run(ctx, req)
			if errs[i] != nil {
				utils.Logger.Error("batch item failed",
					zap.Int("index", i),
					zap.String("key", req.Key),
					zap.Error(errs[i]))
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, errs
}

// Response 转为展示结构，掩码编码为 PNG
func (p *Pipeline) Response(key string, result *AnalysisResult) *model.AnalysisResponse {
	resp := &model.AnalysisResponse{
		Key:                 key,
		Width:               result.SegmentationMask.Cols,
		Height:              result.SegmentationMask.Rows,
		Timestamp:           time.Now().Unix(),
		SegmentationMask:    p.maskProcessor.EncodeMask(result.SegmentationMask, false),
		LandslidePixelCount: result.LandslidePixelCount,
		ChangeScore:         result.ChangeScore,
		Boulders:            make([]model.Boulder, 0, len(result.Boulders)),
	}
	if result.LandslideSource != nil {
		resp.LandslideSource = &model.Point{Row: result.LandslideSource.Row, Col: result.LandslideSource.Col}
	}
	if result.ChangeMask != nil {
		resp.ChangeMask = p.maskProcessor.EncodeMask(*result.ChangeMask, false)
	}
	for _, b := range result.Boulders {
		resp.Boulders = append(resp.Boulders, model.Boulder{
			ID:           b.ID,
			BoundingBox:  model.BBox{X0: b.Box.X0, Y0: b.Box.Y0, X1: b.Box.X1, Y1: b.Box.Y1},
			Confidence:   b.Confidence,
			ShadowLength: b.ShadowLength,
			Height:       b.Height,
			HeightMeters: b.HeightMeters,
		})
	}
	return resp
}

// ChangeResponse 转为变化检测展示结构
func (p *Pipeline) ChangeResponse(key string, result *ChangeResult) *model.ChangeResponse {
	return &model.ChangeResponse{
		Key:       key,
		Width:     result.Mask.Cols,
		Height:    result.Mask.Rows,
		Timestamp: time.Now().Unix(),
		Mask:      p.maskProcessor.EncodeMask(result.Mask, false),
		Score:     result.Score,
		Threshold: result.Threshold,
		Aligned:   result.Aligned,
		Changed:   result.Mask.Count(),
	}
}

// DetectChange 单独执行变化检测，与分析共享并发名额
func (p *Pipeline) DetectChange(ctx context.Context, beforePath, afterPath string) (*ChangeResult, error) {
	waitCtx, cancel := context.WithTimeout(ctx, p.queueTimeout)
	defer cancel()

	select {
	case p.semaphore <- struct{}{}:
		defer func() { <-p.semaphore }()
	case <-waitCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrQueueFull
	}

	return p.changeDetector.DetectFiles(beforePath, afterPath)
}

// shadowMeters 把沿方位角的像素阴影长度换算为米
func shadowMeters(length, azimuth, dx, dy float64) float64 {
	rad := azimuth * math.Pi / 180
	return length * math.Hypot(math.Sin(rad)*dx, math.Cos(rad)*dy)
}
