package handler

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/TIANLI0/SlideKit/config"
	"github.com/TIANLI0/SlideKit/model"
	"github.com/TIANLI0/SlideKit/raster"
	"github.com/TIANLI0/SlideKit/service"
	"github.com/TIANLI0/SlideKit/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Cache 分析结果缓存
type Cache interface {
	GetAnalysis(ctx context.Context, key string) (*model.AnalysisResponse, error)
	SetAnalysis(ctx context.Context, key string, result *model.AnalysisResponse) error
	GetChange(ctx context.Context, key string) (*model.ChangeResponse, error)
	SetChange(ctx context.Context, key string, result *model.ChangeResponse) error
}

type AnalyzeHandler struct {
	cfg      *config.Config
	cache    Cache
	pipeline *service.Pipeline
}

func NewAnalyzeHandler(cfg *config.Config, cache Cache, pipeline *service.Pipeline) *AnalyzeHandler {
	return &AnalyzeHandler{
		cfg:      cfg,
		cache:    cache,
		pipeline: pipeline,
	}
}

// Analyze 上传光学影像和高程数据并执行完整分析
func (h *AnalyzeHandler) Analyze(c *gin.Context) {
	req := service.Request{}

	sunElevation, err := optionalFloat(c, "sun_elevation")
	if err != nil {
		h.badRequest(c, "太阳高度角格式错误", err)
		return
	}
	sunAzimuth, err := optionalFloat(c, "sun_azimuth")
	if err != nil {
		h.badRequest(c, "太阳方位角格式错误", err)
		return
	}
	req.SunElevation, req.SunAzimuth = sunElevation, sunAzimuth

	var saved []string
	defer func() { h.cleanup(saved) }()

	for _, f := range []struct {
		field    string
		dst      *string
		optional bool
	}{
		{"primary", &req.PrimaryPath, false},
		{"elevation", &req.ElevationPath, false},
		{"before", &req.BeforePath, true},
	} {
		path, err := h.save(c, f.field, f.optional)
		if err != nil {
			h.badRequest(c, fmt.Sprintf("上传文件 %s 无效", f.field), err)
			return
		}
		if path != "" {
			saved = append(saved, path)
		}
		*f.dst = path
	}

	params := fmt.Sprintf("sun=%s/%s", formatOptional(sunElevation), formatOptional(sunAzimuth))
	key, err := utils.ResultKey(params, req.PrimaryPath, req.ElevationPath, req.BeforePath)
	if err != nil {
		utils.Logger.Error("failed to calculate md5", zap.Error(err))
		h.serverError(c, "计算文件哈希失败", err)
		return
	}
	req.Key = key

	ctx := c.Request.Context()
	cached, err := h.cache.GetAnalysis(ctx, key)
	if err != nil {
		utils.Logger.Warn("failed to get cache", zap.Error(err))
	}
	if cached != nil {
		utils.Logger.Info("cache hit", zap.String("cache_key", key))
		c.JSON(http.StatusOK, model.AnalysisEnvelope{
			Success: true,
			Message: "分析成功（来自缓存）",
			Data:    cached,
		})
		return
	}

	result, err := h.pipeline.Run(ctx, req)
	if err != nil {
		utils.Logger.Error("failed to analyze", zap.String("key", key), zap.Error(err))
		h.pipelineError(c, "分析失败", err)
		return
	}

	resp := h.pipeline.Response(key, result)
	if err := h.cache.SetAnalysis(ctx, key, resp); err != nil {
		utils.Logger.Warn("failed to set cache", zap.Error(err))
	}

	c.JSON(http.StatusOK, model.AnalysisEnvelope{
		Success: true,
		Message: "分析成功",
		Data:    resp,
	})
}

// Change 上传两期影像并检测变化
func (h *AnalyzeHandler) Change(c *gin.Context) {
	var saved []string
	defer func() { h.cleanup(saved) }()

	before, err := h.save(c, "before", false)
	if err != nil {
		h.badRequest(c, "上传文件 before 无效", err)
		return
	}
	saved = append(saved, before)

	after, err := h.save(c, "after", false)
	if err != nil {
		h.badRequest(c, "上传文件 after 无效", err)
		return
	}
	saved = append(saved, after)

	key, err := utils.ResultKey("change", before, after)
	if err != nil {
		h.serverError(c, "计算文件哈希失败", err)
		return
	}

	ctx := c.Request.Context()
	cached, err := h.cache.GetChange(ctx, key)
	if err != nil {
		utils.Logger.Warn("failed to get cache", zap.Error(err))
	}
	if cached != nil {
		c.JSON(http.StatusOK, model.ChangeEnvelope{
			Success: true,
			Message: "检测成功（来自缓存）",
			Data:    cached,
		})
		return
	}

	result, err := h.pipeline.DetectChange(ctx, before, after)
	if err != nil {
		utils.Logger.Error("failed to detect change", zap.Error(err))
		h.pipelineError(c, "变化检测失败", err)
		return
	}

	resp := h.pipeline.ChangeResponse(key, result)
	if err := h.cache.SetChange(ctx, key, resp); err != nil {
		utils.Logger.Warn("failed to set cache", zap.Error(err))
	}

	c.JSON(http.StatusOK, model.ChangeEnvelope{
		Success: true,
		Message: "检测成功",
		Data:    resp,
	})
}

// GetByKey 根据结果键查询分析结果
func (h *AnalyzeHandler) GetByKey(c *gin.Context) {
	key := c.Param("key")
	if key == "" {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "key参数缺失",
		})
		return
	}

	result, err := h.cache.GetAnalysis(c.Request.Context(), key)
	if err != nil {
		utils.Logger.Error("failed to get analysis result", zap.Error(err))
		h.serverError(c, "查询失败", err)
		return
	}

	if result == nil {
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Success: false,
			Message: "未找到该分析结果",
		})
		return
	}

	c.JSON(http.StatusOK, model.AnalysisEnvelope{
		Success: true,
		Message: "查询成功",
		Data:    result,
	})
}

// save 校验并保存上传文件，可选字段缺失时返回空路径
func (h *AnalyzeHandler) save(c *gin.Context, field string, optional bool) (string, error) {
	file, err := c.FormFile(field)
	if err != nil {
		if optional && errors.Is(err, http.ErrMissingFile) {
			return "", nil
		}
		return "", err
	}

	if err := h.validate(file); err != nil {
		return "", err
	}

	filename := utils.GenerateID() + strings.ToLower(filepath.Ext(file.Filename))
	savePath := filepath.Join(h.cfg.Upload.UploadDir, filename)
	if err := c.SaveUploadedFile(file, savePath); err != nil {
		utils.Logger.Error("failed to save file", zap.Error(err))
		return "", err
	}

	utils.Logger.Info("file uploaded",
		zap.String("field", field),
		zap.String("filename", filename),
		zap.Int64("size", file.Size))

	return savePath, nil
}

func (h *AnalyzeHandler) validate(file *multipart.FileHeader) error {
	if file.Size > h.cfg.Upload.MaxSize {
		return fmt.Errorf("file exceeds %d MB", h.cfg.Upload.MaxSize/(1024*1024))
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	for _, allowed := range h.cfg.Upload.AllowedExtensions {
		if strings.EqualFold(ext, allowed) {
			return nil
		}
	}
	return fmt.Errorf("unsupported file extension %q", ext)
}

// cleanup 处理完成后删除临时文件（如果配置启用）
func (h *AnalyzeHandler) cleanup(paths []string) {
	if !h.cfg.Upload.CleanupTempFiles {
		return
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil {
			utils.Logger.Warn("failed to delete temp file",
				zap.String("file", p),
				zap.Error(err))
		} else {
			utils.Logger.Debug("temp file deleted",
				zap.String("file", p))
		}
	}
}

func (h *AnalyzeHandler) badRequest(c *gin.Context, message string, err error) {
	c.JSON(http.StatusBadRequest, model.ErrorResponse{
		Success: false,
		Message: message,
		Error:   err.Error(),
	})
}

func (h *AnalyzeHandler) serverError(c *gin.Context, message string, err error) {
	c.JSON(http.StatusInternalServerError, model.ErrorResponse{
		Success: false,
		Message: message,
		Error:   err.Error(),
	})
}

// pipelineError 按错误类型映射状态码
func (h *AnalyzeHandler) pipelineError(c *gin.Context, message string, err error) {
	c.JSON(statusFor(err), model.ErrorResponse{
		Success: false,
		Message: message,
		Error:   err.Error(),
	})
}

func statusFor(err error) int {
	var cfgErr *raster.ConfigurationError
	var shapeErr *raster.ShapeMismatchError
	var ioErr *raster.IOFailure

	switch {
	case errors.Is(err, service.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.As(err, &cfgErr), errors.As(err, &ioErr):
		return http.StatusBadRequest
	case errors.Is(err, raster.ErrNoOverlap), errors.As(err, &shapeErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func optionalFloat(c *gin.Context, field string) (*float64, error) {
	s := c.PostForm(field)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func formatOptional(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}
