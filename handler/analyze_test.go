package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/TIANLI0/SlideKit/config"
	"github.com/TIANLI0/SlideKit/model"
	"github.com/TIANLI0/SlideKit/raster"
	"github.com/TIANLI0/SlideKit/service"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

type memoryCache struct {
	analysis map[string]*model.AnalysisResponse
	change   map[string]*model.ChangeResponse
	// anyKey 为真时 Get 忽略键，便于模拟已缓存的上传
	anyKey bool
}

func newMemoryCache() *memoryCache {
	return &memoryCache{
		analysis: map[string]*model.AnalysisResponse{},
		change:   map[string]*model.ChangeResponse{},
	}
}

func (m *memoryCache) GetAnalysis(_ context.Context, key string) (*model.AnalysisResponse, error) {
	if m.anyKey {
		for _, v := range m.analysis {
			return v, nil
		}
	}
	return m.analysis[key], nil
}

func (m *memoryCache) SetAnalysis(_ context.Context, key string, result *model.AnalysisResponse) error {
	m.analysis[key] = result
	return nil
}

func (m *memoryCache) GetChange(_ context.Context, key string) (*model.ChangeResponse, error) {
	if m.anyKey {
		for _, v := range m.change {
			return v, nil
		}
	}
	return m.change[key], nil
}

func (m *memoryCache) SetChange(_ context.Context, key string, result *model.ChangeResponse) error {
	m.change[key] = result
	return nil
}

type noopSegmenter struct{}

func (noopSegmenter) Segment(_ context.Context, sample *service.FusedSample) (raster.Mask, error) {
	return raster.NewMask(sample.Grid.Rows, sample.Grid.Cols), nil
}

type noopDetector struct{}

func (noopDetector) Detect(context.Context, *mat.Dense) ([]service.Detection, error) {
	return nil, nil
}

func newTestRouter(t *testing.T, cache Cache) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Default()
	cfg.Upload.UploadDir = t.TempDir()
	cfg.Pipeline.QueueTimeout = 1

	p := service.NewPipeline(cfg, noopSegmenter{}, noopDetector{})
	return NewRouter(NewAnalyzeHandler(cfg, cache, p), BuildInfo{Version: "1.2.3", GitCommit: "abc"})
}

// multipartBody 构造表单，files 为字段名到文件名的映射，内容为文件名本身
func multipartBody(t *testing.T, files map[string]string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for field, name := range files {
		fw, err := w.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = fw.Write([]byte("not really a raster: " + name))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func do(r http.Handler, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndVersion(t *testing.T) {
	r := newTestRouter(t, newMemoryCache())

	rec := do(r, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","version":"1.2.3"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(r, http.MethodGet, "/version", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info BuildInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "abc", info.GitCommit)
}

func TestRequestIDPropagated(t *testing.T) {
	r := newTestRouter(t, newMemoryCache())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestCORSPreflight(t *testing.T) {
	r := newTestRouter(t, newMemoryCache())

	rec := do(r, http.MethodOptions, "/api/v1/analyze", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAnalyze(t *testing.T) {
	t.Run("missing elevation", func(t *testing.T) {
		r := newTestRouter(t, newMemoryCache())
		body, ct := multipartBody(t, map[string]string{"primary": "nac.tif"}, nil)

		rec := do(r, http.MethodPost, "/api/v1/analyze", body, ct)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var resp model.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.Success)
		assert.Contains(t, resp.Message, "elevation")
	})

	t.Run("unsupported extension", func(t *testing.T) {
		r := newTestRouter(t, newMemoryCache())
		body, ct := multipartBody(t, map[string]string{"primary": "nac.exe", "elevation": "dtm.tif"}, nil)

		rec := do(r, http.MethodPost, "/api/v1/analyze", body, ct)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad sun angle", func(t *testing.T) {
		r := newTestRouter(t, newMemoryCache())
		body, ct := multipartBody(t,
			map[string]string{"primary": "nac.tif", "elevation": "dtm.tif"},
			map[string]string{"sun_elevation": "high"})

		rec := do(r, http.MethodPost, "/api/v1/analyze", body, ct)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unreadable raster", func(t *testing.T) {
		r := newTestRouter(t, newMemoryCache())
		body, ct := multipartBody(t, map[string]string{"primary": "nac.tif", "elevation": "dtm.tif"}, nil)

		rec := do(r, http.MethodPost, "/api/v1/analyze", body, ct)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var resp model.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Contains(t, resp.Error, "io failure")
	})

	t.Run("served from cache", func(t *testing.T) {
		cache := newMemoryCache()
		cache.anyKey = true
		cache.analysis["cached"] = &model.AnalysisResponse{Key: "cached", Width: 4, Height: 3}
		r := newTestRouter(t, cache)

		body, ct := multipartBody(t, map[string]string{"primary": "nac.tif", "elevation": "dtm.tif"}, nil)
		rec := do(r, http.MethodPost, "/api/v1/analyze", body, ct)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp model.AnalysisEnvelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.Equal(t, "cached", resp.Data.Key)
	})
}

func TestChange(t *testing.T) {
	t.Run("missing after", func(t *testing.T) {
		r := newTestRouter(t, newMemoryCache())
		body, ct := multipartBody(t, map[string]string{"before": "a.png"}, nil)

		rec := do(r, http.MethodPost, "/api/v1/change", body, ct)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("served from cache", func(t *testing.T) {
		cache := newMemoryCache()
		cache.anyKey = true
		cache.change["cached"] = &model.ChangeResponse{Key: "cached", Score: 0.9}
		r := newTestRouter(t, cache)

		body, ct := multipartBody(t, map[string]string{"before": "a.png", "after": "b.png"}, nil)
		rec := do(r, http.MethodPost, "/api/v1/change", body, ct)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp model.ChangeEnvelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 0.9, resp.Data.Score)
	})
}

func TestGetByKey(t *testing.T) {
	cache := newMemoryCache()
	cache.analysis["k1"] = &model.AnalysisResponse{Key: "k1", LandslidePixelCount: 12}
	r := newTestRouter(t, cache)

	rec := do(r, http.MethodGet, "/api/v1/result/k1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp model.AnalysisEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 12, resp.Data.LandslidePixelCount)

	rec = do(r, http.MethodGet, "/api/v1/result/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wait: %w", service.ErrQueueFull), http.StatusServiceUnavailable},
		{&raster.ConfigurationError{Reason: "missing crs"}, http.StatusBadRequest},
		{&raster.IOFailure{Path: "x", Err: errors.New("eof")}, http.StatusBadRequest},
		{fmt.Errorf("align: %w", raster.ErrNoOverlap), http.StatusUnprocessableEntity},
		{raster.CheckShape("mask", 1, 1, 2, 2), http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
