package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/TIANLI0/SlideKit/config"
	"github.com/TIANLI0/SlideKit/model"
	"github.com/TIANLI0/SlideKit/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	analysisPrefix = "analysis:"
	changePrefix   = "change:"
)

type RedisService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisService(cfg *config.RedisConfig) *RedisService {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisService{
		client: client,
		ttl:    cfg.TTL,
	}
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// GetAnalysis 从缓存获取分析结果，未命中时返回 nil
func (s *RedisService) GetAnalysis(ctx context.Context, key string) (*model.AnalysisResponse, error) {
	var result model.AnalysisResponse
	ok, err := s.get(ctx, analysisPrefix+key, &result)
	if err != nil || !ok {
		return nil, err
	}
	return &result, nil
}

// SetAnalysis 写入分析结果
func (s *RedisService) SetAnalysis(ctx context.Context, key string, result *model.AnalysisResponse) error {
	return s.set(ctx, analysisPrefix+key, result)
}

// GetChange 从缓存获取变化检测结果，未命中时返回 nil
func (s *RedisService) GetChange(ctx context.Context, key string) (*model.ChangeResponse, error) {
	var result model.ChangeResponse
	ok, err := s.get(ctx, changePrefix+key, &result)
	if err != nil || !ok {
		return nil, err
	}
	return &result, nil
}

// SetChange 写入变化检测结果
func (s *RedisService) SetChange(ctx context.Context, key string, result *model.ChangeResponse) error {
	return s.set(ctx, changePrefix+key, result)
}

func (s *RedisService) get(ctx context.Context, key string, out any) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return false, nil // 缓存未命中
		}
		return false, err
	}

	if err := json.Unmarshal(data, out); err != nil {
		utils.Logger.Error("failed to unmarshal cached result",
			zap.String("key", key), zap.Error(err))
		return false, err
	}
	return true, nil
}

func (s *RedisService) set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, s.ttl).Err()
}

func (s *RedisService) Close() error {
	return s.client.Close()
}
