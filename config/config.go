package config

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Upload   UploadConfig   `mapstructure:"upload"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Change   ChangeConfig   `mapstructure:"change"`
	Models   ModelsConfig   `mapstructure:"models"`
	Tiling   TilingConfig   `mapstructure:"tiling"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type UploadConfig struct {
	MaxSize           int64    `mapstructure:"max_size"`
	UploadDir         string   `mapstructure:"upload_dir"`
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
	CleanupTempFiles  bool     `mapstructure:"cleanup_temp_files"`
}

// PipelineConfig 融合与分析流水线参数
type PipelineConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent"`
	QueueTimeout  int `mapstructure:"queue_timeout"`
	// LandslideClass 分割结果中滑坡对应的类别编号
	LandslideClass int `mapstructure:"landslide_class"`
	// BodyRadius 天体半径（米），地理坐标系下换算像元间距
	BodyRadius float64 `mapstructure:"body_radius"`
	// NoData 对齐时范围外像元的填充值，空字符串或 "nan" 表示 NaN
	NoData string `mapstructure:"nodata"`
	// 太阳高度角与方位角（度），请求未提供时使用
	SunElevation float64 `mapstructure:"sun_elevation"`
	SunAzimuth   float64 `mapstructure:"sun_azimuth"`
	// ShadowThreshold 阴影像元的灰度上限
	ShadowThreshold float64 `mapstructure:"shadow_threshold"`
	MaxShadowLength int     `mapstructure:"max_shadow_length"`
	// MaxRasterSamples 单个栅格文件允许解码的样本数上限（宽×高×波段）
	MaxRasterSamples int64 `mapstructure:"max_raster_samples"`
}

// ChangeConfig 变化检测参数
type ChangeConfig struct {
	Window     int     `mapstructure:"window"`
	Sigma      float64 `mapstructure:"sigma"`
	KernelSize int     `mapstructure:"kernel_size"`
}

type ModelsConfig struct {
	// LibraryPath onnxruntime 动态库路径，为空时使用系统默认
	LibraryPath  string             `mapstructure:"library_path"`
	Segmentation SegmentationConfig `mapstructure:"segmentation"`
	Detection    DetectionConfig    `mapstructure:"detection"`
}

type SegmentationConfig struct {
	Path       string `mapstructure:"path"`
	InputSize  int    `mapstructure:"input_size"`
	NumClasses int    `mapstructure:"num_classes"`
	InputName  string `mapstructure:"input_name"`
	OutputName string `mapstructure:"output_name"`
}

type DetectionConfig struct {
	Path         string  `mapstructure:"path"`
	InputSize    int     `mapstructure:"input_size"`
	NumClasses   int     `mapstructure:"num_classes"`
	BoxThreshold float32 `mapstructure:"box_threshold"`
	NMSThreshold float32 `mapstructure:"nms_threshold"`
	MaxObjects   int     `mapstructure:"max_objects"`
	InputName    string  `mapstructure:"input_name"`
	OutputName   string  `mapstructure:"output_name"`
}

// TilingConfig 训练样本切片参数
type TilingConfig struct {
	Size    int     `mapstructure:"size"`
	Overlap float64 `mapstructure:"overlap"`
	MinMean float64 `mapstructure:"min_mean"`
	// MinEdgeDensity 训练切片的最小边缘密度，0 表示不过滤
	MinEdgeDensity float64 `mapstructure:"min_edge_density"`
}

// Load 从 YAML 文件加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("slidekit")
	v.AutomaticEnv()

	// 设置默认值
	setDefaults(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// New 加载指定路径的配置，失败时返回默认配置
func New(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	var errs []error

	if c.Pipeline.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_concurrent must be positive, got %d", c.Pipeline.MaxConcurrent))
	}
	if c.Pipeline.BodyRadius <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.body_radius must be positive, got %g", c.Pipeline.BodyRadius))
	}
	if c.Pipeline.LandslideClass < 0 || c.Pipeline.LandslideClass > 255 {
		errs = append(errs, fmt.Errorf("pipeline.landslide_class must be in [0,255], got %d", c.Pipeline.LandslideClass))
	}
	if c.Pipeline.MaxRasterSamples <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_raster_samples must be positive, got %d", c.Pipeline.MaxRasterSamples))
	}
	if _, err := c.Pipeline.NoDataValue(); err != nil {
		errs = append(errs, err)
	}
	if c.Change.Window < 3 || c.Change.Window%2 == 0 {
		errs = append(errs, fmt.Errorf("change.window must be odd and >= 3, got %d", c.Change.Window))
	}
	if c.Change.KernelSize < 1 {
		errs = append(errs, fmt.Errorf("change.kernel_size must be positive, got %d", c.Change.KernelSize))
	}
	if c.Tiling.Size <= 0 {
		errs = append(errs, fmt.Errorf("tiling.size must be positive, got %d", c.Tiling.Size))
	}
	if c.Tiling.Overlap < 0 || c.Tiling.Overlap >= 1 {
		errs = append(errs, fmt.Errorf("tiling.overlap must be in [0,1), got %g", c.Tiling.Overlap))
	}

	return errors.Join(errs...)
}

// NoDataValue 解析 nodata 填充值
func (p PipelineConfig) NoDataValue() (float64, error) {
	if p.NoData == "" || p.NoData == "nan" || p.NoData == "NaN" {
		return math.NaN(), nil
	}

	var v float64
	if _, err := fmt.Sscanf(p.NoData, "%g", &v); err != nil {
		return 0, fmt.Errorf("pipeline.nodata %q is not a number", p.NoData)
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.ttl", d.Redis.TTL)

	v.SetDefault("upload.max_size", d.Upload.MaxSize)
	v.SetDefault("upload.upload_dir", d.Upload.UploadDir)
	v.SetDefault("upload.allowed_extensions", d.Upload.AllowedExtensions)
	v.SetDefault("upload.cleanup_temp_files", d.Upload.CleanupTempFiles)

	v.SetDefault("pipeline.max_concurrent", d.Pipeline.MaxConcurrent)
	v.SetDefault("pipeline.queue_timeout", d.Pipeline.QueueTimeout)
	v.SetDefault("pipeline.landslide_class", d.Pipeline.LandslideClass)
	v.SetDefault("pipeline.body_radius", d.Pipeline.BodyRadius)
	v.SetDefault("pipeline.nodata", d.Pipeline.NoData)
	v.SetDefault("pipeline.sun_elevation", d.Pipeline.SunElevation)
	v.SetDefault("pipeline.sun_azimuth", d.Pipeline.SunAzimuth)
	v.SetDefault("pipeline.shadow_threshold", d.Pipeline.ShadowThreshold)
	v.SetDefault("pipeline.max_shadow_length", d.Pipeline.MaxShadowLength)
	v.SetDefault("pipeline.max_raster_samples", d.Pipeline.MaxRasterSamples)

	v.SetDefault("change.window", d.Change.Window)
	v.SetDefault("change.sigma", d.Change.Sigma)
	v.SetDefault("change.kernel_size", d.Change.KernelSize)

	v.SetDefault("models.library_path", d.Models.LibraryPath)
	v.SetDefault("models.segmentation.input_size", d.Models.Segmentation.InputSize)
	v.SetDefault("models.segmentation.num_classes", d.Models.Segmentation.NumClasses)
	v.SetDefault("models.segmentation.input_name", d.Models.Segmentation.InputName)
	v.SetDefault("models.segmentation.output_name", d.Models.Segmentation.OutputName)
	v.SetDefault("models.detection.input_size", d.Models.Detection.InputSize)
	v.SetDefault("models.detection.num_classes", d.Models.Detection.NumClasses)
	v.SetDefault("models.detection.box_threshold", d.Models.Detection.BoxThreshold)
	v.SetDefault("models.detection.nms_threshold", d.Models.Detection.NMSThreshold)
	v.SetDefault("models.detection.max_objects", d.Models.Detection.MaxObjects)
	v.SetDefault("models.detection.input_name", d.Models.Detection.InputName)
	v.SetDefault("models.detection.output_name", d.Models.Detection.OutputName)

	v.SetDefault("tiling.size", d.Tiling.Size)
	v.SetDefault("tiling.overlap", d.Tiling.Overlap)
	v.SetDefault("tiling.min_mean", d.Tiling.MinMean)
	v.SetDefault("tiling.min_edge_density", d.Tiling.MinEdgeDensity)
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         ":8080",
			Mode:         "debug",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			TTL:      24 * time.Hour,
		},
		Upload: UploadConfig{
			MaxSize:           512 * 1024 * 1024,
			UploadDir:         "./uploads",
			AllowedExtensions: []string{".tif", ".tiff", ".png", ".jpg", ".jpeg"},
			CleanupTempFiles:  true,
		},
		Pipeline: PipelineConfig{
			MaxConcurrent:   2,
			QueueTimeout:    60,
			LandslideClass:  1,
			BodyRadius:      1737400,
			NoData:          "nan",
			SunElevation:    30,
			SunAzimuth:      90,
			ShadowThreshold: 40,
			MaxShadowLength: 200,
			// 约 2.7 亿样本，float64 解码后约 2 GB
			MaxRasterSamples: 1 << 28,
		},
		Change: ChangeConfig{
			Window:     7,
			Sigma:      1.5,
			KernelSize: 5,
		},
		Models: ModelsConfig{
			Segmentation: SegmentationConfig{
				InputSize:  256,
				NumClasses: 3,
				InputName:  "input",
				OutputName: "output",
			},
			Detection: DetectionConfig{
				InputSize:    640,
				NumClasses:   1,
				BoxThreshold: 0.25,
				NMSThreshold: 0.45,
				MaxObjects:   300,
				InputName:    "images",
				OutputName:   "output0",
			},
		},
		Tiling: TilingConfig{
			Size:    512,
			Overlap: 0.2,
			MinMean: 5,
		},
	}
}
