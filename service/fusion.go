package service

import (
	"context"
	"math"

	"github.com/TIANLI0/SlideKit/config"
	"github.com/TIANLI0/SlideKit/geotiff"
	"github.com/TIANLI0/SlideKit/raster"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// 融合样本的波段顺序，下游按位置索引
const (
	BandOptical = iota
	BandElevation
	BandSlope
	FusedBands
)

// FusedSample 同一网格上的 [光学, 对齐高程, 坡度] 三波段数据
type FusedSample struct {
	Bands  [FusedBands]*mat.Dense
	Grid   raster.Grid
	NoData float64
}

// Shape 返回 (波段数, 行, 列)
func (s *FusedSample) Shape() (int, int, int) {
	return FusedBands, s.Grid.Rows, s.Grid.Cols
}

// Tensor 按 CHW 顺序展开为 float32，NaN、无穷和 nodata 写为 0
func (s *FusedSample) Tensor() []float32 {
	rows, cols := s.Grid.Rows, s.Grid.Cols
	out := make([]float32, 0, FusedBands*rows*cols)
	for _, b := range s.Bands {
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				v := b.At(r, c)
				if math.IsNaN(v) || math.IsInf(v, 0) || isNoData(v, s.NoData) {
					v = 0
				}
				out = append(out, float32(v))
			}
		}
	}
	return out
}

// Raster 包装为可写出的栅格
func (s *FusedSample) Raster() *raster.Raster {
	return &raster.Raster{
		Bands:     s.Bands[:],
		Transform: s.Grid.Transform,
		CRS:       s.Grid.CRS,
		NoData:    s.NoData,
		HasNoData: !math.IsNaN(s.NoData),
	}
}

// BandStat 单波段统计量（忽略无效值）
type BandStat struct {
	Min, Max, Mean, StdDev float64
	Valid                  int
}

// Stats 计算各波段统计量
func (s *FusedSample) Stats() [FusedBands]BandStat {
	var out [FusedBands]BandStat
	for i, b := range s.Bands {
		rows, cols := b.Dims()
		vals := make([]float64, 0, rows*cols)
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				if v := b.At(r, c); !isNoData(v, s.NoData) && !math.IsNaN(v) {
					vals = append(vals, v)
				}
			}
		}
		if len(vals) == 0 {
			continue
		}

		mean, std := stat.MeanStdDev(vals, nil)
		out[i] = BandStat{
			Min:    floats.Min(vals),
			Max:    floats.Max(vals),
			Mean:   mean,
			StdDev: std,
			Valid:  len(vals),
		}
	}
	return out
}

// Fuser 负责对齐、坡度计算和波段堆叠
type Fuser struct {
	noData     float64
	bodyRadius float64
}

func NewFuser(cfg *config.PipelineConfig) *Fuser {
	noData, err := cfg.NoDataValue()
	if err != nil {
		noData = math.NaN()
	}
	return &Fuser{
		noData:     noData,
		bodyRadius: cfg.BodyRadius,
	}
}

// Fuse 读取主影像和高程文件并融合，每个文件读完即关闭
func (f *Fuser) Fuse(ctx context.Context, primaryPath, elevationPath string) (*FusedSample, error) {
	primary, err := geotiff.Read(primaryPath)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	elevation, err := geotiff.Read(elevationPath)
	if err != nil {
		return nil, err
	}

	return f.FuseRasters(ctx, primary, elevation)
}

// FuseRasters 融合内存中的栅格，输出网格与主影像一致
func (f *Fuser) FuseRasters(ctx context.Context, primary, elevation *raster.Raster) (*FusedSample, error) {
	if err := primary.Georeferenced("primary"); err != nil {
		return nil, err
	}
	if err := elevation.Georeferenced("elevation"); err != nil {
		return nil, err
	}

	grid := primary.Grid()
	aligned, err := Align(elevation, grid, f.noData)
	if err != nil {
		return nil, err
	}
	if allNoData(aligned, f.noData) {
		return nil, raster.ErrNoOverlap
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dx, dy := PixelSpacing(grid, f.bodyRadius)
	slope, err := SlopeNoData(aligned, dx, dy, f.noData)
	if err != nil {
		return nil, err
	}

	return &FusedSample{
		Bands:  [FusedBands]*mat.Dense{mat.DenseCopyOf(primary.Band(0)), aligned, slope},
		Grid:   grid,
		NoData: f.noData,
	}, nil
}
