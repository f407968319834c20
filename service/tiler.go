package service

import (
	"fmt"
	"math"
	"path/filepath"

	"github.com/TIANLI0/SlideKit/config"
	"github.com/TIANLI0/SlideKit/geotiff"
	"github.com/TIANLI0/SlideKit/raster"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Tile 切片窗口，Row/Col 为左上角像素坐标
type Tile struct {
	Row  int
	Col  int
	Rows int
	Cols int
}

// Tiler 按固定尺寸和重叠比例切分融合样本
type Tiler struct {
	size           int
	overlap        float64
	minMean        float64
	minEdgeDensity float64
	texture        *TextureAnalyzer
}

func NewTiler(cfg *config.TilingConfig) *Tiler {
	return &Tiler{
		size:           cfg.Size,
		overlap:        cfg.Overlap,
		minMean:        cfg.MinMean,
		minEdgeDensity: cfg.MinEdgeDensity,
		texture:        NewTextureAnalyzer(),
	}
}

func (t *Tiler) Size() int {
	return t.size
}

func (t *Tiler) stride() int {
	s := int(math.Round(float64(t.size) * (1 - t.overlap)))
	if s < 1 {
		return 1
	}
	return s
}

// Windows 推理模式：覆盖整幅网格，最后一个窗口贴齐边缘，小于 size 的维度只切一块
func (t *Tiler) Windows(rows, cols int) []Tile {
	var tiles []Tile
	for _, r := range t.cover(rows) {
		for _, c := range t.cover(cols) {
			tiles = append(tiles, Tile{
				Row:  r,
				Col:  c,
				Rows: min(t.size, rows),
				Cols: min(t.size, cols),
			})
		}
	}
	return tiles
}

func (t *Tiler) cover(n int) []int {
	if n <= t.size {
		return []int{0}
	}
	var out []int
	for p := 0; p+t.size < n; p += t.stride() {
		out = append(out, p)
	}
	if last := n - t.size; out[len(out)-1] != last {
		out = append(out, last)
	}
	return out
}

// TrainingWindows 训练模式：只保留完整窗口，跳过光学波段均值低于 min_mean 的暗块，
// min_edge_density 大于 0 时再跳过边缘密度不足的平坦块（在拉伸到 8 位的波段上计算）
func (t *Tiler) TrainingWindows(optical *mat.Dense) []Tile {
	rows, cols := optical.Dims()
	var gray *mat.Dense
	if t.minEdgeDensity > 0 {
		gray = Stretch8(optical, math.NaN())
	}

	var tiles []Tile
	for r := 0; r+t.size <= rows; r += t.stride() {
		for c := 0; c+t.size <= cols; c += t.stride() {
			tile := Tile{Row: r, Col: c, Rows: t.size, Cols: t.size}
			if tileMean(optical, tile) < t.minMean {
				continue
			}
			if t.minEdgeDensity > 0 && t.texture.Analyze(gray, tile).EdgeDensity < t.minEdgeDensity {
				continue
			}
			tiles = append(tiles, tile)
		}
	}
	return tiles
}

func tileMean(m *mat.Dense, tile Tile) float64 {
	vals := make([]float64, 0, tile.Rows*tile.Cols)
	for r := tile.Row; r < tile.Row+tile.Rows; r++ {
		for c := tile.Col; c < tile.Col+tile.Cols; c++ {
			if v := m.At(r, c); !math.IsNaN(v) {
				vals = append(vals, v)
			}
		}
	}
	if len(vals) == 0 {
		return 0
	}
	return stat.Mean(vals, nil)
}

// Extract 裁剪出窗口对应的子样本，地理变换平移到窗口左上角
func (t *Tiler) Extract(sample *FusedSample, tile Tile) *FusedSample {
	gt := sample.Grid.Transform
	x0, y0 := gt.PixelToWorld(float64(tile.Col), float64(tile.Row))
	gt[0], gt[3] = x0, y0

	out := &FusedSample{
		Grid: raster.Grid{
			Transform: gt,
			CRS:       sample.Grid.CRS,
			Rows:      tile.Rows,
			Cols:      tile.Cols,
		},
		NoData: sample.NoData,
	}
	for i, b := range sample.Bands {
		out.Bands[i] = mat.DenseCopyOf(b.Slice(tile.Row, tile.Row+tile.Rows, tile.Col, tile.Col+tile.Cols))
	}
	return out
}

// WriteTraining 按训练模式切片并写出 float32 GeoTIFF，返回写出的文件路径
func (t *Tiler) WriteTraining(sample *FusedSample, dir, prefix string) ([]string, error) {
	var paths []string
	for _, tile := range t.TrainingWindows(sample.Bands[BandOptical]) {
		sub := t.Extract(sample, tile)
		path := filepath.Join(dir, fmt.Sprintf("%s_r%d_c%d.tif", prefix, tile.Row, tile.Col))
		if err := geotiff.Write(path, sub.Raster(), geotiff.Float32); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
