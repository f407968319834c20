package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/TIANLI0/SlideKit/raster"
	"golang.org/x/image/tiff/lzw"
	"gonum.org/v1/gonum/mat"
)

// MaxSamples 单个文件允许解码的样本总数（宽×高×波段）。
// 头部声明的尺寸超过该值时直接报错，不分配内存。
var MaxSamples int64 = 1 << 28

// Read 读取 GeoTIFF 文件，文件句柄在返回前关闭
func Read(path string) (*raster.Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &raster.IOFailure{Path: path, Err: err}
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, &raster.IOFailure{Path: path, Err: err}
	}

	r, err := Decode(data)
	if err != nil {
		return nil, &raster.IOFailure{Path: path, Err: err}
	}
	return r, nil
}

// Decode 解码内存中的 GeoTIFF，只读取第一个 IFD
func Decode(data []byte) (*raster.Raster, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("not a tiff: too short")
	}

	var order binary.ByteOrder
	switch string(data[0:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("not a tiff: bad byte order mark")
	}

	switch order.Uint16(data[2:4]) {
	case 42:
	case 43:
		return nil, fmt.Errorf("bigtiff is not supported")
	default:
		return nil, fmt.Errorf("not a tiff: bad magic")
	}

	d, err := parseIFD(data, order, order.Uint32(data[4:8]))
	if err != nil {
		return nil, err
	}

	bands, err := decodePixels(data, d)
	if err != nil {
		return nil, err
	}

	r, err := raster.New(bands, readTransform(d), readCRS(d))
	if err != nil {
		return nil, err
	}

	if s := d.ascii(tagGDALNoData); s != "" {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			r.NoData = v
			r.HasNoData = true
		}
	}

	return r, nil
}

// layout 描述像素分块布局
type layout struct {
	width, height   int
	spp             int
	bits            int
	format          int
	planar          int
	predictor       int
	compression     int
	chunkW, chunkH  int
	across, down    int
	offsets, counts []uint64
}

func readLayout(d *ifd) (*layout, error) {
	l := &layout{
		width:       int(d.uint(tagImageWidth, 0)),
		height:      int(d.uint(tagImageLength, 0)),
		spp:         int(d.uint(tagSamplesPerPixel, 1)),
		format:      int(d.uint(tagSampleFormat, 1)),
		planar:      int(d.uint(tagPlanarConfig, 1)),
		predictor:   int(d.uint(tagPredictor, 1)),
		compression: int(d.uint(tagCompression, compressionNone)),
	}
	if l.width <= 0 || l.height <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", l.width, l.height)
	}

	bits := d.uints(tagBitsPerSample)
	if len(bits) == 0 {
		l.bits = 1
	} else {
		l.bits = int(bits[0])
		for _, b := range bits[1:] {
			if int(b) != l.bits {
				return nil, fmt.Errorf("mixed bits per sample are not supported")
			}
		}
	}

	if d.has(tagTileWidth) {
		l.chunkW = int(d.uint(tagTileWidth, 0))
		l.chunkH = int(d.uint(tagTileLength, 0))
		l.offsets = d.uints(tagTileOffsets)
		l.counts = d.uints(tagTileByteCounts)
	} else {
		l.chunkW = l.width
		l.chunkH = int(d.uint(tagRowsPerStrip, uint64(l.height)))
		if l.chunkH <= 0 || l.chunkH > l.height {
			l.chunkH = l.height
		}
		l.offsets = d.uints(tagStripOffsets)
		l.counts = d.uints(tagStripByteCounts)
	}
	if l.chunkW <= 0 || l.chunkH <= 0 {
		return nil, fmt.Errorf("invalid chunk size %dx%d", l.chunkW, l.chunkH)
	}

	l.across = (l.width + l.chunkW - 1) / l.chunkW
	l.down = (l.height + l.chunkH - 1) / l.chunkH

	want := l.across * l.down
	if l.planar == 2 {
		want *= l.spp
	}
	if len(l.offsets) < want || len(l.counts) < want {
		return nil, fmt.Errorf("expected %d data chunks, found %d", want, len(l.offsets))
	}
	if err := l.checkSize(want); err != nil {
		return nil, err
	}

	return l, nil
}

// checkSize 在分配像素之前校验头部尺寸：样本总数受 MaxSamples 限制，
// 未压缩数据的分块字节数必须容得下全部样本
func (l *layout) checkSize(chunks int) error {
	limit := uint64(MaxSamples)
	pixels := uint64(l.width) * uint64(l.height)
	if pixels > limit || pixels*uint64(l.spp) > limit {
		return fmt.Errorf("image %dx%d with %d samples per pixel exceeds the limit of %d samples",
			l.width, l.height, l.spp, MaxSamples)
	}
	if uint64(l.chunkW)*uint64(l.chunkH) > limit {
		return fmt.Errorf("chunk %dx%d exceeds the limit of %d samples", l.chunkW, l.chunkH, MaxSamples)
	}

	if l.compression != compressionNone {
		return nil
	}
	var have uint64
	for _, n := range l.counts[:chunks] {
		have += n
	}
	need := pixels * uint64(l.spp) * uint64(l.bits/8)
	if have < need {
		return fmt.Errorf("data chunks hold %d bytes, image needs %d", have, need)
	}
	return nil
}

// chunkBytes 单个分块解压后的最大字节数
func (l *layout) chunkBytes() int {
	samples := l.spp
	if l.planar == 2 {
		samples = 1
	}
	return l.chunkW * l.chunkH * samples * (l.bits / 8)
}

// sampleReader 返回把原始字节转为 float64 的函数
func sampleReader(order binary.ByteOrder, format, bits int) (func([]byte) float64, error) {
	switch {
	case format == 1 && bits == 8:
		return func(b []byte) float64 { return float64(b[0]) }, nil
	case format == 2 && bits == 8:
		return func(b []byte) float64 { return float64(int8(b[0])) }, nil
	case format == 1 && bits == 16:
		return func(b []byte) float64 { return float64(order.Uint16(b)) }, nil
	case format == 2 && bits == 16:
		return func(b []byte) float64 { return float64(int16(order.Uint16(b))) }, nil
	case format == 1 && bits == 32:
		return func(b []byte) float64 { return float64(order.Uint32(b)) }, nil
	case format == 2 && bits == 32:
		return func(b []byte) float64 { return float64(int32(order.Uint32(b))) }, nil
	case format == 3 && bits == 32:
		return func(b []byte) float64 { return float64(math.Float32frombits(order.Uint32(b))) }, nil
	case format == 3 && bits == 64:
		return func(b []byte) float64 { return math.Float64frombits(order.Uint64(b)) }, nil
	}
	return nil, fmt.Errorf("unsupported sample format %d with %d bits", format, bits)
}

func decodePixels(data []byte, d *ifd) ([]*mat.Dense, error) {
	l, err := readLayout(d)
	if err != nil {
		return nil, err
	}

	read, err := sampleReader(d.order, l.format, l.bits)
	if err != nil {
		return nil, err
	}
	if l.predictor == 3 {
		return nil, fmt.Errorf("floating point predictor is not supported")
	}

	bands := make([]*mat.Dense, l.spp)
	for i := range bands {
		bands[i] = mat.NewDense(l.height, l.width, nil)
	}

	bps := l.bits / 8
	chunksPerBand := l.across * l.down

	// 交错存储时每个分块含全部波段，平面存储时每个波段独立分块
	planes := 1
	samplesInChunk := l.spp
	if l.planar == 2 {
		planes = l.spp
		samplesInChunk = 1
	}

	for p := 0; p < planes; p++ {
		for i := 0; i < chunksPerBand; i++ {
			idx := p*chunksPerBand + i
			off, n := l.offsets[idx], l.counts[idx]
			if off+n > uint64(len(data)) {
				return nil, fmt.Errorf("chunk %d out of range", idx)
			}

			buf, err := decompress(data[off:off+n], l.compression, l.chunkBytes())
			if err != nil {
				return nil, fmt.Errorf("chunk %d: %w", idx, err)
			}
			if l.predictor == 2 {
				undoHorizontalPredictor(buf, d.order, l.chunkW, samplesInChunk, bps)
			}

			x0 := (i % l.across) * l.chunkW
			y0 := (i / l.across) * l.chunkH
			rowBytes := l.chunkW * samplesInChunk * bps

			for y := 0; y < l.chunkH && y0+y < l.height; y++ {
				if (y+1)*rowBytes > len(buf) {
					return nil, fmt.Errorf("chunk %d truncated at row %d", idx, y0+y)
				}
				row := buf[y*rowBytes:]
				for x := 0; x < l.chunkW && x0+x < l.width; x++ {
					for s := 0; s < samplesInChunk; s++ {
						band := s
						if l.planar == 2 {
							band = p
						}
						at := (x*samplesInChunk + s) * bps
						bands[band].Set(y0+y, x0+x, read(row[at:at+bps]))
					}
				}
			}
		}
	}

	return bands, nil
}

// decompress 解压单个分块，输出至多 limit 字节
func decompress(b []byte, compression, limit int) ([]byte, error) {
	switch compression {
	case compressionNone:
		return b, nil
	case compressionDeflate, compressionDeflateV0:
		zr, err := zlib.NewReader(bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(io.LimitReader(zr, int64(limit)))
	case compressionLZW:
		lr := lzw.NewReader(bytes.NewReader(b), lzw.MSB, 8)
		defer lr.Close()
		return io.ReadAll(io.LimitReader(lr, int64(limit)))
	}
	return nil, fmt.Errorf("unsupported compression %d", compression)
}

// undoHorizontalPredictor 还原水平差分预测
func undoHorizontalPredictor(buf []byte, order binary.ByteOrder, width, spp, bps int) {
	rowBytes := width * spp * bps
	for start := 0; start+rowBytes <= len(buf); start += rowBytes {
		row := buf[start : start+rowBytes]
		for i := spp; i < width*spp; i++ {
			cur, prev := row[i*bps:], row[(i-spp)*bps:]
			switch bps {
			case 1:
				cur[0] += prev[0]
			case 2:
				order.PutUint16(cur, order.Uint16(cur)+order.Uint16(prev))
			case 4:
				order.PutUint32(cur, order.Uint32(cur)+order.Uint32(prev))
			}
		}
	}
}

// readTransform 从 ModelTransformation 或 PixelScale+Tiepoint 得到仿射变换
func readTransform(d *ifd) raster.GeoTransform {
	var gt raster.GeoTransform

	if m := d.floats(tagModelTransformation); len(m) >= 16 {
		gt = raster.GeoTransform{m[3], m[0], m[1], m[7], m[4], m[5]}
	} else {
		scale := d.floats(tagModelPixelScale)
		tie := d.floats(tagModelTiepoint)
		if len(scale) < 2 || len(tie) < 6 {
			return raster.GeoTransform{}
		}
		gt = raster.GeoTransform{
			tie[3] - tie[0]*scale[0], scale[0], 0,
			tie[4] + tie[1]*scale[1], 0, -scale[1],
		}
	}

	// PixelIsPoint 时坐标指向像元中心，统一换算为左上角
	if k, ok := d.geoKeys()[keyRasterType]; ok && k.location == 0 && k.value == rasterPixelIsPoint {
		gt[0] -= 0.5*gt[1] + 0.5*gt[2]
		gt[3] -= 0.5*gt[4] + 0.5*gt[5]
	}

	return gt
}

// readCRS 从 GeoKey 目录得到参考系
func readCRS(d *ifd) raster.CRS {
	keys := d.geoKeys()
	if keys == nil {
		return raster.CRS{}
	}

	var crs raster.CRS
	modelType := keys[keyModelType].value
	crs.Geographic = modelType == modelTypeGeographic

	switch modelType {
	case modelTypeProjected:
		if k, ok := keys[keyProjectedCSType]; ok && k.location == 0 && k.value > 0 && k.value != userDefined {
			crs.Code = int(k.value)
		}
	case modelTypeGeographic:
		if k, ok := keys[keyGeographicType]; ok && k.location == 0 && k.value > 0 && k.value != userDefined {
			crs.Code = int(k.value)
		}
	}

	for _, id := range []uint16{keyPCSCitation, keyCitation, keyGeogCitation} {
		if k, ok := keys[id]; ok {
			if s := d.geoASCII(k); s != "" {
				crs.Citation = s
				break
			}
		}
	}

	return crs
}
