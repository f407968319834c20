package geotiff

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// TIFF 基础标签
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagPredictor       = 317
	tagTileWidth       = 322
	tagTileLength      = 323
	tagTileOffsets     = 324
	tagTileByteCounts  = 325
	tagSampleFormat    = 339
)

// GeoTIFF 及 GDAL 扩展标签
const (
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGeoDoubleParams     = 34736
	tagGeoASCIIParams      = 34737
	tagGDALNoData          = 42113
)

// GeoKey 编号
const (
	keyModelType       = 1024
	keyRasterType      = 1025
	keyCitation        = 1026
	keyGeographicType  = 2048
	keyGeogCitation    = 2049
	keyProjectedCSType = 3072
	keyPCSCitation     = 3073
)

const (
	modelTypeProjected  = 1
	modelTypeGeographic = 2
	rasterPixelIsPoint  = 2
	userDefined         = 32767
)

const (
	compressionNone      = 1
	compressionLZW       = 5
	compressionDeflate   = 8
	compressionDeflateV0 = 32946
)

// TIFF 字段类型
const (
	dtByte      = 1
	dtASCII     = 2
	dtShort     = 3
	dtLong      = 4
	dtRational  = 5
	dtSByte     = 6
	dtUndefined = 7
	dtSShort    = 8
	dtSLong     = 9
	dtSRational = 10
	dtFloat     = 11
	dtDouble    = 12
)

var typeSize = map[uint16]int{
	dtByte: 1, dtASCII: 1, dtShort: 2, dtLong: 4, dtRational: 8,
	dtSByte: 1, dtUndefined: 1, dtSShort: 2, dtSLong: 4, dtSRational: 8,
	dtFloat: 4, dtDouble: 8,
}

type entry struct {
	typ   uint16
	count uint32
	raw   []byte
}

// ifd 解析后的目录项
type ifd struct {
	order   binary.ByteOrder
	entries map[uint16]entry
}

func parseIFD(data []byte, order binary.ByteOrder, offset uint32) (*ifd, error) {
	if int(offset)+2 > len(data) {
		return nil, fmt.Errorf("ifd offset %d out of range", offset)
	}

	n := int(order.Uint16(data[offset:]))
	start := int(offset) + 2
	if start+n*12 > len(data) {
		return nil, fmt.Errorf("ifd with %d entries truncated", n)
	}

	d := &ifd{order: order, entries: make(map[uint16]entry, n)}
	for i := 0; i < n; i++ {
		p := data[start+i*12 : start+(i+1)*12]
		tag := order.Uint16(p[0:2])
		typ := order.Uint16(p[2:4])
		count := order.Uint32(p[4:8])

		size, ok := typeSize[typ]
		if !ok {
			// 未知类型直接跳过
			continue
		}

		total := size * int(count)
		var raw []byte
		if total <= 4 {
			raw = p[8 : 8+total]
		} else {
			off := int(order.Uint32(p[8:12]))
			if off+total > len(data) {
				return nil, fmt.Errorf("tag %d value out of range", tag)
			}
			raw = data[off : off+total]
		}

		d.entries[tag] = entry{typ: typ, count: count, raw: raw}
	}

	return d, nil
}

func (d *ifd) has(tag uint16) bool {
	_, ok := d.entries[tag]
	return ok
}

// uints 以无符号整数读取标签值
func (d *ifd) uints(tag uint16) []uint64 {
	e, ok := d.entries[tag]
	if !ok {
		return nil
	}

	out := make([]uint64, e.count)
	for i := range out {
		switch e.typ {
		case dtByte, dtUndefined:
			out[i] = uint64(e.raw[i])
		case dtShort:
			out[i] = uint64(d.order.Uint16(e.raw[i*2:]))
		case dtLong:
			out[i] = uint64(d.order.Uint32(e.raw[i*4:]))
		default:
			return nil
		}
	}
	return out
}

func (d *ifd) uint(tag uint16, def uint64) uint64 {
	v := d.uints(tag)
	if len(v) == 0 {
		return def
	}
	return v[0]
}

// floats 以浮点数读取标签值
func (d *ifd) floats(tag uint16) []float64 {
	e, ok := d.entries[tag]
	if !ok {
		return nil
	}

	out := make([]float64, e.count)
	for i := range out {
		switch e.typ {
		case dtDouble:
			out[i] = math.Float64frombits(d.order.Uint64(e.raw[i*8:]))
		case dtFloat:
			out[i] = float64(math.Float32frombits(d.order.Uint32(e.raw[i*4:])))
		case dtShort:
			out[i] = float64(d.order.Uint16(e.raw[i*2:]))
		case dtLong:
			out[i] = float64(d.order.Uint32(e.raw[i*4:]))
		default:
			return nil
		}
	}
	return out
}

func (d *ifd) ascii(tag uint16) string {
	e, ok := d.entries[tag]
	if !ok || e.typ != dtASCII {
		return ""
	}
	return strings.TrimRight(string(e.raw), "\x00")
}

// geoKey 单个 GeoKey 记录
type geoKey struct {
	location uint16
	count    uint16
	value    uint16
}

// geoKeys 解析 GeoKeyDirectory
func (d *ifd) geoKeys() map[uint16]geoKey {
	dir := d.uints(tagGeoKeyDirectory)
	if len(dir) < 4 {
		return nil
	}

	n := int(dir[3])
	keys := make(map[uint16]geoKey, n)
	for i := 0; i < n; i++ {
		base := 4 + i*4
		if base+4 > len(dir) {
			break
		}
		keys[uint16(dir[base])] = geoKey{
			location: uint16(dir[base+1]),
			count:    uint16(dir[base+2]),
			value:    uint16(dir[base+3]),
		}
	}
	return keys
}

// geoASCII 读取存放在 GeoAsciiParams 中的 GeoKey 文本
func (d *ifd) geoASCII(k geoKey) string {
	if k.location != tagGeoASCIIParams {
		return ""
	}

	params := d.ascii(tagGeoASCIIParams)
	start, end := int(k.value), int(k.value)+int(k.count)
	if start > len(params) {
		return ""
	}
	if end > len(params) {
		end = len(params)
	}
	return strings.TrimRight(params[start:end], "|\x00 ")
}
