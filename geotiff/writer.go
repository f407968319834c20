package geotiff

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/TIANLI0/SlideKit/raster"
)

// SampleType 写出时的像元类型
type SampleType int

const (
	Float32 SampleType = iota
	Uint8
)

var le = binary.LittleEndian

// Write 把栅格写为未压缩的平面存储 GeoTIFF
func Write(path string, r *raster.Raster, typ SampleType) error {
	f, err := os.Create(path)
	if err != nil {
		return &raster.IOFailure{Path: path, Err: err}
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := Encode(w, r, typ); err != nil {
		return &raster.IOFailure{Path: path, Err: err}
	}
	if err := w.Flush(); err != nil {
		return &raster.IOFailure{Path: path, Err: err}
	}
	return f.Close()
}

type outEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

// Encode 编码栅格，每个波段一个条带
func Encode(w io.Writer, r *raster.Raster, typ SampleType) error {
	rows, cols, spp := r.Rows(), r.Cols(), r.BandCount()

	bps := 4
	format := uint16(3)
	if typ == Uint8 {
		bps = 1
		format = 1
	}

	bandBytes := rows * cols * bps
	pixels := make([]byte, 0, bandBytes*spp)
	for _, band := range r.Bands {
		for y := 0; y < rows; y++ {
			for x := 0; x < cols; x++ {
				v := band.At(y, x)
				if typ == Uint8 {
					pixels = append(pixels, toUint8(v))
				} else {
					pixels = le.AppendUint32(pixels, math.Float32bits(float32(v)))
				}
			}
		}
	}

	offsets := make([]uint32, spp)
	counts := make([]uint32, spp)
	for b := 0; b < spp; b++ {
		offsets[b] = uint32(8 + b*bandBytes)
		counts[b] = uint32(bandBytes)
	}

	repeat := func(v uint16) []uint16 {
		out := make([]uint16, spp)
		for i := range out {
			out[i] = v
		}
		return out
	}

	entries := []outEntry{
		longs(tagImageWidth, uint32(cols)),
		longs(tagImageLength, uint32(rows)),
		shorts(tagBitsPerSample, repeat(uint16(bps*8))...),
		shorts(tagCompression, compressionNone),
		shorts(tagPhotometric, 1),
		longs(tagStripOffsets, offsets...),
		shorts(tagSamplesPerPixel, uint16(spp)),
		longs(tagRowsPerStrip, uint32(rows)),
		longs(tagStripByteCounts, counts...),
		shorts(tagPlanarConfig, 2),
		shorts(tagSampleFormat, repeat(format)...),
	}
	entries = append(entries, geoEntries(r)...)

	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	ifdOffset := 8 + len(pixels)
	if ifdOffset%2 == 1 {
		pixels = append(pixels, 0)
		ifdOffset++
	}

	var header bytes.Buffer
	header.WriteString("II")
	_ = binary.Write(&header, le, uint16(42))
	_ = binary.Write(&header, le, uint32(ifdOffset))

	ifdSize := 2 + len(entries)*12 + 4
	extraOffset := ifdOffset + ifdSize

	var dir, extra bytes.Buffer
	_ = binary.Write(&dir, le, uint16(len(entries)))
	for _, e := range entries {
		_ = binary.Write(&dir, le, e.tag)
		_ = binary.Write(&dir, le, e.typ)
		_ = binary.Write(&dir, le, e.count)
		if len(e.data) <= 4 {
			var inline [4]byte
			copy(inline[:], e.data)
			dir.Write(inline[:])
			continue
		}
		_ = binary.Write(&dir, le, uint32(extraOffset+extra.Len()))
		extra.Write(e.data)
		if extra.Len()%2 == 1 {
			extra.WriteByte(0)
		}
	}
	_ = binary.Write(&dir, le, uint32(0))

	for _, chunk := range [][]byte{header.Bytes(), pixels, dir.Bytes(), extra.Bytes()} {
		if _, err := w.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}

// geoEntries 生成地理参考相关标签
func geoEntries(r *raster.Raster) []outEntry {
	var out []outEntry
	gt := r.Transform

	if gt.Valid() {
		if gt[2] == 0 && gt[4] == 0 {
			out = append(out,
				doubles(tagModelPixelScale, gt[1], -gt[5], 0),
				doubles(tagModelTiepoint, 0, 0, 0, gt[0], gt[3], 0),
			)
		} else {
			out = append(out, doubles(tagModelTransformation,
				gt[1], gt[2], 0, gt[0],
				gt[4], gt[5], 0, gt[3],
				0, 0, 0, 0,
				0, 0, 0, 1,
			))
		}
	}

	if r.CRS.Defined() {
		modelType := uint16(modelTypeProjected)
		if r.CRS.Geographic {
			modelType = modelTypeGeographic
		}

		keys := []uint16{
			keyModelType, 0, 1, modelType,
			keyRasterType, 0, 1, 1,
		}
		if r.CRS.Code > 0 {
			codeKey := uint16(keyProjectedCSType)
			if r.CRS.Geographic {
				codeKey = keyGeographicType
			}
			keys = append(keys, codeKey, 0, 1, uint16(r.CRS.Code))
		} else {
			citation := r.CRS.Citation + "|"
			keys = append(keys, keyCitation, tagGeoASCIIParams, uint16(len(citation)), 0)
			out = append(out, asciiEntry(tagGeoASCIIParams, citation))
		}

		dir := append([]uint16{1, 1, 0, uint16(len(keys) / 4)}, keys...)
		out = append(out, shorts(tagGeoKeyDirectory, dir...))
	}

	if r.HasNoData {
		out = append(out, asciiEntry(tagGDALNoData, strconv.FormatFloat(r.NoData, 'g', -1, 64)))
	}

	return out
}

func toUint8(v float64) uint8 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(math.Round(v))
}

func shorts(tag uint16, vals ...uint16) outEntry {
	b := make([]byte, 0, len(vals)*2)
	for _, v := range vals {
		b = le.AppendUint16(b, v)
	}
	return outEntry{tag: tag, typ: dtShort, count: uint32(len(vals)), data: b}
}

func longs(tag uint16, vals ...uint32) outEntry {
	b := make([]byte, 0, len(vals)*4)
	for _, v := range vals {
		b = le.AppendUint32(b, v)
	}
	return outEntry{tag: tag, typ: dtLong, count: uint32(len(vals)), data: b}
}

func doubles(tag uint16, vals ...float64) outEntry {
	b := make([]byte, 0, len(vals)*8)
	for _, v := range vals {
		b = le.AppendUint64(b, math.Float64bits(v))
	}
	return outEntry{tag: tag, typ: dtDouble, count: uint32(len(vals)), data: b}
}

func asciiEntry(tag uint16, s string) outEntry {
	b := append([]byte(s), 0)
	return outEntry{tag: tag, typ: dtASCII, count: uint32(len(b)), data: b}
}

// String 便于日志输出
func (t SampleType) String() string {
	switch t {
	case Float32:
		return "float32"
	case Uint8:
		return "uint8"
	}
	return fmt.Sprintf("SampleType(%d)", int(t))
}
