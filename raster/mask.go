package raster

// Mask 与源栅格同网格的二值或类别网格，行优先存储
type Mask struct {
	Rows int
	Cols int
	Pix  []uint8
}

func NewMask(rows, cols int) Mask {
	return Mask{
		Rows: rows,
		Cols: cols,
		Pix:  make([]uint8, rows*cols),
	}
}

func (m Mask) At(row, col int) uint8 {
	return m.Pix[row*m.Cols+col]
}

func (m *Mask) Set(row, col int, v uint8) {
	m.Pix[row*m.Cols+col] = v
}

// Count 返回非零像素数
func (m Mask) Count() int {
	n := 0
	for _, v := range m.Pix {
		if v != 0 {
			n++
		}
	}
	return n
}

// Select 提取指定类别为二值掩码
func (m Mask) Select(class uint8) Mask {
	out := NewMask(m.Rows, m.Cols)
	for i, v := range m.Pix {
		if v == class {
			out.Pix[i] = 1
		}
	}
	return out
}

// Scale 把非零像素映射为 value，例如 {0,1} 转 {0,255}
func (m Mask) Scale(value uint8) Mask {
	out := NewMask(m.Rows, m.Cols)
	for i, v := range m.Pix {
		if v != 0 {
			out.Pix[i] = value
		}
	}
	return out
}

func (m Mask) Empty() bool {
	return m.Rows == 0 || m.Cols == 0
}

func (m Mask) Clone() Mask {
	out := Mask{Rows: m.Rows, Cols: m.Cols, Pix: make([]uint8, len(m.Pix))}
	copy(out.Pix, m.Pix)
	return out
}
