package score

import (
	"encoding/binary"
	"math"

	"github.com/x448/float16"

	"github.com/gogpu/tilematch"
)

// TileRef maps an atlas cell back to the tile uploaded into it.
type TileRef struct {
	Pos   tilematch.TilePos
	Width uint32
}

// Pack encodes a score and zoom the way the kernel's pack2x16float does:
// score in the low half, zoom in the high half.
func Pack(score, zoom float32) uint32 {
	return uint32(float16.Fromfloat32(score).Bits()) |
		uint32(float16.Fromfloat32(zoom).Bits())<<16
}

// Unpack reverses Pack.
func Unpack(v uint32) (score, zoom float32) {
	return float16.Frombits(uint16(v)).Float32(), float16.Frombits(uint16(v >> 16)).Float32()
}

// texel reads the (score, zoom) pair at texel x of row.
func (l Layout) texel(row []byte, x int) (float32, float32) {
	if l.Format == FormatF32 {
		o := x * 8
		return math.Float32frombits(binary.LittleEndian.Uint32(row[o:])),
			math.Float32frombits(binary.LittleEndian.Uint32(row[o+4:]))
	}
	return Unpack(binary.LittleEndian.Uint32(row[x*4:]))
}

// Decode returns the best position of one pass output, or the sentinel if no
// texel maps to a scanned position inside a tile's valid width. data holds
// ResultH rows of RowBytes each; tiles lists the batch in upload order.
func Decode(l Layout, data []byte, tiles []TileRef) tilematch.PosResult {
	best := tilematch.SentinelResult()
	cw, ch := l.CellW(), l.CellH()
	rw, rowBytes := l.ResultW(), l.RowBytes()

	for y := 0; y < l.ResultH(); y++ {
		off := y * rowBytes
		if off+rowBytes > len(data) {
			break
		}
		row := data[off : off+rowBytes]
		for x := 0; x < rw; x++ {
			s, z := l.texel(row, x)
			if !(s > best.Score) {
				continue
			}
			i := x/cw + (y/ch)*l.Grid
			if i >= len(tiles) {
				break
			}
			localX := uint32((x % cw) * l.Step)
			if localX >= tiles[i].Width {
				continue
			}
			best = tilematch.PosResult{
				Tile:  tiles[i].Pos,
				X:     localX,
				Y:     uint32((y % ch) * l.Step),
				Zoom:  z,
				Score: s,
			}
		}
	}
	return best
}

// Encode writes one texel in the layout's format. It is the host-side
// counterpart of the kernel's output store.
func (l Layout) Encode(data []byte, x, y int, score, zoom float32) {
	o := y*l.RowBytes() + x*l.Format.TexelBytes()
	if l.Format == FormatF32 {
		binary.LittleEndian.PutUint32(data[o:], math.Float32bits(score))
		binary.LittleEndian.PutUint32(data[o+4:], math.Float32bits(zoom))
		return
	}
	binary.LittleEndian.PutUint32(data[o:], Pack(score, zoom))
}
