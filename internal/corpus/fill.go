package corpus

import "image"

// noDataLevel is the channel value below which a pixel counts as no-data.
const noDataLevel = 10

var neighbours = [8]image.Point{
	{-1, 0}, {0, 1}, {0, -1}, {1, 0},
	{1, 1}, {-1, 1}, {1, -1}, {-1, -1},
}

func isNoData(p []uint8) bool {
	return p[0] < noDataLevel && p[1] < noDataLevel && p[2] < noDataLevel
}

// FillNoData replaces near-black pixels, in passes, with the average of
// their valid 8-neighbours. A pixel needs at least two valid neighbours to
// be filled in a pass. It reports false and leaves img untouched when the
// holes cannot be closed.
func FillNoData(img *image.RGBA) bool {
	cur := image.NewRGBA(img.Rect)
	copy(cur.Pix, img.Pix)
	next := image.NewRGBA(img.Rect)
	b := img.Rect

	last := -1
	for {
		copy(next.Pix, cur.Pix)
		holes := 0
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				i := cur.PixOffset(x, y)
				if !isNoData(cur.Pix[i : i+3]) {
					continue
				}
				var n, r, g, bl int
				for _, d := range neighbours {
					q := image.Pt(x+d.X, y+d.Y)
					if !q.In(b) {
						continue
					}
					j := cur.PixOffset(q.X, q.Y)
					if isNoData(cur.Pix[j : j+3]) {
						continue
					}
					n++
					r += int(cur.Pix[j])
					g += int(cur.Pix[j+1])
					bl += int(cur.Pix[j+2])
				}
				if n <= 1 {
					holes++
					continue
				}
				avg := []uint8{uint8(r / n), uint8(g / n), uint8(bl / n)}
				if isNoData(avg) {
					if n == len(neighbours) {
						return false
					}
					holes++
					continue
				}
				copy(next.Pix[i:i+3], avg)
			}
		}
		cur, next = next, cur
		if holes == 0 {
			break
		}
		if holes == last {
			return false
		}
		last = holes
	}
	copy(img.Pix, cur.Pix)
	return true
}
