package media

import (
	"image"
	"image/color"
	"sort"
)

// In-process pixel operations backing the enhancement modes. They follow the
// classic enhancer convention: an adjustment factor of 1.0 is a no-op, values
// above 1 interpolate away from a degenerate version of the image (solid gray
// for contrast, smoothed for sharpness).

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok {
		return n
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x-b.Min.X, y-b.Min.Y, color.NRGBAModel.Convert(img.At(x, y)))
		}
	}
	return out
}

func clampByte(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}

// adjustContrast interpolates between a solid gray of the image's mean
// luminance (factor 0) and the original (factor 1); factors above 1 push
// contrast up.
func adjustContrast(img *image.NRGBA, factor float64) *image.NRGBA {
	b := img.Bounds()
	var sum float64
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			p := img.NRGBAAt(x, y)
			sum += 0.299*float64(p.R) + 0.587*float64(p.G) + 0.114*float64(p.B)
		}
	}
	mean := sum / float64(b.Dx()*b.Dy())

	out := image.NewNRGBA(b)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			p := img.NRGBAAt(x, y)
			out.SetNRGBA(x, y, color.NRGBA{
				R: clampByte(mean + (float64(p.R)-mean)*factor),
				G: clampByte(mean + (float64(p.G)-mean)*factor),
				B: clampByte(mean + (float64(p.B)-mean)*factor),
				A: p.A,
			})
		}
	}
	return out
}

// adjustSharpness interpolates between a smoothed copy (factor 0) and the
// original (factor 1); factors above 1 sharpen.
func adjustSharpness(img *image.NRGBA, factor float64) *image.NRGBA {
	soft := smooth(img)
	b := img.Bounds()
	out := image.NewNRGBA(b)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			p := img.NRGBAAt(x, y)
			s := soft.NRGBAAt(x, y)
			out.SetNRGBA(x, y, color.NRGBA{
				R: clampByte(float64(s.R) + (float64(p.R)-float64(s.R))*factor),
				G: clampByte(float64(s.G) + (float64(p.G)-float64(s.G))*factor),
				B: clampByte(float64(s.B) + (float64(p.B)-float64(s.B))*factor),
				A: p.A,
			})
		}
	}
	return out
}

// smooth applies a mild 3x3 blur with a weighted center.
func smooth(img *image.NRGBA) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(b)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			var r, g, bl, weight float64
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= b.Dx() || ny >= b.Dy() {
						continue
					}
					w := 1.0
					if dx == 0 && dy == 0 {
						w = 5.0
					}
					p := img.NRGBAAt(nx, ny)
					r += float64(p.R) * w
					g += float64(p.G) * w
					bl += float64(p.B) * w
					weight += w
				}
			}
			out.SetNRGBA(x, y, color.NRGBA{
				R: clampByte(r / weight),
				G: clampByte(g / weight),
				B: clampByte(bl / weight),
				A: img.NRGBAAt(x, y).A,
			})
		}
	}
	return out
}

// medianFilter replaces each pixel with the channel-wise median of its
// size x size neighborhood. size must be odd.
func medianFilter(img *image.NRGBA, size int) *image.NRGBA {
	radius := size / 2
	b := img.Bounds()
	out := image.NewNRGBA(b)
	rs := make([]int, 0, size*size)
	gs := make([]int, 0, size*size)
	bs := make([]int, 0, size*size)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			rs, gs, bs = rs[:0], gs[:0], bs[:0]
			for dy := -radius; dy <= radius; dy++ {
				for dx := -radius; dx <= radius; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= b.Dx() || ny >= b.Dy() {
						continue
					}
					p := img.NRGBAAt(nx, ny)
					rs = append(rs, int(p.R))
					gs = append(gs, int(p.G))
					bs = append(bs, int(p.B))
				}
			}
			sort.Ints(rs)
			sort.Ints(gs)
			sort.Ints(bs)
			mid := len(rs) / 2
			out.SetNRGBA(x, y, color.NRGBA{
				R: uint8(rs[mid]),
				G: uint8(gs[mid]),
				B: uint8(bs[mid]),
				A: img.NRGBAAt(x, y).A,
			})
		}
	}
	return out
}
