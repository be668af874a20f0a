package vision

import (
	"image"
	"image/color"
)

// ToGray converts any image to 8-bit greyscale using the standard library's
// luminance conversion.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g.Set(x-b.Min.X, y-b.Min.Y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return g
}

// Histogram counts pixel intensities into 256 bins.
func Histogram(g *image.Gray) [256]int {
	var hist [256]int
	for _, p := range g.Pix {
		hist[p]++
	}
	return hist
}

// OtsuThreshold picks the binarization threshold that maximizes between-class
// variance of the intensity histogram.
func OtsuThreshold(g *image.Gray) int {
	hist := Histogram(g)
	total := len(g.Pix)
	if total == 0 {
		return 0
	}

	var sum float64
	for i, c := range hist {
		sum += float64(i) * float64(c)
	}

	var sumB, wB float64
	best, bestVar := 0, -1.0
	for t := 0; t < 256; t++ {
		wB += float64(hist[t])
		if wB == 0 {
			continue
		}
		wF := float64(total) - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * float64(hist[t])
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > bestVar {
			bestVar = between
			best = t
		}
	}
	return best
}

// Binarize thresholds a greyscale image to 0/255. With invert set, pixels at
// or below the threshold become foreground, catching light-on-dark layouts.
func Binarize(g *image.Gray, threshold int, invert bool) *image.Gray {
	out := image.NewGray(g.Bounds())
	for i, p := range g.Pix {
		fg := int(p) > threshold
		if invert {
			fg = !fg
		}
		if fg {
			out.Pix[i] = 255
		}
	}
	return out
}

// morphOp applies a rectangular min/max filter. The anchor sits at
// (kw/2, kh/2), matching the usual structuring-element convention.
func morphOp(g *image.Gray, kw, kh int, dilate bool) *image.Gray {
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	out := image.NewGray(g.Bounds())
	ax, ay := kw/2, kh/2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc uint8
			if !dilate {
				acc = 255
			}
			for dy := -ay; dy < kh-ay; dy++ {
				for dx := -ax; dx < kw-ax; dx++ {
					nx, ny := x+dx, y+dy
					if nx < 0 || ny < 0 || nx >= w || ny >= h {
						continue
					}
					p := g.Pix[ny*g.Stride+nx]
					if dilate && p > acc {
						acc = p
					} else if !dilate && p < acc {
						acc = p
					}
				}
			}
			out.Pix[y*out.Stride+x] = acc
		}
	}
	return out
}

// Dilate grows foreground blobs with a kw x kh rectangular kernel.
func Dilate(g *image.Gray, kw, kh int) *image.Gray {
	return morphOp(g, kw, kh, true)
}

// Erode shrinks foreground blobs with a kw x kh rectangular kernel.
func Erode(g *image.Gray, kw, kh int) *image.Gray {
	return morphOp(g, kw, kh, false)
}

// Close merges nearby blobs: dilate then erode with the same kernel.
func Close(g *image.Gray, kw, kh int) *image.Gray {
	return Erode(Dilate(g, kw, kh), kw, kh)
}
