package vision

import (
	"image"
	"math"

	"gonum.org/v1/gonum/stat"

	"phishdetect/internal/domain"
)

// Fingerprint computes the statistical summary of a region crop. The
// greyscale moments follow Baratis & Petrakis' logo-description features; the
// color counts come from the raw crop.
func Fingerprint(img image.Image, inverted bool) domain.RegionFingerprint {
	distinct, dominantPct := countColors(img)

	grey := ToGray(img)
	vals := make([]float64, len(grey.Pix))
	for i, p := range grey.Pix {
		vals[i] = float64(p)
	}

	fp := domain.RegionFingerprint{
		DistinctColors:   distinct,
		DominantColorPct: dominantPct,
		Otsu:             OtsuThreshold(grey),
		WaveletEnergy:    haarEnergy(grey),
	}
	if len(vals) == 0 {
		return fp
	}

	fp.Mean = stat.Mean(vals, nil)
	fp.StdDev = math.Sqrt(stat.MomentAbout(2, vals, fp.Mean, nil))
	fp.Skewness = nanToZero(stat.Skew(vals, nil))
	fp.Kurtosis = nanToZero(stat.ExKurtosis(vals, nil))
	fp.Entropy = intensityEntropy(vals)

	hist := Histogram(grey)
	for _, c := range hist {
		if c != 0 {
			fp.OccupiedBins++
		}
	}
	return fp
}

// countColors returns the number of distinct pixel values and the share of
// the most frequent one, as a percentage.
func countColors(img image.Image) (int, float64) {
	counts := make(map[[4]uint32]int)
	b := img.Bounds()
	total := 0
	maxCount := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			counts[[4]uint32{r, g, bl, a}]++
			if c := counts[[4]uint32{r, g, bl, a}]; c > maxCount {
				maxCount = c
			}
			total++
		}
	}
	if total == 0 {
		return 0, 0
	}
	return len(counts), float64(maxCount) / float64(total) * 100
}

// intensityEntropy treats the raw intensities as an unnormalized probability
// distribution, matching how the feature was historically computed.
func intensityEntropy(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	if sum == 0 {
		return 0
	}
	p := make([]float64, 0, len(vals))
	for _, v := range vals {
		if v > 0 {
			p = append(p, v/sum)
		}
	}
	return nanToZero(stat.Entropy(p))
}

// haarEnergy runs one level of a 2D Haar decomposition and returns the mean
// detail energy. NaN collapses to zero for degenerate crops.
func haarEnergy(g *image.Gray) float64 {
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	if w == 0 || h == 0 {
		return 0
	}
	// Symmetric extension to even dimensions, as dwt2 pads.
	ew, eh := w+w%2, h+h%2
	at := func(x, y int) float64 {
		if x >= w {
			x = w - 1
		}
		if y >= h {
			y = h - 1
		}
		return float64(g.Pix[y*g.Stride+x])
	}

	var energy float64
	for y := 0; y < eh; y += 2 {
		for x := 0; x < ew; x += 2 {
			a, b := at(x, y), at(x+1, y)
			c, d := at(x, y+1), at(x+1, y+1)
			cH := (a + b - c - d) / 2
			cV := (a - b + c - d) / 2
			cD := (a - b - c + d) / 2
			energy += cH*cH + cV*cV + cD*cD
		}
	}
	e := energy / float64(w*h)
	return nanToZero(e)
}

func nanToZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
