package vision

import (
	"errors"
	"image"
	"math"

	"github.com/corona10/goimagehash"
	"github.com/nfnt/resize"
	"go.uber.org/zap"

	"phishdetect/internal/domain"
)

var errEmptyImage = errors.New("vision: empty image")

// Comparer scores a candidate screenshot against the original with five
// independent metrics. Each metric can fail on its own; failures are logged
// and recorded as absent scores, never as zeros.
type Comparer struct {
	logger *zap.Logger
}

func NewComparer(logger *zap.Logger) *Comparer {
	return &Comparer{logger: logger}
}

// Compare computes all five similarity scores between the original and a
// candidate screenshot.
func (c *Comparer) Compare(original, candidate image.Image, candidateURL string) domain.SimilarityVerdict {
	v := domain.SimilarityVerdict{CandidateURL: candidateURL}

	run := func(name string, f func(a, b image.Image) (float64, error), dst **float64) {
		score, err := f(original, candidate)
		if err != nil {
			c.logger.Warn("similarity metric failed",
				zap.String("metric", name), zap.String("candidate", candidateURL), zap.Error(err))
			return
		}
		*dst = &score
	}

	run("emd", EarthMoversDistance, &v.EMD)
	run("perceptual", PerceptualSimilarity, &v.PerceptualSim)
	run("structural", StructuralSimilarity, &v.StructuralSim)
	run("pixel", PixelSimilarity, &v.PixelSim)
	run("feature", FeatureSimilarity, &v.FeatureSim)

	c.logger.Info("compared candidate",
		zap.String("candidate", candidateURL),
		zap.Float64p("emd", v.EMD),
		zap.Float64p("perceptual", v.PerceptualSim),
		zap.Float64p("structural", v.StructuralSim),
		zap.Float64p("pixel", v.PixelSim),
		zap.Float64p("feature", v.FeatureSim))
	return v
}

// EarthMoversDistance is the 1D Wasserstein distance between the normalized
// greyscale intensity distributions of the two images, with the intensity
// axis scaled to [0,1]. Identical distributions give 0.
func EarthMoversDistance(a, b image.Image) (float64, error) {
	ha, err := normalizedHistogram(a)
	if err != nil {
		return 0, err
	}
	hb, err := normalizedHistogram(b)
	if err != nil {
		return 0, err
	}
	var cdfA, cdfB, emd float64
	for i := 0; i < 256; i++ {
		cdfA += ha[i]
		cdfB += hb[i]
		emd += math.Abs(cdfA-cdfB) / 255
	}
	return emd, nil
}

// PerceptualSimilarity is one minus the normalized Hamming distance between
// the DCT perception hashes of the two images.
func PerceptualSimilarity(a, b image.Image) (float64, error) {
	hashA, err := goimagehash.PerceptionHash(a)
	if err != nil {
		return 0, err
	}
	hashB, err := goimagehash.PerceptionHash(b)
	if err != nil {
		return 0, err
	}
	dist, err := hashA.Distance(hashB)
	if err != nil {
		return 0, err
	}
	return 1 - float64(dist)/64, nil
}

// StructuralSimilarity is the mean SSIM over 8x8 greyscale windows, with the
// candidate scaled to the original's dimensions first.
func StructuralSimilarity(a, b image.Image) (float64, error) {
	ga, gb, err := alignedGray(a, b)
	if err != nil {
		return 0, err
	}
	const c1 = 6.5025  // (0.01 * 255)^2
	const c2 = 58.5225 // (0.03 * 255)^2
	const win = 8

	w, h := ga.Bounds().Dx(), ga.Bounds().Dy()
	var total float64
	var windows int
	for wy := 0; wy < h; wy += win {
		for wx := 0; wx < w; wx += win {
			var sumA, sumB, sumAA, sumBB, sumAB float64
			var n float64
			for y := wy; y < min(wy+win, h); y++ {
				for x := wx; x < min(wx+win, w); x++ {
					pa := float64(ga.Pix[y*ga.Stride+x])
					pb := float64(gb.Pix[y*gb.Stride+x])
					sumA += pa
					sumB += pb
					sumAA += pa * pa
					sumBB += pb * pb
					sumAB += pa * pb
					n++
				}
			}
			muA, muB := sumA/n, sumB/n
			varA := sumAA/n - muA*muA
			varB := sumBB/n - muB*muB
			cov := sumAB/n - muA*muB
			ssim := ((2*muA*muB + c1) * (2*cov + c2)) /
				((muA*muA + muB*muB + c1) * (varA + varB + c2))
			total += ssim
			windows++
		}
	}
	if windows == 0 {
		return 0, errEmptyImage
	}
	return total / float64(windows), nil
}

// PixelSimilarity is one minus the normalized mean absolute greyscale
// difference, after scaling the candidate to the original's dimensions.
func PixelSimilarity(a, b image.Image) (float64, error) {
	ga, gb, err := alignedGray(a, b)
	if err != nil {
		return 0, err
	}
	w, h := ga.Bounds().Dx(), ga.Bounds().Dy()
	var diff float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			diff += math.Abs(float64(ga.Pix[y*ga.Stride+x]) - float64(gb.Pix[y*gb.Stride+x]))
		}
	}
	return 1 - diff/(float64(w*h)*255), nil
}

// FeatureSimilarity detects corner features in the original and correlates
// local patches against the candidate near the same positions. The score is
// the mean best normalized cross-correlation over all matched features.
func FeatureSimilarity(a, b image.Image) (float64, error) {
	ga, gb, err := alignedGray(a, b)
	if err != nil {
		return 0, err
	}
	corners := detectCorners(ga, 64)
	if len(corners) == 0 {
		return 0, errors.New("vision: no corner features detected")
	}
	const patch = 9
	const search = 8

	var total float64
	matched := 0
	for _, c := range corners {
		best := math.Inf(-1)
		for dy := -search; dy <= search; dy += 2 {
			for dx := -search; dx <= search; dx += 2 {
				if s, ok := patchNCC(ga, gb, c.X, c.Y, c.X+dx, c.Y+dy, patch); ok && s > best {
					best = s
				}
			}
		}
		if !math.IsInf(best, -1) {
			total += math.Max(0, best)
			matched++
		}
	}
	if matched == 0 {
		return 0, errors.New("vision: no feature patches compared")
	}
	return total / float64(matched), nil
}

func normalizedHistogram(img image.Image) ([256]float64, error) {
	var out [256]float64
	g := ToGray(img)
	if len(g.Pix) == 0 {
		return out, errEmptyImage
	}
	hist := Histogram(g)
	total := float64(len(g.Pix))
	for i, c := range hist {
		out[i] = float64(c) / total
	}
	return out, nil
}

// alignedGray converts both images to greyscale and scales the candidate to
// the original's dimensions.
func alignedGray(a, b image.Image) (*image.Gray, *image.Gray, error) {
	ga := ToGray(a)
	w, h := ga.Bounds().Dx(), ga.Bounds().Dy()
	if w == 0 || h == 0 {
		return nil, nil, errEmptyImage
	}
	gb := ToGray(b)
	if gb.Bounds().Dx() == 0 || gb.Bounds().Dy() == 0 {
		return nil, nil, errEmptyImage
	}
	if gb.Bounds().Dx() != w || gb.Bounds().Dy() != h {
		gb = ToGray(resize.Resize(uint(w), uint(h), gb, resize.Bilinear))
	}
	return ga, gb, nil
}

// detectCorners returns up to n high-response corner points using a gradient
// product response with local non-maximum suppression.
func detectCorners(g *image.Gray, n int) []image.Point {
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	if w < 3 || h < 3 {
		return nil
	}
	type scored struct {
		p image.Point
		r float64
	}
	at := func(x, y int) float64 { return float64(g.Pix[y*g.Stride+x]) }

	var candidates []scored
	const step = 4
	for y := step; y < h-step; y += step {
		for x := step; x < w-step; x += step {
			gx := at(x+1, y) - at(x-1, y)
			gy := at(x, y+1) - at(x, y-1)
			// Harris-style response with fixed k on a single pixel window.
			ixx, iyy, ixy := gx*gx, gy*gy, gx*gy
			r := ixx*iyy - ixy*ixy - 0.04*(ixx+iyy)*(ixx+iyy)
			if r > 1000 {
				candidates = append(candidates, scored{image.Pt(x, y), r})
			}
		}
	}
	// Keep the strongest n, preferring spread via the grid step above.
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			if candidates[j].r > candidates[i].r {
				candidates[i], candidates[j] = candidates[j], candidates[i]
			}
		}
	}
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	points := make([]image.Point, len(candidates))
	for i, c := range candidates {
		points[i] = c.p
	}
	return points
}

// patchNCC computes normalized cross-correlation between a size x size patch
// at (ax,ay) in a and (bx,by) in b. Returns false when the patch falls
// outside either image or has zero variance.
func patchNCC(a, b *image.Gray, ax, ay, bx, by, size int) (float64, bool) {
	half := size / 2
	aw, ah := a.Bounds().Dx(), a.Bounds().Dy()
	bw, bh := b.Bounds().Dx(), b.Bounds().Dy()
	if ax-half < 0 || ay-half < 0 || ax+half >= aw || ay+half >= ah {
		return 0, false
	}
	if bx-half < 0 || by-half < 0 || bx+half >= bw || by+half >= bh {
		return 0, false
	}
	var sumA, sumB float64
	n := float64(size * size)
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			sumA += float64(a.Pix[(ay+dy)*a.Stride+ax+dx])
			sumB += float64(b.Pix[(by+dy)*b.Stride+bx+dx])
		}
	}
	muA, muB := sumA/n, sumB/n
	var num, denA, denB float64
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			da := float64(a.Pix[(ay+dy)*a.Stride+ax+dx]) - muA
			db := float64(b.Pix[(by+dy)*b.Stride+bx+dx]) - muB
			num += da * db
			denA += da * da
			denB += db * db
		}
	}
	if denA == 0 || denB == 0 {
		return 0, false
	}
	return num / math.Sqrt(denA*denB), true
}
