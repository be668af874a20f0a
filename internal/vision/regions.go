// Package vision segments screenshots into candidate logo/text regions and
// scores rendered pages against each other with independent similarity
// metrics.
package vision

import (
	"image"

	"go.uber.org/zap"

	"phishdetect/internal/domain"
)

// Pixel margin added around every detected bounding box for context; slightly
// larger crops search noticeably better.
const regionMargin = 5

// NoParent marks a region whose contour is not nested inside another.
const NoParent = -2

// Extractor finds candidate regions in screenshots.
type Extractor struct {
	logger *zap.Logger
}

func NewExtractor(logger *zap.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// FindRegions segments a screenshot into candidate regions. The pass runs
// twice, once per threshold polarity, so both dark-on-light and light-on-dark
// layouts produce blobs. The containment relation between candidates is
// computed per pair but candidates are kept regardless; downstream
// classification sees both container and contained regions.
func (e *Extractor) FindRegions(img image.Image) []domain.Region {
	regions := e.findRegionsPass(img, true)
	regions = append(regions, e.findRegionsPass(img, false)...)

	kept := make([]domain.Region, 0, len(regions))
	for i, r := range regions {
		contained := false
		for j, other := range regions {
			if i == j {
				continue
			}
			if containedIn(r.Bounds, other.Bounds) {
				contained = true
				break
			}
		}
		// Contained candidates are flagged but not removed.
		_ = contained
		kept = append(kept, r)
	}
	return kept
}

func (e *Extractor) findRegionsPass(img image.Image, invert bool) []domain.Region {
	grey := ToGray(img)
	if uniform(grey) {
		// A blank or solid-color capture has no separable content; Otsu has
		// no variance to split on.
		return nil
	}
	bin := Binarize(grey, OtsuThreshold(grey), invert)

	// Merge characters and icon fragments into logo-sized blobs without
	// over-merging unrelated areas: grow, close gaps, then restore extents.
	bin = Dilate(bin, 7, 5)
	bin = Close(bin, 5, 5)
	bin = Erode(bin, 4, 4)

	comps := labelComponents(bin)
	e.logger.Debug("segmentation pass finished",
		zap.Bool("inverted", invert), zap.Int("components", len(comps)))

	w, h := grey.Bounds().Dx(), grey.Bounds().Dy()
	regions := make([]domain.Region, 0, len(comps))
	for i, c := range comps {
		box := c.bounds
		if box.Dx() >= w && box.Dy() >= h {
			// The polarity that selects the page background produces one
			// blob spanning the whole frame; it is not a region.
			continue
		}
		crop := image.Rect(
			max(0, box.Min.X-regionMargin), max(0, box.Min.Y-regionMargin),
			min(w, box.Max.X+regionMargin), min(h, box.Max.Y+regionMargin),
		)
		if crop.Dx() <= 0 || crop.Dy() <= 0 {
			continue
		}
		sub := subImage(img, crop)
		regions = append(regions, domain.Region{
			Image:       sub,
			Bounds:      crop,
			ContourID:   i,
			Parent:      parentOf(comps, i),
			Inverted:    invert,
			Fingerprint: Fingerprint(sub, invert),
		})
	}
	return regions
}

type component struct {
	bounds image.Rectangle
}

// labelComponents finds 8-connected foreground components of a binary image
// via union-find, returning one bounding box per component.
func labelComponents(bin *image.Gray) []component {
	w, h := bin.Bounds().Dx(), bin.Bounds().Dy()
	labels := make([]int, w*h)
	parent := []int{0} // parent[0] unused, labels start at 1

	find := func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	next := 1
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if bin.Pix[y*bin.Stride+x] == 0 {
				continue
			}
			// Neighbors already scanned: W, NW, N, NE.
			var neighbors []int
			for _, d := range [][2]int{{-1, 0}, {-1, -1}, {0, -1}, {1, -1}} {
				nx, ny := x+d[0], y+d[1]
				if nx < 0 || ny < 0 || nx >= w {
					continue
				}
				if l := labels[ny*w+nx]; l != 0 {
					neighbors = append(neighbors, l)
				}
			}
			if len(neighbors) == 0 {
				parent = append(parent, next)
				labels[y*w+x] = next
				next++
				continue
			}
			m := neighbors[0]
			for _, n := range neighbors[1:] {
				if n < m {
					m = n
				}
			}
			labels[y*w+x] = m
			for _, n := range neighbors {
				union(m, n)
			}
		}
	}

	byRoot := make(map[int]*image.Rectangle)
	var order []int
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			l := labels[y*w+x]
			if l == 0 {
				continue
			}
			root := find(l)
			if r, ok := byRoot[root]; ok {
				r.Min.X = min(r.Min.X, x)
				r.Min.Y = min(r.Min.Y, y)
				r.Max.X = max(r.Max.X, x+1)
				r.Max.Y = max(r.Max.Y, y+1)
			} else {
				rect := image.Rect(x, y, x+1, y+1)
				byRoot[root] = &rect
				order = append(order, root)
			}
		}
	}

	comps := make([]component, 0, len(byRoot))
	for _, root := range order {
		comps = append(comps, component{bounds: *byRoot[root]})
	}
	return comps
}

// parentOf resolves the nesting link for component i: the smallest other
// component whose box strictly contains it, or NoParent.
func parentOf(comps []component, i int) int {
	best, bestArea := NoParent, 0
	for j, c := range comps {
		if j == i || !containedIn(comps[i].bounds, c.bounds) {
			continue
		}
		area := c.bounds.Dx() * c.bounds.Dy()
		if best == NoParent || area < bestArea {
			best, bestArea = j, area
		}
	}
	return best
}

// containedIn reports whether a fits fully inside b on both axes.
func containedIn(a, b image.Rectangle) bool {
	if a == b {
		return false
	}
	return a.Min.X >= b.Min.X && a.Max.X <= b.Max.X &&
		a.Min.Y >= b.Min.Y && a.Max.Y <= b.Max.Y
}

// uniform reports whether every pixel has the same intensity.
func uniform(g *image.Gray) bool {
	b := g.Bounds()
	if b.Empty() {
		return true
	}
	first := g.GrayAt(b.Min.X, b.Min.Y).Y
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if g.GrayAt(x, y).Y != first {
				return false
			}
		}
	}
	return true
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

func subImage(img image.Image, r image.Rectangle) image.Image {
	if s, ok := img.(subImager); ok {
		return s.SubImage(r.Add(img.Bounds().Min))
	}
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			out.Set(x, y, img.At(img.Bounds().Min.X+r.Min.X+x, img.Bounds().Min.Y+r.Min.Y+y))
		}
	}
	return out
}
