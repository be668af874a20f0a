package vision_test

import (
	"image"
	"image/color"
	"math"
	"testing"

	"go.uber.org/zap"

	"phishdetect/internal/vision"
)

// patterned builds a deterministic non-uniform test image.
func patterned(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x*31 + y*17 + (x/8)*(y/8)*11) % 256)})
		}
	}
	return img
}

func TestEarthMoversDistanceIdenticalImages(t *testing.T) {
	a := patterned(64, 64)
	emd, err := vision.EarthMoversDistance(a, a)
	if err != nil {
		t.Fatalf("EarthMoversDistance returned error: %v", err)
	}
	if emd != 0 {
		t.Fatalf("expected EMD 0 for identical images, got %v", emd)
	}
}

func TestEarthMoversDistanceShiftedIntensities(t *testing.T) {
	a := solidImage(32, 32, color.Gray{Y: 100})
	b := solidImage(32, 32, color.Gray{Y: 200})
	emd, err := vision.EarthMoversDistance(a, b)
	if err != nil {
		t.Fatalf("EarthMoversDistance returned error: %v", err)
	}
	// Moving all mass 100 intensity steps on a [0,1] axis costs 100/255.
	want := 100.0 / 255
	if math.Abs(emd-want) > 1e-9 {
		t.Fatalf("expected EMD %v, got %v", want, emd)
	}
}

func TestStructuralSimilarityIdenticalImages(t *testing.T) {
	a := patterned(64, 64)
	ssim, err := vision.StructuralSimilarity(a, a)
	if err != nil {
		t.Fatalf("StructuralSimilarity returned error: %v", err)
	}
	if math.Abs(ssim-1) > 1e-9 {
		t.Fatalf("expected SSIM 1 for identical images, got %v", ssim)
	}
}

func TestStructuralSimilarityDistinctImages(t *testing.T) {
	a := patterned(64, 64)
	b := solidImage(64, 64, color.White)
	ssim, err := vision.StructuralSimilarity(a, b)
	if err != nil {
		t.Fatalf("StructuralSimilarity returned error: %v", err)
	}
	if ssim > 0.9 {
		t.Fatalf("expected low SSIM for unrelated images, got %v", ssim)
	}
}

func TestPixelSimilarity(t *testing.T) {
	a := patterned(32, 32)
	sim, err := vision.PixelSimilarity(a, a)
	if err != nil {
		t.Fatalf("PixelSimilarity returned error: %v", err)
	}
	if sim != 1 {
		t.Fatalf("expected pixel similarity 1 for identical images, got %v", sim)
	}

	b := solidImage(32, 32, color.White)
	c := solidImage(32, 32, color.Black)
	sim, err = vision.PixelSimilarity(b, c)
	if err != nil {
		t.Fatalf("PixelSimilarity returned error: %v", err)
	}
	if sim != 0 {
		t.Fatalf("expected pixel similarity 0 for inverse images, got %v", sim)
	}
}

func TestPerceptualSimilarityIdenticalImages(t *testing.T) {
	a := patterned(64, 64)
	sim, err := vision.PerceptualSimilarity(a, a)
	if err != nil {
		t.Fatalf("PerceptualSimilarity returned error: %v", err)
	}
	if sim != 1 {
		t.Fatalf("expected perceptual similarity 1 for identical images, got %v", sim)
	}
}

func TestMetricsRejectEmptyImages(t *testing.T) {
	empty := image.NewGray(image.Rect(0, 0, 0, 0))
	full := patterned(16, 16)
	if _, err := vision.EarthMoversDistance(empty, full); err == nil {
		t.Error("EarthMoversDistance: expected error for empty image")
	}
	if _, err := vision.StructuralSimilarity(empty, full); err == nil {
		t.Error("StructuralSimilarity: expected error for empty image")
	}
	if _, err := vision.PixelSimilarity(full, empty); err == nil {
		t.Error("PixelSimilarity: expected error for empty image")
	}
}

// A failing metric must surface as an absent score, not a zero.
func TestCompareRecordsFailedMetricsAsAbsent(t *testing.T) {
	c := vision.NewComparer(zap.NewNop())
	// 2x2 images are too small for corner features, so the feature metric
	// fails while the distribution metrics still compute.
	tiny := solidImage(2, 2, color.White)
	v := c.Compare(tiny, tiny, "https://candidate.example.net")
	if v.FeatureSim != nil {
		t.Errorf("expected feature score absent, got %v", *v.FeatureSim)
	}
	if v.EMD == nil {
		t.Error("expected EMD present for identical tiny images")
	}
	if v.EMD != nil && *v.EMD != 0 {
		t.Errorf("expected EMD 0, got %v", *v.EMD)
	}
}
