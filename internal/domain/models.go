package domain

import (
	"image"
	"time"
)

// Result is the user-visible outcome of a phishing check.
type Result string

const (
	ResultNew          Result = "new" // sentinel, never stored
	ResultProcessing   Result = "processing"
	ResultNotPhishing  Result = "not phishing"
	ResultPhishing     Result = "phishing"
	ResultInconclusive Result = "inconclusive"
)

// Terminal reports whether a result is absorbing: once stored it is never
// overwritten and cached lookups return it without re-running the pipeline.
func (r Result) Terminal() bool {
	switch r {
	case ResultNotPhishing, ResultPhishing, ResultInconclusive:
		return true
	}
	return false
}

// Stage identifies which step of the pipeline a processing request is in.
type Stage string

const (
	StageNone         Stage = ""
	StageTextSearch   Stage = "textsearch"
	StageImageSearch  Stage = "imagesearch"
	StageImageCompare Stage = "imagecompare"
)

// RequestRecord is one row of the session store, keyed by (SessionID, URL).
type RequestRecord struct {
	SessionID        string
	URL              string
	RegisteredDomain string // derived once at insert, immutable
	Result           Result
	Stage            Stage
	CreatedAt        time.Time
}

// CandidateURL is a URL returned by a search stage. Candidates are ephemeral;
// they live only for the pipeline invocation that produced them.
type CandidateURL struct {
	URL    string
	Source Stage // StageTextSearch or StageImageSearch
}

// CheckRequest carries everything the pipeline needs for one decision.
type CheckRequest struct {
	SessionID  string
	URL        string
	URLHash    string // sha1 of URL, keys screenshots and search results
	Screenshot image.Image
	Width      int
	Height     int
}

// CheckResponse is the payload returned to the HTTP layer.
type CheckResponse struct {
	URL    string `json:"url"`
	Status Result `json:"status"`
	SHA1   string `json:"sha1"`
}

// RegionFingerprint is the statistical summary of one segmented region,
// consumed by the logo classifier.
type RegionFingerprint struct {
	DistinctColors   int
	DominantColorPct float64
	Mean             float64
	StdDev           float64
	Skewness         float64
	Kurtosis         float64
	Entropy          float64
	Otsu             int
	WaveletEnergy    float64
	OccupiedBins     int
}

// Region is one candidate logo/text area cut out of a screenshot.
// Regions are immutable once computed; ownership passes to the caller.
type Region struct {
	Image       image.Image
	Bounds      image.Rectangle
	ContourID   int
	Parent      int // parent contour index, -2 when the pass produced no hierarchy
	Inverted    bool
	Fingerprint RegionFingerprint
}

// SimilarityVerdict holds the five per-candidate similarity scores. A metric
// that failed to compute is left nil and never satisfies the verdict rule.
type SimilarityVerdict struct {
	CandidateURL  string
	EMD           *float64
	PerceptualSim *float64
	StructuralSim *float64
	PixelSim      *float64
	FeatureSim    *float64
}

// IsPhishing applies the verdict rule: a candidate screenshot counts as a
// phishing match when the intensity distributions are near-identical and the
// structural score is high. Comparisons are strict.
func (v SimilarityVerdict) IsPhishing() bool {
	if v.EMD == nil || v.StructuralSim == nil {
		return false
	}
	emd, ssim := *v.EMD, *v.StructuralSim
	return (emd < 0.001 && ssim > 0.70) || (emd < 0.002 && ssim > 0.80)
}
