package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"phishdetect/internal/domain"
)

// HTTPClassifier calls the pretrained logo classifier over HTTP. The model
// itself is external; this client only ships fingerprints and reads labels.
type HTTPClassifier struct {
	url    string
	client *http.Client
}

func NewHTTPClassifier(url string) *HTTPClassifier {
	return &HTTPClassifier{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

type classifyRequest struct {
	DistinctColors   int     `json:"distinct_colors"`
	DominantColorPct float64 `json:"dominant_color_pct"`
	Mean             float64 `json:"mean"`
	StdDev           float64 `json:"std_dev"`
	Skewness         float64 `json:"skewness"`
	Kurtosis         float64 `json:"kurtosis"`
	Entropy          float64 `json:"entropy"`
	Otsu             int     `json:"otsu"`
	WaveletEnergy    float64 `json:"wavelet_energy"`
	OccupiedBins     int     `json:"occupied_bins"`
}

type classifyResponse struct {
	Label string `json:"label"`
}

func (c *HTTPClassifier) Classify(ctx context.Context, fp domain.RegionFingerprint) (string, error) {
	payload, err := json.Marshal(classifyRequest{
		DistinctColors:   fp.DistinctColors,
		DominantColorPct: fp.DominantColorPct,
		Mean:             fp.Mean,
		StdDev:           fp.StdDev,
		Skewness:         fp.Skewness,
		Kurtosis:         fp.Kurtosis,
		Entropy:          fp.Entropy,
		Otsu:             fp.Otsu,
		WaveletEnergy:    fp.WaveletEnergy,
		OccupiedBins:     fp.OccupiedBins,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}

	var out classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Label, nil
}

// NoopClassifier labels nothing. Used when no classifier endpoint is
// configured, which degrades text search to producing no candidates.
type NoopClassifier struct{}

func (NoopClassifier) Classify(context.Context, domain.RegionFingerprint) (string, error) {
	return "", nil
}
