package api

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"image"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"phishdetect/internal/capture"
	"phishdetect/internal/domain"
	"phishdetect/internal/netident"
)

type checkURLRequest struct {
	URL        string `json:"URL"`
	UUID       string `json:"uuid"`
	PhishURL   string `json:"phishURL,omitempty"`   // evaluation override, replaces URL when set
	Screenshot string `json:"screenshot,omitempty"` // base64 PNG; captured server-side when absent
}

type urlStateResponse struct {
	Status domain.Result `json:"status"`
	State  domain.Stage  `json:"state"`
}

// handleCheckURL runs the full decision pipeline for one URL and blocks
// until a verdict (or the bounded duplicate wait) is reached.
func (s *Server) handleCheckURL(w http.ResponseWriter, r *http.Request) {
	var req checkURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	url := req.URL
	if req.PhishURL != "" {
		url = req.PhishURL
	}
	if _, err := netident.Hostname(url); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid URL: "+url)
		return
	}

	sessionID := req.UUID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	urlHash := sha1Hex(url)
	s.logger.Info("check request received",
		zap.String("url", url), zap.String("session", sessionID), zap.String("sha1", urlHash))

	screenshot, width, height, err := s.obtainScreenshot(r.Context(), url, req.Screenshot, urlHash)
	if err != nil {
		s.logger.Warn("screenshot unavailable", zap.String("url", url), zap.Error(err))
		// The pipeline still runs; stages degrade to whatever evidence the
		// search cache already holds.
	}

	result, err := s.pipeline.Check(r.Context(), domain.CheckRequest{
		SessionID:  sessionID,
		URL:        url,
		URLHash:    urlHash,
		Screenshot: screenshot,
		Width:      width,
		Height:     height,
	})
	if err != nil {
		s.logger.Error("pipeline failed", zap.String("url", url), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not process URL")
		return
	}

	s.respondWithJSON(w, http.StatusOK, []domain.CheckResponse{
		{URL: url, Status: result, SHA1: urlHash},
	})
}

// handleURLState reports the stored state for (uuid, URL) without running
// the pipeline.
func (s *Server) handleURLState(w http.ResponseWriter, r *http.Request) {
	var req checkURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rec, found, err := s.pgStore.GetState(r.Context(), req.UUID, req.URL)
	if err != nil {
		s.logger.Error("state lookup failed", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not retrieve state")
		return
	}
	if !found {
		s.respondWithJSON(w, http.StatusOK, []urlStateResponse{{Status: domain.ResultNew}})
		return
	}
	s.respondWithJSON(w, http.StatusOK, []urlStateResponse{{Status: rec.Result, State: rec.Stage}})
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	healthStatus := make(map[string]string)

	if err := s.pgStore.Ping(ctx); err != nil {
		healthStatus["postgres"] = "unhealthy"
		s.logger.Error("health check failed for postgres", zap.Error(err))
	} else {
		healthStatus["postgres"] = "healthy"
	}

	if err := s.redisStore.Ping(ctx); err != nil {
		healthStatus["redis"] = "unhealthy"
		s.logger.Error("health check failed for redis", zap.Error(err))
	} else {
		healthStatus["redis"] = "healthy"
	}

	isHealthy := healthStatus["postgres"] == "healthy" && healthStatus["redis"] == "healthy"
	if !isHealthy {
		s.respondWithJSON(w, http.StatusServiceUnavailable, healthStatus)
		return
	}

	s.respondWithJSON(w, http.StatusOK, healthStatus)
}

// obtainScreenshot decodes the client-provided capture, or renders the page
// itself when the request did not include one. Screenshots are persisted
// under the session directory for inspection when a directory is configured.
func (s *Server) obtainScreenshot(ctx context.Context, url, encoded, urlHash string) (image.Image, int, int, error) {
	var raw []byte
	var err error
	if encoded != "" {
		raw, err = base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, 0, 0, err
		}
	} else {
		raw, err = s.renderer.Capture(ctx, url, 1920, 1080)
		if err != nil {
			return nil, 0, 0, err
		}
	}

	img, err := capture.Decode(raw)
	if err != nil {
		return nil, 0, 0, err
	}

	if dir := s.config.ScreenshotDir; dir != "" {
		shotDir := filepath.Join(dir, urlHash)
		if err := os.MkdirAll(shotDir, 0o755); err == nil {
			if err := os.WriteFile(filepath.Join(shotDir, "screen.png"), raw, 0o644); err != nil {
				s.logger.Debug("screenshot save failed", zap.Error(err))
			}
		}
	}

	b := img.Bounds()
	return img, b.Dx(), b.Dy(), nil
}

func sha1Hex(v string) string {
	sum := sha1.Sum([]byte(v))
	return hex.EncodeToString(sum[:])
}

// --- Helper Functions ---

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, map[string]string{"error": message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
