package search

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"phishdetect/internal/vision"
)

const (
	googleSearchURL  = "https://www.google.com/search"
	googleReverseURL = "https://www.google.com/searchbyimage/upload"
	maxResultsPerRun = 10
)

// GoogleEngine implements Engine by scraping Google result pages. Text mode
// segments the screenshot, classifies candidate logo regions and searches on
// the labels; image mode uploads the screenshot for reverse image search,
// optionally hinted with the page's registered domain.
type GoogleEngine struct {
	client     *http.Client
	agents     *userAgents
	extractor  *vision.Extractor
	classifier Classifier
	writer     ResultWriter
	logger     *zap.Logger
}

func NewGoogleEngine(extractor *vision.Extractor, classifier Classifier, writer ResultWriter, logger *zap.Logger) *GoogleEngine {
	return &GoogleEngine{
		client:     &http.Client{Timeout: 15 * time.Second},
		agents:     defaultUserAgents(time.Now().UnixNano()),
		extractor:  extractor,
		classifier: classifier,
		writer:     writer,
		logger:     logger,
	}
}

func (e *GoogleEngine) Search(ctx context.Context, req Request) error {
	var results []string
	var err error
	switch req.Mode {
	case ModeImage:
		results, err = e.searchByImage(ctx, req)
	default:
		results, err = e.searchByText(ctx, req)
	}
	if err != nil {
		return err
	}
	if len(results) > maxResultsPerRun {
		results = results[:maxResultsPerRun]
	}
	e.logger.Info("search run finished",
		zap.String("mode", string(req.Mode)),
		zap.String("key", req.URLHash),
		zap.Int("results", len(results)))
	if len(results) == 0 {
		return nil
	}
	return e.writer.StoreSearchResults(ctx, req.Mode.Stage(), req.URLHash, results)
}

// searchByText classifies segmented regions into logo labels and queries the
// result page for each distinct label.
func (e *GoogleEngine) searchByText(ctx context.Context, req Request) ([]string, error) {
	labels := e.regionLabels(ctx, req.Screenshot)
	if len(labels) == 0 {
		return nil, nil
	}

	var results []string
	for _, label := range labels {
		q := url.Values{"q": {label}}
		links, err := e.fetchResults(ctx, googleSearchURL+"?"+q.Encode(), nil, "")
		if err != nil {
			e.logger.Warn("text search failed", zap.String("label", label), zap.Error(err))
			continue
		}
		results = append(results, links...)
	}
	return dedupe(results), nil
}

// searchByImage uploads the screenshot and scrapes the "pages that include
// matching images" links. The domain hint narrows results when present.
func (e *GoogleEngine) searchByImage(ctx context.Context, req Request) ([]string, error) {
	if req.Screenshot == nil {
		return nil, fmt.Errorf("image search without screenshot")
	}
	if !req.Upload {
		// Reverse image search cannot run without uploading the capture.
		return nil, nil
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("encoded_image", req.URLHash+".png")
	if err != nil {
		return nil, err
	}
	if err := png.Encode(fw, req.Screenshot); err != nil {
		return nil, err
	}
	if req.DomainHint != "" {
		_ = mw.WriteField("q", req.DomainHint)
	}
	mw.Close()

	links, err := e.fetchResults(ctx, googleReverseURL, &body, mw.FormDataContentType())
	if err != nil {
		return nil, err
	}
	return dedupe(links), nil
}

// regionLabels runs segmentation and asks the classifier to label each
// region. Classification failures drop the region, not the run.
func (e *GoogleEngine) regionLabels(ctx context.Context, screenshot image.Image) []string {
	if screenshot == nil {
		return nil
	}
	seen := make(map[string]bool)
	var labels []string
	for _, region := range e.extractor.FindRegions(screenshot) {
		label, err := e.classifier.Classify(ctx, region.Fingerprint)
		if err != nil {
			e.logger.Debug("region classification failed", zap.Error(err))
			continue
		}
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true
		labels = append(labels, label)
	}
	return labels
}

// fetchResults GETs or POSTs a search page and extracts outbound result
// links from its anchors.
func (e *GoogleEngine) fetchResults(ctx context.Context, target string, body *bytes.Buffer, contentType string) ([]string, error) {
	method := http.MethodGet
	var reader *bytes.Buffer
	if body != nil {
		method = http.MethodPost
		reader = body
	} else {
		reader = &bytes.Buffer{}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", e.agents.pick())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, err
	}
	return ExtractResultLinks(doc), nil
}

// ExtractResultLinks pulls external result URLs out of a scraped search
// page, unwrapping Google's /url?q= redirect form.
func ExtractResultLinks(doc *goquery.Document) []string {
	var links []string
	doc.Find("a").Each(func(i int, s *goquery.Selection) {
		href, exists := s.Attr("href")
		if !exists {
			return
		}
		if strings.HasPrefix(href, "/url?") {
			if u, err := url.Parse(href); err == nil {
				href = u.Query().Get("q")
			}
		}
		if !strings.HasPrefix(href, "http://") && !strings.HasPrefix(href, "https://") {
			return
		}
		if strings.Contains(href, "google.") {
			return
		}
		links = append(links, href)
	})
	return dedupe(links)
}

func dedupe(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := urls[:0]
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}
