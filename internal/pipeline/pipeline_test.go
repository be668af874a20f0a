package pipeline_test

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"phishdetect/internal/domain"
	"phishdetect/internal/monitoring"
	"phishdetect/internal/netident"
	"phishdetect/internal/pipeline"
	"phishdetect/internal/search"
)

type fakeStore struct {
	mu               sync.Mutex
	rows             map[string]domain.RequestRecord
	results          map[domain.Stage][]string
	textSearchWrites int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rows:    make(map[string]domain.RequestRecord),
		results: make(map[domain.Stage][]string),
	}
}

func (s *fakeStore) key(sessionID, url string) string { return sessionID + "|" + url }

func (s *fakeStore) GetState(_ context.Context, sessionID, url string) (domain.RequestRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[s.key(sessionID, url)]
	return rec, ok, nil
}

func (s *fakeStore) StoreState(ctx context.Context, sessionID, url string, result domain.Result, stage domain.Stage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.rows[s.key(sessionID, url)]
	if !ok {
		rec = domain.RequestRecord{
			SessionID:        sessionID,
			URL:              url,
			RegisteredDomain: netident.RegisteredDomain(url),
			CreatedAt:        time.Now(),
		}
	}
	rec.Result = result
	rec.Stage = stage
	s.rows[s.key(sessionID, url)] = rec
	if stage == domain.StageTextSearch {
		s.textSearchWrites++
	}
	return nil
}

func (s *fakeStore) SearchResults(_ context.Context, stage domain.Stage, _ string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results[stage], nil
}

type fakeEngine struct {
	mu      sync.Mutex
	calls   []search.Mode
	started chan struct{} // closed on first call
	block   chan struct{} // when non-nil, Search waits on it
	once    sync.Once
}

func (e *fakeEngine) Search(_ context.Context, req search.Request) error {
	e.mu.Lock()
	e.calls = append(e.calls, req.Mode)
	e.mu.Unlock()
	if e.started != nil {
		e.once.Do(func() { close(e.started) })
	}
	if e.block != nil {
		<-e.block
	}
	return nil
}

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

type fakeRenderer struct {
	mu       sync.Mutex
	captured []string
	fail     map[string]bool
}

func (r *fakeRenderer) Capture(_ context.Context, url string, _, _ int) ([]byte, error) {
	r.mu.Lock()
	r.captured = append(r.captured, url)
	r.mu.Unlock()
	if r.fail[url] {
		return nil, errors.New("navigation failed")
	}
	return []byte(url), nil
}

func (r *fakeRenderer) captures() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.captured...)
}

type fakeComparer struct {
	phishing map[string]bool
}

func (c *fakeComparer) Compare(_, _ image.Image, candidateURL string) domain.SimilarityVerdict {
	v := domain.SimilarityVerdict{CandidateURL: candidateURL}
	if c.phishing[candidateURL] {
		emd, ssim := 0.0005, 0.9
		v.EMD, v.StructuralSim = &emd, &ssim
	} else {
		emd, ssim := 0.5, 0.1
		v.EMD, v.StructuralSim = &emd, &ssim
	}
	return v
}

type fakeSANResolver struct {
	names map[string][]string
}

func (r *fakeSANResolver) SANNames(_ context.Context, hostname string) []string {
	return r.names[hostname]
}

func stubDecode([]byte) (image.Image, error) {
	return image.NewGray(image.Rect(0, 0, 1, 1)), nil
}

type env struct {
	store    *fakeStore
	engine   *fakeEngine
	renderer *fakeRenderer
	comparer *fakeComparer
	sans     *fakeSANResolver
	pipeline *pipeline.Pipeline
}

func newEnv(t *testing.T, opts pipeline.Options) *env {
	t.Helper()
	e := &env{
		store:    newFakeStore(),
		engine:   &fakeEngine{},
		renderer: &fakeRenderer{fail: make(map[string]bool)},
		comparer: &fakeComparer{phishing: make(map[string]bool)},
		sans:     &fakeSANResolver{names: make(map[string][]string)},
	}
	e.pipeline = pipeline.New(e.store, nil, e.engine, e.renderer, e.comparer,
		e.sans, stubDecode, pipeline.DefaultFilter(), opts,
		monitoring.NewMetricsWith(prometheus.NewRegistry()), zap.NewNop())
	return e
}

func request(url string) domain.CheckRequest {
	return domain.CheckRequest{
		SessionID:  "session-1",
		URL:        url,
		URLHash:    "hash-1",
		Screenshot: image.NewGray(image.Rect(0, 0, 4, 4)),
		Width:      4,
		Height:     4,
	}
}

func TestInvalidURLFailsRequest(t *testing.T) {
	e := newEnv(t, pipeline.Options{})
	if _, err := e.pipeline.Check(context.Background(), request("https://")); err == nil {
		t.Fatal("expected error for URL without authority")
	}
	if e.engine.callCount() != 0 {
		t.Fatal("invalid URL must not reach the search engine")
	}
}

// The end-to-end scenario: a search candidate on the page's own registered
// domain short-circuits to not phishing before any rendering happens.
func TestDomainMatchShortCircuit(t *testing.T) {
	e := newEnv(t, pipeline.Options{})
	e.store.results[domain.StageTextSearch] = []string{"https://good.example.com/page"}

	result, err := e.pipeline.Check(context.Background(), request("http://good.example.com"))
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if result != domain.ResultNotPhishing {
		t.Fatalf("expected not phishing, got %q", result)
	}
	if got := e.engine.callCount(); got != 1 {
		t.Fatalf("expected only the text search to run, got %d search calls", got)
	}
	if caps := e.renderer.captures(); len(caps) != 0 {
		t.Fatalf("image compare must not be reached, rendered %v", caps)
	}
}

// SAN evidence alone can corroborate the page domain.
func TestDomainMatchViaSANNames(t *testing.T) {
	e := newEnv(t, pipeline.Options{})
	e.store.results[domain.StageImageSearch] = []string{"https://cdn.brandhost.net/logo"}
	e.sans.names["cdn.brandhost.net"] = []string{"www.example.com"}

	result, err := e.pipeline.Check(context.Background(), request("http://good.example.com"))
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if result != domain.ResultNotPhishing {
		t.Fatalf("expected not phishing via SAN corroboration, got %q", result)
	}
}

func TestInconclusiveWhenCandidatesExhausted(t *testing.T) {
	e := newEnv(t, pipeline.Options{})
	e.store.results[domain.StageTextSearch] = []string{"https://unrelated-a.net/x"}
	e.store.results[domain.StageImageSearch] = []string{"https://unrelated-b.net/y"}

	result, err := e.pipeline.Check(context.Background(), request("http://good.example.com"))
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if result != domain.ResultInconclusive {
		t.Fatalf("expected inconclusive, got %q", result)
	}
	if got := len(e.renderer.captures()); got != 2 {
		t.Fatalf("expected both candidates rendered, got %d", got)
	}
}

// The first visually matching candidate halts the loop; later candidates are
// never rendered.
func TestVisualMatchHaltsOnFirstHit(t *testing.T) {
	e := newEnv(t, pipeline.Options{})
	e.store.results[domain.StageTextSearch] = []string{"https://miss.net/a"}
	e.store.results[domain.StageImageSearch] = []string{"https://hit.net/b", "https://after.net/c"}
	e.comparer.phishing["https://hit.net/b"] = true

	result, err := e.pipeline.Check(context.Background(), request("http://victim.example.org"))
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if result != domain.ResultPhishing {
		t.Fatalf("expected phishing, got %q", result)
	}
	caps := e.renderer.captures()
	if len(caps) != 2 || caps[0] != "https://miss.net/a" || caps[1] != "https://hit.net/b" {
		t.Fatalf("expected ordered renders up to the hit, got %v", caps)
	}
}

// Render failures skip the candidate instead of failing the request.
func TestRenderFailureSkipsCandidate(t *testing.T) {
	e := newEnv(t, pipeline.Options{})
	e.store.results[domain.StageTextSearch] = []string{"https://broken.net/a", "https://hit.net/b"}
	e.renderer.fail["https://broken.net/a"] = true
	e.comparer.phishing["https://hit.net/b"] = true

	result, err := e.pipeline.Check(context.Background(), request("http://victim.example.org"))
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if result != domain.ResultPhishing {
		t.Fatalf("expected phishing from the second candidate, got %q", result)
	}
}

// Filtered candidates are never rendered.
func TestDenylistedCandidatesSkipped(t *testing.T) {
	e := newEnv(t, pipeline.Options{})
	e.store.results[domain.StageTextSearch] = []string{
		"https://www.britannica.com/dictionary/dot",
		"https://icons.example.net/horizontal-bar.png",
	}

	result, err := e.pipeline.Check(context.Background(), request("http://victim.example.org"))
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if result != domain.ResultInconclusive {
		t.Fatalf("expected inconclusive, got %q", result)
	}
	if caps := e.renderer.captures(); len(caps) != 0 {
		t.Fatalf("filtered candidates must not be rendered, got %v", caps)
	}
}

// A terminal result is absorbing: repeat checks return it from the store
// without invoking any collaborator.
func TestTerminalResultIdempotent(t *testing.T) {
	e := newEnv(t, pipeline.Options{})
	req := request("http://good.example.com")
	if err := e.store.StoreState(context.Background(), req.SessionID, req.URL, domain.ResultPhishing, domain.StageNone); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		result, err := e.pipeline.Check(context.Background(), req)
		if err != nil {
			t.Fatalf("Check returned error: %v", err)
		}
		if result != domain.ResultPhishing {
			t.Fatalf("expected cached phishing verdict, got %q", result)
		}
	}
	if e.engine.callCount() != 0 {
		t.Fatal("cached verdict must not re-run search")
	}
	if caps := e.renderer.captures(); len(caps) != 0 {
		t.Fatal("cached verdict must not re-render")
	}
}

// A caller that goes away mid-run must not strand the row in processing;
// the stages finish on their own and write a terminal result.
func TestCallerCancellationRunsToCompletion(t *testing.T) {
	e := newEnv(t, pipeline.Options{})
	e.engine.started = make(chan struct{})
	e.engine.block = make(chan struct{})
	req := request("http://victim.example.org")

	ctx, cancel := context.WithCancel(context.Background())
	checkDone := make(chan domain.Result, 1)
	go func() {
		result, err := e.pipeline.Check(ctx, req)
		if err != nil {
			t.Errorf("Check returned error after caller cancellation: %v", err)
		}
		checkDone <- result
	}()

	<-e.engine.started // mid-textsearch now
	cancel()           // the client disconnects
	close(e.engine.block)

	if result := <-checkDone; result != domain.ResultInconclusive {
		t.Fatalf("expected the run to finish inconclusive, got %q", result)
	}
	rec, found, err := e.store.GetState(context.Background(), req.SessionID, req.URL)
	if err != nil || !found {
		t.Fatalf("expected a stored row, found=%v err=%v", found, err)
	}
	if !rec.Result.Terminal() {
		t.Fatalf("row left in %q; later checks for this key would wait forever", rec.Result)
	}
}

// Two concurrent requests for the same key produce exactly one textsearch
// transition; the duplicate waits its bounded interval and reports the
// current state.
func TestDuplicateSuppression(t *testing.T) {
	e := newEnv(t, pipeline.Options{DuplicateWait: 100 * time.Millisecond})
	e.engine.started = make(chan struct{})
	e.engine.block = make(chan struct{})
	req := request("http://good.example.com")

	firstDone := make(chan domain.Result, 1)
	go func() {
		result, err := e.pipeline.Check(context.Background(), req)
		if err != nil {
			t.Errorf("first Check returned error: %v", err)
		}
		firstDone <- result
	}()

	<-e.engine.started // the original is mid-textsearch now

	result, err := e.pipeline.Check(context.Background(), req)
	if err != nil {
		t.Fatalf("duplicate Check returned error: %v", err)
	}
	if result != domain.ResultProcessing {
		t.Fatalf("expected duplicate to observe processing, got %q", result)
	}

	close(e.engine.block)
	if result := <-firstDone; result != domain.ResultInconclusive {
		t.Fatalf("expected original to finish inconclusive, got %q", result)
	}

	e.store.mu.Lock()
	writes := e.store.textSearchWrites
	e.store.mu.Unlock()
	if writes != 1 {
		t.Fatalf("expected exactly one textsearch transition, got %d", writes)
	}
}
