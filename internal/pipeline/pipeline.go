// Package pipeline implements the staged phishing decision engine: cached
// state lookup, text search, image search, each gated by domain
// corroboration, and finally visual comparison of rendered candidates.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"phishdetect/internal/domain"
	"phishdetect/internal/monitoring"
	"phishdetect/internal/netident"
	"phishdetect/internal/search"
)

// StateStore is the persistent per-request state machine backing.
type StateStore interface {
	GetState(ctx context.Context, sessionID, url string) (domain.RequestRecord, bool, error)
	StoreState(ctx context.Context, sessionID, url string, result domain.Result, stage domain.Stage) error
	SearchResults(ctx context.Context, stage domain.Stage, urlHash string) ([]string, error)
}

// VerdictCache fronts the store with a TTL cache for terminal verdicts.
// Implementations are best-effort; misses and errors fall through to the
// store.
type VerdictCache interface {
	CacheVerdict(ctx context.Context, sessionID, urlHash string, result domain.Result, ttl time.Duration) error
	CachedVerdict(ctx context.Context, sessionID, urlHash string) (domain.Result, bool)
}

// Renderer captures a candidate URL at the given viewport.
type Renderer interface {
	Capture(ctx context.Context, url string, width, height int) ([]byte, error)
}

// Comparer scores a candidate screenshot against the original.
type Comparer interface {
	Compare(original, candidate image.Image, candidateURL string) domain.SimilarityVerdict
}

// SANResolver extracts certificate SAN names for a hostname, best-effort.
type SANResolver interface {
	SANNames(ctx context.Context, hostname string) []string
}

// ImageDecoder turns captured bytes into an image.
type ImageDecoder func(data []byte) (image.Image, error)

// runCeiling bounds a detached pipeline run; well above any realistic
// search-plus-render sequence, it only stops a hung collaborator from
// holding a worker slot forever.
const runCeiling = 10 * time.Minute

// Options tune the pipeline's wait and cache behavior.
type Options struct {
	DuplicateWait time.Duration // bounded wait on an in-flight duplicate
	VerdictTTL    time.Duration // redis verdict cache lifetime
	MaxConcurrent int           // concurrent pipeline runs, 0 = unlimited
}

// Pipeline is the decision engine. All collaborators are injected once at
// startup and shared across requests; the state store is the only shared
// mutable resource.
type Pipeline struct {
	store    StateStore
	cache    VerdictCache
	engine   search.Engine
	renderer Renderer
	comparer Comparer
	sans     SANResolver
	decode   ImageDecoder
	filter   *CandidateFilter
	flights  *flightRegistry
	sem      chan struct{}
	opts     Options
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

func New(store StateStore, cache VerdictCache, engine search.Engine, renderer Renderer,
	comparer Comparer, sans SANResolver, decode ImageDecoder, filter *CandidateFilter,
	opts Options, m *monitoring.Metrics, logger *zap.Logger) *Pipeline {
	if opts.DuplicateWait <= 0 {
		opts.DuplicateWait = 4 * time.Second
	}
	if filter == nil {
		filter = DefaultFilter()
	}
	p := &Pipeline{
		store:    store,
		cache:    cache,
		engine:   engine,
		renderer: renderer,
		comparer: comparer,
		sans:     sans,
		decode:   decode,
		filter:   filter,
		flights:  newFlightRegistry(),
		opts:     opts,
		metrics:  m,
		logger:   logger,
	}
	if opts.MaxConcurrent > 0 {
		p.sem = make(chan struct{}, opts.MaxConcurrent)
	}
	return p
}

// Check runs the decision state machine for one request and returns the
// resulting status. Terminal results are served from cache without invoking
// any collaborator; a concurrent duplicate waits a bounded interval and
// returns whatever state is current, possibly still processing.
func (p *Pipeline) Check(ctx context.Context, req domain.CheckRequest) (domain.Result, error) {
	if _, err := netident.Hostname(req.URL); err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", req.URL, err)
	}
	p.metrics.IncChecks()

	if p.cache != nil {
		if result, ok := p.cache.CachedVerdict(ctx, req.SessionID, req.URLHash); ok {
			return result, nil
		}
	}

	rec, found, err := p.store.GetState(ctx, req.SessionID, req.URL)
	if err != nil {
		return "", fmt.Errorf("state lookup: %w", err)
	}
	if found {
		if rec.Result.Terminal() {
			return rec.Result, nil
		}
		// A processing row with no in-process flight means a concurrent
		// request on this instance or a row from another run; either way we
		// wait bounded and report what is current.
		return p.awaitDuplicate(ctx, req, nil)
	}

	release, done, dup := p.flights.begin(flightKey(req.SessionID, req.URL))
	if dup {
		return p.awaitDuplicate(ctx, req, done)
	}
	defer release()

	if p.sem != nil {
		select {
		case p.sem <- struct{}{}:
			defer func() { <-p.sem }()
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	// Once a processing row exists the run must reach a terminal write even
	// if the caller disconnects or times out; an abandoned run would leave
	// the row stuck until the next startup purge. The stages therefore run
	// detached from the request context, bounded only by their own ceiling.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), runCeiling)
	defer cancel()
	return p.run(runCtx, req)
}

// awaitDuplicate blocks until the in-flight original finishes, the bounded
// wait elapses, or the context ends, then returns the current stored state.
// The original is never cancelled by a waiter timing out.
func (p *Pipeline) awaitDuplicate(ctx context.Context, req domain.CheckRequest, done <-chan struct{}) (domain.Result, error) {
	p.metrics.IncDuplicateWait()
	timer := time.NewTimer(p.opts.DuplicateWait)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
	case <-ctx.Done():
	}

	rec, found, err := p.store.GetState(ctx, req.SessionID, req.URL)
	if err != nil {
		return "", fmt.Errorf("state lookup after wait: %w", err)
	}
	if !found {
		// The original crashed before its first write, or purged; report
		// processing and let the client resubmit.
		return domain.ResultProcessing, nil
	}
	return rec.Result, nil
}

// run advances the state machine through its stages. Every transition writes
// through the store first, so a crash leaves an accurate processing marker.
func (p *Pipeline) run(ctx context.Context, req domain.CheckRequest) (domain.Result, error) {
	pageDomain := netident.RegisteredDomain(req.URL)
	log := p.logger.With(zap.String("url", req.URL), zap.String("session", req.SessionID))

	// Stage: text search.
	if err := p.transition(ctx, req, domain.StageTextSearch); err != nil {
		return "", err
	}
	textCandidates := p.runSearch(ctx, req, search.ModeText, pageDomain, log)
	if p.domainMatch(ctx, pageDomain, textCandidates) {
		log.Info("page domain found among text-search results")
		return p.finish(ctx, req, domain.ResultNotPhishing)
	}

	// Stage: image search.
	if err := p.transition(ctx, req, domain.StageImageSearch); err != nil {
		return "", err
	}
	imageCandidates := p.runSearch(ctx, req, search.ModeImage, pageDomain, log)
	if p.domainMatch(ctx, pageDomain, imageCandidates) {
		log.Info("page domain found among image-search results")
		return p.finish(ctx, req, domain.ResultNotPhishing)
	}

	// Stage: image compare. Text-stage candidates first; order is priority.
	if err := p.transition(ctx, req, domain.StageImageCompare); err != nil {
		return "", err
	}
	candidates := append(textCandidates, imageCandidates...)
	if p.visualMatch(ctx, req, candidates, log) {
		return p.finish(ctx, req, domain.ResultPhishing)
	}
	return p.finish(ctx, req, domain.ResultInconclusive)
}

func (p *Pipeline) transition(ctx context.Context, req domain.CheckRequest, stage domain.Stage) error {
	if err := p.store.StoreState(ctx, req.SessionID, req.URL, domain.ResultProcessing, stage); err != nil {
		return fmt.Errorf("store %s transition: %w", stage, err)
	}
	p.metrics.IncStage(string(stage))
	return nil
}

func (p *Pipeline) finish(ctx context.Context, req domain.CheckRequest, result domain.Result) (domain.Result, error) {
	if err := p.store.StoreState(ctx, req.SessionID, req.URL, result, domain.StageNone); err != nil {
		return "", fmt.Errorf("store terminal result: %w", err)
	}
	if p.cache != nil {
		if err := p.cache.CacheVerdict(ctx, req.SessionID, req.URLHash, result, p.opts.VerdictTTL); err != nil {
			p.logger.Warn("verdict cache write failed", zap.Error(err))
		}
	}
	p.metrics.IncVerdict(string(result))
	return result, nil
}

// runSearch invokes the search collaborator and reads back the candidates it
// recorded. A failed search run contributes no candidates but never fails
// the request.
func (p *Pipeline) runSearch(ctx context.Context, req domain.CheckRequest, mode search.Mode, pageDomain string, log *zap.Logger) []string {
	sreq := search.Request{
		URLHash:    req.URLHash,
		Mode:       mode,
		Screenshot: req.Screenshot,
	}
	if mode == search.ModeImage {
		sreq.Upload = true
		sreq.DomainHint = pageDomain
	}
	if err := p.engine.Search(ctx, sreq); err != nil {
		log.Warn("search run failed", zap.String("mode", string(mode)), zap.Error(err))
		p.metrics.IncErrorsTotal("search_failed")
	}
	candidates, err := p.store.SearchResults(ctx, mode.Stage(), req.URLHash)
	if err != nil {
		log.Warn("search result read failed", zap.String("mode", string(mode)), zap.Error(err))
		p.metrics.IncErrorsTotal("search_read_failed")
		return nil
	}
	return candidates
}

// domainMatch builds the resolved domain set for the candidates and checks
// whether the page's own registered domain is a member. A page whose domain
// appears among its own reverse-search results belongs to the legitimate
// owner.
func (p *Pipeline) domainMatch(ctx context.Context, pageDomain string, candidates []string) bool {
	if pageDomain == "" || len(candidates) == 0 {
		return false
	}
	resolved := p.resolveDomainSet(ctx, candidates)
	return resolved[pageDomain]
}

// resolveDomainSet reduces every candidate hostname and every SAN name found
// for it to registered domains. SAN lookups are opportunistic; failures add
// nothing.
func (p *Pipeline) resolveDomainSet(ctx context.Context, candidates []string) map[string]bool {
	set := make(map[string]bool)
	for _, candidate := range candidates {
		host, err := netident.Hostname(candidate)
		if err != nil {
			continue
		}
		set[netident.RegisteredDomain(host)] = true
		for _, san := range p.sans.SANNames(ctx, host) {
			if rd := netident.RegisteredDomain(san); rd != "" {
				set[rd] = true
			}
		}
	}
	delete(set, "")
	return set
}

// visualMatch renders candidates in priority order and stops at the first
// one whose similarity verdict satisfies the phishing rule.
func (p *Pipeline) visualMatch(ctx context.Context, req domain.CheckRequest, candidates []string, log *zap.Logger) bool {
	if req.Screenshot == nil {
		return false
	}
	for _, candidate := range candidates {
		if p.filter.Skip(candidate) {
			log.Debug("candidate filtered", zap.String("candidate", candidate))
			continue
		}
		shot, err := p.renderer.Capture(ctx, candidate, req.Width, req.Height)
		if err != nil {
			// Rendering failures are expected; move to the next candidate.
			p.metrics.IncErrorsTotal("render_failed")
			continue
		}
		img, err := p.decode(shot)
		if err != nil {
			p.metrics.IncErrorsTotal("decode_failed")
			continue
		}
		verdict := p.comparer.Compare(req.Screenshot, img, candidate)
		if verdict.IsPhishing() {
			log.Info("visual match found", zap.String("candidate", candidate))
			return true
		}
	}
	return false
}

func flightKey(sessionID, url string) string {
	return sessionID + "|" + url
}
