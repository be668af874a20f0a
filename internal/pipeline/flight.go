package pipeline

import "sync"

// flightRegistry tracks in-flight requests per (session, url) key so that
// concurrent duplicates block on a notification channel instead of re-running
// the pipeline or busy-polling the store.
type flightRegistry struct {
	mu       sync.Mutex
	inflight map[string]chan struct{}
}

func newFlightRegistry() *flightRegistry {
	return &flightRegistry{inflight: make(map[string]chan struct{})}
}

// begin registers a flight for key. When another flight already holds the
// key, begin returns its done channel and dup=true; the caller should wait
// on it (bounded) and read back the current state. Otherwise the caller owns
// the flight and must call the returned release exactly once.
func (r *flightRegistry) begin(key string) (release func(), done <-chan struct{}, dup bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.inflight[key]; ok {
		return nil, ch, true
	}
	ch := make(chan struct{})
	r.inflight[key] = ch
	release = func() {
		r.mu.Lock()
		delete(r.inflight, key)
		r.mu.Unlock()
		close(ch)
	}
	return release, ch, false
}
