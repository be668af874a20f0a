package search

import (
	"math/rand"
	"sync"
)

// userAgents rotates browser identities for scrape requests so repeated
// search runs are less likely to get blocked.
type userAgents struct {
	mu   sync.Mutex
	list []string
	rnd  *rand.Rand
}

func defaultUserAgents(seed int64) *userAgents {
	return &userAgents{
		list: []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/107.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/107.0.0.0 Safari/537.36",
			"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/107.0.0.0 Safari/537.36",
		},
		rnd: rand.New(rand.NewSource(seed)),
	}
}

func (u *userAgents) pick() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.list) == 0 {
		return ""
	}
	return u.list[u.rnd.Intn(len(u.list))]
}
