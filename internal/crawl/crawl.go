// Package crawl implements the bounded BFS crawl queue and worker
// pool: a pending list, a mutex-guarded visited set, and
// semaphore-bounded goroutines, with one root cancellation signal
// threaded through every worker's network operations.
package crawl

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/use-agent/reconweb/config"
	"github.com/use-agent/reconweb/models"
)

// PageFunc processes one URL and returns freshly discovered links.
// It must respect ctx cancellation.
type PageFunc func(ctx context.Context, item models.CrawlItem) (discovered []string, err error)

// Queue is the bounded BFS frontier: pending/inProgress/completed
// sets plus a visited set used for same-run dedup.
type Queue struct {
	cfg config.CrawlConfig

	mu         sync.Mutex
	cond       *sync.Cond
	pending    []models.CrawlItem
	inProgress map[string]bool
	completed  map[string]bool
	visited    map[string]bool
	failCounts map[string]int
	rootHost   string
	limiters   map[string]*rate.Limiter
	limitersMu sync.Mutex
}

// New creates a Queue seeded with rootURL at depth 0.
func New(cfg config.CrawlConfig, rootURL string) *Queue {
	q := newEmpty(cfg, rootURL)
	if normalized := normalizeURL(rootURL); normalized != "" {
		q.pending = append(q.pending, models.CrawlItem{URL: normalized, Depth: 0})
		q.visited[normalized] = true
	}
	return q
}

// NewResumed rebuilds a Queue from a previously recorded CaptureState,
// so a restarted orchestrator picks up crawling where it left off
// instead of re-walking the site from rootURL. pendingItems re-enter
// the frontier at their recorded depth; visitedURLs (which includes
// completed and in-flight-at-crash URLs) seed the dedup set so they
// are never re-enqueued as "newly discovered".
func NewResumed(cfg config.CrawlConfig, rootURL string, pendingItems []models.CrawlItem, visitedURLs, completedURLs []string) *Queue {
	q := newEmpty(cfg, rootURL)
	for _, v := range visitedURLs {
		q.visited[v] = true
	}
	for _, c := range completedURLs {
		q.completed[c] = true
		q.visited[c] = true
	}
	q.pending = append(q.pending, pendingItems...)
	for _, item := range pendingItems {
		q.visited[item.URL] = true
	}
	return q
}

func newEmpty(cfg config.CrawlConfig, rootURL string) *Queue {
	q := &Queue{
		cfg:        cfg,
		inProgress: make(map[string]bool),
		completed:  make(map[string]bool),
		visited:    make(map[string]bool),
		failCounts: make(map[string]int),
		limiters:   make(map[string]*rate.Limiter),
	}
	q.cond = sync.NewCond(&q.mu)
	if u, err := url.Parse(rootURL); err == nil {
		q.rootHost = u.Hostname()
	}
	return q
}

// Run drives the worker pool until the frontier is exhausted — no
// pending items and no workers in flight to discover more — or the
// context is cancelled. page is invoked for each dequeued item.
//
// Termination can't just stop at "pending is empty": a worker still
// processing a page may enqueue new links after the last dequeue
// fails, so the loop keeps waiting (via cond) for either a new pending
// item or the last in-flight worker to finish before giving up.
func (q *Queue) Run(ctx context.Context, page PageFunc) {
	concurrency := q.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	// The goroutine below unblocks a cond.Wait() once ctx is cancelled,
	// since context cancellation alone doesn't wake a goroutine blocked
	// on a condition variable.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			q.cond.Broadcast()
		case <-done:
		}
	}()

	for {
		if ctx.Err() != nil {
			break
		}
		item, ok := q.dequeueOrWait(ctx)
		if !ok {
			break
		}

		select {
		case <-ctx.Done():
			q.mu.Lock()
			delete(q.inProgress, item.URL)
			q.mu.Unlock()
			q.cond.Broadcast()
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(item models.CrawlItem) {
			defer wg.Done()
			defer func() { <-sem }()
			defer q.cond.Broadcast()
			q.process(ctx, item, page)
		}(item)
	}

	wg.Wait()
}

// dequeueOrWait pops the next pending item. If pending is empty but
// workers are still in flight, it blocks until either a new item
// appears, the last in-flight worker finishes, or ctx is cancelled —
// only then does it report "no more work" (ok=false).
func (q *Queue) dequeueOrWait(ctx context.Context) (models.CrawlItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if ctx.Err() != nil {
			return models.CrawlItem{}, false
		}
		if q.cfg.MaxPages > 0 && len(q.completed)+len(q.inProgress) >= q.cfg.MaxPages {
			return models.CrawlItem{}, false
		}
		if len(q.pending) > 0 {
			item := q.pending[0]
			q.pending = q.pending[1:]
			q.inProgress[item.URL] = true
			return item, true
		}
		if len(q.inProgress) == 0 {
			return models.CrawlItem{}, false
		}
		q.cond.Wait()
	}
}

func (q *Queue) process(ctx context.Context, item models.CrawlItem, page PageFunc) {
	if err := q.waitRateLimit(ctx, item.URL); err != nil {
		q.markFailed(item)
		return
	}

	discovered, err := page(ctx, item)
	if err != nil {
		q.requeueOrFail(item)
		return
	}

	// Links are enqueued while item still counts as in flight, so
	// dequeueOrWait never sees an empty frontier with links on their way.
	if item.Depth < q.cfg.MaxDepth {
		for _, link := range discovered {
			q.enqueueDiscovered(link, item.Depth+1)
		}
	}

	q.mu.Lock()
	delete(q.inProgress, item.URL)
	q.completed[item.URL] = true
	q.mu.Unlock()
}

func (q *Queue) requeueOrFail(item models.CrawlItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inProgress, item.URL)
	q.failCounts[item.URL]++
	if q.failCounts[item.URL] <= q.cfg.PageRetries {
		q.pending = append(q.pending, item)
		return
	}
	// URL stays out of pending but remains in visited.
}

func (q *Queue) markFailed(item models.CrawlItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inProgress, item.URL)
}

func (q *Queue) enqueueDiscovered(rawURL string, depth int) {
	normalized := normalizeURL(rawURL)
	if normalized == "" {
		return
	}
	if !q.sameSite(normalized) {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.visited[normalized] || q.inProgress[normalized] {
		return
	}
	if q.cfg.MaxPages > 0 && len(q.visited) >= q.cfg.MaxPages {
		return
	}
	q.visited[normalized] = true
	q.pending = append(q.pending, models.CrawlItem{URL: normalized, Depth: depth})
}

// sameSite admits the root host itself plus any recognised same-site
// subdomain (www., cdn., static., assets., images., media. by
// default, configurable).
func (q *Queue) sameSite(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || q.rootHost == "" {
		return false
	}
	if u.Hostname() == q.rootHost {
		return true
	}
	for _, sub := range q.cfg.SameSiteSubdomains {
		if u.Hostname() == sub+"."+q.rootHost {
			return true
		}
	}
	return false
}

func (q *Queue) waitRateLimit(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	origin := u.Scheme + "://" + u.Host

	q.limitersMu.Lock()
	limiter, ok := q.limiters[origin]
	if !ok {
		rps := q.cfg.RatePerSecond
		if rps <= 0 {
			rps = 4
		}
		burst := q.cfg.RateBurst
		if burst <= 0 {
			burst = 8
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
		q.limiters[origin] = limiter
	}
	q.limitersMu.Unlock()

	return limiter.Wait(ctx)
}

// normalizeURL canonicalises scheme+host+path, stripping the
// fragment, default ports, and a trailing slash.
func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	u.Fragment = ""
	host := u.Hostname()
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		u.Host = host + ":" + port
	} else {
		u.Host = host
	}
	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}
