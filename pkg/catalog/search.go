package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/3leaps/deploybot/pkg/jenkins"
)

// SearchConfig configures the search engine.
type SearchConfig struct {
	// Workers is the number of goroutines draining the folder queue.
	// Default: 8
	Workers int

	// Permits bounds in-flight remote fetches regardless of worker count.
	// Default: 4
	Permits int64

	// Timeout bounds a whole search. Partial results are returned on expiry.
	// Default: 60s
	Timeout time.Duration

	// MaxDepth bounds descent below each root.
	// Default: 8
	MaxDepth int

	// CacheSize is the number of distinct queries kept.
	// Default: 128
	CacheSize int

	// CacheTTL is how long a cached result stays valid.
	// Default: 10m
	CacheTTL time.Duration
}

// DefaultSearchConfig returns the default search configuration.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		Workers:   8,
		Permits:   4,
		Timeout:   60 * time.Second,
		MaxDepth:  DefaultMaxDepth,
		CacheSize: 128,
		CacheTTL:  10 * time.Minute,
	}
}

// Progress reports traversal progress.
type Progress struct {
	// Processed is the number of folders fetched so far.
	Processed int

	// Total is the number of folders discovered so far.
	Total int
}

// String renders "processed X/Y".
func (p Progress) String() string {
	return fmt.Sprintf("processed %d/%d", p.Processed, p.Total)
}

// Result holds the matches of one search.
type Result struct {
	Query   string
	Jobs    []Job
	Folders []Folder

	// Processed and Total are the final progress counters.
	Processed int
	Total     int

	// Errors counts folders that could not be listed.
	Errors int

	// Partial is true when the search stopped on timeout or cancellation.
	Partial bool

	// Cached is true when the result was served from the cache.
	Cached bool

	Duration time.Duration
}

type cacheEntry struct {
	roots  string
	result Result
}

// Engine runs concurrent catalog searches. Safe for concurrent use.
type Engine struct {
	lister Lister
	config SearchConfig
	logger *zap.Logger
	cache  *expirable.LRU[string, cacheEntry]
}

// NewEngine creates a search engine. A nil logger discards logs.
func NewEngine(l Lister, cfg SearchConfig, logger *zap.Logger) *Engine {
	def := DefaultSearchConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Permits <= 0 {
		cfg.Permits = def.Permits
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		lister: l,
		config: cfg,
		logger: logger,
		cache:  expirable.NewLRU[string, cacheEntry](cfg.CacheSize, nil, cfg.CacheTTL),
	}
}

// Purge drops every cached result.
func (e *Engine) Purge() {
	e.cache.Purge()
}

// Search walks the folders below roots breadth-first and returns the folders
// whose path matches query and the jobs whose name matches it.
//
// Progress updates are sent on progress without blocking; a slow reader
// misses intermediate updates. progress may be nil and is not closed.
//
// Results are cached by the raw query string. A cache hit returns without
// contacting the remote. Only complete results are cached.
//
// On timeout or cancellation the partial result is returned together with
// the context error.
func (e *Engine) Search(ctx context.Context, roots []string, query string, progress chan<- Progress) (*Result, error) {
	rootsKey := strings.Join(normalizeRoots(roots), "\x00")
	if hit, ok := e.cache.Get(query); ok && hit.roots == rootsKey {
		res := hit.result
		res.Cached = true
		e.logger.Debug("Search cache hit", zap.String("query", query))
		return &res, nil
	}

	res, err := e.run(ctx, normalizeRoots(roots), query, progress)
	if err == nil && !res.Partial {
		e.cache.Add(query, cacheEntry{roots: rootsKey, result: *res})
	}
	return res, err
}

func (e *Engine) run(ctx context.Context, roots []string, query string, progress chan<- Progress) (*Result, error) {
	start := time.Now()
	matcher := NewMatcher(query)

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		jobs    []Job
		folders []Folder
		visited = make(map[string]struct{})
	)
	var processed, total, errCount atomic.Int64

	if len(roots) == 0 {
		return &Result{Query: query, Duration: time.Since(start)}, nil
	}

	q := newWorkQueue()
	stop := context.AfterFunc(ctx, q.close)
	defer stop()

	for _, r := range roots {
		visited[r] = struct{}{}
		total.Add(1)
		q.push(task{path: r})
	}

	sem := semaphore.NewWeighted(e.config.Permits)

	report := func() {
		if progress == nil {
			return
		}
		select {
		case progress <- Progress{Processed: int(processed.Load()), Total: int(total.Load())}:
		default:
		}
	}

	process := func(t task) {
		defer q.done()

		mu.Lock()
		if matcher.MatchFolder(t.path) {
			folders = append(folders, Folder{Name: jenkins.BaseName(t.path), Path: t.path})
		}
		mu.Unlock()

		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		items, err := e.lister.ListChildren(ctx, t.path)
		sem.Release(1)

		processed.Add(1)
		if err != nil {
			if ctx.Err() == nil {
				errCount.Add(1)
				e.logger.Warn("Search failed to list folder",
					zap.String("path", t.path),
					zap.Error(err),
				)
			}
			report()
			return
		}

		subfolders, leafJobs, keys := classify(t.path, items)

		mu.Lock()
		for _, j := range leafJobs {
			if matcher.MatchJob(j.Name, j.Path) {
				jobs = append(jobs, j)
			}
		}
		var next []task
		for i, f := range subfolders {
			key := keys[i]
			if _, seen := visited[key]; seen {
				continue
			}
			visited[key] = struct{}{}
			if t.depth+1 > e.config.MaxDepth {
				continue
			}
			next = append(next, task{path: f.Path, depth: t.depth + 1})
		}
		mu.Unlock()

		for _, n := range next {
			total.Add(1)
			q.push(n)
		}
		report()
	}

	var wg sync.WaitGroup
	for i := 0; i < e.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				t, ok := q.pop()
				if !ok {
					return
				}
				process(t)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	res := &Result{
		Query:     query,
		Jobs:      append([]Job(nil), jobs...),
		Folders:   append([]Folder(nil), folders...),
		Processed: int(processed.Load()),
		Total:     int(total.Load()),
		Errors:    int(errCount.Load()),
		Duration:  time.Since(start),
	}
	mu.Unlock()

	sort.Slice(res.Jobs, func(i, j int) bool { return res.Jobs[i].Path < res.Jobs[j].Path })
	sort.Slice(res.Folders, func(i, j int) bool { return res.Folders[i].Path < res.Folders[j].Path })

	if err := ctx.Err(); err != nil {
		res.Partial = true
		e.logger.Info("Search stopped early, returning partial results",
			zap.String("query", query),
			zap.Int("processed", res.Processed),
			zap.Int("total", res.Total),
			zap.Error(err),
		)
		if errors.Is(err, context.DeadlineExceeded) {
			return res, fmt.Errorf("search timed out after %s: %w", e.config.Timeout, err)
		}
		return res, err
	}

	e.logger.Debug("Search complete",
		zap.String("query", query),
		zap.Int("jobs", len(res.Jobs)),
		zap.Int("folders", len(res.Folders)),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

func normalizeRoots(roots []string) []string {
	out := make([]string, 0, len(roots))
	seen := make(map[string]struct{}, len(roots))
	for _, r := range roots {
		r = jenkins.NormalizePath(r)
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
