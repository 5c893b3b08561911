package catalog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchMatchesJobsAndFolders(t *testing.T) {
	e := NewEngine(sampleTree(), SearchConfig{}, nil)

	res, err := e.Search(context.Background(), []string{"Team-A", "Team-B"}, "DEPLOY", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Team-A/web/deploy-api", "Team-A/web/deploy-web", "Team-B/ops/deploy-db"}, jobPaths(res.Jobs))
	assert.Empty(t, res.Folders)
	assert.False(t, res.Partial)
	assert.Equal(t, 4, res.Processed)
	assert.Equal(t, 4, res.Total)
}

func TestSearchFolderMatchIndependentOfJobs(t *testing.T) {
	e := NewEngine(sampleTree(), SearchConfig{}, nil)

	res, err := e.Search(context.Background(), []string{"Team-A", "Team-B"}, "ops", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Team-B/ops"}, folderPaths(res.Folders))
	assert.Empty(t, res.Jobs)
}

func TestSearchGlobQuery(t *testing.T) {
	e := NewEngine(sampleTree(), SearchConfig{}, nil)

	res, err := e.Search(context.Background(), []string{""}, "deploy-*", nil)
	require.NoError(t, err)
	assert.Len(t, res.Jobs, 3)

	res, err = e.Search(context.Background(), []string{""}, "team-a/*/*", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Team-A/web/deploy-api", "Team-A/web/deploy-web"}, jobPaths(res.Jobs))
	assert.Empty(t, res.Folders)
}

func TestSearchCacheHitSkipsRemote(t *testing.T) {
	tree := sampleTree()
	e := NewEngine(tree, SearchConfig{}, nil)
	roots := []string{"Team-A", "Team-B"}

	first, err := e.Search(context.Background(), roots, "deploy", nil)
	require.NoError(t, err)
	callsAfterFirst := tree.calls.Load()
	require.Positive(t, callsAfterFirst)

	second, err := e.Search(context.Background(), roots, "deploy", nil)
	require.NoError(t, err)
	assert.Equal(t, callsAfterFirst, tree.calls.Load())
	assert.True(t, second.Cached)
	assert.Equal(t, first.Jobs, second.Jobs)

	e.Purge()
	_, err = e.Search(context.Background(), roots, "deploy", nil)
	require.NoError(t, err)
	assert.Greater(t, tree.calls.Load(), callsAfterFirst)
}

func TestSearchCacheKeyIsRawQuery(t *testing.T) {
	tree := sampleTree()
	e := NewEngine(tree, SearchConfig{}, nil)

	_, err := e.Search(context.Background(), []string{"Team-A"}, "deploy", nil)
	require.NoError(t, err)
	calls := tree.calls.Load()

	_, err = e.Search(context.Background(), []string{"Team-A"}, "Deploy", nil)
	require.NoError(t, err)
	assert.Greater(t, tree.calls.Load(), calls)
}

func TestSearchCacheExpires(t *testing.T) {
	tree := sampleTree()
	e := NewEngine(tree, SearchConfig{CacheTTL: 20 * time.Millisecond}, nil)

	_, err := e.Search(context.Background(), []string{"Team-A"}, "svc", nil)
	require.NoError(t, err)
	calls := tree.calls.Load()

	time.Sleep(60 * time.Millisecond)
	res, err := e.Search(context.Background(), []string{"Team-A"}, "svc", nil)
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Greater(t, tree.calls.Load(), calls)
}

func TestSearchPermitsBoundInFlightFetches(t *testing.T) {
	tree := newFakeTree()
	var roots []string
	for i := 0; i < 12; i++ {
		name := fmt.Sprintf("f%02d", i)
		roots = append(roots, name)
		tree.jobs(name, "svc-"+name)
	}
	tree.delay = 10 * time.Millisecond

	e := NewEngine(tree, SearchConfig{Workers: 8, Permits: 2}, nil)
	res, err := e.Search(context.Background(), roots, "svc", nil)
	require.NoError(t, err)
	assert.Len(t, res.Jobs, 12)
	assert.LessOrEqual(t, tree.maxInFlight.Load(), int64(2))
}

func TestSearchTimeoutReturnsPartial(t *testing.T) {
	tree := sampleTree()
	tree.delay = 200 * time.Millisecond

	e := NewEngine(tree, SearchConfig{Timeout: 50 * time.Millisecond}, nil)
	res, err := e.Search(context.Background(), []string{"Team-A", "Team-B"}, "Team", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	require.NotNil(t, res)
	assert.True(t, res.Partial)
	// Root folders match before their fetch, so they survive the timeout.
	assert.Equal(t, []string{"Team-A", "Team-B"}, folderPaths(res.Folders))

	// Partial results are not cached.
	tree.delay = 0
	res, err = e.Search(context.Background(), []string{"Team-A", "Team-B"}, "Team", nil)
	require.NoError(t, err)
	assert.False(t, res.Cached)
}

func TestSearchCancelled(t *testing.T) {
	tree := sampleTree()
	tree.delay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res, err := NewEngine(tree, SearchConfig{}, nil).Search(ctx, []string{"Team-A"}, "x", nil)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.True(t, res.Partial)
}

func TestSearchSubtreeErrorCounted(t *testing.T) {
	tree := sampleTree()
	tree.fail["Team-A/web"] = errBoom

	res, err := NewEngine(tree, SearchConfig{}, nil).Search(context.Background(), []string{"Team-A"}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, []string{"Team-A/build-service"}, jobPaths(res.Jobs))
}

func TestSearchProgress(t *testing.T) {
	progress := make(chan Progress, 64)
	res, err := NewEngine(sampleTree(), SearchConfig{Workers: 1}, nil).Search(context.Background(), []string{"Team-A", "Team-B"}, "x", progress)
	require.NoError(t, err)
	close(progress)

	var last Progress
	count := 0
	for p := range progress {
		last = p
		count++
	}
	assert.Equal(t, 4, count)
	assert.Equal(t, Progress{Processed: 4, Total: 4}, last)
	assert.Equal(t, "processed 4/4", last.String())
	assert.Equal(t, 4, res.Processed)
}

func TestSearchNoRoots(t *testing.T) {
	res, err := NewEngine(sampleTree(), SearchConfig{}, nil).Search(context.Background(), nil, "x", nil)
	require.NoError(t, err)
	assert.Empty(t, res.Jobs)
}

func TestMatcher(t *testing.T) {
	tests := []struct {
		query  string
		name   string
		path   string
		want   bool
		isGlob bool
	}{
		{query: "Build", name: "build-service", path: "Team-A/build-service", want: true},
		{query: "team-a", name: "build-service", path: "Team-A/build-service", want: false},
		{query: "*-service", name: "build-service", path: "Team-A/build-service", want: true, isGlob: true},
		{query: "team-a/*", name: "build-service", path: "Team-A/build-service", want: true, isGlob: true},
		{query: "team-b/**", name: "build-service", path: "Team-A/build-service", want: false, isGlob: true},
		{query: "", name: "anything", path: "x/anything", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			m := NewMatcher(tt.query)
			assert.Equal(t, tt.isGlob, m.IsGlob())
			assert.Equal(t, tt.want, m.MatchJob(tt.name, tt.path))
		})
	}
}
