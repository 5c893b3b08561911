package catalog

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/3leaps/deploybot/pkg/jenkins"
)

// fakeTree serves ListChildren from an in-memory folder map.
type fakeTree struct {
	mu       sync.Mutex
	children map[string][]jenkins.Item
	fail     map[string]error
	delay    time.Duration
	calls    atomic.Int64
	perPath  map[string]int

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func newFakeTree() *fakeTree {
	return &fakeTree{
		children: make(map[string][]jenkins.Item),
		fail:     make(map[string]error),
		perPath:  make(map[string]int),
	}
}

func (f *fakeTree) folder(path string, names ...string) *fakeTree {
	for _, n := range names {
		f.children[path] = append(f.children[path], jenkins.Item{Name: n})
	}
	return f
}

func (f *fakeTree) jobs(path string, names ...string) *fakeTree {
	for _, n := range names {
		f.children[path] = append(f.children[path], jenkins.Item{Name: n, Color: "blue", Leaf: true})
	}
	return f
}

func (f *fakeTree) ListChildren(ctx context.Context, path string) ([]jenkins.Item, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	f.mu.Lock()
	f.perPath[path]++
	err := f.fail[path]
	items := append([]jenkins.Item(nil), f.children[path]...)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return items, nil
}

func jobPaths(jobs []Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Path)
	}
	sort.Strings(out)
	return out
}

func folderPaths(folders []Folder) []string {
	out := make([]string, 0, len(folders))
	for _, f := range folders {
		out = append(out, f.Path)
	}
	sort.Strings(out)
	return out
}

var errBoom = errors.New("boom")

// sampleTree:
//
//	Team-A/ build-service, web/ (deploy-web, deploy-api)
//	Team-B/ worker, ops/ (deploy-db)
func sampleTree() *fakeTree {
	f := newFakeTree()
	f.folder("", "Team-A", "Team-B")
	f.jobs("Team-A", "build-service")
	f.folder("Team-A", "web")
	f.jobs("Team-A/web", "deploy-web", "deploy-api")
	f.jobs("Team-B", "worker")
	f.folder("Team-B", "ops")
	f.jobs("Team-B/ops", "deploy-db")
	return f
}
