// Package catalog discovers and searches the CI job hierarchy.
//
// The remote tree is made of folders and leaf jobs. A child that reports a
// status color is a leaf job; anything else is a folder to descend into.
// Two walkers are provided:
//   - Discovery: sequential recursion used for browsing a single folder
//   - Engine: bounded-concurrency breadth-first search with a result cache
//
// Both apply a depth ceiling and a visited set, since the remote hierarchy
// is not guaranteed to be finite or acyclic.
package catalog

import (
	"context"

	"github.com/3leaps/deploybot/pkg/jenkins"
)

// DefaultMaxDepth is the deepest folder level either walker descends to.
const DefaultMaxDepth = 8

// Lister fetches the immediate children of a folder.
//
// *jenkins.Client satisfies Lister.
type Lister interface {
	ListChildren(ctx context.Context, path string) ([]jenkins.Item, error)
}

// Job is a deployable leaf.
type Job struct {
	// Name is the display name (last path segment).
	Name string

	// Path is the normalized path relative to the catalog root.
	Path string
}

// Folder is a non-leaf grouping node.
type Folder struct {
	Name string
	Path string
}

// classify splits children of parent into folders and leaf jobs. keys[i] is
// the cycle-detection key of folders[i].
func classify(parent string, items []jenkins.Item) (folders []Folder, jobs []Job, keys []string) {
	for _, it := range items {
		if it.Name == "" {
			continue
		}
		p := jenkins.JoinPath(parent, it.Name)
		if it.Leaf {
			jobs = append(jobs, Job{Name: it.Name, Path: p})
			continue
		}
		folders = append(folders, Folder{Name: it.Name, Path: p})
		keys = append(keys, visitKey(p, it.URL))
	}
	return folders, jobs, keys
}

// visitKey identifies a folder for cycle detection. The remote URL is
// preferred, since a cycle reaches the same folder under a different path.
func visitKey(path, remoteURL string) string {
	if remoteURL != "" {
		if p := jenkins.PathFromJobURL(remoteURL); p != "" {
			return p
		}
		return remoteURL
	}
	return path
}
