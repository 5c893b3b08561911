package catalog

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/deploybot/pkg/jenkins"
)

// DiscoveryConfig configures plain catalog listing.
type DiscoveryConfig struct {
	// MaxDepth bounds recursion below the listed root.
	// Default: 8
	MaxDepth int
}

// Discovery lists the catalog by sequential recursion.
type Discovery struct {
	lister   Lister
	maxDepth int
	logger   *zap.Logger
}

// NewDiscovery creates a Discovery. A nil logger discards logs.
func NewDiscovery(l Lister, cfg DiscoveryConfig, logger *zap.Logger) *Discovery {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discovery{lister: l, maxDepth: cfg.MaxDepth, logger: logger}
}

// Children returns the immediate sub-folders and leaf jobs of path.
func (d *Discovery) Children(ctx context.Context, path string) ([]Folder, []Job, error) {
	path = jenkins.NormalizePath(path)
	items, err := d.lister.ListChildren(ctx, path)
	if err != nil {
		return nil, nil, fmt.Errorf("list %q: %w", path, err)
	}
	folders, jobs, _ := classify(path, items)
	return folders, jobs, nil
}

// ListLeafJobs returns every leaf job below root in depth-first order.
//
// A failure to list root is returned. A failure below root is logged and
// that subtree is treated as empty, so a partial catalog is still returned.
// Folders deeper than MaxDepth and folders already visited are skipped.
func (d *Discovery) ListLeafJobs(ctx context.Context, root string) ([]Job, error) {
	root = jenkins.NormalizePath(root)

	items, err := d.lister.ListChildren(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", root, err)
	}

	visited := map[string]struct{}{root: {}}
	var out []Job
	d.walk(ctx, root, items, 1, visited, &out)

	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

func (d *Discovery) walk(ctx context.Context, parent string, items []jenkins.Item, depth int, visited map[string]struct{}, out *[]Job) {
	for _, it := range items {
		if it.Name == "" {
			continue
		}
		p := jenkins.JoinPath(parent, it.Name)
		if it.Leaf {
			*out = append(*out, Job{Name: it.Name, Path: p})
			continue
		}

		key := visitKey(p, it.URL)
		if _, seen := visited[key]; seen {
			d.logger.Warn("Skipping already visited folder", zap.String("path", p))
			continue
		}
		visited[key] = struct{}{}

		if depth >= d.maxDepth {
			d.logger.Warn("Folder exceeds max depth, not descending",
				zap.String("path", p),
				zap.Int("max_depth", d.maxDepth),
			)
			continue
		}
		if ctx.Err() != nil {
			return
		}

		children, err := d.lister.ListChildren(ctx, p)
		if err != nil {
			d.logger.Warn("Failed to list folder, treating as empty",
				zap.String("path", p),
				zap.Error(err),
			)
			continue
		}
		d.walk(ctx, p, children, depth+1, visited, out)
	}
}
