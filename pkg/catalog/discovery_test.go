package catalog

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/deploybot/pkg/jenkins"
)

func TestListLeafJobsReturnsExactlyLeaves(t *testing.T) {
	d := NewDiscovery(sampleTree(), DiscoveryConfig{}, nil)

	jobs, err := d.ListLeafJobs(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Team-A/build-service",
		"Team-A/web/deploy-api",
		"Team-A/web/deploy-web",
		"Team-B/ops/deploy-db",
		"Team-B/worker",
	}, jobPaths(jobs))
}

func TestListLeafJobsFromSubfolder(t *testing.T) {
	d := NewDiscovery(sampleTree(), DiscoveryConfig{}, nil)

	jobs, err := d.ListLeafJobs(context.Background(), "/Team-A/")
	require.NoError(t, err)
	assert.Equal(t, []string{"Team-A/build-service", "Team-A/web/deploy-api", "Team-A/web/deploy-web"}, jobPaths(jobs))
	assert.Equal(t, "build-service", jobs[0].Name)
}

func TestListLeafJobsDeepTree(t *testing.T) {
	f := newFakeTree()
	path := ""
	for i := 0; i < 6; i++ {
		name := fmt.Sprintf("level%d", i)
		f.folder(path, name)
		path = jenkins.JoinPath(path, name)
	}
	f.jobs(path, "leaf")

	jobs, err := NewDiscovery(f, DiscoveryConfig{}, nil).ListLeafJobs(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "level0/level1/level2/level3/level4/level5/leaf", jobs[0].Path)
}

func TestListLeafJobsSubtreeFailureIsEmpty(t *testing.T) {
	f := sampleTree()
	f.fail["Team-A/web"] = errBoom

	jobs, err := NewDiscovery(f, DiscoveryConfig{}, nil).ListLeafJobs(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Team-A/build-service", "Team-B/ops/deploy-db", "Team-B/worker"}, jobPaths(jobs))
}

func TestListLeafJobsRootFailure(t *testing.T) {
	f := sampleTree()
	f.fail["Team-A"] = errBoom

	_, err := NewDiscovery(f, DiscoveryConfig{}, nil).ListLeafJobs(context.Background(), "Team-A")
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
}

func TestListLeafJobsDepthCeiling(t *testing.T) {
	f := newFakeTree()
	f.folder("", "a")
	f.folder("a", "b")
	f.folder("a/b", "c")
	f.jobs("a", "shallow")
	f.jobs("a/b/c", "deep")

	jobs, err := NewDiscovery(f, DiscoveryConfig{MaxDepth: 2}, nil).ListLeafJobs(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/shallow"}, jobPaths(jobs))
	assert.Zero(t, f.perPath["a/b/c"])
}

func TestListLeafJobsCycle(t *testing.T) {
	f := newFakeTree()
	// "loop" under a points back at a itself.
	f.children[""] = []jenkins.Item{{Name: "a", URL: "https://ci/job/a/"}}
	f.children["a"] = []jenkins.Item{
		{Name: "svc", Leaf: true, Color: "blue"},
		{Name: "loop", URL: "https://ci/job/a/"},
	}

	jobs, err := NewDiscovery(f, DiscoveryConfig{}, nil).ListLeafJobs(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/svc"}, jobPaths(jobs))
	assert.Equal(t, 1, f.perPath["a"])
}

func TestChildren(t *testing.T) {
	folders, jobs, err := NewDiscovery(sampleTree(), DiscoveryConfig{}, nil).Children(context.Background(), "Team-A")
	require.NoError(t, err)
	assert.Equal(t, []Folder{{Name: "web", Path: "Team-A/web"}}, folders)
	assert.Equal(t, []Job{{Name: "build-service", Path: "Team-A/build-service"}}, jobs)
}
