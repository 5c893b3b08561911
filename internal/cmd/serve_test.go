package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/deploybot/pkg/jenkins"
	"github.com/3leaps/deploybot/pkg/jobstore"
)

func TestSignalHealthChecker(t *testing.T) {
	checker := signalHealthChecker{}

	t.Run("always returns nil", func(t *testing.T) {
		err := checker.CheckHealth(context.Background())
		assert.NoError(t, err)
	})
}

func TestIdentityHealthChecker(t *testing.T) {
	tests := []struct {
		name       string
		binaryName string
		envPrefix  string
		configName string
		wantErr    bool
		errContain string
	}{
		{
			name:       "all fields valid",
			binaryName: "myapp",
			envPrefix:  "MYAPP",
			configName: "myapp",
			wantErr:    false,
		},
		{
			name:       "missing binary name",
			binaryName: "",
			envPrefix:  "MYAPP",
			configName: "myapp",
			wantErr:    true,
			errContain: "missing binary name",
		},
		{
			name:       "missing env prefix",
			binaryName: "myapp",
			envPrefix:  "",
			configName: "myapp",
			wantErr:    true,
			errContain: "missing env prefix",
		},
		{
			name:       "missing config name",
			binaryName: "myapp",
			envPrefix:  "MYAPP",
			configName: "",
			wantErr:    true,
			errContain: "missing config name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := identityHealthChecker{
				binaryName: tt.binaryName,
				envPrefix:  tt.envPrefix,
				configName: tt.configName,
			}

			err := checker.CheckHealth(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContain)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestStoreHealthChecker(t *testing.T) {
	assert.NoError(t, storeHealthChecker{store: stubPinger{}}.CheckHealth(context.Background()))

	err := storeHealthChecker{store: stubPinger{err: errors.New("database is locked")}}.CheckHealth(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")

	err = storeHealthChecker{}.CheckHealth(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not initialized")

	t.Run("real store", func(t *testing.T) {
		store, err := jobstore.Open(context.Background(), jobstore.Config{Path: ":memory:"})
		require.NoError(t, err)
		defer func() { _ = store.Close() }()
		assert.NoError(t, storeHealthChecker{store: store}.CheckHealth(context.Background()))
	})
}

type stubLister struct {
	path string
	err  error
}

func (l *stubLister) ListChildren(_ context.Context, path string) ([]jenkins.Item, error) {
	l.path = path
	return nil, l.err
}

func TestCIHealthChecker(t *testing.T) {
	ok := &stubLister{}
	require.NoError(t, ciHealthChecker{client: ok, root: "Team-A"}.CheckHealth(context.Background()))
	assert.Equal(t, "Team-A", ok.path)

	down := &stubLister{err: jenkins.ErrUnavailable}
	err := ciHealthChecker{client: down}.CheckHealth(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, jenkins.ErrUnavailable)

	assert.Error(t, ciHealthChecker{}.CheckHealth(context.Background()))
}
