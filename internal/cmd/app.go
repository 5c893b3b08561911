package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"go.uber.org/zap"

	"github.com/3leaps/deploybot/internal/config"
	"github.com/3leaps/deploybot/pkg/catalog"
	"github.com/3leaps/deploybot/pkg/deploy"
	"github.com/3leaps/deploybot/pkg/jenkins"
	"github.com/3leaps/deploybot/pkg/jobstore"
)

const storeFileName = "deploybot.db"

// loadedConfig returns the configuration resolved by the root command.
func loadedConfig() (*config.Config, error) {
	if appConfig != nil {
		return appConfig, nil
	}
	if cfg := config.GetConfig(); cfg != nil {
		return cfg, nil
	}
	return nil, fmt.Errorf("configuration not loaded")
}

// resolveStorePath returns the SQLite path used when no store URL is set.
func resolveStorePath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	identity := GetAppIdentity()
	if identity == nil || strings.TrimSpace(identity.ConfigName) == "" {
		return "", fmt.Errorf("app identity is not available to derive default store path")
	}

	dataDir := gfconfig.GetAppDataDir(identity.ConfigName)
	return filepath.Join(dataDir, storeFileName), nil
}

func openStore(ctx context.Context, cfg *config.Config) (*jobstore.Store, error) {
	storeCfg := jobstore.Config{
		URL:       cfg.Store.URL,
		AuthToken: cfg.Store.AuthToken,
		MaxJobID:  cfg.Store.MaxJobID,
	}
	if storeCfg.URL == "" {
		path, err := resolveStorePath(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		storeCfg.Path = path
	}
	return jobstore.Open(ctx, storeCfg)
}

// credentialSets converts the configured role credentials.
func credentialSets(cfg *config.Config) map[string]jenkins.Credentials {
	sets := cfg.CI.CredentialSets()
	out := make(map[string]jenkins.Credentials, len(sets))
	for role, c := range sets {
		out[role] = jenkins.Credentials{User: c.User, Token: c.Token}
	}
	return out
}

// newCIClient builds the CI client. Read-only calls use the default role.
func newCIClient(cfg *config.Config) (*jenkins.Client, error) {
	read := credentialSets(cfg)[strings.ToLower(cfg.CI.DefaultRole)]
	return jenkins.New(jenkins.Config{
		BaseURL:       cfg.CI.BaseURL,
		Credentials:   read,
		RateLimit:     cfg.CI.RateLimit,
		Timeout:       cfg.CI.RequestTimeout,
		ParameterName: cfg.CI.ParameterName,
	})
}

func newResolver(cfg *config.Config, roles deploy.RoleLookup) *deploy.Resolver {
	return deploy.NewResolver(roles, credentialSets(cfg), cfg.CI.DefaultRole)
}

func newSearchEngine(l catalog.Lister, cfg *config.Config, logger *zap.Logger) *catalog.Engine {
	return catalog.NewEngine(l, catalog.SearchConfig{
		Workers:   cfg.Search.Workers,
		Permits:   cfg.Search.Permits,
		Timeout:   cfg.Search.Timeout,
		MaxDepth:  cfg.Catalog.MaxDepth,
		CacheSize: cfg.Search.CacheSize,
		CacheTTL:  cfg.Search.CacheTTL,
	}, logger)
}

func newDiscovery(l catalog.Lister, cfg *config.Config, logger *zap.Logger) *catalog.Discovery {
	return catalog.NewDiscovery(l, catalog.DiscoveryConfig{MaxDepth: cfg.Catalog.MaxDepth}, logger)
}

// searchRoots returns the folders searched by /projects.
func searchRoots(cfg *config.Config) []string {
	if len(cfg.Catalog.SearchRoots) > 0 {
		return cfg.Catalog.SearchRoots
	}
	return []string{cfg.Catalog.Root}
}
