package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// AppIdentity names the binary, its env prefix and its config file.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

// DefaultIdentity is the identity used when none was set.
var DefaultIdentity = AppIdentity{
	BinaryName: "deploybot",
	EnvPrefix:  "DEPLOYBOT",
	ConfigName: "deploybot",
}

// EnvSpec maps one environment variable to a config key.
type EnvSpec struct {
	Name string
	Path string
}

var (
	configMu    sync.RWMutex
	appIdentity *AppIdentity
	appConfig   *Config

	// configFile is an explicit config file path; empty searches defaults.
	configFile string

	// envFile is loaded into the environment before env vars are read.
	envFile = ".env"
)

// SetIdentity overrides the application identity used by Load.
func SetIdentity(id AppIdentity) {
	configMu.Lock()
	defer configMu.Unlock()
	appIdentity = &id
}

// Identity returns the current identity, or nil before Load/SetIdentity.
func Identity() *AppIdentity {
	configMu.RLock()
	defer configMu.RUnlock()
	return appIdentity
}

// SetConfigFile pins the config file path.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = path
}

// SetEnvFile changes the dotenv file; empty disables dotenv loading.
func SetEnvFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	envFile = path
}

// Load builds the configuration. Each overrides map is nested by section,
// e.g. {"server": {"port": 9000}}, and wins over every other layer.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	configMu.Lock()
	defer configMu.Unlock()

	if appIdentity == nil {
		id := DefaultIdentity
		appIdentity = &id
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	SetDefaults(v)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	for _, spec := range getEnvSpecs() {
		if err := v.BindEnv(spec.Path, spec.Name); err != nil {
			return nil, fmt.Errorf("bind %s: %w", spec.Name, err)
		}
	}

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Logging.Profile = strings.ToUpper(cfg.Logging.Profile)

	appConfig = &cfg
	return &cfg, nil
}

// GetConfig returns the last loaded configuration, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func readConfigFile(v *viper.Viper) error {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", configFile, err)
		}
		return nil
	}

	v.SetConfigName(appIdentity.ConfigName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	for _, p := range getUserConfigPaths() {
		v.AddConfigPath(p)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// getUserConfigPaths lists per-user config directories, most specific first.
func getUserConfigPaths() []string {
	if appIdentity == nil {
		return []string{}
	}

	var paths []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		paths = append(paths, filepath.Join(xdg, appIdentity.ConfigName))
	}
	if dir, err := os.UserConfigDir(); err == nil {
		p := filepath.Join(dir, appIdentity.ConfigName)
		if len(paths) == 0 || paths[0] != p {
			paths = append(paths, p)
		}
	}
	return paths
}

// getEnvSpecs returns the environment variables recognized under the
// identity's prefix.
func getEnvSpecs() []EnvSpec {
	if appIdentity == nil {
		return []EnvSpec{}
	}

	p := appIdentity.EnvPrefix + "_"
	return []EnvSpec{
		{Name: p + "HOST", Path: "server.host"},
		{Name: p + "PORT", Path: "server.port"},
		{Name: p + "READ_TIMEOUT", Path: "server.read_timeout"},
		{Name: p + "WRITE_TIMEOUT", Path: "server.write_timeout"},
		{Name: p + "IDLE_TIMEOUT", Path: "server.idle_timeout"},
		{Name: p + "SHUTDOWN_TIMEOUT", Path: "server.shutdown_timeout"},

		{Name: p + "LOG_LEVEL", Path: "logging.level"},
		{Name: p + "LOG_PROFILE", Path: "logging.profile"},
		{Name: p + "DEBUG", Path: "debug.enabled"},

		{Name: p + "BOT_TOKEN", Path: "bot.token"},
		{Name: p + "TIMEZONE", Path: "bot.timezone"},
		{Name: p + "FEEDBACK_CHAT_ID", Path: "bot.feedback_chat_id"},
		{Name: p + "POLL_TIMEOUT", Path: "bot.poll_timeout"},

		{Name: p + "CI_BASE_URL", Path: "ci.base_url"},
		{Name: p + "CI_USER", Path: "ci.user"},
		{Name: p + "CI_TOKEN", Path: "ci.token"},
		{Name: p + "CI_RATE_LIMIT", Path: "ci.rate_limit"},
		{Name: p + "CI_REQUEST_TIMEOUT", Path: "ci.request_timeout"},
		{Name: p + "CI_PARAMETER_NAME", Path: "ci.parameter_name"},
		{Name: p + "CI_DEFAULT_ROLE", Path: "ci.default_role"},

		{Name: p + "CATALOG_ROOT", Path: "catalog.root"},
		{Name: p + "CATALOG_SEARCH_ROOTS", Path: "catalog.search_roots"},
		{Name: p + "CATALOG_PARAMETERIZED", Path: "catalog.parameterized"},
		{Name: p + "PAGE_SIZE", Path: "catalog.page_size"},

		{Name: p + "SEARCH_WORKERS", Path: "search.workers"},
		{Name: p + "SEARCH_PERMITS", Path: "search.permits"},
		{Name: p + "SEARCH_TIMEOUT", Path: "search.timeout"},

		{Name: p + "SCHEDULER_INTERVAL", Path: "scheduler.interval"},
		{Name: p + "SCHEDULER_DEFAULT_DELAY", Path: "scheduler.default_delay"},

		{Name: p + "STORE_PATH", Path: "store.path"},
		{Name: p + "STORE_URL", Path: "store.url"},
		{Name: p + "STORE_AUTH_TOKEN", Path: "store.auth_token"},

		{Name: p + "WEBHOOK_ENABLED", Path: "webhook.enabled"},
		{Name: p + "WEBHOOK_SECRET", Path: "webhook.secret"},
	}
}

// flatten turns nested maps into dotted keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := m[k].(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = m[k]
	}
	return out
}
