package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/deploybot/internal/config"
	errwrap "github.com/3leaps/deploybot/internal/errors"
	"github.com/3leaps/deploybot/internal/observability"
	"github.com/3leaps/deploybot/pkg/chat/telegram"
)

const doctorCheckTimeout = 15 * time.Second

var doctorBot bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the environment, configuration, job store and
CI server, and suggest fixes for common issues.

Examples:
  deploybot doctor         # Environment, config, store and CI checks
  deploybot doctor --bot   # Also authorize against the Telegram Bot API`,
	Run: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorBot, "bot", false, "Also check the Telegram bot token")
}

func runDoctor(cmd *cobra.Command, args []string) {
	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	observability.CLILogger.Info("=== " + bannerName + " ===")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Running diagnostic checks...")
	observability.CLILogger.Info("")

	allChecks := true
	checkNum := 1
	totalChecks := 8
	if doctorBot {
		totalChecks = 9
	}

	// Check 1: Go version
	goVersion := runtime.Version()
	if goVersion >= "go1.23" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Go version... ✅ %s", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
	} else {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking Go version... ⚠️  %s (recommended: go1.23+)", checkNum, totalChecks, goVersion),
			zap.String("go_version", goVersion))
		allChecks = false
	}
	checkNum++

	// Check 2: Crucible access
	version := crucible.GetVersion()
	if version.Crucible != "" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Crucible access... ✅ v%s", checkNum, totalChecks, version.Crucible),
			zap.String("crucible_version", version.Crucible))
	} else {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Crucible access... ❌ Cannot access Crucible", checkNum, totalChecks))
		ExitWithCode(observability.CLILogger, foundry.ExitExternalServiceUnavailable, "Cannot access Crucible",
			errwrap.NewExternalServiceError("Crucible service unavailable"))
	}
	checkNum++

	// Check 3: Gofulmen access
	if version.Gofulmen != "" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Gofulmen access... ✅ v%s", checkNum, totalChecks, version.Gofulmen),
			zap.String("gofulmen_version", version.Gofulmen))
	} else {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Gofulmen access... ❌ Cannot access Gofulmen", checkNum, totalChecks))
		allChecks = false
	}
	checkNum++

	// Check 4: Config and data directories
	configDir, err := os.UserConfigDir()
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking config directory... ❌ Cannot find config directory", checkNum, totalChecks),
			zap.Error(err))
		ExitWithCode(observability.CLILogger, foundry.ExitFileNotFound, "Cannot find config directory",
			errwrap.WrapInternal(cmd.Context(), err, "Cannot find config directory"))
	}
	dataDir := ""
	if identity != nil {
		dataDir = gfconfig.GetAppDataDir(identity.ConfigName)
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking directories... ✅ %s", checkNum, totalChecks, configDir),
		zap.String("config_dir", configDir),
		zap.String("data_dir", dataDir))
	checkNum++

	// Check 5: Environment
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking environment... ✅ %s/%s", checkNum, totalChecks, runtime.GOOS, runtime.GOARCH),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))
	checkNum++

	cfg, err := loadedConfig()
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking configuration... ❌ Not loaded", checkNum, totalChecks), zap.Error(err))
		ExitWithCode(observability.CLILogger, foundry.ExitInvalidArgument, "Configuration unavailable", err)
		return
	}

	// Check 6: Configuration
	if err := cfg.Validate(); err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking configuration... ❌ %v", checkNum, totalChecks, err))
		printConfigHelp()
		allChecks = false
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking configuration... ✅ timezone %s", checkNum, totalChecks, cfg.Bot.Timezone),
			zap.Strings("roles", sortedRoles(cfg)))
	}
	checkNum++

	ctx, cancel := context.WithTimeout(cmd.Context(), doctorCheckTimeout)
	defer cancel()

	// Check 7: Job store
	allChecks = checkStore(ctx, cfg, checkNum, totalChecks) && allChecks
	checkNum++

	// Check 8: CI server
	allChecks = checkCI(ctx, cfg, checkNum, totalChecks) && allChecks
	checkNum++

	// Check 9: Telegram
	if doctorBot {
		allChecks = checkBot(cfg, checkNum, totalChecks) && allChecks
	}

	observability.CLILogger.Info("")
	if allChecks {
		observability.CLILogger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	} else {
		observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	observability.CLILogger.Info("")
	observability.CLILogger.Info("=== End Diagnostics ===")
}

func checkStore(ctx context.Context, cfg *config.Config, checkNum, totalChecks int) bool {
	store, err := openStore(ctx, cfg)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking job store... ❌ Cannot open", checkNum, totalChecks), zap.Error(err))
		return false
	}
	defer func() { _ = store.Close() }()

	if err := store.Ping(ctx); err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking job store... ❌ Ping failed", checkNum, totalChecks), zap.Error(err))
		return false
	}
	scheduled, err := store.ListScheduled(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking job store... ❌ Query failed", checkNum, totalChecks), zap.Error(err))
		return false
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking job store... ✅ %d scheduled", checkNum, totalChecks, len(scheduled)),
		zap.String("backend", storeBackend(cfg)))
	return true
}

func checkCI(ctx context.Context, cfg *config.Config, checkNum, totalChecks int) bool {
	if cfg.CI.BaseURL == "" {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking CI server... ❌ ci.base_url not set", checkNum, totalChecks))
		return false
	}
	client, err := newCIClient(cfg)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking CI server... ❌ Invalid client config", checkNum, totalChecks), zap.Error(err))
		return false
	}

	read := credentialSets(cfg)[strings.ToLower(cfg.CI.DefaultRole)]
	items, err := client.ListChildren(ctx, cfg.Catalog.Root)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking CI server... ❌ Cannot list catalog root", checkNum, totalChecks),
			zap.String("user", maskSecret(read.User)),
			zap.Error(err))
		return false
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking CI server... ✅ %d entries at root", checkNum, totalChecks, len(items)),
		zap.String("base_url", client.BaseURL()),
		zap.String("user", maskSecret(read.User)))
	return true
}

func checkBot(cfg *config.Config, checkNum, totalChecks int) bool {
	bot, err := telegram.New(telegram.Config{Token: cfg.Bot.Token}, nil)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Telegram bot... ❌ Authorization failed", checkNum, totalChecks),
			zap.String("token", maskSecret(cfg.Bot.Token)),
			zap.Error(err))
		return false
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Telegram bot... ✅ @%s", checkNum, totalChecks, bot.UserName()))
	return true
}

func storeBackend(cfg *config.Config) string {
	switch {
	case cfg.Store.URL == "":
		return "sqlite"
	case strings.HasPrefix(cfg.Store.URL, "postgres://"), strings.HasPrefix(cfg.Store.URL, "postgresql://"):
		return "postgres"
	default:
		return "libsql"
	}
}

func sortedRoles(cfg *config.Config) []string {
	roles := newResolver(cfg, nil).Roles()
	sort.Strings(roles)
	return roles
}

// maskSecret masks all but the last 4 characters of a secret.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

// printConfigHelp prints help for the required settings.
func printConfigHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To configure deploybot:")
	observability.CLILogger.Info("  1. Set DEPLOYBOT_BOT_TOKEN and DEPLOYBOT_CI_BASE_URL environment variables, or")
	observability.CLILogger.Info("  2. Put them in a .env file in the working directory, or")
	observability.CLILogger.Info("  3. Write bot.token and ci.base_url to deploybot.yaml (see --config)")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Credentials per role go under ci.credentials.<role>.user/token.")
	observability.CLILogger.Info("")
}
