package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/3leaps/deploybot/internal/config"
	"github.com/3leaps/deploybot/internal/observability"
	"github.com/3leaps/deploybot/internal/server"
	"github.com/3leaps/deploybot/internal/server/handlers"
	"github.com/3leaps/deploybot/pkg/buildwatch"
	"github.com/3leaps/deploybot/pkg/chat"
	"github.com/3leaps/deploybot/pkg/chat/telegram"
	"github.com/3leaps/deploybot/pkg/deploy"
	"github.com/3leaps/deploybot/pkg/dialogue"
	"github.com/3leaps/deploybot/pkg/jenkins"
	"github.com/3leaps/deploybot/pkg/jobstore"
	"github.com/3leaps/deploybot/pkg/scheduler"
	"github.com/3leaps/deploybot/pkg/session"
	"github.com/3leaps/deploybot/pkg/shortref"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat bot",
	Long: `Run the chat bot until interrupted.

Starts the Telegram long-poll loop, the scheduled deploy poller and the HTTP
server carrying health probes and the build notification webhook.

Examples:
  deploybot serve
  deploybot serve --port 9000 --log-profile console`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "HTTP listen host (overrides server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP listen port (overrides server.port)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := observability.CLILogger

	cfg, err := loadedConfig()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Configuration unavailable", err)
	}
	if err := cfg.Validate(); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open job store", err)
	}
	defer func() { _ = store.Close() }()

	client, err := newCIClient(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid CI configuration", err)
	}

	bot, err := telegram.New(telegram.Config{
		Token:       cfg.Bot.Token,
		PollTimeout: cfg.Bot.PollTimeout,
		Debug:       cfg.Bot.Debug,
	}, logger.Named("telegram"))
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to connect to Telegram", err)
	}

	refs := shortref.New(shortref.Config{TTL: cfg.Refs.TTL})
	watches := buildwatch.New(bot, cfg.Webhook.WatchTTL, logger.Named("buildwatch"))
	resolver := newResolver(cfg, store)
	executor := deploy.NewExecutor(deploy.FromClient(client), logger.Named("deploy"))

	deps := dialogue.Deps{
		Transport:   bot,
		Sessions:    session.NewRegistry(),
		Refs:        refs,
		Catalog:     newDiscovery(client, cfg, logger.Named("catalog")),
		Searcher:    newSearchEngine(client, cfg, logger.Named("search")),
		Store:       store,
		Deployer:    executor,
		Credentials: resolver,
	}
	if cfg.Webhook.Enabled {
		deps.Watcher = watches
	}
	controller := dialogue.New(deps, dialogue.Config{
		Root:           cfg.Catalog.Root,
		SearchRoots:    searchRoots(cfg),
		PageSize:       cfg.Catalog.PageSize,
		Parameterized:  cfg.Catalog.Parameterized,
		ParameterName:  cfg.CI.ParameterName,
		Location:       cfg.Location(),
		DefaultDelay:   cfg.Scheduler.DefaultDelay,
		FeedbackChatID: cfg.Bot.FeedbackChatID,
		BotName:        bot.UserName(),
	}, logger.Named("dialogue"))

	sched := scheduler.New(store, executor, resolver, bot, scheduler.Config{
		Interval: cfg.Scheduler.Interval,
		Location: cfg.Location(),
	}, logger.Named("scheduler"))
	if cfg.Webhook.Enabled {
		sched.WithWatcher(watches)
	}

	srv := newHTTPServer(cfg, store, client, bot, watches)

	g, gctx := errgroup.WithContext(ctx)

	if err := sched.Start(gctx); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to start scheduler", err)
	}
	defer sched.Stop()

	g.Go(func() error {
		refs.Run(gctx, cfg.Refs.SweepInterval)
		return nil
	})
	g.Go(func() error {
		watches.Run(gctx, time.Hour)
		return nil
	})
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	dispatcher := chat.NewDispatcher(controller, logger.Named("dispatch"))
	g.Go(func() error {
		dispatcher.Run(gctx, bot.Updates(gctx))
		if gctx.Err() == nil {
			return errors.New("telegram update stream closed")
		}
		return nil
	})

	logger.Info("deploybot started",
		zap.String("version", versionInfo.Version),
		zap.String("bot", bot.UserName()),
		zap.String("ci", client.BaseURL()),
		zap.Int("port", srv.Port()),
		zap.Bool("webhook", cfg.Webhook.Enabled))

	err = g.Wait()
	if ctx.Err() != nil {
		logger.Info("Shutdown complete")
		return nil
	}
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Bot stopped", err)
	}
	return nil
}

func newHTTPServer(cfg *config.Config, store *jobstore.Store, client *jenkins.Client, bot *telegram.Bot, watches *buildwatch.Registry) *server.Server {
	handlers.InitHealthManager(versionInfo.Version)
	hm := handlers.GetHealthManager()
	hm.RegisterChecker("signal", signalHealthChecker{})
	if id := GetAppIdentity(); id != nil {
		hm.RegisterChecker("identity", identityHealthChecker{
			binaryName: id.BinaryName,
			envPrefix:  id.EnvPrefix,
			configName: id.ConfigName,
		})
	}
	hm.RegisterChecker("store", storeHealthChecker{store: store})
	hm.RegisterChecker("ci", ciHealthChecker{client: client, root: cfg.Catalog.Root})
	hm.RegisterChecker("telegram", bot)

	opts := []server.Option{
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
	}
	if cfg.Webhook.Enabled {
		opts = append(opts, server.WithWebhook(cfg.Webhook.Secret, watches))
	}
	if cfg.Debug.PprofEnabled {
		opts = append(opts, server.WithPprof())
	}
	return server.New(cfg.Server.Host, cfg.Server.Port, opts...)
}

// signalHealthChecker reports the signal handling loop; it is healthy as
// long as the process serves requests.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(context.Context) error {
	return nil
}

type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("app identity missing binary name")
	case c.envPrefix == "":
		return errors.New("app identity missing env prefix")
	case c.configName == "":
		return errors.New("app identity missing config name")
	}
	return nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

type storeHealthChecker struct {
	store pinger
}

func (c storeHealthChecker) CheckHealth(ctx context.Context) error {
	if c.store == nil {
		return errors.New("job store not initialized")
	}
	if err := c.store.Ping(ctx); err != nil {
		return fmt.Errorf("job store: %w", err)
	}
	return nil
}

type childLister interface {
	ListChildren(ctx context.Context, path string) ([]jenkins.Item, error)
}

// ciHealthChecker lists the catalog root to prove the CI server is
// reachable with the read credentials.
type ciHealthChecker struct {
	client childLister
	root   string
}

func (c ciHealthChecker) CheckHealth(ctx context.Context) error {
	if c.client == nil {
		return errors.New("ci client not initialized")
	}
	if _, err := c.client.ListChildren(ctx, c.root); err != nil {
		return fmt.Errorf("ci server: %w", err)
	}
	return nil
}
