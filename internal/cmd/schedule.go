package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/deploybot/internal/observability"
	"github.com/3leaps/deploybot/pkg/chat"
	"github.com/3leaps/deploybot/pkg/chat/telegram"
	"github.com/3leaps/deploybot/pkg/deploy"
	"github.com/3leaps/deploybot/pkg/jobstore"
	"github.com/3leaps/deploybot/pkg/scheduler"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage scheduled deploys",
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled deploys",
	Long: `List scheduled deploys in the job store, soonest first.

Examples:
  deploybot schedule list
  deploybot schedule list --owner 123456789 --json`,
	RunE: runScheduleList,
}

var scheduleRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Fire every due scheduled deploy once",
	Long: `Run a single scheduler tick: every entry due now is triggered and
removed. Owners are notified when a bot token is configured.`,
	RunE: runScheduleRun,
}

var scheduleRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a job row by id",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleRemove,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleListCmd, scheduleRunCmd, scheduleRemoveCmd)

	scheduleListCmd.Flags().Int64("owner", 0, "Only entries owned by this chat user id")
	scheduleListCmd.Flags().Bool("json", false, "Output as JSON")
}

func runScheduleList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	owner, _ := cmd.Flags().GetInt64("owner")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := loadedConfig()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Configuration unavailable", err)
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open job store", err)
	}
	defer func() { _ = store.Close() }()

	var jobs []jobstore.Job
	if owner != 0 {
		jobs, err = store.ListScheduledByOwner(ctx, owner)
	} else {
		jobs, err = store.ListScheduled(ctx)
	}
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list scheduled deploys", err)
	}

	if jsonOutput {
		return printScheduleJSON(jobs)
	}
	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(os.Stderr, "No scheduled deploys")
		return nil
	}
	return printScheduleTable(jobs, cfg.Location())
}

func printScheduleTable(jobs []jobstore.Job, loc *time.Location) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "ID\tJOB\tAT\tPARAMETER\tOWNER\tCHAT")
	for _, j := range jobs {
		at := "-"
		if j.ScheduledTime != nil {
			at = j.ScheduledTime.In(loc).Format("2006-01-02 15:04")
		}
		param := j.Parameter
		if param == "" {
			param = "-"
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\n", j.ID, j.URL, at, param, j.OwnerUserID, j.ChatID)
	}
	return nil
}

func printScheduleJSON(jobs []jobstore.Job) error {
	type jsonEntry struct {
		ID            int64   `json:"id"`
		Name          string  `json:"name"`
		Path          string  `json:"path"`
		ScheduledTime *string `json:"scheduled_time,omitempty"`
		Parameter     string  `json:"parameter,omitempty"`
		OwnerUserID   int64   `json:"owner_user_id"`
		ChatID        int64   `json:"chat_id"`
		CreatedAt     string  `json:"created_at"`
	}

	out := make([]jsonEntry, len(jobs))
	for i, j := range jobs {
		out[i] = jsonEntry{
			ID:          j.ID,
			Name:        j.Name,
			Path:        j.URL,
			Parameter:   j.Parameter,
			OwnerUserID: j.OwnerUserID,
			ChatID:      j.ChatID,
			CreatedAt:   j.CreatedAt.Format(time.RFC3339),
		}
		if j.ScheduledTime != nil {
			s := j.ScheduledTime.Format(time.RFC3339)
			out[i].ScheduledTime = &s
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runScheduleRun(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := observability.CLILogger

	cfg, err := loadedConfig()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Configuration unavailable", err)
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

	var notifier chat.Sender
	if cfg.Bot.Token != "" {
		bot, err := telegram.New(telegram.Config{Token: cfg.Bot.Token}, logger.Named("telegram"))
		if err != nil {
			logger.Warn("Telegram unavailable, owners will not be notified", zap.Error(err))
		} else {
			notifier = bot
		}
	}

	sched := scheduler.New(store,
		deploy.NewExecutor(deploy.FromClient(client), logger.Named("deploy")),
		newResolver(cfg, store),
		notifier,
		scheduler.Config{Location: cfg.Location()},
		logger.Named("scheduler"))

	sum, err := sched.Tick(ctx, time.Now())
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Scheduler tick failed", err)
	}
	logger.Info("Scheduler tick complete",
		zap.Int("due", sum.Due),
		zap.Int("triggered", sum.Triggered),
		zap.Int("failed", sum.Failed),
		zap.Int("deleted", sum.Deleted),
		zap.Int("rescheduled", sum.Rescheduled))
	if ctx.Err() != nil {
		return exitError(foundry.ExitSignalInt, "Scheduler tick cancelled", ctx.Err())
	}
	return nil
}

func runScheduleRemove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return exitError(foundry.ExitInvalidArgument, "Invalid job id", fmt.Errorf("expected a positive integer, got %q", args[0]))
	}

	cfg, err := loadedConfig()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Configuration unavailable", err)
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open job store", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.Delete(ctx, id); err != nil {
		if jobstore.IsNotFound(err) {
			return exitError(foundry.ExitInvalidArgument, "No such job", err)
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to delete job", err)
	}
	observability.CLILogger.Info("Job deleted", zap.Int64("id", id))
	return nil
}
