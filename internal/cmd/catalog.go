package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/deploybot/internal/observability"
	"github.com/3leaps/deploybot/pkg/catalog"
	"github.com/3leaps/deploybot/pkg/output"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Browse and search the CI job catalog",
}

var catalogListCmd = &cobra.Command{
	Use:   "ls [folder]",
	Short: "List a folder's sub-folders and jobs",
	Long: `List the immediate children of a folder, or with --recursive every
leaf job below it.

Examples:
  deploybot catalog ls
  deploybot catalog ls Team-A --recursive`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCatalogList,
}

var catalogSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search jobs and folders by name",
	Long: `Search the catalog below the configured search roots. The query is a
case-insensitive substring, or a glob when it contains * ? or [.

Examples:
  deploybot catalog search payment
  deploybot catalog search 'team-a/**/api-*' --json
  deploybot catalog search payment --jsonl > payment.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runCatalogSearch,
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogListCmd, catalogSearchCmd)

	catalogListCmd.Flags().BoolP("recursive", "r", false, "List every leaf job below the folder")
	catalogListCmd.Flags().Bool("json", false, "Output as JSON")
	catalogSearchCmd.Flags().StringSlice("root", nil, "Search roots (default: catalog.search_roots)")
	catalogSearchCmd.Flags().Bool("json", false, "Output as JSON")
	catalogSearchCmd.Flags().Bool("jsonl", false, "Stream progress, matches and a summary as JSONL records")
}

type catalogEntry struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
	Path string `json:"path"`
}

func runCatalogList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	recursive, _ := cmd.Flags().GetBool("recursive")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := loadedConfig()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Configuration unavailable", err)
	}
	client, err := newCIClient(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid CI configuration", err)
	}
	disc := newDiscovery(client, cfg, observability.CLILogger.Named("catalog"))

	folder := cfg.Catalog.Root
	if len(args) == 1 {
		folder = args[0]
	}

	var entries []catalogEntry
	if recursive {
		jobs, err := disc.ListLeafJobs(ctx, folder)
		if err != nil {
			return catalogError(ctx, "Failed to list jobs", err)
		}
		for _, j := range jobs {
			entries = append(entries, catalogEntry{Kind: output.KindJob, Name: j.Name, Path: j.Path})
		}
	} else {
		folders, jobs, err := disc.Children(ctx, folder)
		if err != nil {
			return catalogError(ctx, "Failed to list folder", err)
		}
		for _, f := range folders {
			entries = append(entries, catalogEntry{Kind: output.KindFolder, Name: f.Name, Path: f.Path})
		}
		for _, j := range jobs {
			entries = append(entries, catalogEntry{Kind: output.KindJob, Name: j.Name, Path: j.Path})
		}
	}

	return printCatalog(entries, jsonOutput)
}

func runCatalogSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	roots, _ := cmd.Flags().GetStringSlice("root")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	jsonlOutput, _ := cmd.Flags().GetBool("jsonl")
	if jsonOutput && jsonlOutput {
		return exitError(foundry.ExitInvalidArgument, "Invalid flags", fmt.Errorf("--json and --jsonl are mutually exclusive"))
	}

	cfg, err := loadedConfig()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Configuration unavailable", err)
	}
	client, err := newCIClient(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid CI configuration", err)
	}
	if len(roots) == 0 {
		roots = searchRoots(cfg)
	}

	logger := observability.CLILogger
	engine := newSearchEngine(client, cfg, logger.Named("search"))

	var records output.Writer
	if jsonlOutput {
		jw := output.NewJSONLWriter(os.Stdout, uuid.NewString(), cfg.CI.BaseURL)
		defer func() { _ = jw.Close() }()
		records = jw
	}

	progress := make(chan catalog.Progress, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range progress {
			logger.Debug("Search progress", zap.Int("processed", p.Processed), zap.Int("total", p.Total))
			if records != nil {
				if err := records.WriteProgress(ctx, &output.ProgressRecord{Processed: p.Processed, Total: p.Total}); err != nil {
					logger.Debug("Dropped progress record", zap.Error(err))
				}
			}
		}
	}()
	res, err := engine.Search(ctx, roots, args[0], progress)
	close(progress)
	<-done

	if err != nil && (res == nil || ctx.Err() != nil) {
		return catalogError(ctx, "Search failed", err)
	}
	if res.Partial {
		logger.Warn("Search timed out, results are partial",
			zap.Int("processed", res.Processed),
			zap.Int("total", res.Total))
	}
	logger.Info("Search complete",
		zap.String("query", res.Query),
		zap.Int("jobs", len(res.Jobs)),
		zap.Int("folders", len(res.Folders)),
		zap.Int("errors", res.Errors),
		zap.Duration("duration", res.Duration))

	entries := make([]catalogEntry, 0, len(res.Folders)+len(res.Jobs))
	for _, f := range res.Folders {
		entries = append(entries, catalogEntry{Kind: output.KindFolder, Name: f.Name, Path: f.Path})
	}
	for _, j := range res.Jobs {
		entries = append(entries, catalogEntry{Kind: output.KindJob, Name: j.Name, Path: j.Path})
	}
	if records != nil {
		if err := writeSearchRecords(ctx, records, res, roots, entries); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
		return nil
	}
	return printCatalog(entries, jsonOutput)
}

// writeSearchRecords emits one entry record per match, error records for
// partial or degraded results, and a closing summary.
func writeSearchRecords(ctx context.Context, w output.Writer, res *catalog.Result, roots []string, entries []catalogEntry) error {
	for _, e := range entries {
		if err := w.WriteEntry(ctx, &output.EntryRecord{Kind: e.Kind, Name: e.Name, Path: e.Path}); err != nil {
			return err
		}
	}
	if res.Partial {
		if err := w.WriteError(ctx, &output.ErrorRecord{
			Code:    output.ErrCodeTimeout,
			Message: fmt.Sprintf("search stopped early, %s", catalog.Progress{Processed: res.Processed, Total: res.Total}),
		}); err != nil {
			return err
		}
	}
	if res.Errors > 0 {
		if err := w.WriteError(ctx, &output.ErrorRecord{
			Code:    output.ErrCodeUnreachable,
			Message: fmt.Sprintf("%d folders could not be listed", res.Errors),
		}); err != nil {
			return err
		}
	}
	return w.WriteSummary(ctx, &output.SummaryRecord{
		Query:         res.Query,
		Jobs:          len(res.Jobs),
		Folders:       len(res.Folders),
		Processed:     res.Processed,
		Total:         res.Total,
		Errors:        res.Errors,
		Partial:       res.Partial,
		Cached:        res.Cached,
		Duration:      res.Duration,
		DurationHuman: res.Duration.String(),
		Roots:         roots,
	})
}

func catalogError(ctx context.Context, msg string, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return exitError(foundry.ExitSignalInt, msg, err)
	}
	return exitError(foundry.ExitExternalServiceUnavailable, msg, err)
}

func printCatalog(entries []catalogEntry, jsonOutput bool) error {
	if jsonOutput {
		if entries == nil {
			entries = []catalogEntry{}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(os.Stderr, "No entries")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()
	_, _ = fmt.Fprintln(w, "KIND\tNAME\tPATH")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", e.Kind, e.Name, e.Path)
	}
	return nil
}
