package cmd

import (
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/deploybot/internal/observability"
	"github.com/3leaps/deploybot/pkg/deploy"
	"github.com/3leaps/deploybot/pkg/jenkins"
)

var triggerCmd = &cobra.Command{
	Use:   "trigger <job-path>",
	Short: "Trigger a deploy build directly",
	Long: `Trigger one build of a catalog job with the credentials of a role,
bypassing the chat. The build parameter is sent only when --param is set.

Examples:
  deploybot trigger Team-A/build-service
  deploybot trigger Team-A/api-gateway --param v1.4.2 --role qa`,
	Args: cobra.ExactArgs(1),
	RunE: runTrigger,
}

func init() {
	rootCmd.AddCommand(triggerCmd)
	triggerCmd.Flags().String("role", "", "Credential role (default: ci.default_role)")
	triggerCmd.Flags().String("param", "", "Build parameter value")
}

func runTrigger(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	role, _ := cmd.Flags().GetString("role")
	param, _ := cmd.Flags().GetString("param")

	path := jenkins.NormalizePath(args[0])
	if path == "" {
		return exitError(foundry.ExitInvalidArgument, "Invalid job path", fmt.Errorf("job path must not be empty"))
	}

	cfg, err := loadedConfig()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Configuration unavailable", err)
	}
	if role == "" {
		role = cfg.CI.DefaultRole
	}
	role = strings.ToLower(strings.TrimSpace(role))

	creds, ok := credentialSets(cfg)[role]
	if !ok || creds.Empty() {
		return exitError(foundry.ExitInvalidArgument, "No credentials for role",
			fmt.Errorf("role %q: %w", role, deploy.ErrNoCredentials))
	}

	client, err := newCIClient(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid CI configuration", err)
	}

	executor := deploy.NewExecutor(deploy.FromClient(client), observability.CLILogger.Named("deploy"))
	if !executor.Trigger(ctx, path, creds, strings.TrimSpace(param)) {
		if ctx.Err() != nil {
			return exitError(foundry.ExitSignalInt, "Trigger cancelled", ctx.Err())
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Build was not accepted", fmt.Errorf("trigger %s failed", path))
	}
	fmt.Printf("Build queued: %s\n", path)
	return nil
}
