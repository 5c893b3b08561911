package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/deploybot/internal/observability"
	"github.com/3leaps/deploybot/pkg/jobstore"
)

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "Manage user credential roles",
	Long: `Each chat user deploys with the CI credential set of their role.
Users without an assigned role use ci.default_role.

Examples:
  deploybot roles set 123456789 qa
  deploybot roles list
  deploybot roles rm 123456789`,
}

var rolesSetCmd = &cobra.Command{
	Use:   "set <user-id> <role>",
	Short: "Assign a role to a user",
	Args:  cobra.ExactArgs(2),
	RunE:  runRolesSet,
}

var rolesGetCmd = &cobra.Command{
	Use:   "get <user-id>",
	Short: "Show the effective role of a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runRolesGet,
}

var rolesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List assigned roles",
	RunE:  runRolesList,
}

var rolesRemoveCmd = &cobra.Command{
	Use:   "rm <user-id>",
	Short: "Remove a user's role assignment",
	Args:  cobra.ExactArgs(1),
	RunE:  runRolesRemove,
}

func init() {
	rootCmd.AddCommand(rolesCmd)
	rolesCmd.AddCommand(rolesSetCmd, rolesGetCmd, rolesListCmd, rolesRemoveCmd)
	rolesListCmd.Flags().Bool("json", false, "Output as JSON")
	rolesSetCmd.Flags().Bool("force", false, "Allow a role without configured credentials")
}

func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("expected a chat user id, got %q", s)
	}
	return id, nil
}

func runRolesSet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	force, _ := cmd.Flags().GetBool("force")

	userID, err := parseUserID(args[0])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid user id", err)
	}
	role := strings.ToLower(strings.TrimSpace(args[1]))
	if role == "" {
		return exitError(foundry.ExitInvalidArgument, "Invalid role", fmt.Errorf("role must not be empty"))
	}

	cfg, err := loadedConfig()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Configuration unavailable", err)
	}
	if _, ok := credentialSets(cfg)[role]; !ok && !force {
		return exitError(foundry.ExitInvalidArgument, "Unknown role",
			fmt.Errorf("role %q has no credentials in ci.credentials (use --force to assign anyway)", role))
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open job store", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.SetUserRole(ctx, userID, role); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to assign role", err)
	}
	observability.CLILogger.Info("Role assigned", zap.Int64("user_id", userID), zap.String("role", role))
	return nil
}

func runRolesGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	userID, err := parseUserID(args[0])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid user id", err)
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

	role, creds, err := newResolver(cfg, store).Resolve(ctx, userID)
	switch {
	case err == nil:
		fmt.Printf("%d\t%s\t%s\n", userID, role, creds.User)
	case role != "":
		fmt.Printf("%d\t%s\t(no credentials)\n", userID, role)
	default:
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to resolve role", err)
	}
	return nil
}

func runRolesList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
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

	roles, err := store.ListUserRoles(ctx)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list roles", err)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i].UserID < roles[j].UserID })

	if jsonOutput {
		return printRolesJSON(roles)
	}
	if len(roles) == 0 {
		_, _ = fmt.Fprintf(os.Stderr, "No role assignments (everyone uses %q)\n", cfg.CI.DefaultRole)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()
	_, _ = fmt.Fprintln(w, "USER\tROLE\tUPDATED")
	for _, r := range roles {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\n", r.UserID, r.Role, formatRelativeTime(r.UpdatedAt))
	}
	return nil
}

func printRolesJSON(roles []jobstore.UserRole) error {
	type jsonEntry struct {
		UserID    int64  `json:"user_id"`
		Role      string `json:"role"`
		UpdatedAt string `json:"updated_at"`
	}
	out := make([]jsonEntry, len(roles))
	for i, r := range roles {
		out[i] = jsonEntry{UserID: r.UserID, Role: r.Role, UpdatedAt: r.UpdatedAt.Format(time.RFC3339)}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runRolesRemove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	userID, err := parseUserID(args[0])
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid user id", err)
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

	if err := store.DeleteUserRole(ctx, userID); err != nil {
		if jobstore.IsNotFound(err) {
			return exitError(foundry.ExitInvalidArgument, "No role assigned", err)
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to remove role", err)
	}
	observability.CLILogger.Info("Role removed", zap.Int64("user_id", userID))
	return nil
}
