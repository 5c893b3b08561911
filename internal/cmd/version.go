package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().Bool("extended", false, "Include dependency and runtime versions")
	versionCmd.Flags().Bool("json", false, "Output as JSON")
}

type versionOutput struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version,omitempty"`
	Platform  string `json:"platform,omitempty"`
	Gofulmen  string `json:"gofulmen,omitempty"`
	Crucible  string `json:"crucible,omitempty"`
}

func runVersion(cmd *cobra.Command, _ []string) error {
	extended, _ := cmd.Flags().GetBool("extended")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	out := versionOutput{
		Version:   versionInfo.Version,
		Commit:    versionInfo.Commit,
		BuildDate: versionInfo.BuildDate,
	}
	if extended {
		v := crucible.GetVersion()
		out.GoVersion = runtime.Version()
		out.Platform = runtime.GOOS + "/" + runtime.GOARCH
		out.Gofulmen = v.Gofulmen
		out.Crucible = v.Crucible
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("deploybot %s\n", out.Version)
	fmt.Printf("  commit:     %s\n", out.Commit)
	fmt.Printf("  built:      %s\n", out.BuildDate)
	if extended {
		fmt.Printf("  go:         %s (%s)\n", out.GoVersion, out.Platform)
		fmt.Printf("  gofulmen:   %s\n", out.Gofulmen)
		fmt.Printf("  crucible:   %s\n", out.Crucible)
	}
	return nil
}
