package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/croplink/display"
	"github.com/teranos/croplink/version"
)

// VersionCmd represents the version command
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show croplink version information",
	Long:  `Display version, build time, commit hash, and platform information for the croplink binary.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := version.Get()
		w := cmd.OutOrStdout()

		if display.ShouldOutputJSON(cmd) {
			return display.JSON(w, info)
		}

		fmt.Fprintln(w, info.String())
		fmt.Fprintf(w, "Platform: %s\n", info.Platform)
		fmt.Fprintf(w, "Go:       %s\n", info.GoVersion)
		if !info.IsRelease() {
			fmt.Fprintln(w, "Development build")
		}
		return nil
	},
}
