package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/enrolpulse/errors"
	"github.com/teranos/enrolpulse/version"
)

// VersionCmd represents the version command
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show enrolpulse version information",
	Long: `Display version, build time, commit hash, and platform information for the enrolpulse binary.

--require checks the build against a semver constraint and fails when it does
not match, for deploy scripts that need a minimum version.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		constraint, _ := cmd.Flags().GetString("require")
		out := cmd.OutOrStdout()

		info := version.Get()

		if constraint != "" {
			ok, err := info.Satisfies(constraint)
			if err != nil {
				return err
			}
			if !ok {
				return errors.Newf("enrolpulse %s does not satisfy %q", info.Version, constraint)
			}
		}

		if jsonOutput {
			output, err := json.MarshalIndent(info, "", "  ")
			if err != nil {
				return errors.Wrap(err, "failed to format version as JSON")
			}
			fmt.Fprintln(out, string(output))
			return nil
		}

		fmt.Fprintln(out, info.String())
		fmt.Fprintf(out, "Platform: %s\n", info.Platform)
		fmt.Fprintf(out, "Go: %s\n", info.GoVersion)
		return nil
	},
}

func init() {
	VersionCmd.Flags().BoolP("json", "j", false, "Output version info as JSON")
	VersionCmd.Flags().String("require", "", "Fail unless the version satisfies this semver constraint")
}
