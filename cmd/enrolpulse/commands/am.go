package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/enrolpulse/am"
	"github.com/teranos/enrolpulse/errors"
	"github.com/teranos/enrolpulse/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.AM + " Manage enrolpulse configuration",
	Long: sym.AM + ` am - Manage enrolpulse configuration ("I am")

Configuration sources (in order of precedence):
1. Environment variables (ENROLPULSE_* prefix)
2. Project config (./am.toml, searched up from the working directory)
3. User config (~/.enrolpulse/am.toml)
4. System config (/etc/enrolpulse/am.toml)
5. Default values

Examples:
  enrolpulse am show                                   # Show current configuration
  enrolpulse am show --format json                     # Show configuration as JSON
  enrolpulse am get pulse.batch_size                   # Get one value
  enrolpulse am disable course_enrolment_calculation   # Turn a background job off`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., database.path, pulse.workers)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show which config files are checked",
	RunE:  runAmWhere,
}

var amEnableCmd = &cobra.Command{
	Use:   "enable <job-name>",
	Short: "Enable a background job type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setBackgroundJob(cmd, args[0], true)
	},
}

var amDisableCmd = &cobra.Command{
	Use:   "disable <job-name>",
	Short: "Disable a background job type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setBackgroundJob(cmd, args[0], false)
	},
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
	AmCmd.AddCommand(amEnableCmd)
	AmCmd.AddCommand(amDisableCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	out := cmd.OutOrStdout()
	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to JSON")
		}
		fmt.Fprintln(out, string(data))

	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to YAML")
		}
		fmt.Fprintf(out, "# enrolpulse configuration\n%s", string(data))

	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to TOML")
		}
		fmt.Fprintf(out, "# enrolpulse configuration\n%s", string(data))

	default:
		return errors.NewInvalidRequestError("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}

	return nil
}

func runAmGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	v := am.GetViper()
	if !v.IsSet(key) {
		return errors.NewNotFoundError("configuration key %q not found", key)
	}
	fmt.Fprintln(cmd.OutOrStdout(), v.Get(key))
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	// Load validates
	if _, err := am.Load(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}

	out := cmd.OutOrStdout()
	for _, path := range am.ConfigPaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		keys, err := am.UnknownKeys(path)
		if err != nil {
			return err
		}
		for _, key := range keys {
			fmt.Fprint(out, pterm.Warning.Sprintfln("%s: unknown key %s is ignored", path, key))
		}
	}

	fmt.Fprintln(out, "✓ Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Configuration cascade (later overrides earlier):")
	fmt.Fprintln(out, "  [DEFAULT]  Built-in defaults")
	for _, path := range am.ConfigPaths() {
		state := "missing"
		if _, err := os.Stat(path); err == nil {
			state = "found"
		}
		fmt.Fprintf(out, "  [FILE]     %s (%s)\n", path, state)
	}
	fmt.Fprintln(out, "  [ENV]      ENROLPULSE_* environment variables")

	if path, err := am.WritableConfigPath(); err == nil {
		fmt.Fprintf(out, "\n`am enable|disable` writes to %s\n", path)
	}
	return nil
}

func setBackgroundJob(cmd *cobra.Command, jobName string, enabled bool) error {
	path, err := am.WritableConfigPath()
	if err != nil {
		return err
	}
	if err := am.SetBackgroundJob(path, jobName, enabled); err != nil {
		return err
	}
	am.Reset()

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Fprint(cmd.OutOrStdout(), pterm.Success.Sprintfln("%s %s in %s", jobName, state, path))
	return nil
}
