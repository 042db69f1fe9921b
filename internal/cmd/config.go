package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Iron-Ham/rollout/internal/config"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify rollout configuration",
	Long: `View or modify rollout configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the active config file.

Keys use dot notation, e.g.:
  rollout config set deploy_to /var/www/app
  rollout config set hosts app1.example.com,app2.example.com
  rollout config set ssh.host_key_policy accept-new

List values are comma separated. The result is validated before it is
written.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long: `Create a commented config file with every available option.

By default it is written to ~/.config/rollout/config.yaml. With --local it
is written to ./rollout.yaml, which takes precedence when present.`,
	RunE: runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

var configInitLocal bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)

	configInitCmd.Flags().BoolVar(&configInitLocal, "local", false, "Write ./rollout.yaml instead of the user config")
}

// settableKeys maps the keys accepted by config set to their value kind.
var settableKeys = map[string]string{
	"deploy_to":           "string",
	"build_to":            "string",
	"releases_to_keep":    "int",
	"shared_dirs":         "list",
	"shared_files":        "list",
	"repository":          "string",
	"branch":              "string",
	"commands":            "list",
	"hosts":               "list",
	"user":                "string",
	"transport":           "string",
	"max_parallel":        "int",
	"finalize_timeout":    "duration",
	"ssh.port":            "int",
	"ssh.identity_file":   "string",
	"ssh.known_hosts":     "string",
	"ssh.host_key_policy": "string",
	"ssh.use_agent":       "bool",
	"ssh.connect_timeout": "duration",
	"ssh.connect_retries": "int",
	"logging.enabled":     "bool",
	"logging.level":       "string",
	"logging.dir":         "string",
	"logging.max_size_mb": "int",
	"logging.max_backups": "int",
	"logging.compress":    "bool",
	"history.enabled":     "bool",
	"history.path":        "string",
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Config file: %s\n\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Config file: (none - using defaults)\n\n")
	}

	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to read configuration: %w", err)
	}
	data, err := config.Render(&cfg)
	if err != nil {
		return err
	}
	_, _ = out.Write(data)

	if errs := cfg.Validate(); len(errs) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Problems:")
		for _, e := range errs {
			fmt.Fprintf(out, "  - %s\n", e.Error())
		}
	}
	return nil
}

// parseValue converts a command-line value to the kind of key.
func parseValue(key, value string) (any, error) {
	kind, ok := settableKeys[key]
	if !ok {
		keys := make([]string, 0, len(settableKeys))
		for k := range settableKeys {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("unknown configuration key: %s\nValid keys: %s", key, strings.Join(keys, ", "))
	}

	switch kind {
	case "int":
		n, err := cast.ToIntE(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		return n, nil
	case "bool":
		b, err := cast.ToBoolE(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return b, nil
	case "duration":
		d, err := cast.ToDurationE(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected a duration such as 30s", key)
		}
		return d.String(), nil
	case "list":
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return items, nil
	default:
		return value, nil
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	typed, err := parseValue(key, value)
	if err != nil {
		return err
	}

	viper.Set(key, typed)
	if _, err := config.Load(); err != nil {
		return fmt.Errorf("refusing to save: %w", err)
	}

	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		configFile = config.ConfigFile()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Set %s = %v\n", key, typed)
	fmt.Fprintf(out, "Config saved to %s\n", configFile)
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configFile := config.ConfigFile()
	if configInitLocal {
		configFile = "rollout.yaml"
	}

	if err := config.WriteTemplate(configFile); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created config file at %s\n", configFile)
	fmt.Fprintln(out, "Set deploy_to and hosts, then run 'rollout setup'.")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	// Also show config search paths
	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintln(out, "  1. ./rollout.yaml (current directory)")
	fmt.Fprintf(out, "  2. %s\n", config.ConfigFile())
	fmt.Fprintln(out, "\nEnvironment variables: ROLLOUT_* (e.g., ROLLOUT_DEPLOY_TO, ROLLOUT_SSH_PORT)")
	return nil
}
