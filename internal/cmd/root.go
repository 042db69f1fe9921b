package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/Iron-Ham/rollout/internal/config"
	"github.com/Iron-Ham/rollout/internal/errors"
	"github.com/Iron-Ham/rollout/internal/logging"
	"github.com/Iron-Ham/rollout/internal/report"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "rollout",
	Short: "Zero-downtime release deploys over SSH",
	Long: `Rollout deploys an application to one or more hosts using timestamped
release directories. Each deploy builds in a staging path, promotes the
build into releases/, atomically repoints the current symlink and prunes
old releases, all under a per-host deploy lock.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// errFailed is returned by commands that already printed why they failed.
var errFailed = errors.New("command failed")

// Execute runs the root command and prints any error it returns.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil && !errors.Is(err, errFailed) {
		fmt.Fprintln(os.Stderr, errorLine(err))
	}
	return err
}

// errorLine renders err for the terminal. Warnings get the warning style, and
// errors not written for users point at the debug log.
func errorLine(err error) string {
	label, style := "Error:", report.Error
	if errors.GetSeverity(err) <= errors.SeverityWarning {
		label, style = "Warning:", report.Warning
	}
	line := style.Render(label) + " " + err.Error()
	if !errors.IsUserFacing(err) {
		line += " " + report.Muted.Render("(see `rollout logs` for details)")
	}
	return line
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is ./rollout.yaml or $HOME/.config/rollout/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("rollout")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if _, err := os.Stat("rollout.yaml"); err != nil {
			viper.SetConfigName("config")
			viper.AddConfigPath(config.ConfigDir())
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("ROLLOUT")
	// Replace dots with underscores for nested keys in env vars
	// e.g., ROLLOUT_SSH_HOST_KEY_POLICY for ssh.host_key_policy
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// env is what every command that talks to hosts needs.
type env struct {
	cfg    *config.Config
	store  *config.Store
	logger *logging.Logger
}

func (e *env) Close() {
	_ = e.logger.Close()
}

// loadEnv validates the configuration and opens the debug log.
func loadEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.NopLogger()
	if cfg.Logging.Enabled {
		logger, err = logging.NewLogger(logging.Options{
			Dir:        cfg.LogDir(),
			Level:      cfg.Logging.Level,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			Compress:   cfg.Logging.Compress,
		})
		if err != nil {
			return nil, err
		}
	}

	return &env{
		cfg:    cfg,
		store:  cfg.Store(),
		logger: logger,
	}, nil
}

// selectHosts returns the configured hosts, narrowed to only when given.
func selectHosts(cfg *config.Config, only []string) ([]string, error) {
	if len(cfg.Hosts) == 0 {
		return nil, errors.NewConfigError("hosts", errors.ErrMissingConfig).WithMessage("no hosts configured")
	}
	if len(only) == 0 {
		return cfg.Hosts, nil
	}

	known := make(map[string]bool, len(cfg.Hosts))
	for _, h := range cfg.Hosts {
		known[h] = true
	}
	for _, h := range only {
		if !known[h] {
			return nil, errors.NewNotFoundError("host", h)
		}
	}
	return only, nil
}

// forEachHost connects to each host in turn and calls fn. A host that fails
// is reported and the loop moves on; errFailed is returned if any did.
func forEachHost(ctx context.Context, e *env, hosts []string, fn func(ctx context.Context, h *connectedHost) error) error {
	connect := newConnector(e.cfg, e.logger)
	failed := false
	for _, host := range hosts {
		err := func() error {
			target, err := connect(ctx, host)
			if err != nil {
				return err
			}
			defer func() { _ = target.Close() }()
			return fn(ctx, &connectedHost{name: host, Target: target})
		}()
		if err != nil {
			failed = true
			fmt.Fprintln(os.Stderr, report.HostName.Render(host)+" "+errorLine(err))
		}
	}
	if failed {
		return errFailed
	}
	return nil
}
