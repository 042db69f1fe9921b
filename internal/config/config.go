package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds everything rollout reads from the config file, flags and
// ROLLOUT_* environment variables.
type Config struct {
	// DeployTo is the deployment root on every host (required for deploys).
	DeployTo string `mapstructure:"deploy_to" yaml:"deploy_to"`
	// BuildTo overrides the staging path. Empty means
	// {deploy_to}/tmp/build-{run stamp}.
	BuildTo string `mapstructure:"build_to" yaml:"build_to,omitempty"`
	// ReleasesToKeep is how many releases survive pruning (default: 5).
	ReleasesToKeep int `mapstructure:"releases_to_keep" yaml:"releases_to_keep"`
	// SharedDirs are directories under shared/ linked into every release.
	SharedDirs []string `mapstructure:"shared_dirs" yaml:"shared_dirs"`
	// SharedFiles are files under shared/ linked into every release.
	SharedFiles []string `mapstructure:"shared_files" yaml:"shared_files"`

	// Repository is cloned into the build path when set.
	Repository string `mapstructure:"repository" yaml:"repository"`
	// Branch is the branch or tag to clone (default: "main").
	Branch string `mapstructure:"branch" yaml:"branch"`
	// Commands run in order inside the build path after the clone.
	Commands []string `mapstructure:"commands" yaml:"commands"`

	// Hosts are the deploy targets, as "host" or "host:port".
	Hosts []string `mapstructure:"hosts" yaml:"hosts"`
	// User is the remote login user.
	User string `mapstructure:"user" yaml:"user"`
	// Transport is "ssh" (default) or "local" for deploying on this machine.
	Transport string `mapstructure:"transport" yaml:"transport"`
	// MaxParallel bounds how many hosts deploy at once (default: 1).
	MaxParallel int `mapstructure:"max_parallel" yaml:"max_parallel"`
	// FinalizeTimeout bounds cleanup and unlock after the rest of the run.
	FinalizeTimeout time.Duration `mapstructure:"finalize_timeout" yaml:"finalize_timeout"`

	SSH     SSHConfig     `mapstructure:"ssh" yaml:"ssh"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	History HistoryConfig `mapstructure:"history" yaml:"history"`
}

// SSHConfig controls the SSH transport.
type SSHConfig struct {
	// Port is used for hosts that do not carry their own port (default: 22).
	Port int `mapstructure:"port" yaml:"port"`
	// IdentityFile is a private key to offer in addition to the agent.
	IdentityFile string `mapstructure:"identity_file" yaml:"identity_file"`
	// KnownHosts is the known_hosts file used to verify host keys.
	KnownHosts string `mapstructure:"known_hosts" yaml:"known_hosts"`
	// HostKeyPolicy is "strict", "accept-new" or "insecure" (default: "strict").
	HostKeyPolicy string `mapstructure:"host_key_policy" yaml:"host_key_policy"`
	// UseAgent offers keys from SSH_AUTH_SOCK (default: true).
	UseAgent bool `mapstructure:"use_agent" yaml:"use_agent"`
	// ConnectTimeout bounds a single dial attempt (default: 10s).
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	// ConnectRetries is the number of dial attempts (default: 3).
	ConnectRetries int `mapstructure:"connect_retries" yaml:"connect_retries"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether debug logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level"`
	// Dir overrides the log directory (default: {config dir}/logs)
	Dir string `mapstructure:"dir" yaml:"dir,omitempty"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
	// Compress gzips rotated log files (default: true)
	Compress bool `mapstructure:"compress" yaml:"compress"`
}

// HistoryConfig controls the local record of deploy runs.
type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Path overrides the database location (default: {config dir}/history.db)
	Path string `mapstructure:"path" yaml:"path,omitempty"`
}

// Default returns a Config with default values
func Default() *Config {
	return &Config{
		ReleasesToKeep:  5,
		SharedDirs:      []string{},
		SharedFiles:     []string{},
		Branch:          "main",
		Commands:        []string{},
		Hosts:           []string{},
		Transport:       TransportSSH,
		MaxParallel:     1,
		FinalizeTimeout: 2 * time.Minute,
		SSH: SSHConfig{
			Port:           22,
			HostKeyPolicy:  HostKeyStrict,
			UseAgent:       true,
			ConnectTimeout: 10 * time.Second,
			ConnectRetries: 3,
		},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   true,
		},
		History: HistoryConfig{
			Enabled: true,
		},
	}
}

// Transport names.
const (
	TransportSSH   = "ssh"
	TransportLocal = "local"
)

// Host key policies.
const (
	HostKeyStrict    = "strict"
	HostKeyAcceptNew = "accept-new"
	HostKeyInsecure  = "insecure"
)

// SetDefaults registers default values with the global viper instance.
func SetDefaults() {
	SetDefaultsOn(viper.GetViper())
}

// SetDefaultsOn registers default values with v.
func SetDefaultsOn(v *viper.Viper) {
	defaults := Default()

	// Keys without a useful default are still registered so that
	// ROLLOUT_* environment variables reach Unmarshal.
	v.SetDefault("deploy_to", defaults.DeployTo)
	v.SetDefault("build_to", defaults.BuildTo)
	v.SetDefault("repository", defaults.Repository)
	v.SetDefault("user", defaults.User)

	v.SetDefault("releases_to_keep", defaults.ReleasesToKeep)
	v.SetDefault("shared_dirs", defaults.SharedDirs)
	v.SetDefault("shared_files", defaults.SharedFiles)
	v.SetDefault("branch", defaults.Branch)
	v.SetDefault("commands", defaults.Commands)
	v.SetDefault("hosts", defaults.Hosts)
	v.SetDefault("transport", defaults.Transport)
	v.SetDefault("max_parallel", defaults.MaxParallel)
	v.SetDefault("finalize_timeout", defaults.FinalizeTimeout)

	// SSH defaults
	v.SetDefault("ssh.port", defaults.SSH.Port)
	v.SetDefault("ssh.identity_file", defaults.SSH.IdentityFile)
	v.SetDefault("ssh.known_hosts", defaults.SSH.KnownHosts)
	v.SetDefault("ssh.host_key_policy", defaults.SSH.HostKeyPolicy)
	v.SetDefault("ssh.use_agent", defaults.SSH.UseAgent)
	v.SetDefault("ssh.connect_timeout", defaults.SSH.ConnectTimeout)
	v.SetDefault("ssh.connect_retries", defaults.SSH.ConnectRetries)

	// Logging defaults
	v.SetDefault("logging.enabled", defaults.Logging.Enabled)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.dir", defaults.Logging.Dir)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	v.SetDefault("logging.compress", defaults.Logging.Compress)

	// History defaults
	v.SetDefault("history.enabled", defaults.History.Enabled)
	v.SetDefault("history.path", defaults.History.Path)
}

// Load reads the configuration from the global viper instance and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads the configuration from v and validates it.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// LogDir returns the directory log files are written to.
func (c *Config) LogDir() string {
	if c.Logging.Dir != "" {
		return expandHome(c.Logging.Dir)
	}
	return filepath.Join(ConfigDir(), "logs")
}

// HistoryPath returns the location of the run history database.
func (c *Config) HistoryPath() string {
	if c.History.Path != "" {
		return expandHome(c.History.Path)
	}
	return filepath.Join(ConfigDir(), "history.db")
}

// KnownHostsPath returns the known_hosts file used for host key checks.
func (c *SSHConfig) KnownHostsPath() string {
	if c.KnownHosts != "" {
		return expandHome(c.KnownHosts)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh", "known_hosts")
}

// IdentityPath returns the identity file with ~ expanded, or "".
func (c *SSHConfig) IdentityPath() string {
	return expandHome(c.IdentityFile)
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "rollout")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".rollout"
	}
	return filepath.Join(home, ".config", "rollout")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidTransports returns the list of valid transport values
func ValidTransports() []string {
	return []string{TransportSSH, TransportLocal}
}

// ValidHostKeyPolicies returns the list of valid ssh.host_key_policy values
func ValidHostKeyPolicies() []string {
	return []string{HostKeyStrict, HostKeyAcceptNew, HostKeyInsecure}
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[1:])
		}
	}
	return p
}
