package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{Field: "ssh.port", Value: 0, Message: "must be between 1 and 65535"}
	want := "ssh.port: must be between 1 and 65535 (got: 0)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	tests := []struct {
		name string
		errs ValidationErrors
		want string
	}{
		{"empty", nil, ""},
		{"single", ValidationErrors{{Field: "a", Value: 1, Message: "bad"}}, "a: bad (got: 1)"},
		{
			"multiple",
			ValidationErrors{{Field: "a", Value: 1, Message: "bad"}, {Field: "b", Value: "x", Message: "worse"}},
			"2 validation errors:\n  1. a: bad (got: 1)\n  2. b: worse (got: x)\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.errs.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		wantField string
	}{
		{"relative deploy_to", func(c *Config) { c.DeployTo = "srv/app" }, "deploy_to"},
		{"root deploy_to", func(c *Config) { c.DeployTo = "/" }, "deploy_to"},
		{"relative build_to", func(c *Config) { c.BuildTo = "tmp/build" }, "build_to"},
		{"zero retention", func(c *Config) { c.ReleasesToKeep = 0 }, "releases_to_keep"},
		{"absolute shared dir", func(c *Config) { c.SharedDirs = []string{"/etc"} }, "shared_dirs[0]"},
		{"escaping shared file", func(c *Config) { c.SharedFiles = []string{"ok.yml", "../secret"} }, "shared_files[1]"},
		{"duplicate shared dir", func(c *Config) { c.SharedDirs = []string{"log", "log/"} }, "shared_dirs[1]"},
		{"empty shared dir", func(c *Config) { c.SharedDirs = []string{" "} }, "shared_dirs[0]"},
		{"unknown transport", func(c *Config) { c.Transport = "rsync" }, "transport"},
		{"bad host", func(c *Config) { c.Hosts = []string{"app1", "bad host"} }, "hosts[1]"},
		{"zero parallel", func(c *Config) { c.MaxParallel = 0 }, "max_parallel"},
		{"zero finalize timeout", func(c *Config) { c.FinalizeTimeout = 0 }, "finalize_timeout"},
		{"port out of range", func(c *Config) { c.SSH.Port = 70000 }, "ssh.port"},
		{"unknown host key policy", func(c *Config) { c.SSH.HostKeyPolicy = "yolo" }, "ssh.host_key_policy"},
		{"zero connect timeout", func(c *Config) { c.SSH.ConnectTimeout = 0 }, "ssh.connect_timeout"},
		{"zero retries", func(c *Config) { c.SSH.ConnectRetries = 0 }, "ssh.connect_retries"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"zero log size", func(c *Config) { c.Logging.MaxSizeMB = 0 }, "logging.max_size_mb"},
		{"huge log size", func(c *Config) { c.Logging.MaxSizeMB = 5000 }, "logging.max_size_mb"},
		{"negative backups", func(c *Config) { c.Logging.MaxBackups = -1 }, "logging.max_backups"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			errs := cfg.Validate()
			if len(errs) != 1 {
				t.Fatalf("Validate() returned %d errors, want 1: %v", len(errs), ValidationErrors(errs))
			}
			if errs[0].Field != tt.wantField {
				t.Errorf("Field = %q, want %q", errs[0].Field, tt.wantField)
			}
		})
	}
}

func TestConfig_Validate_ValidValues(t *testing.T) {
	cfg := Default()
	cfg.DeployTo = "/srv/app"
	cfg.BuildTo = "/srv/app/tmp/build"
	cfg.SharedDirs = []string{"log", "tmp/pids"}
	cfg.SharedFiles = []string{"config/database.yml"}
	cfg.Hosts = []string{"app1.example.com", "10.0.0.2:2222"}
	cfg.Transport = TransportLocal
	cfg.MaxParallel = 4
	cfg.SSH.HostKeyPolicy = HostKeyAcceptNew
	cfg.SSH.ConnectTimeout = time.Second

	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Validate() = %v, want no errors", ValidationErrors(errs))
	}
}

func TestConfig_Validate_MultipleErrors(t *testing.T) {
	cfg := Default()
	cfg.ReleasesToKeep = -1
	cfg.SSH.Port = 0
	cfg.Logging.Level = "loud"

	errs := cfg.Validate()
	if len(errs) != 3 {
		t.Fatalf("Validate() returned %d errors, want 3", len(errs))
	}
	if !strings.HasPrefix(ValidationErrors(errs).Error(), "3 validation errors:") {
		t.Errorf("Error() = %q", ValidationErrors(errs).Error())
	}
}
