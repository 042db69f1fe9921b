package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// keyComments are written above the matching top-level keys by Template.
var keyComments = map[string]string{
	"deploy_to":        "Deployment root on every host (required)",
	"releases_to_keep": "How many releases survive pruning",
	"shared_dirs":      "Directories under shared/ linked into every release",
	"shared_files":     "Files under shared/ linked into every release; fill them in after `rollout setup`",
	"repository":       "Cloned into the build path when set",
	"branch":           "Branch or tag to clone",
	"commands":         "Run in order inside the build path",
	"hosts":            "Deploy targets as host or host:port",
	"user":             "Remote login user",
	"transport":        "ssh or local",
	"max_parallel":     "How many hosts deploy at once",
	"finalize_timeout": "Upper bound for cleanup and unlock",
	"ssh":              "host_key_policy: strict, accept-new or insecure",
	"logging":          "Debug log written as JSON lines and rotated by size",
	"history":          "Local record of deploy runs",
}

// Template renders cfg as commented YAML suitable for a new config file.
func Template(cfg *Config) ([]byte, error) {
	var body yaml.Node
	if err := body.Encode(cfg); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}

	for i := 0; i+1 < len(body.Content); i += 2 {
		key := body.Content[i]
		if comment, ok := keyComments[key.Value]; ok {
			key.HeadComment = comment
		}
	}

	doc := &yaml.Node{
		Kind:        yaml.DocumentNode,
		HeadComment: "rollout configuration\nValues can be overridden with ROLLOUT_* environment variables (e.g. ROLLOUT_SSH_PORT).",
		Content:     []*yaml.Node{&body},
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Render renders cfg as plain YAML.
func Render(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTemplate writes a commented default config file to path. It refuses
// to overwrite an existing file.
func WriteTemplate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	data, err := Template(Default())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
