package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	koanftoml "github.com/knadh/koanf/parsers/toml/v2"
	koanfenv "github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
)

// Config is the scheduler's ambient configuration. It carries nothing
// the scheduler itself decides (that would be a policy or tool
// concern) — only what its collaborators (the policy engine, the
// hooks dispatcher, the logger) need to do their jobs.
type Config struct {
	Logging    LoggingConfig    `koanf:"logging"`
	Permission PermissionConfig `koanf:"permission"`
	Hooks      HooksConfig      `koanf:"hooks"`
	Editor     EditorConfig     `koanf:"editor"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `koanf:"level"`
	File  string `koanf:"file"`
}

// PermissionConfig drives the policy engine: glob patterns matched
// against a tool's name (or, for MCP tools, "serverName__toolName")
// decide ALLOW/DENY/ASK_USER. AutoEditTools is consulted only by the
// scheduler's post-confirmation policy-update dispatch (spec §4.5.1);
// it is data, not a compiled-in constant, per the source's
// AUTO_EDIT_TOOLS ambiguity.
type PermissionConfig struct {
	Allow         []string `koanf:"allow"`
	Ask           []string `koanf:"ask"`
	Deny          []string `koanf:"deny"`
	DefaultMode   string   `koanf:"default_mode"`
	AutoEditTools []string `koanf:"auto_edit_tools"`
	Interactive   bool     `koanf:"interactive"`
}

// HooksConfig holds the shell commands run around tool execution.
type HooksConfig struct {
	PreTool  []string `koanf:"pre_tool"`
	PostTool []string `koanf:"post_tool"`
	Enabled  bool     `koanf:"enabled"`
}

// EditorConfig configures the external-editor modification flow.
type EditorConfig struct {
	Preferred string `koanf:"preferred"`
}

// defaultConfig returns the configuration populated with sensible
// defaults, mirroring the source's layered-default approach.
func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{
			Level: "info",
		},
		Permission: PermissionConfig{
			DefaultMode: "default",
			Interactive: true,
		},
		Hooks: HooksConfig{
			Enabled: false,
		},
	}
}

// LoadConfig loads configuration from multiple layered sources:
// defaults -> user conf.toml -> project conf.toml -> TOOLSCHED_* env.
func LoadConfig() (*Config, error) {
	k := koanf.New(".")

	if homeDir, err := os.UserHomeDir(); err != nil {
		log.Printf("Failed to get user home directory: %v", err)
	} else {
		userConfigPath := filepath.Join(homeDir, ".config", "toolsched", "conf.toml")
		if err := k.Load(file.Provider(userConfigPath), koanftoml.Parser()); err != nil {
			log.Printf("Failed to load user config from %s: %v", userConfigPath, err)
		}
	}

	projectConfigPath := filepath.Join(".toolsched", "conf.toml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := k.Load(file.Provider(projectConfigPath), koanftoml.Parser()); err != nil {
			log.Printf("Failed to load project config from %s: %v", projectConfigPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Printf("Unable to stat project config at %s: %v", projectConfigPath, err)
	}

	if err := k.Load(koanfenv.Provider(".", koanfenv.Opt{
		Prefix: "TOOLSCHED_",
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, "TOOLSCHED_")), "_", ".")
			return key, value
		},
	}), nil); err != nil {
		log.Printf("Failed to load environment variables: %v", err)
	}

	config := defaultConfig()
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// SaveConfig persists a permission grant to the project-level
// conf.toml. It is the concrete backing for the scheduler's
// UPDATE_POLICY{persist: true} dispatch (spec §4.5.1): the scheduler
// never touches disk itself, it only publishes the message this
// function's caller applies.
func SaveConfig(config *Config) error {
	projectConfigPath := filepath.Join(".toolsched", "conf.toml")

	if err := os.MkdirAll(".toolsched", 0o755); err != nil {
		return fmt.Errorf("failed to create .toolsched directory: %w", err)
	}

	k := koanf.New(".")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := k.Load(file.Provider(projectConfigPath), koanftoml.Parser()); err != nil {
			return fmt.Errorf("failed to load existing project config: %w", err)
		}
	}

	if err := k.Set("permission.allow", config.Permission.Allow); err != nil {
		return fmt.Errorf("failed to update permission.allow in config: %w", err)
	}

	data, err := k.Marshal(koanftoml.Parser())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(projectConfigPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
