package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models issuehub.yml.
type Config struct {
	AppEnv       string `yaml:"app_env"`
	Organization struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"organization"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Focus         struct {
		BreakTypes []string `yaml:"break_types"`
	} `yaml:"focus"`
	Server    ServerConfig    `yaml:"server"`
	Webhooks  []WebhookConfig `yaml:"webhooks"`
	Telemetry struct {
		Enabled bool `yaml:"enabled"`
		Stdout  bool `yaml:"stdout"`
	} `yaml:"telemetry"`
}

type NotificationsConfig struct {
	Enabled         bool     `yaml:"enabled"`
	CredentialsFile string   `yaml:"credentials_file"`
	Priorities      []string `yaml:"priorities"`
	QueueSize       int      `yaml:"queue_size"`
	Workers         int      `yaml:"workers"`
	MaxAttempts     int      `yaml:"max_attempts"`
}

type ServerConfig struct {
	Addr                   string `yaml:"addr"`
	BasePath               string `yaml:"base_path"`
	JWTSecret              string `yaml:"jwt_secret"`
	AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	EnableDevLogin         bool   `yaml:"enable_dev_login"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// NotifiesPriority reports whether assignment of an issue with this priority
// should push a notification to the assignee.
func (c *Config) NotifiesPriority(priority string) bool {
	for _, p := range c.Notifications.Priorities {
		if p == priority {
			return true
		}
	}
	return false
}

// AllowsBreakType reports whether a focus-mode break type is configured.
func (c *Config) AllowsBreakType(kind string) bool {
	for _, b := range c.Focus.BreakTypes {
		if b == kind {
			return true
		}
	}
	return false
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	cfg, err := FromFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("config %s not found; create one with ih init", path)
	}
	return cfg, err
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace, orgID string) (*Config, error) {
	cfg, err := FromFile(Path(workspace))
	if os.IsNotExist(err) {
		return Default(orgID), nil
	}
	return cfg, err
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Organization.ID) == "" {
		return fmt.Errorf("config.organization.id is required")
	}
	for _, p := range c.Notifications.Priorities {
		switch p {
		case "low", "medium", "high", "critical":
		default:
			return fmt.Errorf("config.notifications.priorities has unknown priority %q", p)
		}
	}
	if c.Notifications.QueueSize < 0 || c.Notifications.Workers < 0 || c.Notifications.MaxAttempts < 0 {
		return fmt.Errorf("config.notifications sizes must not be negative")
	}
	if len(c.Focus.BreakTypes) == 0 {
		return fmt.Errorf("config.focus.break_types is required")
	}
	for _, b := range c.Focus.BreakTypes {
		if strings.TrimSpace(b) == "" {
			return fmt.Errorf("config.focus.break_types contains an empty entry")
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "issuehub.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(orgID string) string {
	return fmt.Sprintf(defaultTemplate, orgID, orgID)
}

// Default returns the default Config struct for an organization.
func Default(orgID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(orgID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path. A missing file is
// reported with an error satisfying os.IsNotExist.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

func (c *Config) applyDefaults() {
	if c.AppEnv == "" {
		c.AppEnv = "prod"
	}
	if c.Notifications.QueueSize == 0 {
		c.Notifications.QueueSize = 256
	}
	if c.Notifications.Workers == 0 {
		c.Notifications.Workers = 2
	}
	if c.Notifications.MaxAttempts == 0 {
		c.Notifications.MaxAttempts = 3
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/v0"
	}
}

const defaultTemplate = `app_env: dev

organization:
  id: %s
  name: %s

notifications:
  enabled: false
  credentials_file: ""
  priorities: [high, critical]
  queue_size: 256
  workers: 2
  max_attempts: 3

focus:
  break_types: [short, meal, prayer, personal, other]

server:
  addr: ":8080"
  base_path: /v0
  jwt_secret: ""
  allow_legacy_actor_header: false
  enable_dev_login: false

webhooks: []

telemetry:
  enabled: false
  stdout: false
`
