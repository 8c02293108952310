package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/squatguru/formguru/internal/analysis"
	"github.com/squatguru/formguru/internal/pose"
	"github.com/squatguru/formguru/internal/reps"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Storage   StorageConfig   `yaml:"storage"`
	Detector  DetectorConfig  `yaml:"detector"`
	Render    RenderConfig    `yaml:"render"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// BaseURL prefixes download links; empty means relative links.
	BaseURL string `yaml:"base_url"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type AuthConfig struct {
	APIKey string `yaml:"api_key"`
}

type TailscaleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Hostname string `yaml:"hostname"`
	StateDir string `yaml:"state_dir"`
}

type StorageConfig struct {
	UploadDir    string `yaml:"upload_dir"`
	ProcessedDir string `yaml:"processed_dir"`
}

type DetectorConfig struct {
	Command       string   `yaml:"command"`
	Args          []string `yaml:"args"`
	MinVisibility float64  `yaml:"min_visibility"`
}

type RenderConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

type AnalysisConfig struct {
	Joint           string  `yaml:"joint"`
	Side            string  `yaml:"side"`
	DownThreshold   float64 `yaml:"down_threshold"`
	UpThreshold     float64 `yaml:"up_threshold"`
	BottomThreshold float64 `yaml:"bottom_threshold"`
}

// Options converts the analysis section into session options.
func (c *Config) Options() analysis.Options {
	return analysis.Options{
		Joint:         pose.Joint(c.Analysis.Joint),
		MinVisibility: c.Detector.MinVisibility,
		Reps: reps.Config{
			DownThreshold:   c.Analysis.DownThreshold,
			UpThreshold:     c.Analysis.UpThreshold,
			BottomThreshold: c.Analysis.BottomThreshold,
			Side:            pose.Side(c.Analysis.Side),
		},
	}
}

// DSN returns a PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, sslmode)
}

// Load reads config from a YAML file, then applies environment variable overrides.
// Env vars use the prefix FORMGURU_ and underscore-separated paths:
//
//	FORMGURU_SERVER_HOST, FORMGURU_SERVER_PORT, FORMGURU_SERVER_BASE_URL,
//	FORMGURU_DB_HOST, FORMGURU_DB_PORT, FORMGURU_DB_NAME,
//	FORMGURU_DB_USER, FORMGURU_DB_PASSWORD, FORMGURU_DB_SSLMODE,
//	FORMGURU_AUTH_API_KEY, FORMGURU_TAILSCALE_ENABLED,
//	FORMGURU_UPLOAD_DIR, FORMGURU_PROCESSED_DIR,
//	FORMGURU_DETECTOR_COMMAND, FORMGURU_RENDER_COMMAND,
//	FORMGURU_ANALYSIS_SIDE, FORMGURU_ANALYSIS_DOWN, FORMGURU_ANALYSIS_UP
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.UploadDir == "" {
		cfg.Storage.UploadDir = "uploads"
	}
	if cfg.Storage.ProcessedDir == "" {
		cfg.Storage.ProcessedDir = "processed"
	}
	if cfg.Tailscale.Hostname == "" {
		cfg.Tailscale.Hostname = "formguru"
	}

	a := &cfg.Analysis
	if a.Joint == "" {
		a.Joint = string(pose.JointKnee)
	}
	if a.Side == "" {
		a.Side = string(pose.SideLeft)
	}
	if a.DownThreshold == 0 {
		a.DownThreshold = reps.DefaultDownThreshold
	}
	if a.UpThreshold == 0 {
		a.UpThreshold = reps.DefaultUpThreshold
	}
	if a.BottomThreshold == 0 {
		a.BottomThreshold = reps.DefaultBottomThreshold
	}
}

func applyEnvOverrides(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	float := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}

	str("FORMGURU_SERVER_HOST", &cfg.Server.Host)
	num("FORMGURU_SERVER_PORT", &cfg.Server.Port)
	str("FORMGURU_SERVER_BASE_URL", &cfg.Server.BaseURL)
	str("FORMGURU_DB_HOST", &cfg.Database.Host)
	num("FORMGURU_DB_PORT", &cfg.Database.Port)
	str("FORMGURU_DB_NAME", &cfg.Database.Name)
	str("FORMGURU_DB_USER", &cfg.Database.User)
	str("FORMGURU_DB_PASSWORD", &cfg.Database.Password)
	str("FORMGURU_DB_SSLMODE", &cfg.Database.SSLMode)
	str("FORMGURU_AUTH_API_KEY", &cfg.Auth.APIKey)
	if v := os.Getenv("FORMGURU_TAILSCALE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tailscale.Enabled = b
		}
	}
	str("FORMGURU_UPLOAD_DIR", &cfg.Storage.UploadDir)
	str("FORMGURU_PROCESSED_DIR", &cfg.Storage.ProcessedDir)
	str("FORMGURU_DETECTOR_COMMAND", &cfg.Detector.Command)
	str("FORMGURU_RENDER_COMMAND", &cfg.Render.Command)
	str("FORMGURU_ANALYSIS_SIDE", &cfg.Analysis.Side)
	float("FORMGURU_ANALYSIS_DOWN", &cfg.Analysis.DownThreshold)
	float("FORMGURU_ANALYSIS_UP", &cfg.Analysis.UpThreshold)
}

func (c *Config) validate() error {
	if c.Server.Port == 0 && !c.Tailscale.Enabled {
		return fmt.Errorf("server.port is required")
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Port == 0 {
		return fmt.Errorf("database.port is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}
	if c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key is required")
	}
	if strings.TrimSpace(c.Detector.Command) == "" {
		return fmt.Errorf("detector.command is required")
	}
	if !(c.Detector.MinVisibility >= 0 && c.Detector.MinVisibility <= 1) {
		return fmt.Errorf("detector.min_visibility must be within [0, 1]")
	}
	if _, err := pose.ParseJoint(c.Analysis.Joint); err != nil {
		return fmt.Errorf("analysis.joint: %w", err)
	}
	opts := c.Options()
	if err := opts.Reps.Validate(); err != nil {
		return fmt.Errorf("analysis: %w", err)
	}
	return nil
}
