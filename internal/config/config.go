package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the config file inside the counsel home.
const FileName = "config.yaml"

// Config is everything the worker and the one-shot runner need.
type Config struct {
	Model    ModelConfig    `yaml:"model"`
	Agent    AgentConfig    `yaml:"agent"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Learning LearningConfig `yaml:"learning"`
	Backend  BackendConfig  `yaml:"backend"`
	Stream   StreamConfig   `yaml:"stream"`
	Worker   WorkerConfig   `yaml:"worker"`
	Store    StoreConfig    `yaml:"store"`
	Server   ServerConfig   `yaml:"server"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// ModelConfig locates the Azure OpenAI deployment. Provider "stub" runs
// the offline deterministic model instead.
type ModelConfig struct {
	Provider      string        `yaml:"provider"`
	Endpoint      string        `yaml:"endpoint"`
	APIKey        string        `yaml:"api_key"`
	Deployment    string        `yaml:"deployment"`
	APIVersion    string        `yaml:"api_version"`
	Temperature   float64       `yaml:"temperature"`
	MaxTokens     int           `yaml:"max_tokens"`
	MaxRetries    int           `yaml:"max_retries"`
	RateLimitWait time.Duration `yaml:"rate_limit_wait"`
}

// Budget bounds runs of one complexity.
type Budget struct {
	MaxIterations int           `yaml:"max_iterations"`
	MaxRuntime    time.Duration `yaml:"max_runtime"`
}

// AgentConfig tunes the control loop.
type AgentConfig struct {
	// MaxIterations and MaxRuntime cap every complexity budget when positive.
	MaxIterations int               `yaml:"max_iterations"`
	MaxRuntime    time.Duration     `yaml:"max_runtime"`
	Budgets       map[string]Budget `yaml:"budgets"`
	CompactAt     int               `yaml:"compact_at"`
	CompactKeep   int               `yaml:"compact_keep"`
	MaxCritiques  int               `yaml:"max_critiques"`
}

// SandboxConfig is the document root the agent may touch.
type SandboxConfig struct {
	Dir         string `yaml:"dir"`
	MaxReadSize int64  `yaml:"max_read_size"`
}

// LearningConfig locates the preference store. Empty Dir means
// <sandbox>/preferences.
type LearningConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// BackendConfig is the remote platform.
type BackendConfig struct {
	URL       string `yaml:"url"`
	AuthToken string `yaml:"auth_token"`
	UserID    string `yaml:"user_id"`
	FirmID    string `yaml:"firm_id"`
}

// StreamConfig controls event delivery. Empty URL means
// <backend>/api/v1/background-agent.
type StreamConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	History       int           `yaml:"history"`
}

// WorkerConfig controls the queue poller.
type WorkerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	LogFile      string        `yaml:"log_file"`
}

// StoreConfig selects the task queue backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn"`
}

// ServerConfig is the local HTTP surface.
type ServerConfig struct {
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	EnableOtel bool   `yaml:"enable_otel"`
	PprofAddr  string `yaml:"pprof_addr"`
}

// NotifyConfig lists outbound notification targets.
type NotifyConfig struct {
	SlackWebhook string `yaml:"slack_webhook"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:      "azure",
			APIVersion:    "2024-12-01-preview",
			Temperature:   0.7,
			MaxTokens:     4000,
			MaxRetries:    6,
			RateLimitWait: 30 * time.Second,
		},
		Agent: AgentConfig{
			Budgets: map[string]Budget{
				"simple":   {MaxIterations: 60, MaxRuntime: 30 * time.Minute},
				"moderate": {MaxIterations: 90, MaxRuntime: 60 * time.Minute},
				"complex":  {MaxIterations: 120, MaxRuntime: 90 * time.Minute},
			},
			CompactAt:    45,
			CompactKeep:  30,
			MaxCritiques: 3,
		},
		Sandbox:  SandboxConfig{Dir: "./case_data", MaxReadSize: 1_000_000},
		Learning: LearningConfig{Watch: true},
		Backend:  BackendConfig{URL: "http://localhost:3001"},
		Stream:   StreamConfig{Enabled: true, FlushInterval: 100 * time.Millisecond, History: 500},
		Worker:   WorkerConfig{PollInterval: 5 * time.Second},
		Store:    StoreConfig{Driver: "sqlite"},
		Server:   ServerConfig{Port: 3548},
	}
}

// Load reads <home>/config.yaml over the defaults and then applies the
// environment. A missing file is not an error.
func Load(home string) (*Config, error) {
	cfg := Default()
	path := filepath.Join(home, FileName)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to <home>/config.yaml.
func (c *Config) Save(home string) error {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(filepath.Join(home, FileName), data, 0o600)
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("COUNSEL_MODEL_PROVIDER", &c.Model.Provider)
	str("AZURE_OPENAI_ENDPOINT", &c.Model.Endpoint)
	str("AZURE_OPENAI_API_KEY", &c.Model.APIKey)
	str("AZURE_OPENAI_DEPLOYMENT", &c.Model.Deployment)
	str("AZURE_OPENAI_API_VERSION", &c.Model.APIVersion)
	str("AGENT_SANDBOX_DIR", &c.Sandbox.Dir)
	str("AGENT_LEARNING_DIR", &c.Learning.Dir)
	str("BACKEND_URL", &c.Backend.URL)
	str("AGENT_AUTH_TOKEN", &c.Backend.AuthToken)
	str("AGENT_USER_ID", &c.Backend.UserID)
	str("AGENT_FIRM_ID", &c.Backend.FirmID)
	str("AGENT_STREAM_URL", &c.Stream.URL)
	str("AGENT_LOG_FILE", &c.Worker.LogFile)
	str("COUNSEL_API_KEY", &c.Server.APIKey)
	str("SLACK_WEBHOOK_URL", &c.Notify.SlackWebhook)
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Store.DSN = v
		if c.Store.Driver == "" || c.Store.Driver == "sqlite" {
			c.Store.Driver = "postgres"
		}
	}

	if v := os.Getenv("AGENT_MAX_ITERATIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AGENT_MAX_ITERATIONS: %w", err)
		}
		c.Agent.MaxIterations = n
	}
	if v := os.Getenv("AGENT_MAX_RUNTIME_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("AGENT_MAX_RUNTIME_SECONDS: %w", err)
		}
		c.Agent.MaxRuntime = time.Duration(n) * time.Second
	}
	if v := os.Getenv("AGENT_POLL_INTERVAL_SECONDS"); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("AGENT_POLL_INTERVAL_SECONDS: %w", err)
		}
		c.Worker.PollInterval = time.Duration(n * float64(time.Second))
	}
	return nil
}

// StreamURL is the base URL events are posted to.
func (c *Config) StreamURL() string {
	if c.Stream.URL != "" {
		return c.Stream.URL
	}
	if c.Backend.URL == "" {
		return ""
	}
	return strings.TrimRight(c.Backend.URL, "/") + "/api/v1/background-agent"
}

// LearningDir resolves the preference directory.
func (c *Config) LearningDir() string {
	if c.Learning.Dir != "" {
		return c.Learning.Dir
	}
	return filepath.Join(c.Sandbox.Dir, "preferences")
}

// Validate reports settings a worker cannot start without.
func (c *Config) Validate() error {
	var errs []error
	switch c.Model.Provider {
	case "", "azure":
		if c.Model.Endpoint == "" {
			errs = append(errs, errors.New("model endpoint missing (AZURE_OPENAI_ENDPOINT)"))
		}
		if c.Model.APIKey == "" {
			errs = append(errs, errors.New("model API key missing (AZURE_OPENAI_API_KEY)"))
		}
		if c.Model.Deployment == "" {
			errs = append(errs, errors.New("model deployment missing (AZURE_OPENAI_DEPLOYMENT)"))
		}
	case "stub":
	default:
		errs = append(errs, fmt.Errorf("unknown model provider %q", c.Model.Provider))
	}
	if c.Sandbox.Dir == "" {
		errs = append(errs, errors.New("sandbox dir missing (AGENT_SANDBOX_DIR)"))
	}
	switch c.Store.Driver {
	case "", "sqlite":
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("postgres store needs a DSN (DATABASE_URL)"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	return errors.Join(errs...)
}

// LoadEnvFile sets KEY=VALUE lines from path into the environment. Blank
// lines, # comments and an optional "export " prefix are allowed; values may
// be quoted. Variables already set are left alone.
func LoadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	line := 0
	for sc.Scan() {
		line++
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		s = strings.TrimPrefix(s, "export ")
		key, val, ok := strings.Cut(s, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return fmt.Errorf("%s:%d: expected KEY=VALUE", path, line)
		}
		val = strings.TrimSpace(val)
		if len(val) >= 2 && (val[0] == '"' || val[0] == '\'') && val[len(val)-1] == val[0] {
			val = val[1 : len(val)-1]
		}
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return err
		}
	}
	return sc.Err()
}
