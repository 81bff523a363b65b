package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM       LLMConfig                   `yaml:"llm"`
	Routing   RoutingConfig               `yaml:"routing"`
	Workers   map[string]WorkerDefinition `yaml:"workers"`
	Search    SearchConfig                `yaml:"search"`
	Output    OutputConfig                `yaml:"output"`
	Telegram  TelegramConfig              `yaml:"telegram"`
	NATS      NATSConfig                  `yaml:"nats"`
	Store     StoreConfig                 `yaml:"store"`
	Web       WebConfig                   `yaml:"web"`
	Scheduler SchedulerConfig             `yaml:"scheduler"`
	Tracing   TracingConfig               `yaml:"tracing"`
	Log       LogConfig                   `yaml:"log"`
}

type LLMConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Model          string               `yaml:"model"`
	Temperature    float64              `yaml:"temperature"`
	Timeout        time.Duration        `yaml:"timeout"`
	KeepAlive      string               `yaml:"keep_alive"`
	RequireHealthy bool                 `yaml:"require_healthy"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig controls when repeated LLM failures stop reaching the
// provider. Zero values fall back to the breaker defaults.
type CircuitBreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

type RoutingConfig struct {
	Workers       []string `yaml:"workers"`
	MaxSteps      int      `yaml:"max_steps"`
	LoopWindow    int      `yaml:"loop_window"`
	LoopThreshold int      `yaml:"loop_threshold"`
	MaxIterations int      `yaml:"max_iterations"`

	// IdleTimeout cancels a served run that made no progress for this
	// long. Zero disables it.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// WorkerDefinition overrides per-worker settings. PromptFile is resolved
// relative to the directory of the config file.
type WorkerDefinition struct {
	Description string `yaml:"description"`
	Model       string `yaml:"model"`
	PromptFile  string `yaml:"prompt_file"`
}

type SearchConfig struct {
	BraveAPIKey   string        `yaml:"brave_api_key"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxResults    int           `yaml:"max_results"`
}

type OutputConfig struct {
	Dir        string `yaml:"dir"`
	GraphsDir  string `yaml:"graphs_dir"`
	ReportsDir string `yaml:"reports_dir"`
}

type TelegramConfig struct {
	Token     string  `yaml:"token"`
	AllowFrom []int64 `yaml:"allow_from"`
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

func defaults() Config {
	return Config{
		LLM: LLMConfig{
			BaseURL:     "http://localhost:11434",
			Model:       "gpt-oss:20b",
			Temperature: 0.7,
			Timeout:     5 * time.Minute,
			KeepAlive:   "5m",
		},
		Routing: RoutingConfig{
			Workers:       []string{"saas_finder", "market", "research"},
			MaxSteps:      15,
			LoopWindow:    12,
			LoopThreshold: 2,
			MaxIterations: 8,
			IdleTimeout:   30 * time.Minute,
		},
		Search: SearchConfig{
			RatePerSecond: 1,
			Burst:         2,
			Timeout:       15 * time.Second,
			MaxResults:    5,
		},
		Output: OutputConfig{
			Dir:        "output",
			GraphsDir:  "output/graphs",
			ReportsDir: "output/reports",
		},
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			Path: "data/nichescout.db",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
		Tracing: TracingConfig{
			Exporter: "stdout",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Path returns the config file location, honouring NICHESCOUT_CONFIG.
func Path() string {
	if p := os.Getenv("NICHESCOUT_CONFIG"); p != "" {
		return p
	}
	return "config/nichescout.yaml"
}

func Load() (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(Path())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("OLLAMA_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("NICHESCOUT_MAX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Routing.MaxSteps = n
		}
	}
	if v := os.Getenv("NICHESCOUT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("NICHESCOUT_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("NICHESCOUT_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("NICHESCOUT_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("NICHESCOUT_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("NICHESCOUT_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("BRAVE_API_KEY"); v != "" {
		cfg.Search.BraveAPIKey = v
	}
}

// KnownWorkers are the worker ids the router can dispatch to.
var KnownWorkers = []string{"saas_finder", "market", "research"}

// Validate checks the routing parameters.
func (c *Config) Validate() error {
	r := c.Routing
	if len(r.Workers) == 0 {
		return fmt.Errorf("routing.workers must not be empty")
	}
	seen := make(map[string]bool, len(r.Workers))
	for _, w := range r.Workers {
		if w == "" {
			return fmt.Errorf("routing.workers contains an empty id")
		}
		if !slices.Contains(KnownWorkers, w) {
			return fmt.Errorf("routing.workers: unknown worker %q", w)
		}
		if seen[w] {
			return fmt.Errorf("routing.workers contains %q twice", w)
		}
		seen[w] = true
	}
	if r.MaxSteps <= 0 {
		return fmt.Errorf("routing.max_steps must be positive, got %d", r.MaxSteps)
	}
	if r.LoopWindow <= 0 {
		return fmt.Errorf("routing.loop_window must be positive, got %d", r.LoopWindow)
	}
	if r.LoopThreshold <= 0 {
		return fmt.Errorf("routing.loop_threshold must be positive, got %d", r.LoopThreshold)
	}
	if r.MaxIterations <= 0 {
		return fmt.Errorf("routing.max_iterations must be positive, got %d", r.MaxIterations)
	}
	if r.IdleTimeout < 0 {
		return fmt.Errorf("routing.idle_timeout must not be negative, got %s", r.IdleTimeout)
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.base_url is required")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	for id := range c.Workers {
		if !seen[id] {
			return fmt.Errorf("workers.%s is not listed in routing.workers", id)
		}
	}
	return nil
}
