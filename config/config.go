// Package config holds the application configuration, loaded from a JSON
// file with TASKWRIGHT_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/taskwright/taskwright/internal/compact"
)

// Config is the root configuration document.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Executor   ExecutorConfig   `mapstructure:"executor"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Compaction CompactionConfig `mapstructure:"compaction"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Search     SearchConfig     `mapstructure:"search"`
	Worker     WorkerConfig     `mapstructure:"worker"`
}

// ServerConfig contains HTTP server and auth settings.
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig configures the inference collaborator.
type LLMConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ExecutorConfig bounds the step executor.
type ExecutorConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

// SupervisorConfig bounds task-level replanning.
type SupervisorConfig struct {
	MaxReplans int `mapstructure:"max_replans"`
}

// CompactionConfig is the declarative form of the compaction policy.
type CompactionConfig struct {
	Rules []CompactionRule `mapstructure:"rules"`
}

// CompactionRule configures one tool's history edit. Action is "truncate"
// or "drop"; exactly one of lifespan_turns or lifespan_fraction applies.
type CompactionRule struct {
	Tool             string  `mapstructure:"tool"`
	Action           string  `mapstructure:"action"`
	Placeholder      string  `mapstructure:"placeholder"`
	MinChars         int     `mapstructure:"min_chars"`
	LifespanTurns    int     `mapstructure:"lifespan_turns"`
	LifespanFraction float64 `mapstructure:"lifespan_fraction"`
}

// StorageConfig configures Postgres and Redis.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SearchConfig configures the on-disk full-text index.
type SearchConfig struct {
	IndexPath string `mapstructure:"index_path"`
}

// WorkerConfig configures queue consumption.
type WorkerConfig struct {
	Group string `mapstructure:"group"`
	Name  string `mapstructure:"name"`
}

// DSN assembles the Postgres connection string.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// Addr assembles the Redis address.
func (r RedisConfig) Addr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return fmt.Sprintf("%s:%s", r.Host, port)
}

// Policy converts the declarative compaction rules into an executable
// policy. Unknown actions and ambiguous lifespans are errors.
func (c CompactionConfig) Policy() (compact.Policy, error) {
	var policy compact.Policy
	for i, r := range c.Rules {
		if r.Tool == "" {
			return nil, fmt.Errorf("compaction rule %d: tool is required", i)
		}
		var edit compact.EditFunc
		switch r.Action {
		case "truncate":
			placeholder := r.Placeholder
			if placeholder == "" {
				placeholder = "[elided]"
			}
			edit = compact.TruncateReturns(placeholder, r.MinChars)
		case "drop":
			edit = compact.DropReturns(r.MinChars)
		default:
			return nil, fmt.Errorf("compaction rule %d: unknown action %q", i, r.Action)
		}
		var lifespan compact.Lifespan
		switch {
		case r.LifespanTurns > 0 && r.LifespanFraction > 0:
			return nil, fmt.Errorf("compaction rule %d: set lifespan_turns or lifespan_fraction, not both", i)
		case r.LifespanFraction > 0:
			lifespan = compact.Fraction(r.LifespanFraction)
		default:
			lifespan = compact.Turns(r.LifespanTurns)
		}
		policy = append(policy, compact.Rule{Tool: r.Tool, Edit: edit, Lifespan: lifespan})
	}
	return policy, nil
}

// LoadConfig reads the configuration. With an empty path it searches the
// usual locations; environment variables prefixed TASKWRIGHT_ override file
// values (e.g. TASKWRIGHT_SERVER_ADDRESS).
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("executor.max_attempts", 3)
	v.SetDefault("executor.call_timeout", "2m")
	v.SetDefault("supervisor.max_replans", 2)
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", "2m")
	v.SetDefault("worker.group", "taskwright-workers")
	v.SetDefault("search.index_path", "taskwright.bleve")

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("TASKWRIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// defaults plus environment is a valid configuration
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
