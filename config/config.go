package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research desk application.
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Runner     RunnerConfig     `mapstructure:"runner"`
	Encryption EncryptionConfig `mapstructure:"encryption"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug     bool   `mapstructure:"debug"`
	LogLevel  string `mapstructure:"log_level"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// ServerConfig contains HTTP server and auth settings.
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// StorageConfig contains storage and persistence settings.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a postgres connection string from the configured parts.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis connection settings. Redis is optional; it backs
// the scheduler lock and the runner's single-consumer guard.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether a redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Host) != "" && strings.TrimSpace(r.Port) != ""
}

// Addr returns host:port for the redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// LLMConfig contains LLM provider configurations.
type LLMConfig struct {
	Providers    map[string]LLMProvider `mapstructure:"providers"`
	DefaultModel string                 `mapstructure:"default_model"`
}

// LLMProvider represents a single LLM provider configuration.
type LLMProvider struct {
	Type        string        `mapstructure:"type"` // openai
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// RunnerConfig controls the agent-run consumer loop.
type RunnerConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	HTTPTimeout       time.Duration `mapstructure:"http_timeout"`
	ReduceHTMLForLLM  bool          `mapstructure:"reduce_html_for_llm"`
	ConsumerGuardLock bool          `mapstructure:"consumer_guard_lock"`
	GuardLockKey      string        `mapstructure:"guard_lock_key"`
	GuardLockTTL      time.Duration `mapstructure:"guard_lock_ttl"`
}

// Normalize applies defaults for unset runner values.
func (r RunnerConfig) Normalize() RunnerConfig {
	if r.PollInterval <= 0 {
		r.PollInterval = 5 * time.Second
	}
	if r.HTTPTimeout <= 0 {
		r.HTTPTimeout = 60 * time.Second
	}
	if strings.TrimSpace(r.GuardLockKey) == "" {
		r.GuardLockKey = "runner:consumer:lock"
	}
	if r.GuardLockTTL <= 0 {
		r.GuardLockTTL = 30 * time.Second
	}
	return r
}

// EncryptionConfig holds the AES key material for agent secrets at rest.
// Key and IV accept base64 or raw strings; an empty IV means a zero IV.
type EncryptionConfig struct {
	Key string `mapstructure:"key"`
	IV  string `mapstructure:"iv"`
}

func (e EncryptionConfig) Validate() error {
	if strings.TrimSpace(e.Key) == "" {
		return fmt.Errorf("encryption.key is required")
	}
	return nil
}

// SchedulerConfig controls the periodic score recalculation sweep.
type SchedulerConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	RecalcCron string `mapstructure:"recalc_cron"`
}

// TelemetryConfig contains telemetry and monitoring settings.
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// LoadConfig loads config from file.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("server.address", ":10020")
	viper.SetDefault("runner.poll_interval", "5s")
	viper.SetDefault("runner.http_timeout", "60s")
	viper.SetDefault("scheduler.recalc_cron", "@daily")
	viper.SetDefault("llm.default_model", "gpt-4o-mini")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("RESEARCHDESK")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.Runner = config.Runner.Normalize()

	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.Encryption.Validate(); err != nil {
		panic(err)
	}
	if err := config.Telemetry.Validate(); err != nil {
		panic(err)
	}
	return &config
}
