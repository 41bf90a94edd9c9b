// Package config provides configuration management for ExecDesk.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for ExecDesk.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Bus        BusConfig        `mapstructure:"bus"`
	Tasks      TasksConfig      `mapstructure:"tasks"`
	Delegation DelegationConfig `mapstructure:"delegation"`
	Knowledge  KnowledgeConfig  `mapstructure:"knowledge"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// NATSConfig holds NATS mirror configuration. An empty URL disables the
// mirror and the bus runs purely in-process.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
	SubjectPrefix string `mapstructure:"subjectPrefix"`
}

// BusConfig holds message bus configuration.
type BusConfig struct {
	HistoryCapacity  int `mapstructure:"historyCapacity"`
	MaxHistoryLength int `mapstructure:"maxHistoryLength"` // per-agent conversation ring
}

// TasksConfig holds task store configuration.
type TasksConfig struct {
	// StorePath is the sqlite database file. Empty means in-memory only.
	StorePath string `mapstructure:"storePath"`
}

// DelegationConfig holds delegation engine configuration.
type DelegationConfig struct {
	Threshold float64 `mapstructure:"threshold"`
	MaxDepth  int     `mapstructure:"maxDepth"`
}

// KnowledgeConfig holds retrieval index configuration.
type KnowledgeConfig struct {
	PersistDirectory string `mapstructure:"persistDirectory"`
	Collection       string `mapstructure:"collection"`
	ChunkSize        int    `mapstructure:"chunkSize"`
	ChunkOverlap     int    `mapstructure:"chunkOverlap"`
	EmbeddingModel   string `mapstructure:"embeddingModel"`
	EmbeddingURL     string `mapstructure:"embeddingUrl"`
	EmbeddingDim     int    `mapstructure:"embeddingDim"`
	CacheEnabled     bool   `mapstructure:"cacheEnabled"`
}

// LLMConfig holds the external LLM backend configuration.
// The API key is read from the environment only and never logged.
type LLMConfig struct {
	BaseURL        string `mapstructure:"baseUrl"`
	Model          string `mapstructure:"model"`
	WorkerPoolSize int    `mapstructure:"workerPoolSize"`
	RequestTimeout int    `mapstructure:"requestTimeout"` // in seconds
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// RequestTimeoutDuration returns the per-request LLM timeout as a time.Duration.
func (l *LLMConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(l.RequestTimeout) * time.Second
}

// APIKey returns the LLM backend API key from the environment.
func (l *LLMConfig) APIKey() string {
	return os.Getenv("EXECDESK_LLM_API_KEY")
}

// EmbeddingAPIKey returns the embedding backend API key from the environment.
func (k *KnowledgeConfig) EmbeddingAPIKey() string {
	return os.Getenv("EXECDESK_EMBEDDING_API_KEY")
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("EXECDESK_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// NATS defaults - empty URL means the bus mirror is disabled
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "execdesk")
	v.SetDefault("nats.maxReconnects", 10)
	v.SetDefault("nats.subjectPrefix", "execdesk")

	// Bus defaults
	v.SetDefault("bus.historyCapacity", 10000)
	v.SetDefault("bus.maxHistoryLength", 50)

	// Task store defaults - empty path means in-memory only
	v.SetDefault("tasks.storePath", "")

	// Delegation defaults
	v.SetDefault("delegation.threshold", 0.4)
	v.SetDefault("delegation.maxDepth", 3)

	// Knowledge base defaults
	v.SetDefault("knowledge.persistDirectory", "./kb")
	v.SetDefault("knowledge.collection", "execdesk")
	v.SetDefault("knowledge.chunkSize", 1000)
	v.SetDefault("knowledge.chunkOverlap", 200)
	v.SetDefault("knowledge.embeddingModel", "nomic-embed-text")
	v.SetDefault("knowledge.embeddingUrl", "http://localhost:11434")
	v.SetDefault("knowledge.embeddingDim", 384)
	v.SetDefault("knowledge.cacheEnabled", true)

	// LLM defaults
	v.SetDefault("llm.baseUrl", "http://localhost:11434")
	v.SetDefault("llm.model", "llama3")
	v.SetDefault("llm.workerPoolSize", runtime.NumCPU())
	v.SetDefault("llm.requestTimeout", 120)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix EXECDESK_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or /etc/execdesk/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("EXECDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys).
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion.
	_ = v.BindEnv("bus.historyCapacity", "EXECDESK_MESSAGE_HISTORY_CAPACITY")
	_ = v.BindEnv("delegation.threshold", "EXECDESK_DELEGATION_THRESHOLD")
	_ = v.BindEnv("delegation.maxDepth", "EXECDESK_MAX_DELEGATION_DEPTH")
	_ = v.BindEnv("knowledge.persistDirectory", "EXECDESK_PERSIST_DIRECTORY")
	_ = v.BindEnv("knowledge.chunkSize", "EXECDESK_CHUNK_SIZE")
	_ = v.BindEnv("knowledge.chunkOverlap", "EXECDESK_CHUNK_OVERLAP")
	_ = v.BindEnv("knowledge.embeddingModel", "EXECDESK_EMBEDDING_MODEL")
	_ = v.BindEnv("llm.workerPoolSize", "EXECDESK_WORKER_POOL_SIZE")
	_ = v.BindEnv("llm.requestTimeout", "EXECDESK_LLM_REQUEST_TIMEOUT_SECONDS")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/execdesk/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Bus.HistoryCapacity <= 0 {
		errs = append(errs, "bus.historyCapacity must be positive")
	}
	if cfg.Bus.MaxHistoryLength <= 0 {
		errs = append(errs, "bus.maxHistoryLength must be positive")
	}

	if cfg.Delegation.Threshold < 0 || cfg.Delegation.Threshold > 1 {
		errs = append(errs, "delegation.threshold must be in [0, 1]")
	}
	if cfg.Delegation.MaxDepth <= 0 {
		errs = append(errs, "delegation.maxDepth must be positive")
	}

	if cfg.Knowledge.ChunkSize <= 0 {
		errs = append(errs, "knowledge.chunkSize must be positive")
	}
	if cfg.Knowledge.ChunkOverlap < 0 || cfg.Knowledge.ChunkOverlap >= cfg.Knowledge.ChunkSize {
		errs = append(errs, "knowledge.chunkOverlap must be non-negative and smaller than chunkSize")
	}
	if cfg.Knowledge.EmbeddingDim <= 0 {
		errs = append(errs, "knowledge.embeddingDim must be positive")
	}

	if cfg.LLM.WorkerPoolSize <= 0 {
		errs = append(errs, "llm.workerPoolSize must be positive")
	}
	if cfg.LLM.RequestTimeout <= 0 {
		errs = append(errs, "llm.requestTimeout must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
