package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	JWT      JWTConfig      `yaml:"jwt"`
	Redis    RedisConfig    `yaml:"redis"`
	Queues   QueuesConfig   `yaml:"queues"`
	LLM      LLMConfig      `yaml:"llm"`
	GitHub   GitHubConfig   `yaml:"github"`
	Storage  StorageConfig  `yaml:"storage"`
}

type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Mode     string `yaml:"mode"` // debug, release, test
	LogLevel string `yaml:"log_level"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
}

type JWTConfig struct {
	Secret     string `yaml:"secret"`
	ExpireHour int    `yaml:"expire_hour"`
}

// RedisConfig backs the job broker and the dedup locks.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// QueueConfig holds the retry/backoff/concurrency policy for one queue.
type QueueConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	Concurrency int           `yaml:"concurrency"`
	Retention   time.Duration `yaml:"retention"`
}

// QueuesConfig configures the three pipeline queues independently.
type QueuesConfig struct {
	Summary QueueConfig `yaml:"summary"`
	Report  QueueConfig `yaml:"report"`
	PDF     QueueConfig `yaml:"pdf"`
}

// ModelPricing holds per-token USD costs for one model.
type ModelPricing struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

type LLMConfig struct {
	Provider     string                  `yaml:"provider"` // openai, anthropic, ollama, gemini
	BaseURL      string                  `yaml:"base_url"`
	APIKey       string                  `yaml:"api_key"`
	SummaryModel string                  `yaml:"summary_model"`
	ReportModel  string                  `yaml:"report_model"`
	Pricing      map[string]ModelPricing `yaml:"pricing"`
}

type GitHubConfig struct {
	BaseURL string `yaml:"base_url"`
}

type StorageConfig struct {
	Bucket           string `yaml:"bucket"`
	CredentialsJSON  string `yaml:"credentials_json"`
	SignerEmail      string `yaml:"signer_email"`
	SignerPrivateKey string `yaml:"signer_private_key"`
}

var GlobalConfig *Config

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	var cfg *Config

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg = DefaultConfig()
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}

		fileCfg := DefaultConfig()
		if err := yaml.Unmarshal(data, fileCfg); err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	cfg.overrideFromEnv()
	GlobalConfig = cfg
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "0.0.0.0",
			Port:     "8080",
			Mode:     "debug",
			LogLevel: "info",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "commitlore.db",
		},
		JWT: JWTConfig{
			Secret:     "commitlore-secret-key-change-in-production",
			ExpireHour: 24,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			DB:   0,
		},
		Queues: QueuesConfig{
			// Summarization concurrency stays low to respect the LLM
			// provider's rate limits. Report generation is slower and more
			// expensive to retry, so it gets fewer attempts and a longer
			// backoff base.
			Summary: QueueConfig{MaxAttempts: 3, BackoffBase: 5 * time.Second, Concurrency: 3, Retention: 24 * time.Hour},
			Report:  QueueConfig{MaxAttempts: 2, BackoffBase: 10 * time.Second, Concurrency: 2, Retention: 24 * time.Hour},
			PDF:     QueueConfig{MaxAttempts: 3, BackoffBase: 5 * time.Second, Concurrency: 2, Retention: 24 * time.Hour},
		},
		LLM: LLMConfig{
			Provider:     "openai",
			BaseURL:      "https://api.openai.com/v1",
			SummaryModel: "gpt-4o",
			ReportModel:  "gpt-4o-mini",
			Pricing: map[string]ModelPricing{
				"gpt-4o":      {Input: 0.000002027, Output: 0.00001011},
				"gpt-4o-mini": {Input: 0.000000156, Output: 0.000000606},
			},
		},
		GitHub: GitHubConfig{
			BaseURL: "https://api.github.com",
		},
		Storage: StorageConfig{},
	}
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if level := os.Getenv("SERVER_LOG_LEVEL"); level != "" {
		c.Server.LogLevel = level
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.JWT.Secret = secret
	}
	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		c.LLM.Provider = provider
	}
	if baseURL := os.Getenv("LLM_BASE_URL"); baseURL != "" {
		c.LLM.BaseURL = baseURL
	}
	if apiKey := os.Getenv("LLM_API_KEY"); apiKey != "" {
		c.LLM.APIKey = apiKey
	}
	if model := os.Getenv("LLM_SUMMARY_MODEL"); model != "" {
		c.LLM.SummaryModel = model
	}
	if model := os.Getenv("LLM_REPORT_MODEL"); model != "" {
		c.LLM.ReportModel = model
	}
	if baseURL := os.Getenv("GITHUB_BASE_URL"); baseURL != "" {
		c.GitHub.BaseURL = baseURL
	}
	if bucket := os.Getenv("GCS_BUCKET"); bucket != "" {
		c.Storage.Bucket = bucket
	}
	if cred := os.Getenv("GCS_CREDENTIALS_JSON"); cred != "" {
		c.Storage.CredentialsJSON = cred
	}
	if email := os.Getenv("GCS_SIGNER_EMAIL"); email != "" {
		c.Storage.SignerEmail = email
	}
	if key := os.Getenv("GCS_SIGNER_PRIVATE_KEY"); key != "" {
		c.Storage.SignerPrivateKey = key
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.parseRedisURL(redisURL)
	}
}

// parseRedisURL parses a Redis URL and sets config values.
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		// Password format: :password or user:password
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	c.Redis.Addr = url
}

func (c *Config) Save(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}
