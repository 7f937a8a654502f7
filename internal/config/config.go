package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Matching defaults. The matching section of the config file is the only
// place these are overridden.
const (
	DefaultMinConfidence       = 70.0
	DefaultSimilarityThreshold = 80.0
	DefaultMatchMaxResults     = 100
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Vision   VisionConfig   `yaml:"vision"`
	Matching MatchingConfig `yaml:"matching"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Describe DescribeConfig `yaml:"describe"`
	Search   SearchConfig   `yaml:"search"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	WorkerCount        int     `yaml:"worker_count"`
	InputSize          int     `yaml:"input_size"`
}

// MatchingConfig holds the face matching thresholds, all on a 0-100 scale.
type MatchingConfig struct {
	MinConfidence       float64 `yaml:"min_confidence"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	MaxResults          int     `yaml:"max_results"`
}

type AnalysisConfig struct {
	StaleAfter    time.Duration `yaml:"stale_after"`
	CallTimeout   time.Duration `yaml:"call_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type DescribeConfig struct {
	Provider     string `yaml:"provider"`
	OpenAIKey    string `yaml:"openai_key"`
	OpenAIModel  string `yaml:"openai_model"`
	GeminiKey    string `yaml:"gemini_key"`
	GeminiModel  string `yaml:"gemini_model"`
	MaxImageSide int    `yaml:"max_image_side"`
}

type SearchConfig struct {
	MinScore float64 `yaml:"min_score"`
	Limit    int     `yaml:"limit"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Vision.WorkerCount == 0 {
		cfg.Vision.WorkerCount = 4
	}
	if cfg.Vision.InputSize == 0 {
		cfg.Vision.InputSize = 640
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Matching.MinConfidence == 0 {
		cfg.Matching.MinConfidence = DefaultMinConfidence
	}
	if cfg.Matching.SimilarityThreshold == 0 {
		cfg.Matching.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.Matching.MaxResults == 0 {
		cfg.Matching.MaxResults = DefaultMatchMaxResults
	}
	if cfg.Analysis.StaleAfter == 0 {
		cfg.Analysis.StaleAfter = 5 * time.Minute
	}
	if cfg.Analysis.CallTimeout == 0 {
		cfg.Analysis.CallTimeout = 90 * time.Second
	}
	if cfg.Analysis.SweepInterval == 0 {
		cfg.Analysis.SweepInterval = time.Minute
	}
	if cfg.Describe.Provider == "" {
		cfg.Describe.Provider = "openai"
	}
	if cfg.Describe.OpenAIModel == "" {
		cfg.Describe.OpenAIModel = "gpt-4o-mini"
	}
	if cfg.Describe.GeminiModel == "" {
		cfg.Describe.GeminiModel = "gemini-2.5-flash"
	}
	if cfg.Describe.MaxImageSide == 0 {
		cfg.Describe.MaxImageSide = 1568
	}
	if cfg.Search.MinScore == 0 {
		cfg.Search.MinScore = 0.25
	}
	if cfg.Search.Limit == 0 {
		cfg.Search.Limit = 200
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GAI_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("GAI_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("GAI_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("GAI_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("GAI_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("GAI_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("GAI_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("GAI_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("GAI_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("GAI_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("GAI_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("GAI_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("GAI_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("GAI_VISION_WORKER_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vision.WorkerCount = n
		}
	}
	if v := os.Getenv("GAI_MATCH_MIN_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Matching.MinConfidence = f
		}
	}
	if v := os.Getenv("GAI_MATCH_SIMILARITY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Matching.SimilarityThreshold = f
		}
	}
	if v := os.Getenv("GAI_DESCRIBE_PROVIDER"); v != "" {
		cfg.Describe.Provider = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Describe.OpenAIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Describe.GeminiKey = v
	}
	if v := os.Getenv("GAI_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
