package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
	"ocrpipe/internal/logger"
)

// Config holds every tunable of the extraction pipeline and the services around it.
type Config struct {
	// Cache
	CacheRoot    string `yaml:"cache_root"`
	CacheTTLDays int    `yaml:"cache_ttl_days"`
	CacheEnabled bool   `yaml:"cache_enabled"`

	// OCR engine
	TessdataPrefix    string        `yaml:"tessdata_prefix"`
	OMPThreadLimit    int           `yaml:"omp_thread_limit"`
	TesseractPath     string        `yaml:"tesseract_path"`
	SubprocessTimeout time.Duration `yaml:"subprocess_timeout"`
	MaxEngineFailures int           `yaml:"max_engine_failures"`
	DisableFastPath   bool          `yaml:"disable_fast_path"`

	// Temporary artifacts
	TempDir    string `yaml:"temp_dir"`
	TempPrefix string `yaml:"temp_prefix"`

	// Strategy selection
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	EscalationThreshold float64 `yaml:"escalation_threshold"`
	MaxStrategies       int     `yaml:"max_strategies"`
	MaxWorkers          int     `yaml:"max_workers"`
	TiledThreshold      int     `yaml:"tiled_threshold"`
	TileSize            int     `yaml:"tile_size"`
	TileOverlap         int     `yaml:"tile_overlap"`

	// PDF fallbacks
	CloudPDF                   bool   `yaml:"cloud_pdf"`
	GoogleCloudProject         string `yaml:"google_cloud_project"`
	GoogleCloudLocation        string `yaml:"google_cloud_location"`
	DocumentAIProcessorID      string `yaml:"document_ai_processor_id"`
	DocumentAIProcessorVersion string `yaml:"document_ai_processor_version"`

	// Queue
	RedisURL          string        `yaml:"redis_url"`
	QueueName         string        `yaml:"queue_name"`
	WorkerConcurrency int           `yaml:"worker_concurrency"`
	JobTimeout        time.Duration `yaml:"job_timeout"`

	// Logging Configuration
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
	LogTimeFormat string `yaml:"log_time_format"`
	LogOutput     string `yaml:"log_output"`
}

// Default returns the configuration used when neither a file nor the environment overrides a value.
func Default() *Config {
	return &Config{
		CacheRoot:           filepath.Join(os.TempDir(), "ocrpipe-cache"),
		CacheTTLDays:        7,
		CacheEnabled:        true,
		OMPThreadLimit:      1,
		TesseractPath:       "tesseract",
		SubprocessTimeout:   30 * time.Second,
		MaxEngineFailures:   3,
		TempDir:             os.TempDir(),
		TempPrefix:          "ocrpipe_",
		ConfidenceThreshold: 90,
		EscalationThreshold: 75,
		MaxStrategies:       5,
		MaxWorkers:          3,
		TiledThreshold:      4000,
		TileSize:            2000,
		TileOverlap:         100,
		GoogleCloudLocation: "us",
		RedisURL:            "redis://localhost:6379/0",
		QueueName:           "ocr",
		WorkerConcurrency:   2,
		JobTimeout:          5 * time.Minute,
		LogLevel:            "info",
		LogFormat:           "console",
		LogTimeFormat:       "2006-01-02T15:04:05Z07:00",
		LogOutput:           "stderr",
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// OCRPIPE_CONFIG_FILE, and finally the environment.
func Load() (*Config, error) {
	config := Default()

	if path := os.Getenv("OCRPIPE_CONFIG_FILE"); path != "" {
		if err := config.mergeFile(path); err != nil {
			return nil, err
		}
	}

	config.CacheRoot = getEnv("OCR_CACHE_ROOT", config.CacheRoot)
	config.CacheTTLDays = getEnvInt("OCR_CACHE_TTL_DAYS", config.CacheTTLDays)
	config.CacheEnabled = getEnvBool("OCR_CACHE_ENABLED", config.CacheEnabled)
	config.TessdataPrefix = getEnv("TESSDATA_PREFIX", config.TessdataPrefix)
	config.OMPThreadLimit = getEnvInt("OMP_THREAD_LIMIT", config.OMPThreadLimit)
	config.TesseractPath = getEnv("TESSERACT_PATH", config.TesseractPath)
	config.SubprocessTimeout = getEnvDuration("OCR_SUBPROCESS_TIMEOUT", config.SubprocessTimeout)
	config.MaxEngineFailures = getEnvInt("OCR_MAX_ENGINE_FAILURES", config.MaxEngineFailures)
	config.DisableFastPath = getEnvBool("OCR_DISABLE_FAST_PATH", config.DisableFastPath)
	config.TempDir = getEnv("OCR_TEMP_DIR", config.TempDir)
	config.TempPrefix = getEnv("OCR_TEMP_PREFIX", config.TempPrefix)
	config.ConfidenceThreshold = getEnvFloat("OCR_CONFIDENCE_THRESHOLD", config.ConfidenceThreshold)
	config.EscalationThreshold = getEnvFloat("OCR_ESCALATION_THRESHOLD", config.EscalationThreshold)
	config.MaxStrategies = getEnvInt("OCR_MAX_STRATEGIES", config.MaxStrategies)
	config.MaxWorkers = getEnvInt("OCR_MAX_WORKERS", config.MaxWorkers)
	config.TiledThreshold = getEnvInt("OCR_TILED_THRESHOLD", config.TiledThreshold)
	config.TileSize = getEnvInt("OCR_TILE_SIZE", config.TileSize)
	config.TileOverlap = getEnvInt("OCR_TILE_OVERLAP", config.TileOverlap)
	config.CloudPDF = getEnvBool("OCR_CLOUD_PDF", config.CloudPDF)
	config.GoogleCloudProject = getEnv("GOOGLE_CLOUD_PROJECT", config.GoogleCloudProject)
	config.GoogleCloudLocation = getEnv("GOOGLE_CLOUD_LOCATION", config.GoogleCloudLocation)
	config.DocumentAIProcessorID = getEnv("DOCUMENT_AI_PROCESSOR_ID", config.DocumentAIProcessorID)
	config.DocumentAIProcessorVersion = getEnv("DOCUMENT_AI_PROCESSOR_VERSION", config.DocumentAIProcessorVersion)
	config.RedisURL = getEnv("REDIS_URL", config.RedisURL)
	config.QueueName = getEnv("OCR_QUEUE_NAME", config.QueueName)
	config.WorkerConcurrency = getEnvInt("WORKER_CONCURRENCY", config.WorkerConcurrency)
	config.JobTimeout = getEnvDuration("OCR_JOB_TIMEOUT", config.JobTimeout)
	config.LogLevel = getEnv("LOG_LEVEL", config.LogLevel)
	config.LogFormat = getEnv("LOG_FORMAT", config.LogFormat)
	config.LogTimeFormat = getEnv("LOG_TIME_FORMAT", config.LogTimeFormat)
	config.LogOutput = getEnv("LOG_OUTPUT", config.LogOutput)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.CacheTTLDays <= 0 {
		return fmt.Errorf("OCR_CACHE_TTL_DAYS must be positive")
	}
	if c.SubprocessTimeout <= 0 {
		return fmt.Errorf("OCR_SUBPROCESS_TIMEOUT must be positive")
	}
	if c.MaxEngineFailures <= 0 {
		return fmt.Errorf("OCR_MAX_ENGINE_FAILURES must be positive")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 100 {
		return fmt.Errorf("OCR_CONFIDENCE_THRESHOLD must be within 0..100")
	}
	if c.EscalationThreshold < 0 || c.EscalationThreshold > 100 {
		return fmt.Errorf("OCR_ESCALATION_THRESHOLD must be within 0..100")
	}
	if c.MaxStrategies <= 0 {
		return fmt.Errorf("OCR_MAX_STRATEGIES must be positive")
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("OCR_MAX_WORKERS must be positive")
	}
	if c.TileSize <= 0 || c.TiledThreshold <= 0 {
		return fmt.Errorf("OCR_TILE_SIZE and OCR_TILED_THRESHOLD must be positive")
	}
	if c.TileOverlap < 0 || c.TileOverlap >= c.TileSize {
		return fmt.Errorf("OCR_TILE_OVERLAP must be within [0, OCR_TILE_SIZE)")
	}
	if c.TempPrefix == "" {
		return fmt.Errorf("OCR_TEMP_PREFIX is required")
	}
	return nil
}

// CacheTTL returns the cache time-to-live as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLDays) * 24 * time.Hour
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
