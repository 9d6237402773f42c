package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var DefaultHeadlineCodes = []string{"1", "1.02", "1.03", "1.04"}

type Config struct {
	Server     ServerConfig
	Auth       AuthConfig
	Source     SourceConfig
	Scheduler  SchedulerConfig
	Jobs       JobsConfig
	S3         S3Config
	Analytics  AnalyticsConfig
	DBURL      string
	DBPath     string
	RedisURL   string
	LogPath    string
	LogMaxSize int64
}

type ServerConfig struct {
	ListenAddr string
}

// AuthConfig holds the static shared secrets. An empty key disables the
// endpoint it guards.
type AuthConfig struct {
	AdminKey  string
	UploadKey string
}

type SourceConfig struct {
	URL      string
	ProxyURL string
	Timeout  time.Duration
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type JobsConfig struct {
	Timeout   time.Duration
	QueueSize int
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

type AnalyticsConfig struct {
	HeadlineCodes []string `yaml:"headline_codes"`
	DefaultLang   string   `yaml:"default_lang"`
}

// fileConfig is the optional YAML overlay.
type fileConfig struct {
	SourceURL string          `yaml:"source_url"`
	Analytics AnalyticsConfig `yaml:"analytics"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			ListenAddr: getEnv("LISTEN_ADDR", ":8080"),
		},
		Auth: AuthConfig{
			AdminKey:  os.Getenv("ADMIN_KEY"),
			UploadKey: os.Getenv("UPLOAD_KEY"),
		},
		Source: SourceConfig{
			URL:      os.Getenv("SOURCE_URL"),
			ProxyURL: os.Getenv("PROXY_URL"),
			Timeout:  getEnvDuration("FETCH_TIMEOUT", 2*time.Minute),
		},
		Scheduler: SchedulerConfig{
			Cron:     os.Getenv("REFRESH_CRON"),
			Interval: getEnvDuration("REFRESH_INTERVAL", 0),
		},
		Jobs: JobsConfig{
			Timeout:   getEnvDuration("JOB_TIMEOUT", 2*time.Hour),
			QueueSize: getEnvInt("QUEUE_SIZE", 4),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		Analytics: AnalyticsConfig{
			HeadlineCodes: DefaultHeadlineCodes,
			DefaultLang:   "uz",
		},
		DBURL:      os.Getenv("DATABASE_URL"),
		DBPath:     getEnv("DB_PATH", "cpi.db"),
		RedisURL:   os.Getenv("REDIS_URL"),
		LogPath:    getEnv("LOG_PATH", "cpi.log"),
		LogMaxSize: int64(getEnvInt("LOG_MAX_BYTES", 2*1024*1024)),
	}

	if err := cfg.loadFile(getEnv("CONFIG_FILE", "config/cpi.yaml")); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile overlays the YAML file when present. Environment variables win
// over the file for the source URL.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return err
	}

	if c.Source.URL == "" {
		c.Source.URL = fc.SourceURL
	}
	if len(fc.Analytics.HeadlineCodes) > 0 {
		c.Analytics.HeadlineCodes = fc.Analytics.HeadlineCodes
	}
	if fc.Analytics.DefaultLang != "" {
		c.Analytics.DefaultLang = fc.Analytics.DefaultLang
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
