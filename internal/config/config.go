package config

import (
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	API       APIConfig
	Providers ProvidersConfig
	FileStore FileStoreConfig
	Pipeline  PipelineConfig
	Quota     QuotaConfig
}

type ServerConfig struct {
	Port int
	Env  string // "development", "production"
}

type DatabaseConfig struct {
	Host    string
	Port    string
	Name    string
	User    string
	Pass    string
	Charset string
}

type RedisConfig struct {
	Addr string
	Pass string
	DB   int
}

type APIConfig struct {
	Key string
}

// ProviderConfig describes one AI capability endpoint.
type ProviderConfig struct {
	Name  string
	Kind  string // "gateway" (chat completions) or "vision" (messages API)
	URL   string
	Key   string
	Model string
}

type ProvidersConfig struct {
	Endpoints []ProviderConfig
	// Fixed priority order of provider names per capability.
	ExtractionOrder []string
	AnalysisOrder   []string
	// Consecutive failures at which a provider becomes ineligible.
	FailureThreshold int
	// A degraded provider becomes eligible again once this much time has
	// passed since its last failure.
	Cooldown time.Duration
}

type FileStoreConfig struct {
	BaseURL  string
	Token    string
	LocalDir string
}

type PipelineConfig struct {
	PollInterval      time.Duration
	ExtractionTimeout time.Duration
	AnalysisTimeout   time.Duration
	RetryBase         time.Duration
	WatchdogInterval  time.Duration
	StaleAfter        time.Duration
	MaxFileSizeKB     int64
}

type QuotaConfig struct {
	MonthlyLimit int
}

// Load reads configuration from .env file and environment variables.
func Load() (*Config, error) {
	// Load .env file (ignore error if missing)
	_ = godotenv.Load()

	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("APP_PORT", 8080)
	viper.SetDefault("APP_ENV", "production")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "3306")
	viper.SetDefault("DB_CHARSET", "utf8mb4")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("GATEWAY_URL", "https://ai.gateway.lovable.dev")
	viper.SetDefault("GATEWAY_MODEL", "google/gemini-2.5-flash")
	viper.SetDefault("GATEWAY_REPORT_MODEL", "google/gemini-2.5-pro")
	viper.SetDefault("VISION_URL", "https://api.anthropic.com")
	viper.SetDefault("VISION_MODEL", "claude-sonnet-4-5")
	viper.SetDefault("PROVIDER_EXTRACTION_ORDER", "vision,gateway")
	viper.SetDefault("PROVIDER_ANALYSIS_ORDER", "gateway,gateway-pro")
	viper.SetDefault("PROVIDER_FAILURE_THRESHOLD", 3)
	viper.SetDefault("PROVIDER_COOLDOWN", "10m")
	viper.SetDefault("PIPELINE_POLL_INTERVAL", "2s")
	viper.SetDefault("PIPELINE_EXTRACTION_TIMEOUT", "60s")
	viper.SetDefault("PIPELINE_ANALYSIS_TIMEOUT", "90s")
	viper.SetDefault("PIPELINE_RETRY_BASE", "2s")
	viper.SetDefault("WATCHDOG_INTERVAL", "1m")
	viper.SetDefault("WATCHDOG_STALE_AFTER", "5m")
	viper.SetDefault("MAX_FILE_SIZE_KB", 5120)
	viper.SetDefault("QUOTA_MONTHLY_LIMIT", 20)

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetInt("APP_PORT"),
			Env:  viper.GetString("APP_ENV"),
		},
		Database: DatabaseConfig{
			Host:    viper.GetString("DB_HOST"),
			Port:    viper.GetString("DB_PORT"),
			Name:    viper.GetString("DB_NAME"),
			User:    viper.GetString("DB_USER"),
			Pass:    viper.GetString("DB_PASS"),
			Charset: viper.GetString("DB_CHARSET"),
		},
		Redis: RedisConfig{
			Addr: viper.GetString("REDIS_ADDR"),
			Pass: viper.GetString("REDIS_PASS"),
			DB:   viper.GetInt("REDIS_DB"),
		},
		API: APIConfig{
			Key: viper.GetString("API_KEY"),
		},
		Providers: ProvidersConfig{
			Endpoints: []ProviderConfig{
				{
					Name:  "gateway",
					Kind:  "gateway",
					URL:   viper.GetString("GATEWAY_URL"),
					Key:   viper.GetString("GATEWAY_KEY"),
					Model: viper.GetString("GATEWAY_MODEL"),
				},
				{
					Name:  "gateway-pro",
					Kind:  "gateway",
					URL:   viper.GetString("GATEWAY_URL"),
					Key:   viper.GetString("GATEWAY_KEY"),
					Model: viper.GetString("GATEWAY_REPORT_MODEL"),
				},
				{
					Name:  "vision",
					Kind:  "vision",
					URL:   viper.GetString("VISION_URL"),
					Key:   viper.GetString("VISION_KEY"),
					Model: viper.GetString("VISION_MODEL"),
				},
			},
			ExtractionOrder:  splitList(viper.GetString("PROVIDER_EXTRACTION_ORDER")),
			AnalysisOrder:    splitList(viper.GetString("PROVIDER_ANALYSIS_ORDER")),
			FailureThreshold: viper.GetInt("PROVIDER_FAILURE_THRESHOLD"),
			Cooldown:         parseDurationSafe("PROVIDER_COOLDOWN", 10*time.Minute),
		},
		FileStore: FileStoreConfig{
			BaseURL:  viper.GetString("FILE_STORE_URL"),
			Token:    viper.GetString("FILE_STORE_TOKEN"),
			LocalDir: viper.GetString("FILE_STORE_DIR"),
		},
		Pipeline: PipelineConfig{
			PollInterval:      parseDurationSafe("PIPELINE_POLL_INTERVAL", 2*time.Second),
			ExtractionTimeout: parseDurationSafe("PIPELINE_EXTRACTION_TIMEOUT", 60*time.Second),
			AnalysisTimeout:   parseDurationSafe("PIPELINE_ANALYSIS_TIMEOUT", 90*time.Second),
			RetryBase:         parseDurationSafe("PIPELINE_RETRY_BASE", 2*time.Second),
			WatchdogInterval:  parseDurationSafe("WATCHDOG_INTERVAL", time.Minute),
			StaleAfter:        parseDurationSafe("WATCHDOG_STALE_AFTER", 5*time.Minute),
			MaxFileSizeKB:     viper.GetInt64("MAX_FILE_SIZE_KB"),
		},
		Quota: QuotaConfig{
			MonthlyLimit: viper.GetInt("QUOTA_MONTHLY_LIMIT"),
		},
	}

	if cfg.Database.Name == "" {
		log.Println("WARNING: DB_NAME is not set")
	}

	return cfg, nil
}

// DSN returns the MySQL DSN string for GORM.
func (d *DatabaseConfig) DSN() string {
	return d.User + ":" + d.Pass + "@tcp(" + d.Host + ":" + d.Port + ")/" + d.Name + "?charset=" + d.Charset + "&parseTime=True&loc=Local"
}

func parseDurationSafe(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(viper.GetString(key))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
