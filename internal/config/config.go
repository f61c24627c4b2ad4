// Package config loads application configuration from file, environment and
// defaults, plus the city registry.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Site    SiteConfig    `yaml:"site" mapstructure:"site"`
	Geocode GeocodeConfig `yaml:"geocode" mapstructure:"geocode"`
	Scrape  ScrapeConfig  `yaml:"scrape" mapstructure:"scrape"`
	Output  OutputConfig  `yaml:"output" mapstructure:"output"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// SiteConfig configures access to blocosderua.com.
type SiteConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	CitiesFile  string `yaml:"cities_file" mapstructure:"cities_file"`
}

// Timeout returns the per-request timeout.
func (c SiteConfig) Timeout() time.Duration { return time.Duration(c.TimeoutSecs) * time.Second }

// GeocodeConfig configures the provider chain.
type GeocodeConfig struct {
	NominatimBaseURL    string  `yaml:"nominatim_base_url" mapstructure:"nominatim_base_url"`
	NominatimIntervalMS int     `yaml:"nominatim_interval_ms" mapstructure:"nominatim_interval_ms"`
	GoogleAPIKey        string  `yaml:"google_api_key" mapstructure:"google_api_key"`
	GoogleBaseURL       string  `yaml:"google_base_url" mapstructure:"google_base_url"`
	PaidConcurrency     int64   `yaml:"paid_concurrency" mapstructure:"paid_concurrency"`
	Workers             int     `yaml:"workers" mapstructure:"workers"`
	CachePath           string  `yaml:"cache_path" mapstructure:"cache_path"`
}

// NominatimInterval is the minimum spacing between free-tier requests.
func (c GeocodeConfig) NominatimInterval() time.Duration {
	return time.Duration(c.NominatimIntervalMS) * time.Millisecond
}

// ScrapeConfig configures the per-city scrapers.
type ScrapeConfig struct {
	EventWorkers int `yaml:"event_workers" mapstructure:"event_workers"`
}

// OutputConfig configures where results land.
type OutputConfig struct {
	Dir        string `yaml:"dir" mapstructure:"dir"`
	ReportPath string `yaml:"report_path" mapstructure:"report_path"`
}

// ServerConfig configures the read-only HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, config file and environment.
func Load() (*Config, error) {
	// Optional .env for local runs; real environments set variables directly.
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CARNAMAPA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("site.base_url", "https://www.blocosderua.com")
	v.SetDefault("site.user_agent", "CarnaMapa/1.0 (carnival block aggregator)")
	v.SetDefault("site.timeout_secs", 30)
	// Empty defaults so env-only keys are visible to Unmarshal.
	v.SetDefault("site.cities_file", "")
	v.SetDefault("geocode.google_api_key", "")
	v.SetDefault("geocode.nominatim_base_url", "https://nominatim.openstreetmap.org/search")
	v.SetDefault("geocode.nominatim_interval_ms", 1000)
	v.SetDefault("geocode.google_base_url", "https://maps.googleapis.com/maps/api/geocode/json")
	v.SetDefault("geocode.paid_concurrency", 4)
	v.SetDefault("geocode.workers", 8)
	v.SetDefault("geocode.cache_path", "cache/geocode.json")
	v.SetDefault("scrape.event_workers", 5)
	v.SetDefault("output.dir", "output")
	v.SetDefault("output.report_path", "output/run-report.json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
