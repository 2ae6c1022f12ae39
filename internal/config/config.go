package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
// Precedence: environment (CLIMATE_*) > config file > defaults.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Analysis   AnalysisConfig   `mapstructure:"analysis" yaml:"analysis"`
	Extraction ExtractionConfig `mapstructure:"extraction" yaml:"extraction"`
	Artifacts  ArtifactsConfig  `mapstructure:"artifacts" yaml:"artifacts"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string        `mapstructure:"host" yaml:"host"`
	Port         int           `mapstructure:"port" yaml:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	MaxUploadMB  int64         `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`
}

// DatabaseConfig holds bookkeeping store settings. Driver is "postgres" or "sqlite";
// for sqlite, Database is the file path (":memory:" allowed).
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	Driver          string        `mapstructure:"driver" yaml:"driver"`
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	User            string        `mapstructure:"user" yaml:"user"`
	Password        string        `mapstructure:"password" yaml:"-"`
	Database        string        `mapstructure:"database" yaml:"database"`
	SSLMode         string        `mapstructure:"sslmode" yaml:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// AnalysisConfig holds pipeline settings
type AnalysisConfig struct {
	OutputDir              string        `mapstructure:"output_dir" yaml:"output_dir"`
	OutlierMethod          string        `mapstructure:"outlier_method" yaml:"outlier_method"`
	IsolationForestEnabled bool          `mapstructure:"isolation_forest_enabled" yaml:"isolation_forest_enabled"`
	IsolationForestTrees   int           `mapstructure:"isolation_forest_trees" yaml:"isolation_forest_trees"`
	Seed                   int64         `mapstructure:"seed" yaml:"seed"`
	CacheSize              int           `mapstructure:"cache_size" yaml:"cache_size"`
	CacheTTL               time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	Charts                 bool          `mapstructure:"charts" yaml:"charts"`
}

// ExtractionConfig holds open data API settings
type ExtractionConfig struct {
	BaseURL    string        `mapstructure:"base_url" yaml:"base_url"`
	DatasetID  string        `mapstructure:"dataset_id" yaml:"dataset_id"`
	AppToken   string        `mapstructure:"app_token" yaml:"-"`
	Department string        `mapstructure:"department" yaml:"department"`
	BatchSize  int           `mapstructure:"batch_size" yaml:"batch_size"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ArtifactsConfig holds the optional bucket mirror for generated files
type ArtifactsConfig struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey string `mapstructure:"access_key" yaml:"-"`
	SecretKey string `mapstructure:"secret_key" yaml:"-"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
}

// LoadConfig loads configuration from defaults, the optional file named by
// CLIMATE_CONFIG (or ./config.yaml) and the environment.
func LoadConfig() (*Config, error) {
	return Load("")
}

// Load loads configuration, reading cfgFile when given.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CLIMATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if cfgFile == "" {
		cfgFile = v.GetString("config")
	}
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		var notFound viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.max_upload_mb", 64)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "climate")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "climate")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.conn_max_idle_time", time.Minute)

	v.SetDefault("logging.level", "info")

	v.SetDefault("analysis.output_dir", "data/processed")
	v.SetDefault("analysis.outlier_method", "iqr")
	v.SetDefault("analysis.isolation_forest_enabled", true)
	v.SetDefault("analysis.isolation_forest_trees", 100)
	v.SetDefault("analysis.seed", 42)
	v.SetDefault("analysis.cache_size", 128)
	v.SetDefault("analysis.cache_ttl", 30*time.Minute)
	v.SetDefault("analysis.charts", true)

	v.SetDefault("extraction.base_url", "https://www.datos.gov.co")
	v.SetDefault("extraction.dataset_id", "sbwg-7ju4")
	v.SetDefault("extraction.app_token", "")
	v.SetDefault("extraction.department", "CUNDINAMARCA")
	v.SetDefault("extraction.batch_size", 50000)
	v.SetDefault("extraction.max_retries", 3)
	v.SetDefault("extraction.timeout", 30*time.Second)

	v.SetDefault("artifacts.endpoint", "")
	v.SetDefault("artifacts.access_key", "")
	v.SetDefault("artifacts.secret_key", "")
	v.SetDefault("artifacts.bucket", "climate-artifacts")
	v.SetDefault("artifacts.use_ssl", false)
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("server.max_upload_mb must be positive")
	}
	if c.Database.Enabled {
		switch c.Database.Driver {
		case "postgres":
			if c.Database.Host == "" || c.Database.Database == "" {
				return fmt.Errorf("database.host and database.database are required for postgres")
			}
		case "sqlite":
			if c.Database.Database == "" {
				return fmt.Errorf("database.database must name the sqlite file")
			}
		default:
			return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
		}
	}
	switch c.Analysis.OutlierMethod {
	case "iqr", "zscore", "isolation_forest":
	default:
		return fmt.Errorf("unsupported analysis.outlier_method %q", c.Analysis.OutlierMethod)
	}
	if c.Analysis.CacheSize <= 0 {
		return fmt.Errorf("analysis.cache_size must be positive")
	}
	if c.Analysis.OutputDir == "" {
		return fmt.Errorf("analysis.output_dir is required")
	}
	if c.Extraction.BatchSize <= 0 {
		return fmt.Errorf("extraction.batch_size must be positive")
	}
	if c.Extraction.MaxRetries < 0 {
		return fmt.Errorf("extraction.max_retries must not be negative")
	}
	return nil
}
