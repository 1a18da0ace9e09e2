package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the exchange service.
type Config struct {
	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Database configuration (Postgres state backend and audit read model)
	Database DatabaseConfig `mapstructure:"database"`

	// Exchange configuration
	Exchange ExchangeConfig `mapstructure:"exchange"`

	// JWT configuration for principal extraction
	JWT JWTConfig `mapstructure:"jwt"`

	// Monitoring configuration
	Monitoring MonitoringConfig `mapstructure:"monitoring"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"`

	// RateLimitPerMinute caps requests per caller principal. Zero disables
	// rate limiting.
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute"`
}

// DatabaseConfig holds Postgres configuration.
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

// ExchangeConfig holds exchange-domain configuration.
type ExchangeConfig struct {
	// AdminPrincipal is the single distinguished administrator identity,
	// injected at initialization and fixed for the lifetime of the deployment.
	AdminPrincipal string `mapstructure:"admin_principal"`

	// StateBackend selects the key-value backend: "memory" or "postgres".
	StateBackend string `mapstructure:"state_backend"`

	// RewardBase and RewardStep parameterize the linear reward schedule.
	RewardBase uint64 `mapstructure:"reward_base"`
	RewardStep uint64 `mapstructure:"reward_step"`
}

// JWTConfig holds bearer-token configuration. Token issuance and identity
// verification happen upstream; the service only validates and reads the
// subject claim.
type JWTConfig struct {
	SecretKey string `mapstructure:"secret_key"`
	Issuer    string `mapstructure:"issuer"`
	Audience  string `mapstructure:"audience"`
}

// MonitoringConfig holds metrics configuration.
type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
	HealthPath  string `mapstructure:"health_path"`
}

// Load loads configuration from config files and environment variables.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/healthex")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideWithEnv(&config)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.idle_timeout", 120)
	viper.SetDefault("server.rate_limit_per_minute", 120)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "healthex")
	viper.SetDefault("database.user", "healthex")
	viper.SetDefault("database.ssl_mode", "require")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 300)

	viper.SetDefault("exchange.state_backend", "memory")
	viper.SetDefault("exchange.reward_base", 100)
	viper.SetDefault("exchange.reward_step", 25)

	viper.SetDefault("jwt.issuer", "healthex-exchange")
	viper.SetDefault("jwt.audience", "healthex-principals")

	viper.SetDefault("monitoring.enabled", true)
	viper.SetDefault("monitoring.metrics_path", "/metrics")
	viper.SetDefault("monitoring.health_path", "/health")

	viper.SetDefault("log_level", "info")
}

// overrideWithEnv overrides selected values with flat environment variables.
func overrideWithEnv(config *Config) {
	if admin := os.Getenv("EXCHANGE_ADMIN_PRINCIPAL"); admin != "" {
		config.Exchange.AdminPrincipal = admin
	}

	if jwtSecret := os.Getenv("JWT_SECRET_KEY"); jwtSecret != "" {
		config.JWT.SecretKey = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.LogLevel = logLevel
	}
}

// validate validates the configuration.
func validate(config *Config) error {
	if config.Exchange.AdminPrincipal == "" {
		return fmt.Errorf("exchange administrator principal is required")
	}

	if config.JWT.SecretKey == "" {
		return fmt.Errorf("JWT secret key is required")
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Exchange.StateBackend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unknown state backend: %s", config.Exchange.StateBackend)
	}

	if config.Exchange.StateBackend == "postgres" && config.Database.Password == "" {
		return fmt.Errorf("database password is required for the postgres backend")
	}

	if config.Exchange.RewardStep == 0 {
		return fmt.Errorf("reward step must be positive to keep the schedule strictly increasing")
	}

	return nil
}
