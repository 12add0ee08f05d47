/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the purchase-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort               string  `mapstructure:"SERVER_PORT"`
	DatabaseURL              string  `mapstructure:"DATABASE_URL"`
	RedisURL                 string  `mapstructure:"REDIS_URL"`
	RedisCircuitPrefix       string  `mapstructure:"REDIS_CIRCUIT_PREFIX"`
	RabbitMQURL              string  `mapstructure:"RABBITMQ_URL"`
	PurchaseEventExchange    string  `mapstructure:"PURCHASE_EVENT_EXCHANGE"`
	RocketgateBaseURL        string  `mapstructure:"ROCKETGATE_BASE_URL"`
	NetbillingBaseURL        string  `mapstructure:"NETBILLING_BASE_URL"`
	EpochBaseURL             string  `mapstructure:"EPOCH_BASE_URL"`
	QyssoBaseURL             string  `mapstructure:"QYSSO_BASE_URL"`
	RiskServiceURL           string  `mapstructure:"RISK_SERVICE_URL"`
	RiskServiceAPIKey        string  `mapstructure:"RISK_SERVICE_API_KEY"`
	InternalAPIKey           string  `mapstructure:"INTERNAL_API_KEY"`
	ThreeDSJWTSecret         string  `mapstructure:"THREEDS_JWT_SECRET"`
	CircuitFailureRatio      float64 `mapstructure:"CIRCUIT_FAILURE_RATIO"`
	CircuitMinRequests       int64   `mapstructure:"CIRCUIT_MIN_REQUESTS"`
	CircuitWindowSeconds     int     `mapstructure:"CIRCUIT_WINDOW_SECONDS"`
	CircuitCooldownSeconds   int     `mapstructure:"CIRCUIT_COOLDOWN_SECONDS"`
	CircuitExecTimeoutSecs   int     `mapstructure:"CIRCUIT_EXEC_TIMEOUT_SECONDS"`
	BlacklistOnDeclineForced bool    `mapstructure:"BLACKLIST_ON_DECLINE_FORCED"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_CIRCUIT_PREFIX", "purchase:circuit")
	viper.SetDefault("PURCHASE_EVENT_EXCHANGE", "purchase_service.events")
	viper.SetDefault("ROCKETGATE_BASE_URL", "https://gateway.rocketgate.com")
	viper.SetDefault("NETBILLING_BASE_URL", "https://secure.netbilling.com")
	viper.SetDefault("EPOCH_BASE_URL", "https://api.epoch.com")
	viper.SetDefault("QYSSO_BASE_URL", "https://process.qysso.com")
	viper.SetDefault("CIRCUIT_FAILURE_RATIO", 0.5)
	viper.SetDefault("CIRCUIT_MIN_REQUESTS", 10)
	viper.SetDefault("CIRCUIT_WINDOW_SECONDS", 60)
	viper.SetDefault("CIRCUIT_COOLDOWN_SECONDS", 30)
	viper.SetDefault("CIRCUIT_EXEC_TIMEOUT_SECONDS", 35)
	viper.SetDefault("BLACKLIST_ON_DECLINE_FORCED", false)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "PURCHASE_REDIS_URL")
	_ = viper.BindEnv("REDIS_CIRCUIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("PURCHASE_EVENT_EXCHANGE")
	_ = viper.BindEnv("ROCKETGATE_BASE_URL")
	_ = viper.BindEnv("NETBILLING_BASE_URL")
	_ = viper.BindEnv("EPOCH_BASE_URL")
	_ = viper.BindEnv("QYSSO_BASE_URL")
	_ = viper.BindEnv("RISK_SERVICE_URL")
	_ = viper.BindEnv("RISK_SERVICE_API_KEY")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "PURCHASE_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("THREEDS_JWT_SECRET")
	_ = viper.BindEnv("CIRCUIT_FAILURE_RATIO")
	_ = viper.BindEnv("CIRCUIT_MIN_REQUESTS")
	_ = viper.BindEnv("CIRCUIT_WINDOW_SECONDS")
	_ = viper.BindEnv("CIRCUIT_COOLDOWN_SECONDS")
	_ = viper.BindEnv("CIRCUIT_EXEC_TIMEOUT_SECONDS")
	_ = viper.BindEnv("BLACKLIST_ON_DECLINE_FORCED")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("PURCHASE_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisCircuitPrefix = strings.TrimSpace(config.RedisCircuitPrefix)
	if config.RedisCircuitPrefix == "" {
		config.RedisCircuitPrefix = "purchase:circuit"
	}

	if config.CircuitFailureRatio <= 0 || config.CircuitFailureRatio > 1 {
		log.Printf("level=warn component=config msg=\"circuit failure ratio out of range; using default\" ratio=%f", config.CircuitFailureRatio)
		config.CircuitFailureRatio = 0.5
	}
	if config.CircuitMinRequests <= 0 {
		config.CircuitMinRequests = 10
	}
	if config.CircuitWindowSeconds <= 0 {
		config.CircuitWindowSeconds = 60
	}
	if config.CircuitCooldownSeconds <= 0 {
		config.CircuitCooldownSeconds = 30
	}
	if config.CircuitExecTimeoutSecs <= 0 {
		config.CircuitExecTimeoutSecs = 35
	}

	return
}
