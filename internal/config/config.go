package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Title             string
	ListenAddr        string
	AdminPassword     string
	SecretKey         string
	LoginRateLimit    int
	ExpirationOptions string
	SweepInterval     time.Duration
	RouterType        string
	UnifiBaseURL      string
	UnifiUsername     string
	UnifiPassword     string
	UnifiSite         string
	UnifiGroupID      string
	UnifiTLSVerify    bool
	DBDriver          string
	SQLitePath        string
	PostgresUser      string
	PostgresPassword  string
	PostgresHost      string
	PostgresPort      string
	PostgresDatabase  string
	PostgresSSLMode   string
}

func Load() *Config {
	cfg := &Config{
		Title:             getEnv("TITLE", "Knock-Knock"),
		ListenAddr:        getEnv("LISTEN_ADDR", ":8080"),
		AdminPassword:     mustGetEnv("ADMIN_PASSWORD"),
		SecretKey:         mustGetEnv("SECRET_KEY"),
		LoginRateLimit:    getEnvInt("LOGIN_RATE_LIMIT", 5),
		ExpirationOptions: getEnv("EXPIRATION_OPTIONS", "1h,1d,1w,1m"),
		SweepInterval:     getEnvDuration("SWEEP_INTERVAL", 60*time.Minute),
		RouterType:        strings.ToLower(getEnv("ROUTER_TYPE", "unifi")),
		UnifiBaseURL:      getEnv("UNIFI_BASE_URL", ""),
		UnifiUsername:     getEnv("UNIFI_USERNAME", ""),
		UnifiPassword:     getEnv("UNIFI_PASSWORD", ""),
		UnifiSite:         getEnv("UNIFI_SITE", "default"),
		UnifiGroupID:      getEnv("UNIFI_GROUP_ID", ""),
		UnifiTLSVerify:    getEnvBool("UNIFI_TLS_VERIFY", true),
		DBDriver:          strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
		SQLitePath:        getEnv("SQLITE_PATH", "/data/db.sqlite"),
		PostgresUser:      getEnv("POSTGRES_USER", "knock"),
		PostgresPassword:  getEnv("POSTGRES_PASSWORD", "password"),
		PostgresHost:      getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:      getEnv("POSTGRES_PORT", "5432"),
		PostgresDatabase:  getEnv("POSTGRES_DATABASE", "knock_portal"),
		PostgresSSLMode:   getEnv("POSTGRES_SSL_MODE", "disable"),
	}

	if cfg.RouterType == "unifi" {
		required := []struct{ key, value string }{
			{"UNIFI_BASE_URL", cfg.UnifiBaseURL},
			{"UNIFI_USERNAME", cfg.UnifiUsername},
			{"UNIFI_PASSWORD", cfg.UnifiPassword},
			{"UNIFI_GROUP_ID", cfg.UnifiGroupID},
		}
		var missing []string
		for _, r := range required {
			if r.value == "" {
				missing = append(missing, r.key)
			}
		}
		if len(missing) > 0 {
			panic("Missing required Unifi config: " + strings.Join(missing, ", "))
		}
	}

	return cfg
}

func mustGetEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		panic("Missing required environment variable: " + key)
	}
	return value
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
