package server

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

type Config struct {
	Addr        string
	Port        int
	DBStr       string
	MigratePath string
	LogLevel    string
	DBDebug     bool

	// RedisAddr enables the request rate limiter when set.
	RedisAddr  string
	RateLimit  int
	RateWindow int // seconds
}

const (
	defaultAddr        = "0.0.0.0"
	defaultPort        = 8080
	defaultDBStr       = "postgresql://taskboard:taskboard@db:5432/taskboard?sslmode=disable"
	defaultMigratePath = "migrations"
	defaultLogLevel    = "info"
	defaultRateLimit   = 100
	defaultRateWindow  = 60
)

var (
	addr        = flag.String("addr", defaultAddr, "server listen address")
	port        = flag.Int("port", defaultPort, "server listen port")
	dbstr       = flag.String("dbstr", defaultDBStr, "database connection string")
	dbDsn       = flag.String("dbdsn", "", "database DSN (takes precedence over dbstr)")
	migratePath = flag.String("migratepath", defaultMigratePath, "path to the migrations directory")
	logLevel    = flag.String("loglevel", defaultLogLevel, "log level (debug|info|warn|error)")
	configFile  = flag.String("c", "", "path to a JSON config file")
	parsed      = false
)

// ReadConfig layers configuration sources: defaults, then the JSON file,
// then environment variables, then flags.
func ReadConfig() *Config {
	if !parsed {
		flag.Parse()
		parsed = true
	}

	cfg := &Config{
		Addr:        defaultAddr,
		Port:        defaultPort,
		DBStr:       defaultDBStr,
		MigratePath: defaultMigratePath,
		LogLevel:    defaultLogLevel,
		RateLimit:   defaultRateLimit,
		RateWindow:  defaultRateWindow,
	}

	if jsonConfig := loadJSONConfig(); jsonConfig != nil {
		cfg = jsonConfig
	}

	cfg = applyEnvOverrides(cfg)
	cfg = applyFlagOverrides(cfg)

	return cfg
}

func loadJSONConfig() *Config {
	configPath := *configFile
	if configPath == "" {
		configPath = os.Getenv("CONFIG")
	}
	if configPath == "" {
		return nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		log.Warn().Err(err).Str("path", configPath).Msg("config.file_read_failed")
		return nil
	}

	var jsonConfig Config
	if err := json.Unmarshal(data, &jsonConfig); err != nil {
		log.Warn().Err(err).Str("path", configPath).Msg("config.file_parse_failed")
		return nil
	}
	return &jsonConfig
}

func applyEnvOverrides(cfg *Config) *Config {
	if v := os.Getenv("ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err != nil || p < 1 || p > 65535 {
			log.Warn().Str("port", v).Msg("config.invalid_port")
		} else {
			cfg.Port = p
		}
	}
	if v := os.Getenv("DB_STR"); v != "" {
		cfg.DBStr = v
	}
	if v := os.Getenv("MIGRATE_PATH"); v != "" {
		cfg.MigratePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DB_DEBUG"); v != "" {
		cfg.DBDebug = v == "true"
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err != nil || n < 1 {
			log.Warn().Str("rateLimit", v).Msg("config.invalid_rate_limit")
		} else {
			cfg.RateLimit = n
		}
	}
	if v := os.Getenv("RATE_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err != nil || n < 1 {
			log.Warn().Str("rateWindow", v).Msg("config.invalid_rate_window")
		} else {
			cfg.RateWindow = n
		}
	}

	if cfg.DBStr == defaultDBStr {
		dbUser := os.Getenv("DB_USER")
		dbPassword := os.Getenv("DB_PASSWORD")
		dbName := os.Getenv("DB_NAME")
		dbHost := os.Getenv("DB_HOST")
		dbPort := os.Getenv("DB_PORT")
		if dbUser != "" && dbPassword != "" && dbName != "" && dbHost != "" && dbPort != "" {
			cfg.DBStr = fmt.Sprintf("postgresql://%s:%s@%s:%s/%s?sslmode=disable", dbUser, dbPassword, dbHost, dbPort, dbName)
		}
	}

	return cfg
}

func applyFlagOverrides(cfg *Config) *Config {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = *addr
		case "port":
			cfg.Port = *port
		case "dbstr":
			cfg.DBStr = *dbstr
		case "dbdsn":
			cfg.DBStr = *dbDsn
		case "migratepath":
			cfg.MigratePath = *migratePath
		case "loglevel":
			cfg.LogLevel = *logLevel
		}
	})
	return cfg
}
