package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	MockHardware    bool
	LampTest        bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("TRAFFICLIGHT_CONFIG", ""),
		"Path to configuration file, defaults apply without one (env: TRAFFICLIGHT_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("TRAFFICLIGHT_LOG_LEVEL", ""),
		"Log level: debug, info, warn, error; overrides config (env: TRAFFICLIGHT_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("TRAFFICLIGHT_LOG_FORMAT", ""),
		"Log format: json, text; overrides config (env: TRAFFICLIGHT_LOG_FORMAT)")

	flag.BoolVar(&cfg.MockHardware, "mock-hardware",
		getEnvBool("TRAFFICLIGHT_MOCK_HARDWARE", false),
		"Drive an in-memory signal head instead of GPIO pins (env: TRAFFICLIGHT_MOCK_HARDWARE)")

	flag.BoolVar(&cfg.LampTest, "lamp-test",
		getEnvBool("TRAFFICLIGHT_LAMP_TEST", true),
		"Walk every lamp at startup (env: TRAFFICLIGHT_LAMP_TEST)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("TRAFFICLIGHT_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: TRAFFICLIGHT_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Parse()
	return cfg
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "warning: invalid boolean for %s: %q, using %v\n",
			key, value, fallback)
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "warning: invalid duration for %s: %q, using %v\n",
			key, value, fallback)
		return fallback
	}
	return parsed
}
