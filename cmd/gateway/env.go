package main

import (
	"os"
	"strings"
)

// Environment variables read as flag defaults.
const (
	envConfigPath = "SECGW_CONFIG_PATH"
	envLogLevel   = "SECGW_LOG_LEVEL"
	envLogFormat  = "SECGW_LOG_FORMAT"
	envListenAddr = "SECGW_LISTEN_ADDR"
	envDemoRoutes = "SECGW_DEMO_ROUTES"
)

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns the environment variable as a boolean or a default.
// Accepts "true", "1", "yes", "on" (case-insensitive) as true values.
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return defaultValue
	}
}
