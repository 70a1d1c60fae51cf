package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// escapedDollar stands in for "$$" while variables are substituted.
const escapedDollar = "\x00ESCAPED_DOLLAR\x00"

// LoadConfig reads path, substitutes environment variables and decodes the
// YAML over DefaultConfig. It does not validate.
func LoadConfig(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Message: "failed to resolve path", Cause: err}
	}

	data, err := os.ReadFile(absPath) //nolint:gosec // operator-supplied config path
	if err != nil {
		return nil, &ConfigError{Path: path, Message: "failed to read config file", Cause: err}
	}

	cfg, err := Parse(data)
	if err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) {
			ce.Path = path
		}
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFromReader is LoadConfig for an io.Reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &ConfigError{Message: "failed to read config", Cause: err}
	}
	return Parse(data)
}

// Parse decodes YAML data over DefaultConfig. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	content := substituteEnvVars(string(data))
	if strings.TrimSpace(content) == "" {
		return cfg, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader([]byte(content)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ConfigError{Message: "failed to parse YAML", Cause: err}
	}

	return cfg, nil
}

// substituteEnvVars replaces ${VAR} and ${VAR:-default}. "$$" yields a
// literal dollar sign.
func substituteEnvVars(content string) string {
	content = strings.ReplaceAll(content, "$$", escapedDollar)

	result := envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		if value, ok := os.LookupEnv(sub[1]); ok {
			return value
		}
		return sub[2]
	})

	return strings.ReplaceAll(result, escapedDollar, "$")
}

// ResolveConfigPath returns path if it exists, else looks in ./configs and
// /etc/secgateway.
func ResolveConfigPath(path string) (string, error) {
	if filepath.IsAbs(path) {
		if _, err := os.Stat(path); err != nil {
			return "", &ConfigError{Path: path, Message: "config file not found", Cause: err}
		}
		return path, nil
	}

	candidates := []string{
		path,
		filepath.Join("configs", path),
		filepath.Join(string(filepath.Separator), "etc", "secgateway", path),
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return filepath.Abs(p)
		}
	}

	return "", &ConfigError{Path: path, Message: "config file not found"}
}
