package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// LookupFunc resolves an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// LoadConfig loads configuration from a file path on top of DefaultConfig.
func LoadConfig(path string) (*GatewayConfig, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
	}

	data, err := os.ReadFile(absPath) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return parseConfig(data, os.LookupEnv)
}

// LoadConfigOrDefault loads path, or returns DefaultConfig when the file
// does not exist. The second return value reports whether a file was read.
func LoadConfigOrDefault(path string) (*GatewayConfig, bool, error) {
	cfg, err := LoadConfig(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultConfig(), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

// LoadConfigFromReader loads configuration from an io.Reader.
func LoadConfigFromReader(r io.Reader) (*GatewayConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return parseConfig(data, os.LookupEnv)
}

func parseConfig(data []byte, lookup LookupFunc) (*GatewayConfig, error) {
	content := SubstituteEnvVars(string(data), lookup)

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return cfg, nil
}

// SubstituteEnvVars replaces ${VAR} and ${VAR:-default} patterns using lookup.
// "$$" yields a literal dollar sign.
func SubstituteEnvVars(content string, lookup LookupFunc) string {
	content = strings.ReplaceAll(content, "$$", "\x00ESCAPED_DOLLAR\x00")

	result := envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		defaultValue := ""
		if len(submatches) >= 3 {
			defaultValue = submatches[2]
		}

		if value, exists := lookup(varName); exists {
			return value
		}
		return defaultValue
	})

	return strings.ReplaceAll(result, "\x00ESCAPED_DOLLAR\x00", "$")
}

// ApplyEnv overrides configuration values from deployment environment
// variables. Empty variables are ignored.
func ApplyEnv(cfg *GatewayConfig, lookup LookupFunc) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("ENVIRONMENT"); ok {
		cfg.Server.Environment = v
	}
	if v, ok := get("HOST"); ok {
		cfg.Server.Address = v
	}
	if v, ok := get("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v, ok := get("RATE_LIMIT_PER_MINUTE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_PER_MINUTE: %w", err)
		}
		cfg.RateLimit.Requests = n
	}
	if v, ok := get("REDIS_URL"); ok {
		cfg.RateLimit.Redis.URL = v
		cfg.RateLimit.Store = StoreRedis
	}
	if v, ok := get("SERVICES_CONFIG_PATH"); ok {
		cfg.Registry.ServicesPath = v
	}
	if v, ok := get("ENABLE_METRICS"); ok {
		enabled, err := parseBool(v)
		if err != nil {
			return fmt.Errorf("ENABLE_METRICS: %w", err)
		}
		cfg.Observability.Metrics.Enabled = enabled
	}
	if v, ok := get("ALLOWED_HOSTS"); ok {
		cfg.Security.AllowedHosts = splitList(v)
	}
	if v, ok := get("ALLOWED_ORIGINS"); ok {
		cfg.Security.AllowedOrigins = splitList(v)
	}
	return nil
}

// parseBool accepts "true", "1", "yes", "on" and their negatives.
func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", value)
	}
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
