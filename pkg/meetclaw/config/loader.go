package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR}, ${VAR:-default}, ${VAR:?error} and $VAR.
//
// Capture groups:
//   - Group 1: variable name for ${} syntax
//   - Group 2: modifier ("-" for default, "?" for error)
//   - Group 3: default value or error message
//   - Group 4: variable name for bare $VAR syntax
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

// secretEnv maps environment variables onto the secret fields they override.
var secretEnv = []struct {
	env   string
	field func(*Config) *string
}{
	{"MEETCLAW_PROVIDER_API_KEY", func(c *Config) *string { return &c.Provider.APIKey }},
	{"MEETCLAW_PROVIDER_API_SECRET", func(c *Config) *string { return &c.Provider.APISecret }},
	{"MEETCLAW_VOICE_API_KEY", func(c *Config) *string { return &c.Voice.APIKey }},
	{"MEETCLAW_GATEWAY_TOKEN", func(c *Config) *string { return &c.Gateway.AuthToken }},
	{"MEETCLAW_DATABASE_PASSWORD", func(c *Config) *string { return &c.Database.PostgreSQL.Password }},
	{"MEETCLAW_DISCORD_WEBHOOK", func(c *Config) *string { return &c.Notify.Discord.WebhookURL }},
}

// Load reads the config at path. An empty path falls back to FindConfigFile
// and then to defaults, so `meetclaw serve` works with env vars alone.
func Load(path string) (*Config, error) {
	if path == "" {
		path = FindConfigFile()
	}
	if path == "" {
		loadEnvFiles()
		cfg := DefaultConfig()
		resolveSecrets(cfg)
		return cfg, nil
	}
	return LoadFromFile(path)
}

// LoadFromFile reads and parses a YAML configuration file. It loads .env
// files first and expands environment variables before parsing.
func LoadFromFile(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := expandEnvVarsWithValidation(string(data))
	if err != nil {
		return nil, fmt.Errorf("expanding environment variables: %w", err)
	}

	cfg, err := Parse([]byte(expanded))
	if err != nil {
		return nil, err
	}

	resolveSecrets(cfg)
	resolveRelativePaths(cfg, path)
	checkFilePermissions(path)

	return cfg, nil
}

// Parse overlays YAML onto DefaultConfig.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("mapping config: %w", err)
	}

	// Absent bools unmarshal as false; keep defaults for sections that only
	// set other keys.
	keepBool(raw, "voice", "enabled", &cfg.Voice.Enabled, true)
	keepBool(raw, "scheduler", "enabled", &cfg.Scheduler.Enabled, true)

	return cfg, nil
}

func keepBool(raw map[string]any, section, key string, dst *bool, def bool) {
	m, ok := raw[section].(map[string]any)
	if !ok {
		*dst = def
		return
	}
	if _, set := m[key]; !set {
		*dst = def
	}
}

// FindConfigFile searches for config files in standard locations.
func FindConfigFile() string {
	candidates := []string{
		"meetclaw.yaml",
		"meetclaw.yml",
		"config.yaml",
		"config.yml",
		"configs/meetclaw.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// AuditSecrets warns about secrets that look hardcoded in the config file.
func AuditSecrets(cfg *Config, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Provider.APISecret != "" && os.Getenv("MEETCLAW_PROVIDER_API_SECRET") == "" &&
		GetKeyring(KeyProviderSecret) == "" && len(cfg.Provider.APISecret) > 20 {
		logger.Warn("provider api secret appears to be hardcoded in config",
			"hint", "set 'api_secret: ${MEETCLAW_PROVIDER_API_SECRET}' or run 'meetclaw secret set provider_api_secret'")
	}
}

func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		// Existing env vars win.
		_ = godotenv.Load(f)
	}
}

// expandEnvVars replaces environment references in input. An unset
// ${VAR:?msg} becomes "ERROR:VAR:msg" for expandEnvVarsWithValidation.
func expandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		varName, modifier, value, bareVar := sub[1], sub[2], sub[3], sub[4]

		if bareVar != "" {
			if val, ok := os.LookupEnv(bareVar); ok {
				return val
			}
			return match
		}

		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		switch modifier {
		case "?":
			if value == "" {
				value = "required environment variable not set"
			}
			return "ERROR:" + varName + ":" + value
		case "-":
			return value
		}
		return match
	})
}

func expandEnvVarsWithValidation(input string) (string, error) {
	result := expandEnvVars(input)
	idx := strings.Index(result, "ERROR:")
	if idx < 0 {
		return result, nil
	}
	rest := result[idx+len("ERROR:"):]
	colon := strings.Index(rest, ":")
	if colon == -1 {
		return "", fmt.Errorf("config error: malformed error marker")
	}
	msg := rest[colon+1:]
	if nl := strings.IndexByte(msg, '\n'); nl >= 0 {
		msg = msg[:nl]
	}
	return "", fmt.Errorf("config error: %s - %s", rest[:colon], strings.TrimSpace(msg))
}

// resolveSecrets fills secret fields from MEETCLAW_* variables when the
// config left them empty or unexpanded.
func resolveSecrets(cfg *Config) {
	for _, s := range secretEnv {
		dst := s.field(cfg)
		if *dst != "" && !IsEnvReference(*dst) {
			continue
		}
		if val := os.Getenv(s.env); val != "" {
			*dst = val
		}
	}
}

func resolveRelativePaths(cfg *Config, configPath string) {
	dir := filepath.Dir(configPath)
	cfg.Database.SQLite.Path = resolvePathFromConfig(cfg.Database.SQLite.Path, dir)
	cfg.Client.StatePath = resolvePathFromConfig(cfg.Client.StatePath, dir)
}

// resolvePathFromConfig makes path absolute relative to configDir and
// expands a leading ~/.
func resolvePathFromConfig(path, configDir string) string {
	if path == "" || path == ":memory:" {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		path = filepath.Join(home, path[2:])
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(configDir, path)
}

// IsEnvReference reports whether s is an unexpanded environment reference.
func IsEnvReference(s string) bool {
	return strings.HasPrefix(s, "$")
}

// checkFilePermissions warns if the config file is group or world readable.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	mode := info.Mode().Perm()
	if mode&0o044 != 0 {
		slog.Warn("config file has open permissions, consider restricting",
			"path", path,
			"current", fmt.Sprintf("%04o", mode),
			"recommended", "0600",
			"fix", fmt.Sprintf("chmod 600 %s", path),
		)
	}
}
