// Package config loads server settings from layered INI files with
// environment variable overrides. config/setting.ini picks the environment
// and defaults; config/<env>/server.ini refines them.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/modulpintar/modulpintar-server/internal/hooks"
	"github.com/modulpintar/modulpintar-server/internal/store"
)

const (
	settingsFile     = "config/setting.ini"
	defaultEnv       = "dev"
	envConfigPattern = "config/%s/server.ini"
)

// Settings contains global toggles such as the active environment.
type Settings struct {
	Environment string
	Defaults    map[string]string
}

// ServerConfig describes runtime options for the daemon.
type ServerConfig struct {
	Environment string
	HTTPAddress string
	// Database is either a postgres DSN or a sqlite file path.
	Database string
	// Auth
	AuthSecret        string
	TokenTTL          time.Duration
	RootAdminEmail    string
	RootAdminPassword string
	// Account defaults
	InitialPoints int64
	// Generator
	GeminiAPIKey  string
	GeminiBaseURL string
	GeminiModel   string
	// Safety
	SafetyRulesFile string
	// Logging
	LogFile  string
	LogLevel string
	// Mail
	SMTPHost        string
	SMTPPort        string
	SMTPUsername    string
	SMTPPassword    string
	SMTPFromAddress string
	ResetURLBase    string
	Hooks           hooks.Config
}

// LoadServerConfig reads the current environment and loads the matching
// server config file.
func LoadServerConfig(root string) (ServerConfig, error) {
	if root == "" {
		root = "."
	}
	s, err := loadSettings(root)
	if err != nil {
		return ServerConfig{}, err
	}

	envValues, err := parseINI(filepath.Join(root, fmt.Sprintf(envConfigPattern, s.Environment)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			envValues = map[string]string{}
		} else {
			return ServerConfig{}, err
		}
	}

	merged := make(map[string]string)
	for k, v := range s.Defaults {
		merged[k] = v
	}
	for k, v := range envValues {
		merged[k] = v
	}

	cfg := ServerConfig{
		Environment:       s.Environment,
		HTTPAddress:       firstNonEmpty(os.Getenv("MODULPINTAR_HTTP_ADDRESS"), merged["http_address"], ":8080"),
		Database:          firstNonEmpty(os.Getenv("MODULPINTAR_DATABASE"), merged["database"], store.DefaultPath()),
		AuthSecret:        firstNonEmpty(os.Getenv("MODULPINTAR_AUTH_SECRET"), merged["auth_secret"], "modulpintar-dev-secret"),
		RootAdminEmail:    firstNonEmpty(os.Getenv("MODULPINTAR_ROOT_ADMIN_EMAIL"), merged["root_admin_email"]),
		RootAdminPassword: firstNonEmpty(os.Getenv("MODULPINTAR_ROOT_ADMIN_PASSWORD"), merged["root_admin_password"]),
		GeminiAPIKey:      firstNonEmpty(os.Getenv("MODULPINTAR_GEMINI_API_KEY"), merged["gemini_api_key"]),
		GeminiBaseURL:     firstNonEmpty(os.Getenv("MODULPINTAR_GEMINI_BASE_URL"), merged["gemini_base_url"]),
		GeminiModel:       firstNonEmpty(os.Getenv("MODULPINTAR_GEMINI_MODEL"), merged["gemini_model"]),
		SafetyRulesFile:   firstNonEmpty(os.Getenv("MODULPINTAR_SAFETY_RULES_FILE"), merged["safety_rules_file"]),
		LogFile:           firstNonEmpty(os.Getenv("MODULPINTAR_LOG_FILE"), merged["log_file"]),
		LogLevel:          firstNonEmpty(merged["log_level"], "info"),
		SMTPHost:          firstNonEmpty(os.Getenv("MODULPINTAR_SMTP_HOST"), merged["smtp_host"]),
		SMTPPort:          firstNonEmpty(os.Getenv("MODULPINTAR_SMTP_PORT"), merged["smtp_port"], "587"),
		SMTPUsername:      firstNonEmpty(os.Getenv("MODULPINTAR_SMTP_USERNAME"), merged["smtp_username"]),
		SMTPPassword:      firstNonEmpty(os.Getenv("MODULPINTAR_SMTP_PASSWORD"), merged["smtp_password"]),
		SMTPFromAddress:   firstNonEmpty(os.Getenv("MODULPINTAR_SMTP_FROM"), merged["smtp_from"]),
		ResetURLBase:      firstNonEmpty(os.Getenv("MODULPINTAR_RESET_URL_BASE"), merged["reset_url_base"]),
	}

	cfg.TokenTTL = 72 * time.Hour
	if v := firstNonEmpty(os.Getenv("MODULPINTAR_TOKEN_TTL"), merged["token_ttl"]); v != "" {
		dur, err := time.ParseDuration(v)
		if err != nil {
			return ServerConfig{}, fmt.Errorf("invalid token_ttl %q: %w", v, err)
		}
		cfg.TokenTTL = dur
	}

	cfg.InitialPoints = 200
	if v := firstNonEmpty(os.Getenv("MODULPINTAR_INITIAL_POINTS"), merged["initial_points"]); v != "" {
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || parsed < 0 {
			return ServerConfig{}, fmt.Errorf("invalid initial_points %q", v)
		}
		cfg.InitialPoints = parsed
	}

	hookArgs := firstNonEmpty(os.Getenv("MODULPINTAR_HOOK_SCRIPT_ARGS"), merged["hooks_script_args"])
	hookEnv := firstNonEmpty(os.Getenv("MODULPINTAR_HOOK_SCRIPT_ENV"), merged["hooks_script_env"])
	cfg.Hooks = hooks.Config{
		Enabled:    parseBool(firstNonEmpty(os.Getenv("MODULPINTAR_HOOKS_ENABLED"), merged["hooks_enabled"])),
		ScriptPath: firstNonEmpty(os.Getenv("MODULPINTAR_HOOK_SCRIPT"), merged["hooks_script_path"]),
		ScriptArgs: parseCSV(hookArgs),
		Env:        parseMap(hookEnv),
	}
	if v := firstNonEmpty(os.Getenv("MODULPINTAR_HOOK_TIMEOUT"), merged["hooks_timeout"]); v != "" {
		dur, err := time.ParseDuration(v)
		if err != nil {
			return ServerConfig{}, fmt.Errorf("invalid hooks_timeout %q: %w", v, err)
		}
		cfg.Hooks.Timeout = dur
	}
	if err := cfg.Hooks.Validate(); err != nil {
		return ServerConfig{}, err
	}

	return cfg, nil
}

func loadSettings(root string) (Settings, error) {
	values, err := parseINI(filepath.Join(root, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return Settings{Environment: defaultEnv, Defaults: map[string]string{}}, nil
	}
	if err != nil {
		return Settings{}, err
	}
	env := values["environment"]
	if env == "" {
		env = defaultEnv
	}
	defaults := make(map[string]string)
	for k, v := range values {
		if k == "environment" {
			continue
		}
		defaults[k] = v
	}
	return Settings{Environment: env, Defaults: defaults}, nil
}

func parseINI(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		values[strings.ToLower(key)] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func parseCSV(input string) []string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseMap(input string) map[string]string {
	if strings.TrimSpace(input) == "" {
		return nil
	}
	entries := strings.Split(input, ",")
	result := make(map[string]string)
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		kv := strings.SplitN(entry, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		value := strings.TrimSpace(kv[1])
		if key != "" {
			result[key] = value
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
