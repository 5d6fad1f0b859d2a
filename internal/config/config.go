package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	BotToken            string
	LoginUser           string
	LoginPassword       string
	LoginPasswordHash   string
	BotTransport        string
	WebhookURL          string
	WebhookListenAddr   string
	WebhookSecretToken  string
	BotPollingIntervalS int
	TelegramTimeout     time.Duration
	DBHost              string
	DBPort              int
	DBUser              string
	DBPassword          string
	DBName              string
	DBSSLMode           string
	DataDir             string
	StateDir            string
	DatabasePath        string
	Timezone            string
	MaintenanceStart    string
	MaintenanceEnd      string
	SweepInterval       time.Duration
	ReportTimeout       time.Duration
	ReportMaxConcurrent int
	StrictHours         bool
	HealthPort          int
	LogLevel            string
	LogFilePath         string
	LogMaxSizeMB        int
	LogMaxBackups       int
	LogMaxAgeDays       int
	LogCompress         bool
}

// LoadDotEnv reads a .env file into the process environment. Variables that
// are already set win over the file.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func LoadFromEnv() (Config, error) {
	stateDir := defaultString(os.Getenv("STATE_DIR"), "./state")

	dbPort, err := parseIntWithDefault("PORT", 5432)
	if err != nil {
		return Config{}, err
	}
	pollingInterval, err := parseIntWithDefault("BOT_POLLING_INTERVAL_SECONDS", 2)
	if err != nil {
		return Config{}, err
	}
	telegramTimeoutMs, err := parseIntWithDefault("TELEGRAM_TIMEOUT_MS", 60000)
	if err != nil {
		return Config{}, err
	}
	sweepMinutes, err := parseIntWithDefault("SWEEP_INTERVAL_MINUTES", 60)
	if err != nil {
		return Config{}, err
	}
	reportTimeoutS, err := parseIntWithDefault("REPORT_TIMEOUT_SECONDS", 300)
	if err != nil {
		return Config{}, err
	}
	reportMaxConcurrent, err := parseIntWithDefault("REPORT_MAX_CONCURRENT", 2)
	if err != nil {
		return Config{}, err
	}
	healthPort, err := parseIntWithDefault("HEALTH_PORT", 4098)
	if err != nil {
		return Config{}, err
	}
	strictHours, err := parseBoolWithDefault("STRICT_HOURS", true)
	if err != nil {
		return Config{}, err
	}
	logMaxSize, err := parseIntWithDefault("LOG_MAX_SIZE_MB", 10)
	if err != nil {
		return Config{}, err
	}
	logMaxBackups, err := parseIntWithDefault("LOG_MAX_BACKUPS", 5)
	if err != nil {
		return Config{}, err
	}
	logMaxAge, err := parseIntWithDefault("LOG_MAX_AGE_DAYS", 14)
	if err != nil {
		return Config{}, err
	}
	logCompress, err := parseBoolWithDefault("LOG_COMPRESS", true)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		BotToken:            strings.TrimSpace(os.Getenv("TOKEN")),
		LoginUser:           os.Getenv("LOGIN_USER"),
		LoginPassword:       os.Getenv("LOGIN_PASSWORD"),
		LoginPasswordHash:   strings.TrimSpace(os.Getenv("LOGIN_PASSWORD_HASH")),
		BotTransport:        defaultString(os.Getenv("BOT_TRANSPORT"), "polling"),
		WebhookURL:          strings.TrimSpace(os.Getenv("WEBHOOK_URL")),
		WebhookListenAddr:   defaultString(os.Getenv("WEBHOOK_LISTEN_ADDR"), ":8090"),
		WebhookSecretToken:  strings.TrimSpace(os.Getenv("WEBHOOK_SECRET_TOKEN")),
		BotPollingIntervalS: pollingInterval,
		TelegramTimeout:     time.Duration(telegramTimeoutMs) * time.Millisecond,
		DBHost:              defaultString(os.Getenv("HOST"), "localhost"),
		DBPort:              dbPort,
		DBUser:              strings.TrimSpace(os.Getenv("USER_NAME")),
		DBPassword:          os.Getenv("PASSWORD"),
		DBName:              strings.TrimSpace(os.Getenv("DBNAME")),
		DBSSLMode:           defaultString(os.Getenv("DB_SSLMODE"), "disable"),
		DataDir:             defaultString(os.Getenv("DATA_DIR"), "./data"),
		StateDir:            stateDir,
		DatabasePath:        filepath.Join(stateDir, "bot.db"),
		Timezone:            defaultString(os.Getenv("TIMEZONE"), "Europe/Moscow"),
		MaintenanceStart:    defaultString(os.Getenv("MAINTENANCE_WINDOW_START"), "03:30"),
		MaintenanceEnd:      defaultString(os.Getenv("MAINTENANCE_WINDOW_END"), "06:00"),
		SweepInterval:       time.Duration(sweepMinutes) * time.Minute,
		ReportTimeout:       time.Duration(reportTimeoutS) * time.Second,
		ReportMaxConcurrent: reportMaxConcurrent,
		StrictHours:         strictHours,
		HealthPort:          healthPort,
		LogLevel:            defaultString(os.Getenv("LOG_LEVEL"), "info"),
		LogFilePath:         filepath.Join(stateDir, "logs", "bot.log"),
		LogMaxSizeMB:        logMaxSize,
		LogMaxBackups:       logMaxBackups,
		LogMaxAgeDays:       logMaxAge,
		LogCompress:         logCompress,
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.BotToken == "" {
		return errors.New("TOKEN is required")
	}
	if cfg.LoginUser == "" {
		return errors.New("LOGIN_USER is required")
	}
	if cfg.LoginPassword == "" && cfg.LoginPasswordHash == "" {
		return errors.New("LOGIN_PASSWORD or LOGIN_PASSWORD_HASH is required")
	}
	if cfg.BotTransport != "polling" && cfg.BotTransport != "webhook" {
		return fmt.Errorf("BOT_TRANSPORT must be polling or webhook: got %q", cfg.BotTransport)
	}
	if cfg.BotTransport == "webhook" && cfg.WebhookURL == "" {
		return errors.New("WEBHOOK_URL is required when BOT_TRANSPORT=webhook")
	}
	if cfg.WebhookSecretToken != "" && !validSecretToken(cfg.WebhookSecretToken) {
		return errors.New("WEBHOOK_SECRET_TOKEN must be 1-256 characters of A-Z, a-z, 0-9, _ or -")
	}
	if cfg.DBPort <= 0 {
		return fmt.Errorf("PORT must be > 0: got %d", cfg.DBPort)
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE %q: %w", cfg.Timezone, err)
	}
	if cfg.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_MINUTES must be > 0: got %s", cfg.SweepInterval)
	}
	if cfg.ReportMaxConcurrent <= 0 {
		return fmt.Errorf("REPORT_MAX_CONCURRENT must be > 0: got %d", cfg.ReportMaxConcurrent)
	}
	if cfg.HealthPort <= 0 {
		return fmt.Errorf("HEALTH_PORT must be > 0: got %d", cfg.HealthPort)
	}
	if cfg.LogMaxSizeMB <= 0 || cfg.LogMaxBackups < 0 || cfg.LogMaxAgeDays < 0 {
		return errors.New("LOG_MAX_SIZE_MB must be > 0; LOG_MAX_BACKUPS and LOG_MAX_AGE_DAYS must be >= 0")
	}
	if err := validateDataDir(cfg.DataDir, cfg.StateDir); err != nil {
		return err
	}
	return nil
}

// validateDataDir keeps the sweeper's RemoveAll away from anything it must not
// delete: the working directory, the filesystem root and STATE_DIR.
func validateDataDir(dataDir, stateDir string) error {
	data, err := filepath.Abs(dataDir)
	if err != nil {
		return fmt.Errorf("DATA_DIR %q: %w", dataDir, err)
	}
	state, err := filepath.Abs(stateDir)
	if err != nil {
		return fmt.Errorf("STATE_DIR %q: %w", stateDir, err)
	}
	if data == filepath.Dir(data) {
		return fmt.Errorf("DATA_DIR must not be the filesystem root: got %q", dataDir)
	}
	if cwd, err := os.Getwd(); err == nil && isWithin(cwd, data) {
		return fmt.Errorf("DATA_DIR must not contain the working directory: got %q", dataDir)
	}
	if isWithin(state, data) {
		return errors.New("DATA_DIR must not contain STATE_DIR: the sweeper deletes DATA_DIR")
	}
	return nil
}

// isWithin reports whether path equals dir or lies below it.
func isWithin(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func validSecretToken(token string) bool {
	if len(token) > 256 {
		return false
	}
	for _, r := range token {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// PostgresDSN renders the courier database connection string for lib/pq.
func (c Config) PostgresDSN() string {
	parts := []string{
		"host=" + quoteDSN(c.DBHost),
		"port=" + strconv.Itoa(c.DBPort),
		"sslmode=" + quoteDSN(c.DBSSLMode),
	}
	if c.DBUser != "" {
		parts = append(parts, "user="+quoteDSN(c.DBUser))
	}
	if c.DBPassword != "" {
		parts = append(parts, "password="+quoteDSN(c.DBPassword))
	}
	if c.DBName != "" {
		parts = append(parts, "dbname="+quoteDSN(c.DBName))
	}
	return strings.Join(parts, " ")
}

func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c Config) MaxHour() int {
	if c.StrictHours {
		return 23
	}
	return 0
}

func quoteDSN(value string) string {
	if value != "" && !strings.ContainsAny(value, ` '\`) {
		return value
	}
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `'`, `\'`)
	return "'" + escaped + "'"
}

func parseIntWithDefault(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be integer: %w", key, err)
	}
	return v, nil
}

func parseBoolWithDefault(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be boolean: %w", key, err)
	}
	return v, nil
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}
