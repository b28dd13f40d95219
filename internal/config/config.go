package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// WindowMode selects how conversations are grouped into windows.
type WindowMode string

const (
	WindowNever            WindowMode = "never"
	WindowAlways           WindowMode = "always"
	WindowAlwaysWithRoster WindowMode = "always_with_roster"
	WindowPerAccount       WindowMode = "per_account"
	WindowPerType          WindowMode = "per_type"
)

func ParseWindowMode(s string) (WindowMode, bool) {
	switch WindowMode(s) {
	case WindowNever, WindowAlways, WindowAlwaysWithRoster,
		WindowPerAccount, WindowPerType:
		return WindowMode(s), true
	}
	return WindowNever, false
}

// Config holds all configuration for the core.
// It follows the 12-factor app methodology by prioritizing environment variables.
type Config struct {
	AppMode       string
	WindowMode    WindowMode
	MergeAccounts bool

	// Conversation limits
	MaxRows    int
	KeyUpLines int

	// Bare JIDs that must never be written to the archive.
	NoLogJIDs []string

	ArchivePath string

	BridgeAddr    string
	BridgeSecret  string
	JWTSecret     string
	JWTExpiryMin  int
	ScanBatchSize int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Load reads configuration from environment variables.
func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	mode, ok := ParseWindowMode(getEnv("WINDOW_MODE", string(WindowNever)))
	if !ok {
		log.Printf("Unknown WINDOW_MODE %q, falling back to never", os.Getenv("WINDOW_MODE"))
	}

	return &Config{
		AppMode:       getEnv("APP_MODE", "development"),
		WindowMode:    mode,
		MergeAccounts: getEnvAsBool("MERGE_ACCOUNTS", false),
		MaxRows:       getEnvAsInt("MAX_CONVERSATION_ROWS", 100),
		KeyUpLines:    getEnvAsInt("KEY_UP_LINES", 10),
		NoLogJIDs:     getEnvAsList("NO_LOG_JIDS"),
		ArchivePath:   getEnv("ARCHIVE_PATH", "chatcore.db"),
		BridgeAddr:    getEnv("BRIDGE_ADDR", "127.0.0.1:8451"),
		BridgeSecret:  getEnv("BRIDGE_SECRET", ""),
		JWTSecret:     getEnv("JWT_SECRET", "change-me"),
		JWTExpiryMin:  getEnvAsInt("JWT_EXPIRY_MIN", 60),
		ScanBatchSize: getEnvAsInt("SCAN_BATCH_SIZE", 50),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
	}
}

// NoLog reports whether logging is disabled for the conversation. List
// entries name either a whole account or a bare JID.
func (c *Config) NoLog(account, bareJID string) bool {
	for _, entry := range c.NoLogJIDs {
		if entry == account || entry == bareJID {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
