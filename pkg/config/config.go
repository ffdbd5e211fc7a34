package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreFirestore = "firestore"
	StoreMemory    = "memory"

	PresenceFirestore = "firestore"
	PresenceRedis     = "redis"
	PresenceMemory    = "memory"
)

type Config struct {
	ServerPort         string
	Environment        string
	FirebaseProject    string
	ServiceAccountJSON string
	ServiceAccountPath string
	StorageBucket      string
	StoreDriver        string
	PresenceDriver     string
	RedisURL           string
	TypingWindow       time.Duration
	MessagePageCap     int
}

func Load() (*Config, error) {
	godotenv.Load()

	config := &Config{
		ServerPort:         getEnv("SERVER_PORT", "8080"),
		Environment:        getEnv("ENVIRONMENT", "development"),
		FirebaseProject:    getEnv("FIREBASE_PROJECT_ID", ""),
		ServiceAccountJSON: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),
		ServiceAccountPath: getEnv("FIREBASE_SERVICE_ACCOUNT_PATH", ""),
		StorageBucket:      getEnv("STORAGE_BUCKET", ""),
		StoreDriver:        getEnv("STORE_DRIVER", StoreFirestore),
		PresenceDriver:     getEnv("PRESENCE_DRIVER", PresenceFirestore),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379/0"),
		TypingWindow:       time.Duration(getEnvAsInt64("TYPING_WINDOW_MS", 5000)) * time.Millisecond,
		MessagePageCap:     int(getEnvAsInt64("MESSAGE_PAGE_CAP", 100)),
	}

	return config, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// PresenceStore resolves the typing store to wire. Firestore presence writes
// onto room documents, so it follows the rooms into memory when they live there.
func (c *Config) PresenceStore() string {
	switch {
	case c.PresenceDriver == PresenceRedis:
		return PresenceRedis
	case c.PresenceDriver == PresenceMemory || c.StoreDriver == StoreMemory:
		return PresenceMemory
	default:
		return PresenceFirestore
	}
}

// UsesFirestore reports whether any wired store needs a Firestore client.
func (c *Config) UsesFirestore() bool {
	return c.StoreDriver != StoreMemory || c.PresenceStore() == PresenceFirestore
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return intValue
		}
	}
	return defaultValue
}
