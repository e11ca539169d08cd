package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr          string
	CMSURL        string
	MeiliURL      string
	MeiliAPIKey   string
	SessionSecret string
	// CookieTTL bounds the signed session cookie; AccessTTL is how long a
	// CMS access token is assumed valid before a refresh is attempted.
	CookieTTL     time.Duration
	AccessTTL     time.Duration
	SecureCookies bool
	// Redis is optional; when empty, logout revocation is disabled.
	RedisURL string
}

func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("config: no .env file found, using environment variables")
	}

	return Config{
		Addr:          getenv("KNITFOLIO_ADDR", ":8080"),
		CMSURL:        getenv("DIRECTUS_URL", "http://localhost:8055"),
		MeiliURL:      getenv("MEILISEARCH_URL", "http://localhost:7700"),
		MeiliAPIKey:   getenv("MEILISEARCH_KEY", ""),
		SessionSecret: getenv("KNITFOLIO_SESSION_SECRET", "knitfolio-dev-secret"),
		CookieTTL:     time.Duration(getenvInt("KNITFOLIO_COOKIE_TTL_SECONDS", 2592000)) * time.Second,
		AccessTTL:     time.Duration(getenvInt("KNITFOLIO_ACCESS_TTL_SECONDS", 604800)) * time.Second,
		SecureCookies: getenv("KNITFOLIO_SECURE_COOKIES", "") == "true",
		RedisURL:      getenv("REDIS_URL", ""),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
