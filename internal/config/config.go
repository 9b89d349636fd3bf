package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string
	DBPath      string
	RevealDelay time.Duration
	Dev         bool
}

// Load reads configuration from the environment, with a local .env file as
// an optional source.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Addr:        getenv("GACHA_ADDR", ":8080"),
		DBPath:      getenv("GACHA_DB", "gacha.db"),
		RevealDelay: time.Second,
		Dev:         os.Getenv("GACHA_ENV") != "production",
	}

	if v := os.Getenv("GACHA_REVEAL_DELAY_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return Config{}, fmt.Errorf("invalid GACHA_REVEAL_DELAY_MS %q", v)
		}
		cfg.RevealDelay = time.Duration(ms) * time.Millisecond
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
