package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Lichess endpoints
	APIBaseURL string // TV listing, e.g. https://lichess.org/api
	SiteURL    string // site root; serves the replacement route
	SocketURL  string // streaming host, /socket/v5 is appended

	// Watch set
	Category        string
	ListSize        int
	WatchTarget     int // pump replacements until this many games; 0 disables
	ReplaceCooldown time.Duration
	Keepalive       time.Duration
	PublishBuffer   int
	Reconnect       bool

	// Directory pacing (requests per second)
	DirectoryRPS float64

	// Fanout
	FanoutPort int    // 0 disables the fanout server
	FanoutAddr string // viewer target, host:port

	// Terminal display: minimum gap between two move lines of one game
	DisplayThrottle time.Duration

	// Optional YAML profile overriding the watch settings above
	ProfilePath string

	// Telemetry
	LogLevel string
}

func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		APIBaseURL: strings.TrimRight(envStr("LICHESS_API_URL", "https://lichess.org/api"), "/"),
		SiteURL:    strings.TrimRight(envStr("LICHESS_SITE_URL", "https://lichess.org"), "/"),
		SocketURL:  strings.TrimRight(envStr("LICHESS_SOCKET_URL", "wss://socket2.lichess.org"), "/"),

		Category:    envStr("TV_CATEGORY", "best"),
		ListSize:    envInt("TV_LIST_SIZE", 30),
		WatchTarget: envInt("WATCH_TARGET", 0),

		// Lichess needs a moment after a game ends before the TV channel
		// offers a successor, so replacements are requested after a cool-down.
		ReplaceCooldown: time.Duration(envInt("REPLACE_COOLDOWN_MS", 3000)) * time.Millisecond,
		Keepalive:       time.Duration(envInt("KEEPALIVE_SEC", 5)) * time.Second,
		PublishBuffer:   envInt("PUBLISH_BUFFER", 100),
		Reconnect:       envStr("RECONNECT", "true") == "true",

		DirectoryRPS: envFloat("DIRECTORY_RPS", 2),

		FanoutPort: envInt("FANOUT_PORT", 0),
		FanoutAddr: envStr("FANOUT_ADDR", "localhost:8799"),

		DisplayThrottle: time.Duration(envInt("DISPLAY_THROTTLE_MS", 1000)) * time.Millisecond,

		ProfilePath: envStr("WATCH_PROFILE_PATH", ""),

		LogLevel: envStr("LOG_LEVEL", "info"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
