package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/parlato-app/parlato/pkg/audio"
	"github.com/parlato-app/parlato/pkg/gemini"
)

type config struct {
	Addr string

	// APIKeys is the Gemini credential pool, rotated on connect failures.
	APIKeys []string

	Model string
	Voice string

	// Tutor persona.
	TargetLanguage string
	CEFRLevel      string

	// UserID is the billed account. Single-user app; one identity.
	UserID string

	// DatabaseURL selects the Postgres credit store; empty falls back to an
	// in-memory store seeded with StarterCredits.
	DatabaseURL    string
	StarterCredits int64

	// Stripe top-up. Optional; without it billing notices carry no link.
	StripeSecretKey  string
	StripePriceID    string
	TopUpSuccessURL  string
	TopUpCancelURL   string

	CaptureRate    int
	LevelStride    int
	ConnectTimeout time.Duration

	WSPingInterval time.Duration
	WSWriteTimeout time.Duration

	ShutdownGracePeriod time.Duration
}

func loadConfig() (config, error) {
	cfg := config{
		Addr:                envOr("PARLATO_ADDR", "127.0.0.1:8765"),
		APIKeys:             splitCSV(os.Getenv("PARLATO_API_KEYS")),
		Model:               envOr("PARLATO_MODEL", gemini.DefaultModel),
		Voice:               envOr("PARLATO_VOICE", "Aoede"),
		TargetLanguage:      envOr("PARLATO_LANGUAGE", "Spanish"),
		CEFRLevel:           envOr("PARLATO_CEFR_LEVEL", "B1"),
		UserID:              envOr("PARLATO_USER_ID", "local"),
		DatabaseURL:         envOr("PARLATO_DATABASE_URL", ""),
		StarterCredits:      envInt64Or("PARLATO_STARTER_CREDITS", 25),
		StripeSecretKey:     envOr("PARLATO_STRIPE_SECRET_KEY", ""),
		StripePriceID:       envOr("PARLATO_STRIPE_PRICE_ID", ""),
		TopUpSuccessURL:     envOr("PARLATO_TOPUP_SUCCESS_URL", "https://parlato.app/topup/success"),
		TopUpCancelURL:      envOr("PARLATO_TOPUP_CANCEL_URL", "https://parlato.app/topup/cancel"),
		CaptureRate:         envIntOr("PARLATO_CAPTURE_RATE", audio.ModelInputRate),
		LevelStride:         envIntOr("PARLATO_LEVEL_STRIDE", 4),
		ConnectTimeout:      envDurationOr("PARLATO_CONNECT_TIMEOUT", 15*time.Second),
		WSPingInterval:      envDurationOr("PARLATO_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:      envDurationOr("PARLATO_WS_WRITE_TIMEOUT", 5*time.Second),
		ShutdownGracePeriod: envDurationOr("PARLATO_SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}

	if len(cfg.APIKeys) == 0 {
		return config{}, fmt.Errorf("PARLATO_API_KEYS must list at least one key")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return config{}, fmt.Errorf("PARLATO_ADDR must not be empty")
	}
	if cfg.StarterCredits < 0 {
		return config{}, fmt.Errorf("PARLATO_STARTER_CREDITS must be >= 0")
	}
	if cfg.CaptureRate <= 0 {
		return config{}, fmt.Errorf("PARLATO_CAPTURE_RATE must be > 0")
	}
	if cfg.LevelStride <= 0 {
		return config{}, fmt.Errorf("PARLATO_LEVEL_STRIDE must be > 0")
	}
	if cfg.ConnectTimeout <= 0 {
		return config{}, fmt.Errorf("PARLATO_CONNECT_TIMEOUT must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return config{}, fmt.Errorf("PARLATO_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return config{}, fmt.Errorf("PARLATO_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return config{}, fmt.Errorf("PARLATO_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if (cfg.StripeSecretKey == "") != (cfg.StripePriceID == "") {
		return config{}, fmt.Errorf("PARLATO_STRIPE_SECRET_KEY and PARLATO_STRIPE_PRICE_ID must be set together")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
