package shared

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv      string
	HTTPAddr    string
	MetricsAddr string
	CORSOrigin  string
	MySQLDSN    string
	RedisAddr   string
	RedisDB     int
	RedisPass   string

	ExtractorBase string
	ExtractorKey  string
	AssetBase     string // origin for relative image_url paths; defaults to ExtractorBase

	SnapshotKey string
	Workers     int
	CacheTTL    time.Duration

	// RESEND_COMPAT_TIMER=1 restores the original timer-only resend behavior
	// (no backend call) for behavioral-parity testing.
	ResendCompatTimer bool
	ResendDelay       time.Duration
}

func Load() Config {
	// .env is optional; absence is the normal production case.
	_ = godotenv.Load()

	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return def
	}
	c := Config{
		AppEnv:            env("APP_ENV", "prod"),
		HTTPAddr:          env("HTTP_ADDR", ":8080"),
		MetricsAddr:       env("METRICS_ADDR", ":9100"),
		CORSOrigin:        env("CORS_ORIGIN", "*"),
		MySQLDSN:          env("MYSQL_DSN", "root:root@tcp(localhost:3306)/propintel?parseTime=true&charset=utf8mb4,utf8&loc=UTC"),
		RedisAddr:         env("REDIS_ADDR", "localhost:6379"),
		RedisPass:         env("REDIS_PASSWORD", ""),
		RedisDB:           atoi("REDIS_DB", 0),
		ExtractorBase:     env("EXTRACTOR_BASE_URL", "http://localhost:8000"),
		ExtractorKey:      env("EXTRACTOR_API_KEY", ""),
		SnapshotKey:       env("SNAPSHOT_KEY", "extractedData"),
		Workers:           atoi("INGEST_WORKERS", 4),
		CacheTTL:          time.Duration(atoi("CACHE_TTL_SECONDS", 900)) * time.Second,
		ResendCompatTimer: env("RESEND_COMPAT_TIMER", "") == "1",
		ResendDelay:       time.Duration(atoi("RESEND_DELAY_MS", 2000)) * time.Millisecond,
	}
	c.AssetBase = env("ASSET_BASE_URL", c.ExtractorBase)
	if c.SnapshotKey == "" {
		log.Warn().Msg("SNAPSHOT_KEY is empty, falling back to extractedData")
		c.SnapshotKey = "extractedData"
	}
	return c
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
