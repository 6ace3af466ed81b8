package mint

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/satmint/satmint/mint/lightning"
	"github.com/satmint/satmint/mint/reconciler"
)

// env vars read at startup
const (
	ENV_LIGHTNING_BACKEND = "MINT_LIGHTNING_BACKEND"
	ENV_DB_BACKEND        = "MINT_DB"
	ENV_LOG_LEVEL         = "MINT_LOG_LEVEL"

	LNBITS_ENDPOINT = "LNBITS_ENDPOINT"
	LNBITS_API_KEY  = "LNBITS_API_KEY"

	LND_REST_HOST     = "LND_REST_HOST"
	LND_CERT_PATH     = "LND_CERT_PATH"
	LND_MACAROON_PATH = "LND_MACAROON_PATH"

	CLN_REST_HOST     = "CLN_REST_HOST"
	CLN_CERT_PATH     = "CLN_CERT_PATH"
	CLN_MACAROON_PATH = "CLN_MACAROON_PATH"
)

type Config struct {
	Port     string
	MintPath string

	LightningConfig lightning.Config

	// sqlite when set to "sqlite", bbolt otherwise
	DBBackend       string
	DBMigrationPath string

	// fee reserve tuning
	ReservePercent float64
	MinReserve     uint64

	Reconciler reconciler.Config

	LogLevel slog.Level
}

// ConfigFromEnv builds the mint configuration the way it is supplied in a
// deployment: everything comes from the environment, with auth material
// referenced by path.
func ConfigFromEnv() Config {
	config := Config{
		Port:            envOrDefault("MINT_PORT", "3338"),
		MintPath:        os.Getenv("MINT_PATH"),
		DBBackend:       os.Getenv(ENV_DB_BACKEND),
		DBMigrationPath: envOrDefault("MINT_DB_MIGRATIONS", "mint/storage/sqlite/migrations"),
		ReservePercent:  lightning.DefaultReservePercent,
		MinReserve:      lightning.DefaultMinReserve,
	}

	backend := lightning.BackendKind(envOrDefault(ENV_LIGHTNING_BACKEND, string(lightning.Fake)))
	lightningConfig := lightning.Config{Kind: backend}
	switch backend {
	case lightning.Lnbits:
		lightningConfig.Endpoint = os.Getenv(LNBITS_ENDPOINT)
		lightningConfig.APIKey = os.Getenv(LNBITS_API_KEY)
	case lightning.LndRest:
		lightningConfig.Endpoint = os.Getenv(LND_REST_HOST)
		lightningConfig.CertPath = os.Getenv(LND_CERT_PATH)
		lightningConfig.MacaroonPath = os.Getenv(LND_MACAROON_PATH)
	case lightning.ClnRest:
		lightningConfig.Endpoint = os.Getenv(CLN_REST_HOST)
		lightningConfig.CertPath = os.Getenv(CLN_CERT_PATH)
		lightningConfig.MacaroonPath = os.Getenv(CLN_MACAROON_PATH)
	}
	config.LightningConfig = lightningConfig

	if percent, err := strconv.ParseFloat(os.Getenv("MINT_FEE_RESERVE_PERCENT"), 64); err == nil && percent > 0 {
		config.ReservePercent = percent / 100
	}
	if min, err := strconv.ParseUint(os.Getenv("MINT_MIN_FEE_RESERVE"), 10, 64); err == nil {
		config.MinReserve = min
	}

	if seconds, err := strconv.Atoi(os.Getenv("MINT_BACKOFF_CAP_SECONDS")); err == nil && seconds > 0 {
		config.Reconciler.BackoffCap = time.Duration(seconds) * time.Second
	}
	if workers, err := strconv.Atoi(os.Getenv("MINT_MAX_POLL_WORKERS")); err == nil && workers > 0 {
		config.Reconciler.MaxWorkers = workers
	}

	switch os.Getenv(ENV_LOG_LEVEL) {
	case "debug":
		config.LogLevel = slog.LevelDebug
	case "error":
		config.LogLevel = slog.LevelError
	default:
		config.LogLevel = slog.LevelInfo
	}

	return config
}

func envOrDefault(key, def string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return def
}
