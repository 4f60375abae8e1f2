package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Engine struct {
	// Markets registered at startup, as BASE/QUOTE symbols.
	Markets           []string
	AutoCreateMarkets bool
	// SettlementFailurePolicy is "halt" (stop matching at the first failed
	// settlement) or "skip" (leave the failing maker resting and continue).
	SettlementFailurePolicy string
	PrecheckBalances        bool
	// CloseCrossingRemainder ends a limit remainder that still crosses the book
	// after a failed settlement instead of resting it.
	CloseCrossingRemainder bool
	RecentTradesCap        int
	// StatsTradeWindow is the number of most recent trades market stats cover.
	StatsTradeWindow int
	DepthDefault     int
	ExpirySweep      time.Duration
}

type API struct {
	Addr        string
	CORSOrigins []string
}

type Events struct {
	Buffer       int
	KafkaBrokers []string // empty disables the Kafka sink
	KafkaTopic   string
}

type Storage struct {
	ArchivePath string // empty disables the Pebble archive
}

type Feeder struct {
	Enabled bool
	Mode    string // default | highload
}

type Config struct {
	Engine  Engine
	API     API
	Events  Events
	Storage Storage
	Feeder  Feeder
	LogFile string
}

func Default() Config {
	return Config{
		Engine: Engine{
			Markets:                 []string{"ETH/USDC", "BTC/USDC"},
			AutoCreateMarkets:       false,
			SettlementFailurePolicy: "halt",
			PrecheckBalances:        true,
			RecentTradesCap:         10_000,
			StatsTradeWindow:        100,
			DepthDefault:            10,
			ExpirySweep:             time.Second,
		},
		API: API{
			Addr:        ":8080",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Events: Events{
			Buffer:     4096,
			KafkaTopic: "spotbook.events",
		},
		Storage: Storage{
			ArchivePath: "data/archive",
		},
		Feeder: Feeder{
			Enabled: false,
			Mode:    "default",
		},
		LogFile: "logs/node.log",
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.Engine.SettlementFailurePolicy = getEnv("SETTLEMENT_FAILURE_POLICY", cfg.Engine.SettlementFailurePolicy)
	cfg.Events.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.Events.KafkaTopic)
	cfg.Feeder.Mode = getEnv("TXGEN_MODE", cfg.Feeder.Mode)

	// ARCHIVE_PATH may be set to empty to disable the archive
	if path, ok := os.LookupEnv("ARCHIVE_PATH"); ok {
		cfg.Storage.ArchivePath = path
	}

	if markets := os.Getenv("MARKETS"); markets != "" {
		cfg.Engine.Markets = splitList(markets)
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Events.KafkaBrokers = splitList(brokers)
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.API.CORSOrigins = splitList(origins)
	}

	cfg.Engine.AutoCreateMarkets = getBool("AUTO_CREATE_MARKETS", cfg.Engine.AutoCreateMarkets)
	cfg.Engine.PrecheckBalances = getBool("PRECHECK_BALANCES", cfg.Engine.PrecheckBalances)
	cfg.Engine.CloseCrossingRemainder = getBool("CLOSE_CROSSING_REMAINDER", cfg.Engine.CloseCrossingRemainder)
	cfg.Feeder.Enabled = getBool("ENABLE_TXGEN", cfg.Feeder.Enabled)

	cfg.Engine.StatsTradeWindow = getInt("STATS_TRADE_WINDOW", cfg.Engine.StatsTradeWindow)
	cfg.Engine.RecentTradesCap = getInt("RECENT_TRADES_CAP", cfg.Engine.RecentTradesCap)
	cfg.Engine.DepthDefault = getInt("DEPTH_DEFAULT", cfg.Engine.DepthDefault)
	cfg.Events.Buffer = getInt("EVENT_BUFFER", cfg.Events.Buffer)

	if ms := getInt("EXPIRY_SWEEP_MS", -1); ms > 0 {
		cfg.Engine.ExpirySweep = time.Duration(ms) * time.Millisecond
	}

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
