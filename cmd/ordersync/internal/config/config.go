package config

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	olog "github.com/ordersync/ordersync/log"
)

type AppConfig struct {
	IndexerWSURL string
	SignerURL    string
	Network      string
	Wallet       string
	Subaccount   string

	StoragePath      string
	OrderWorkers     int
	PlacementTimeout time.Duration
	StrictReconcile  bool
	HTTPListen       string
	LogLevel         string
	LogFormatJSON    bool
	LogComponents    []string
}

func DefaultConfig() AppConfig {
	return AppConfig{
		StoragePath:      "db.sqlite3",
		OrderWorkers:     5,
		PlacementTimeout: 30 * time.Second,
		HTTPListen:       ":8080",
		LogLevel:         "info",
		LogFormatJSON:    false,
	}
}

// NewConfigFlagSet declares the flags against the provided struct but does not parse.
func NewConfigFlagSet(cfg *AppConfig) *pflag.FlagSet {
	fs := pflag.NewFlagSet("ordersync", pflag.ContinueOnError)
	fs.SortFlags = false

	fs.StringVar(&cfg.IndexerWSURL, "indexer-ws-url", cfg.IndexerWSURL, "Indexer websocket URL (env: ORDERSYNC_INDEXER_WS_URL)")
	fs.StringVar(&cfg.SignerURL, "signer-url", cfg.SignerURL, "Signing service base URL (env: ORDERSYNC_SIGNER_URL)")
	fs.StringVar(&cfg.Network, "network", cfg.Network, "Network id the session is bound to (env: ORDERSYNC_NETWORK)")
	fs.StringVar(&cfg.Wallet, "wallet", cfg.Wallet, "Wallet address (env: ORDERSYNC_WALLET)")
	fs.StringVar(&cfg.Subaccount, "subaccount", cfg.Subaccount, "Indexer subaccount id (env: ORDERSYNC_SUBACCOUNT)")

	fs.StringVar(&cfg.StoragePath, "storage-path", cfg.StoragePath, "Sqlite storage path (env: ORDERSYNC_STORAGE_PATH)")
	fs.IntVar(&cfg.OrderWorkers, "order-workers", cfg.OrderWorkers, "Number of order emit workers (env: ORDERSYNC_ORDER_WORKERS)")
	fs.DurationVar(&cfg.PlacementTimeout, "placement-timeout", cfg.PlacementTimeout, "Deadline for unconfirmed placements (env: ORDERSYNC_PLACEMENT_TIMEOUT)")
	fs.BoolVar(&cfg.StrictReconcile, "strict-reconcile", cfg.StrictReconcile, "Count order disappearances as cancellations (env: ORDERSYNC_STRICT_RECONCILE)")
	fs.StringVar(&cfg.HTTPListen, "http-listen", cfg.HTTPListen, "HTTP listen address (env: ORDERSYNC_HTTP_LISTEN)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (env: ORDERSYNC_LOG_LEVEL)")
	fs.BoolVar(&cfg.LogFormatJSON, "log-json", cfg.LogFormatJSON, "Emit logs as JSON (env: ORDERSYNC_LOG_JSON)")
	fs.StringSliceVar(&cfg.LogComponents, "log-components", cfg.LogComponents, "Restrict logs to the named components, e.g. supervisor,indexer (env: ORDERSYNC_LOG_COMPONENTS)")

	return fs
}

// ApplyEnvDefaults inspects flags that were left unset and pulls from env.
func ApplyEnvDefaults(fs *pflag.FlagSet, cfg *AppConfig) error {
	flagSet := map[string]struct{}{}
	fs.Visit(func(f *pflag.Flag) { flagSet[f.Name] = struct{}{} })

	setString := func(name, envKey string, target *string) {
		if _, ok := flagSet[name]; ok {
			return
		}
		if v, ok := os.LookupEnv(envKey); ok && v != "" {
			*target = v
		}
	}
	setInt := func(name, envKey string, target *int) {
		if _, ok := flagSet[name]; ok {
			return
		}
		if v, ok := os.LookupEnv(envKey); ok {
			if parsed, err := strconv.Atoi(v); err == nil {
				*target = parsed
			}
		}
	}
	setBool := func(name, envKey string, target *bool) {
		if _, ok := flagSet[name]; ok {
			return
		}
		if v, ok := os.LookupEnv(envKey); ok {
			if parsed, err := strconv.ParseBool(v); err == nil {
				*target = parsed
			}
		}
	}
	setDuration := func(name, envKey string, target *time.Duration) {
		if _, ok := flagSet[name]; ok {
			return
		}
		if v, ok := os.LookupEnv(envKey); ok {
			if parsed, err := time.ParseDuration(v); err == nil {
				*target = parsed
			}
		}
	}

	setString("indexer-ws-url", "ORDERSYNC_INDEXER_WS_URL", &cfg.IndexerWSURL)
	setString("signer-url", "ORDERSYNC_SIGNER_URL", &cfg.SignerURL)
	setString("network", "ORDERSYNC_NETWORK", &cfg.Network)
	setString("wallet", "ORDERSYNC_WALLET", &cfg.Wallet)
	setString("subaccount", "ORDERSYNC_SUBACCOUNT", &cfg.Subaccount)

	setString("storage-path", "ORDERSYNC_STORAGE_PATH", &cfg.StoragePath)
	setInt("order-workers", "ORDERSYNC_ORDER_WORKERS", &cfg.OrderWorkers)
	setDuration("placement-timeout", "ORDERSYNC_PLACEMENT_TIMEOUT", &cfg.PlacementTimeout)
	setBool("strict-reconcile", "ORDERSYNC_STRICT_RECONCILE", &cfg.StrictReconcile)
	setString("http-listen", "ORDERSYNC_HTTP_LISTEN", &cfg.HTTPListen)
	setString("log-level", "ORDERSYNC_LOG_LEVEL", &cfg.LogLevel)
	setBool("log-json", "ORDERSYNC_LOG_JSON", &cfg.LogFormatJSON)

	if _, ok := flagSet["log-components"]; !ok {
		if v, ok := os.LookupEnv("ORDERSYNC_LOG_COMPONENTS"); ok {
			cfg.LogComponents = strings.Split(v, ",")
		}
	}

	if cfg.Subaccount == "" {
		// The indexer keys subaccount streams by wallet/0 by default.
		cfg.Subaccount = cfg.Wallet + "/0"
	}
	return nil
}

func ValidateConfig(cfg AppConfig) error {
	var missing []string
	if cfg.IndexerWSURL == "" {
		missing = append(missing, "indexer-ws-url")
	}
	if cfg.SignerURL == "" {
		missing = append(missing, "signer-url")
	}
	if cfg.Network == "" {
		missing = append(missing, "network")
	}
	if strings.TrimSpace(cfg.Wallet) == "" {
		missing = append(missing, "wallet")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	if cfg.OrderWorkers <= 0 {
		return fmt.Errorf("order-workers must be positive, got %d", cfg.OrderWorkers)
	}
	return nil
}

func GetLogHandler(cfg AppConfig) slog.Handler {
	var level slog.Level
	if cfg.LogLevel == "" {
		level = slog.LevelInfo
	} else if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
		log.Printf("unknown log level %q, defaulting to info", cfg.LogLevel)
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}

	return olog.FilterComponents(handler, cfg.LogComponents)
}
