// Package config assembles the daemon configuration from defaults, an
// optional TOML file, environment variables and CLI flags, in that order of
// precedence (lowest first).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/Kampouse/kvindexer/internal/db"
	"github.com/Kampouse/kvindexer/internal/ingest"
)

type Config struct {
	ConfigPath string
	Strict     bool

	Endpoint      string
	AdminEndpoint string

	LogLevel  logrus.Level
	LogFormat LogFormat

	RedisURL string
	ChainID  string

	Suffix             string
	Consumer           string
	IngestStartHeight  uint64
	IngestRangeSize    uint64
	IngestPollInterval time.Duration
	OrderIDEncoding    ingest.OrderIDEncoding

	StoreHosts             []string
	StorePort              int
	StoreUsername          string
	StorePassword          string
	StoreReplicationFactor int
	StoreBootstrap         bool
	StoreTimeout           time.Duration
	StoreConnectTimeout    time.Duration
	StorePageSize          int

	TableKv          string
	TableKvHistory   string
	TableKvByBlock   string
	TableKvReverse   string
	TableKvAccounts  string
	TableAllAccounts string
	TableKvEdges     string
	TableMeta        string
	ViewKey          string
	ViewCurKey       string

	// The option table binds flags by pointer, so it is built once and
	// cached.
	optionsCache *Options

	flagset *pflag.FlagSet
}

// Keyspace returns the store keyspace for the configured chain. The chain id
// is checked during Validate, after which this cannot fail.
func (cfg *Config) Keyspace() string {
	keyspace, err := db.KeyspaceName(cfg.ChainID)
	if err != nil {
		return ""
	}
	return keyspace
}

// Tables returns the configured table layout.
func (cfg *Config) Tables() db.TableNames {
	return db.TableNames{
		Kv:          cfg.TableKv,
		KvHistory:   cfg.TableKvHistory,
		KvByBlock:   cfg.TableKvByBlock,
		KvReverse:   cfg.TableKvReverse,
		KvAccounts:  cfg.TableKvAccounts,
		AllAccounts: cfg.TableAllAccounts,
		KvEdges:     cfg.TableKvEdges,
		Meta:        cfg.TableMeta,
		ViewKey:     cfg.ViewKey,
		ViewCurKey:  cfg.ViewCurKey,
	}
}

// SetValues merges every configuration source into the struct. lookupEnv is
// os.LookupEnv outside of tests.
func (cfg *Config) SetValues(lookupEnv func(string) (string, bool)) error {
	// Defaults first, then env and flags so that a --config-path given
	// either way is visible before the file is read.
	if err := cfg.loadDefaults(); err != nil {
		return err
	}
	if err := cfg.loadEnv(lookupEnv); err != nil {
		return err
	}
	if err := cfg.loadFlags(); err != nil {
		return err
	}

	if cfg.ConfigPath != "" {
		if err := cfg.loadConfigPath(); err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}
		// Re-apply env and flags on top of the file values.
		if err := cfg.loadEnv(lookupEnv); err != nil {
			return err
		}
		if err := cfg.loadFlags(); err != nil {
			return err
		}
	}

	return nil
}

func (cfg *Config) loadDefaults() error {
	for _, option := range cfg.options() {
		if option.DefaultValue == nil {
			continue
		}
		if err := option.setValue(option.DefaultValue); err != nil {
			return err
		}
	}
	return nil
}

func (cfg *Config) loadEnv(lookupEnv func(string) (string, bool)) error {
	for _, option := range cfg.options() {
		key, ok := option.getEnvKey()
		if !ok {
			continue
		}
		value, ok := lookupEnv(key)
		if !ok {
			continue
		}
		if err := option.setValue(value); err != nil {
			return err
		}
	}
	return nil
}

func (cfg *Config) loadFlags() error {
	if cfg.flagset == nil {
		return nil
	}
	for _, option := range cfg.options() {
		if option.flag == nil || !option.flag.Changed {
			continue
		}
		value, err := option.GetFlag(cfg.flagset)
		if err != nil {
			return err
		}
		if err := option.setValue(value); err != nil {
			return err
		}
	}
	return nil
}

func (cfg *Config) loadConfigPath() error {
	file, err := os.Open(cfg.ConfigPath)
	if err != nil {
		return err
	}
	defer file.Close()
	return parseToml(file, cfg.Strict, cfg)
}

// Validate runs after SetValues has merged every source.
func (cfg *Config) Validate() error {
	if err := cfg.options().Validate(); err != nil {
		return err
	}
	return cfg.Tables().Validate()
}

type Options []*Option

// Validate runs the per-option validators over the merged values.
func (options Options) Validate() error {
	for _, option := range options {
		if option.Validate == nil {
			continue
		}
		if err := option.Validate(option); err != nil {
			return fmt.Errorf("invalid config value for %s: %w", option.Name, err)
		}
	}
	return nil
}

func (cfg *Config) options() Options {
	if cfg.optionsCache != nil {
		return *cfg.optionsCache
	}
	tableDefaults := db.DefaultTableNames()
	cfg.optionsCache = &Options{
		{
			Name:      "config-path",
			EnvVar:    "KVINDEXER_CONFIG_PATH",
			TomlKey:   "-",
			Usage:     "File path to the TOML configuration file",
			ConfigKey: &cfg.ConfigPath,
		},
		{
			Name:         "strict",
			Usage:        "Reject unknown TOML keys in the configuration file",
			ConfigKey:    &cfg.Strict,
			DefaultValue: false,
		},
		{
			Name:         "endpoint",
			Usage:        "Endpoint to listen and serve HTTP requests on",
			ConfigKey:    &cfg.Endpoint,
			DefaultValue: "0.0.0.0:3001",
		},
		{
			Name:         "admin-endpoint",
			Usage:        "Admin endpoint serving /metrics and pprof, disabled when empty",
			ConfigKey:    &cfg.AdminEndpoint,
			DefaultValue: "",
		},
		{
			Name:         "log-level",
			Usage:        "Minimum log severity (debug, info, warn, error) to log",
			ConfigKey:    &cfg.LogLevel,
			DefaultValue: logrus.InfoLevel,
			CustomSetValue: func(option *Option, i interface{}) error {
				switch v := i.(type) {
				case nil:
					return nil
				case string:
					ll, err := logrus.ParseLevel(v)
					if err != nil {
						return fmt.Errorf("could not parse %s: %q", option.Name, v)
					}
					cfg.LogLevel = ll
				case logrus.Level:
					cfg.LogLevel = v
				default:
					return fmt.Errorf("could not parse %s: %v", option.Name, i)
				}
				return nil
			},
		},
		{
			Name:         "log-format",
			Usage:        "Format used for output logs (text or json)",
			ConfigKey:    &cfg.LogFormat,
			DefaultValue: LogFormatText,
			CustomSetValue: func(option *Option, i interface{}) error {
				switch v := i.(type) {
				case nil:
					return nil
				case string:
					format, err := ParseLogFormat(v)
					if err != nil {
						return fmt.Errorf("could not parse %s: %w", option.Name, err)
					}
					cfg.LogFormat = format
				case LogFormat:
					cfg.LogFormat = v
				default:
					return fmt.Errorf("could not parse %s: %v", option.Name, i)
				}
				return nil
			},
		},
		{
			Name:      "redis-url",
			Usage:     "URL of the Redis instance holding the block data stream",
			ConfigKey: &cfg.RedisURL,
			Validate:  required,
		},
		{
			Name:         "chain-id",
			Usage:        "Chain identifier, names the store keyspace",
			ConfigKey:    &cfg.ChainID,
			DefaultValue: "mainnet",
			Validate: func(option *Option) error {
				keyspace, err := db.KeyspaceName(cfg.ChainID)
				if err != nil {
					return err
				}
				if len(keyspace) > 48 {
					return fmt.Errorf("%s is too long: keyspace names are capped at 48 characters", option.Name)
				}
				return nil
			},
		},
		{
			Name:         "suffix",
			Usage:        "Stream suffix this indexer consumes",
			ConfigKey:    &cfg.Suffix,
			DefaultValue: "kv",
		},
		{
			Name:         "consumer",
			Usage:        "Consumer name recorded in the writer checkpoint",
			ConfigKey:    &cfg.Consumer,
			DefaultValue: "kv-1",
		},
		{
			Name:         "ingest-start-height",
			Usage:        "Block height to start ingesting from when no checkpoint exists",
			ConfigKey:    &cfg.IngestStartHeight,
			DefaultValue: uint64(0),
		},
		{
			Name:         "ingest-range-size",
			Usage:        "Number of blocks fetched per upstream scan",
			ConfigKey:    &cfg.IngestRangeSize,
			DefaultValue: uint64(100),
			Validate:     positive,
		},
		{
			Name:         "ingest-poll-interval",
			Usage:        "How long to wait before re-polling an exhausted upstream",
			ConfigKey:    &cfg.IngestPollInterval,
			DefaultValue: 500 * time.Millisecond,
			Validate:     positive,
		},
		{
			Name:         "order-id-encoding",
			Usage:        "Order id layout used by the producer (decimal or bitpacked)",
			ConfigKey:    &cfg.OrderIDEncoding,
			DefaultValue: ingest.OrderIDDecimal,
			CustomSetValue: func(option *Option, i interface{}) error {
				switch v := i.(type) {
				case nil:
					return nil
				case string:
					encoding, err := ingest.ParseOrderIDEncoding(v)
					if err != nil {
						return fmt.Errorf("could not parse %s: %w", option.Name, err)
					}
					cfg.OrderIDEncoding = encoding
				case ingest.OrderIDEncoding:
					cfg.OrderIDEncoding = v
				default:
					return fmt.Errorf("could not parse %s: %v", option.Name, i)
				}
				return nil
			},
		},
		{
			Name:      "store-hosts",
			Usage:     "Comma-separated contact points of the wide-column store",
			ConfigKey: &cfg.StoreHosts,
			Validate:  required,
		},
		{
			Name:         "store-port",
			Usage:        "CQL port of the store, 0 uses the driver default",
			ConfigKey:    &cfg.StorePort,
			DefaultValue: 0,
		},
		{
			Name:         "store-username",
			Usage:        "Store username, empty disables authentication",
			ConfigKey:    &cfg.StoreUsername,
			DefaultValue: "",
		},
		{
			Name:         "store-password",
			Usage:        "Store password",
			ConfigKey:    &cfg.StorePassword,
			DefaultValue: "",
		},
		{
			Name:         "store-replication-factor",
			Usage:        "Replication factor used when bootstrapping the keyspace",
			ConfigKey:    &cfg.StoreReplicationFactor,
			DefaultValue: 1,
			Validate:     positive,
		},
		{
			Name:         "store-bootstrap",
			Usage:        "Create the keyspace and tables on startup when missing",
			ConfigKey:    &cfg.StoreBootstrap,
			DefaultValue: true,
		},
		{
			Name:         "store-timeout",
			Usage:        "Store query timeout, 0 uses the driver default",
			ConfigKey:    &cfg.StoreTimeout,
			DefaultValue: 10 * time.Second,
		},
		{
			Name:         "store-connect-timeout",
			Usage:        "Store connection timeout, 0 uses the driver default",
			ConfigKey:    &cfg.StoreConnectTimeout,
			DefaultValue: 5 * time.Second,
		},
		{
			Name:         "store-page-size",
			Usage:        "Rows fetched per store page, 0 uses the driver default",
			ConfigKey:    &cfg.StorePageSize,
			DefaultValue: 5000,
		},
		{
			Name:         "table-kv",
			Usage:        "Name of the current key-value projection table",
			ConfigKey:    &cfg.TableKv,
			DefaultValue: tableDefaults.Kv,
		},
		{
			Name:         "table-kv-history",
			Usage:        "Name of the full key-value history table",
			ConfigKey:    &cfg.TableKvHistory,
			DefaultValue: tableDefaults.KvHistory,
		},
		{
			Name:         "table-kv-block",
			Usage:        "Name of the per-pair timeline table",
			ConfigKey:    &cfg.TableKvByBlock,
			DefaultValue: tableDefaults.KvByBlock,
		},
		{
			Name:         "table-kv-reverse",
			Usage:        "Name of the current writers table",
			ConfigKey:    &cfg.TableKvReverse,
			DefaultValue: tableDefaults.KvReverse,
		},
		{
			Name:         "table-accounts",
			Usage:        "Name of the per-pair account discovery table",
			ConfigKey:    &cfg.TableKvAccounts,
			DefaultValue: tableDefaults.KvAccounts,
		},
		{
			Name:         "table-all-accounts",
			Usage:        "Name of the global account discovery table",
			ConfigKey:    &cfg.TableAllAccounts,
			DefaultValue: tableDefaults.AllAccounts,
		},
		{
			Name:         "table-edges",
			Usage:        "Name of the graph edges table",
			ConfigKey:    &cfg.TableKvEdges,
			DefaultValue: tableDefaults.KvEdges,
		},
		{
			Name:         "table-meta",
			Usage:        "Name of the writer checkpoint table",
			ConfigKey:    &cfg.TableMeta,
			DefaultValue: tableDefaults.Meta,
		},
		{
			Name:         "view-key",
			Usage:        "Name of the global timeline materialized view",
			ConfigKey:    &cfg.ViewKey,
			DefaultValue: tableDefaults.ViewKey,
		},
		{
			Name:         "view-cur-key",
			Usage:        "Name of the per-contract key materialized view",
			ConfigKey:    &cfg.ViewCurKey,
			DefaultValue: tableDefaults.ViewCurKey,
		},
	}
	return *cfg.optionsCache
}
