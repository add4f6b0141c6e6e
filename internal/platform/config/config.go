// Package config loads gate configuration: built-in defaults, an optional
// TOML file named by QGATE_CONFIG, then QGATE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration lets TOML files spell durations as strings ("300s", "1m").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string   `toml:"addr"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	LogLevel        string   `toml:"log_level"`
	LogFormat       string   `toml:"log_format"`
}

// Ledger selects and tunes the ledger backend. Backend "memory" runs the
// in-process ledger with the contract settler; "kafka" reads history from
// the Postgres indexer and submits through Kafka.
type Ledger struct {
	Backend        string   `toml:"backend"`
	Account        string   `toml:"account"`
	CallTimeout    Duration `toml:"call_timeout"`
	RetryAttempts  int      `toml:"retry_attempts"`
	RetryInitial   Duration `toml:"retry_initial"`
	RetryMax       Duration `toml:"retry_max"`
	BreakerFailure int      `toml:"breaker_failures"`
	BreakerCool    Duration `toml:"breaker_cooldown"`
}

type Provenance struct {
	Exchanges  []string `toml:"exchanges"`
	Markers    []string `toml:"markers"`
	Window     int      `toml:"window"`
	HistoryQPS float64  `toml:"history_qps"`
	Burst      int      `toml:"history_burst"`
}

type Consensus struct {
	BatchSize   int     `toml:"batch_size"`
	Probability float64 `toml:"probability"`
	Threshold   float64 `toml:"threshold"`
}

type Readiness struct {
	Interval  Duration `toml:"interval"`
	Window    int      `toml:"window"`
	Threshold int      `toml:"threshold"`
	Timeout   Duration `toml:"timeout"`
}

// TransferPair is one (asset, destination) the periodic driver enforces.
type TransferPair struct {
	AssetID     string `toml:"asset_id"`
	Destination string `toml:"destination"`
}

type Transfer struct {
	Fee            int64          `toml:"fee"`
	DriverInterval Duration       `toml:"driver_interval"`
	Pairs          []TransferPair `toml:"pairs"`
}

type Listener struct {
	Enabled      bool     `toml:"enabled"`
	Workers      int      `toml:"workers"`
	RestartDelay Duration `toml:"restart_delay"`
	RestartMax   Duration `toml:"restart_max"`
}

// Redis configures the rejection cache. An empty URL keeps the cache in
// memory.
type Redis struct {
	URL          string   `toml:"url"`
	PoolSize     int      `toml:"pool_size"`
	MinIdleConns int      `toml:"min_idle_conns"`
	DialTimeout  Duration `toml:"dial_timeout"`
	ReadTimeout  Duration `toml:"read_timeout"`
	WriteTimeout Duration `toml:"write_timeout"`
}

// Postgres configures migration records and the audit trail. Required by
// the kafka ledger backend, where it also backs the history indexer.
type Postgres struct {
	DSN string `toml:"dsn"`
}

type Kafka struct {
	Brokers           []string `toml:"brokers"`
	TransactionsTopic string   `toml:"transactions_topic"`
	SubmissionsTopic  string   `toml:"submissions_topic"`
	EnvelopesTopic    string   `toml:"envelopes_topic"`
}

// Auth configures operator tokens for the mutating ops endpoints.
type Auth struct {
	SigningKey string   `toml:"signing_key"`
	Issuer     string   `toml:"issuer"`
	Audience   string   `toml:"audience"`
	Roles      []string `toml:"roles"`
}

// Audit tunes the audit trail. Operations events are kept with
// probability OpsSampleRate; compliance and security events always are.
type Audit struct {
	Buffer        int     `toml:"buffer"`
	OpsSampleRate float64 `toml:"ops_sample_rate"`
}

type Config struct {
	Server     Server     `toml:"server"`
	Ledger     Ledger     `toml:"ledger"`
	Provenance Provenance `toml:"provenance"`
	Consensus  Consensus  `toml:"consensus"`
	Readiness  Readiness  `toml:"readiness"`
	Transfer   Transfer   `toml:"transfer"`
	Listener   Listener   `toml:"listener"`
	Redis      Redis      `toml:"redis"`
	Postgres   Postgres   `toml:"postgres"`
	Kafka      Kafka      `toml:"kafka"`
	Auth       Auth       `toml:"auth"`
	Audit      Audit      `toml:"audit"`
}

const (
	BackendMemory = "memory"
	BackendKafka  = "kafka"

	devSigningKey = "dev-secret-key-change-in-production"
)

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			ShutdownTimeout: Duration{10 * time.Second},
			LogLevel:        "info",
			LogFormat:       "json",
		},
		Ledger: Ledger{
			Backend:        BackendMemory,
			Account:        "qgate",
			CallTimeout:    Duration{10 * time.Second},
			RetryAttempts:  3,
			RetryInitial:   Duration{200 * time.Millisecond},
			RetryMax:       Duration{5 * time.Second},
			BreakerFailure: 5,
			BreakerCool:    Duration{30 * time.Second},
		},
		Provenance: Provenance{
			Exchanges:  []string{"exchange_wallet_1", "exchange_wallet_2", "third_party_1"},
			Markers:    []string{"exchange", "defi", "pow_blockchain", "altcoin", "erc20_token"},
			Window:     50,
			HistoryQPS: 20,
			Burst:      5,
		},
		Consensus: Consensus{
			BatchSize:   10,
			Probability: 0.75,
			Threshold:   0.75,
		},
		Readiness: Readiness{
			Interval:  Duration{300 * time.Second},
			Window:    1000,
			Threshold: 1000,
			Timeout:   Duration{30 * time.Second},
		},
		Transfer: Transfer{
			Fee:            100,
			DriverInterval: Duration{60 * time.Second},
		},
		Listener: Listener{
			Enabled:      true,
			Workers:      4,
			RestartDelay: Duration{time.Second},
			RestartMax:   Duration{time.Minute},
		},
		Redis: Redis{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  Duration{5 * time.Second},
			ReadTimeout:  Duration{3 * time.Second},
			WriteTimeout: Duration{3 * time.Second},
		},
		Kafka: Kafka{
			TransactionsTopic: "ledger.transactions",
			SubmissionsTopic:  "ledger.submissions",
			EnvelopesTopic:    "gate.envelopes",
		},
		Auth: Auth{
			SigningKey: devSigningKey,
			Issuer:     "qgate",
			Audience:   "qgate-ops",
			Roles:      []string{"operator"},
		},
		Audit: Audit{
			Buffer:        1024,
			OpsSampleRate: 1,
		},
	}
}

// Load builds the configuration from defaults, the file named by
// QGATE_CONFIG and the environment, then validates it.
func Load() (Config, error) {
	return load(os.Getenv("QGATE_CONFIG"), os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config file %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = splitList(v)
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			dst.Duration = d
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("QGATE_ADDR", &cfg.Server.Addr)
	str("QGATE_LOG_LEVEL", &cfg.Server.LogLevel)
	str("QGATE_LOG_FORMAT", &cfg.Server.LogFormat)
	dur("QGATE_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	str("QGATE_LEDGER_BACKEND", &cfg.Ledger.Backend)
	str("QGATE_LEDGER_ACCOUNT", &cfg.Ledger.Account)
	dur("QGATE_LEDGER_TIMEOUT", &cfg.Ledger.CallTimeout)
	num("QGATE_LEDGER_RETRIES", &cfg.Ledger.RetryAttempts)

	list("QGATE_EXCHANGES", &cfg.Provenance.Exchanges)
	list("QGATE_MARKERS", &cfg.Provenance.Markers)
	num("QGATE_PROVENANCE_WINDOW", &cfg.Provenance.Window)

	dur("QGATE_READINESS_INTERVAL", &cfg.Readiness.Interval)
	num("QGATE_READINESS_WINDOW", &cfg.Readiness.Window)
	num("QGATE_READINESS_THRESHOLD", &cfg.Readiness.Threshold)

	dur("QGATE_DRIVER_INTERVAL", &cfg.Transfer.DriverInterval)

	flag("QGATE_LISTENER_ENABLED", &cfg.Listener.Enabled)
	num("QGATE_LISTENER_WORKERS", &cfg.Listener.Workers)

	str("QGATE_REDIS_URL", &cfg.Redis.URL)
	str("QGATE_POSTGRES_DSN", &cfg.Postgres.DSN)
	list("QGATE_KAFKA_BROKERS", &cfg.Kafka.Brokers)

	str("QGATE_JWT_SIGNING_KEY", &cfg.Auth.SigningKey)
	list("QGATE_OPERATOR_ROLES", &cfg.Auth.Roles)

	if v, ok := lookup("QGATE_AUDIT_OPS_SAMPLE_RATE"); ok && v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("QGATE_AUDIT_OPS_SAMPLE_RATE: %w", err))
		} else {
			cfg.Audit.OpsSampleRate = rate
		}
	}

	return errors.Join(errs...)
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate rejects configurations the gate cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	switch c.Ledger.Backend {
	case BackendMemory:
	case BackendKafka:
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka.brokers is required for the kafka ledger backend"))
		}
		if c.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres.dsn is required for the kafka ledger backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ledger backend %q", c.Ledger.Backend))
	}
	if c.Ledger.Account == "" {
		errs = append(errs, errors.New("ledger.account is required"))
	}
	if c.Consensus.BatchSize <= 0 {
		errs = append(errs, errors.New("consensus.batch_size must be positive"))
	}
	if c.Consensus.Probability < 0 || c.Consensus.Probability > 1 {
		errs = append(errs, errors.New("consensus.probability must be within [0, 1]"))
	}
	if c.Consensus.Threshold < 0 || c.Consensus.Threshold > 1 {
		errs = append(errs, errors.New("consensus.threshold must be within [0, 1]"))
	}
	if c.Readiness.Interval.Duration <= 0 {
		errs = append(errs, errors.New("readiness.interval must be positive"))
	}
	// The monitor counts at most window records, so a larger threshold
	// could never be met.
	if c.Readiness.Window > 0 && c.Readiness.Threshold > c.Readiness.Window {
		errs = append(errs, fmt.Errorf("readiness.threshold %d exceeds readiness.window %d",
			c.Readiness.Threshold, c.Readiness.Window))
	}
	if c.Listener.Workers <= 0 {
		errs = append(errs, errors.New("listener.workers must be positive"))
	}
	for i, p := range c.Transfer.Pairs {
		if p.AssetID == "" || p.Destination == "" {
			errs = append(errs, fmt.Errorf("transfer.pairs[%d] needs asset_id and destination", i))
		}
	}
	if c.Audit.OpsSampleRate < 0 || c.Audit.OpsSampleRate > 1 {
		errs = append(errs, errors.New("audit.ops_sample_rate must be within [0, 1]"))
	}
	if c.Auth.SigningKey == "" {
		errs = append(errs, errors.New("auth.signing_key is required"))
	}
	return errors.Join(errs...)
}

// DevSigningKey reports whether the built-in development key is in use.
func (c Config) DevSigningKey() bool {
	return c.Auth.SigningKey == devSigningKey
}
