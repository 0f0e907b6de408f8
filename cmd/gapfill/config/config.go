// Package config provides configuration parsing for the gapfill command.
//
// Every setting is a flag with an environment variable fallback; flags take
// precedence over the environment. An optional YAML file (--config-file)
// sits below both: its keys are flag names and it only fills settings that
// neither a flag nor the environment provided.
//
// Supported configuration sources (in order of precedence):
//  1. Command-line flags
//  2. Environment variables
//  3. YAML config file
//  4. Default values
//
// Data source settings are passed through to the adapter as a generic map,
// from ADAPTER_* environment variables (ADAPTER_QUERY → query) and from the
// "adapter-config" section of the YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/HatiCode/gapfill/pkg/anneal"
	"github.com/HatiCode/gapfill/pkg/errs"
	"github.com/HatiCode/gapfill/pkg/prior"
	"github.com/HatiCode/gapfill/pkg/qubo"
	"github.com/HatiCode/gapfill/pkg/tls"
)

// Config holds all gapfill configuration.
type Config struct {
	ConfigFile string

	Listen     string
	GRPCListen string
	LogFormat  string
	LogLevel   string
	TLS        tls.Config

	Storage       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ResultTTL     time.Duration
	PostgresDSN   string

	Adapter       string
	AdapterConfig map[string]string
	Output        string
	Start         string
	End           string
	Job           string
	Step          time.Duration

	Window  time.Duration
	Damping float64

	PenaltyDeviation  float64
	PenaltyBoundary   float64
	PenaltySmoothness float64
	PenaltyRangeHigh  float64
	PenaltyRangeLow   float64
	PenaltyOneHot     float64
	Terms             string

	Solver         string
	Fallback       string
	Sweeps         int
	Reads          int
	Patience       int
	TStart         float64
	TEnd           float64
	SolverTimeout  time.Duration
	Init           string
	SamplerURL     string
	SamplerReads   int
	SamplerTimeout time.Duration

	Workers      int
	MaxVariables int
	Seed         uint64

	CacheSize int
	RateLimit float64
	RateBurst int

	OTLPEndpoint  string
	OTLPInsecure  bool
	TraceSampling float64

	// env maps flag names to their environment variables.
	env map[string]string
}

// Bind registers every setting on fs, with environment fallbacks as
// defaults, and returns the Config the flags write into.
func Bind(fs *pflag.FlagSet) *Config {
	cfg := &Config{env: make(map[string]string)}
	b := binder{fs: fs, env: cfg.env}

	fs.StringVar(&cfg.ConfigFile, "config-file", getEnv("CONFIG_FILE", ""), "YAML config file (keys are flag names)")

	b.str(&cfg.Listen, "listen", "LISTEN", ":8082", "HTTP listen address (serve)")
	b.str(&cfg.GRPCListen, "grpc-listen", "GRPC_LISTEN", "", "gRPC health listen address (serve, empty disables)")
	b.str(&cfg.LogFormat, "log-format", "LOG_FORMAT", "text", "Log format: text or json")
	b.str(&cfg.LogLevel, "log-level", "LOG_LEVEL", "info", "Log level: debug, info, warn, error")
	b.boolean(&cfg.TLS.Enabled, "tls-enabled", "TLS_ENABLED", false, "Enable TLS for the HTTP server and outbound clients")
	b.str(&cfg.TLS.CertFile, "tls-cert-file", "TLS_CERT_FILE", "", "TLS certificate file")
	b.str(&cfg.TLS.KeyFile, "tls-key-file", "TLS_KEY_FILE", "", "TLS private key file")
	b.str(&cfg.TLS.CAFile, "tls-ca-file", "TLS_CA_FILE", "", "TLS CA file (enables mutual TLS)")

	b.str(&cfg.Storage, "storage", "STORAGE", "memory", "Result storage: none, memory, redis or postgres")
	b.str(&cfg.RedisAddr, "redis-addr", "REDIS_ADDR", "localhost:6379", "Redis server address")
	b.str(&cfg.RedisPassword, "redis-password", "REDIS_PASSWORD", "", "Redis password")
	b.integer(&cfg.RedisDB, "redis-db", "REDIS_DB", 0, "Redis database number")
	b.duration(&cfg.ResultTTL, "result-ttl", "RESULT_TTL", 30*time.Minute, "Result TTL for memory and redis storage")
	b.str(&cfg.PostgresDSN, "postgres-dsn", "POSTGRES_DSN", "", "Postgres connection string")

	b.str(&cfg.Adapter, "adapter", "ADAPTER", "csv", "Data source: csv, prometheus, victoriametrics or http")
	b.str(&cfg.Output, "output", "OUTPUT", "", "CSV file for the filled series (fill, default stdout)")
	b.str(&cfg.Start, "start", "GAP_START", "", "Gap start date, RFC3339 (fill)")
	b.str(&cfg.End, "end", "GAP_END", "", "Gap end date, RFC3339 (fill)")
	b.str(&cfg.Job, "job", "JOB", "", "Job name the result is stored under (fill)")
	b.duration(&cfg.Step, "step", "STEP", time.Minute, "Query resolution for resampling data sources")

	b.duration(&cfg.Window, "window", "WINDOW", prior.DefaultWindow, "History window on each side of the gap")
	b.float(&cfg.Damping, "damping", "DAMPING", prior.DefaultDamping, "Noise damping factor")

	def := qubo.DefaultPenalties()
	b.float(&cfg.PenaltyDeviation, "penalty-deviation", "PENALTY_DEVIATION", def.Deviation, "Deviation weight")
	b.float(&cfg.PenaltyBoundary, "penalty-boundary", "PENALTY_BOUNDARY", def.Boundary, "Boundary weight")
	b.float(&cfg.PenaltySmoothness, "penalty-smoothness", "PENALTY_SMOOTHNESS", def.Smoothness, "Smoothness weight")
	b.float(&cfg.PenaltyRangeHigh, "penalty-range-high", "PENALTY_RANGE_HIGH", def.RangeHigh, "Weight above the historical max")
	b.float(&cfg.PenaltyRangeLow, "penalty-range-low", "PENALTY_RANGE_LOW", def.RangeLow, "Weight below the historical min")
	b.float(&cfg.PenaltyOneHot, "penalty-one-hot", "PENALTY_ONE_HOT", def.OneHot, "One-hot constraint strength")
	b.str(&cfg.Terms, "terms", "TERMS", "all", "Energy families, e.g. deviation,range,boundary,smoothness,one_hot")

	b.str(&cfg.Solver, "solver", "SOLVER", "anneal", "Solver: anneal or sampler")
	b.str(&cfg.Fallback, "fallback", "FALLBACK", "", "Fallback solver when the primary fails: anneal or empty")
	b.integer(&cfg.Sweeps, "sweeps", "SWEEPS", anneal.DefaultSweeps, "Annealing sweeps per read")
	b.integer(&cfg.Reads, "reads", "READS", 1, "Annealing reads")
	b.integer(&cfg.Patience, "patience", "PATIENCE", 0, "Sweeps without improvement before stopping (0 disables)")
	b.float(&cfg.TStart, "t-start", "T_START", 0, "Start temperature (0 derives it from the model)")
	b.float(&cfg.TEnd, "t-end", "T_END", 0, "End temperature (0 derives it from the model)")
	b.duration(&cfg.SolverTimeout, "solver-timeout", "SOLVER_TIMEOUT", 0, "Wall-clock cap per solve (0 disables)")
	b.str(&cfg.Init, "init", "INIT", "random", "Initial state: random or greedy")
	b.str(&cfg.SamplerURL, "sampler-url", "SAMPLER_URL", "", "External sampler base URL (solver=sampler)")
	b.integer(&cfg.SamplerReads, "sampler-reads", "SAMPLER_READS", anneal.DefaultNumReads, "Reads requested from the external sampler")
	b.duration(&cfg.SamplerTimeout, "sampler-timeout", "SAMPLER_TIMEOUT", time.Minute, "External sampler request timeout")

	b.integer(&cfg.Workers, "workers", "WORKERS", 0, "Channels solved at once (0 uses GOMAXPROCS)")
	b.integer(&cfg.MaxVariables, "max-variables", "MAX_VARIABLES", 0, "Reject channels with larger models (0 disables)")
	b.uint64(&cfg.Seed, "seed", "SEED", 0, "Run seed")

	b.integer(&cfg.CacheSize, "cache-size", "CACHE_SIZE", 128, "Cached fill responses (serve)")
	b.float(&cfg.RateLimit, "rate-limit", "RATE_LIMIT", 2, "Fill requests per second (serve, 0 disables)")
	b.integer(&cfg.RateBurst, "rate-burst", "RATE_BURST", 4, "Fill request burst (serve)")

	b.str(&cfg.OTLPEndpoint, "otlp-endpoint", "OTLP_ENDPOINT", "", "OTLP gRPC collector address (empty disables tracing)")
	b.boolean(&cfg.OTLPInsecure, "otlp-insecure", "OTLP_INSECURE", false, "Disable TLS to the collector")
	b.float(&cfg.TraceSampling, "trace-sampling", "TRACE_SAMPLING", 1.0, "Fraction of traces kept")

	cfg.AdapterConfig = parseAdapterConfig(os.Environ())
	return cfg
}

// fileConfig is the YAML layout: flag names at the top level plus the
// adapter settings.
type fileConfig struct {
	Settings      map[string]any    `yaml:",inline"`
	AdapterConfig map[string]string `yaml:"adapter-config"`
}

// LoadFile applies the YAML file named by --config-file to every flag that
// was neither set on the command line nor through its environment variable.
// Without a config file it does nothing.
func (c *Config) LoadFile(fs *pflag.FlagSet) error {
	if c.ConfigFile == "" {
		return nil
	}
	data, err := os.ReadFile(c.ConfigFile)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	return c.apply(fs, data)
}

func (c *Config) apply(fs *pflag.FlagSet, data []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	for name, raw := range fc.Settings {
		f := fs.Lookup(name)
		if f == nil || name == "config-file" {
			return fmt.Errorf("config file: unknown setting %q", name)
		}
		if f.Changed {
			continue
		}
		if env := c.env[name]; env != "" && os.Getenv(env) != "" {
			continue
		}
		if err := fs.Set(name, fmt.Sprint(raw)); err != nil {
			return fmt.Errorf("config file: %s: %w", name, err)
		}
		// Set marks the flag as changed; a file value is not a flag.
		f.Changed = false
	}

	for k, v := range fc.AdapterConfig {
		if _, ok := c.AdapterConfig[k]; !ok {
			c.AdapterConfig[k] = v
		}
	}
	return nil
}

// Validate checks the settings a Filler and the chosen backends need.
func (c *Config) Validate() error {
	switch c.Solver {
	case "anneal":
	case "sampler":
		if c.SamplerURL == "" {
			return errs.Config("config", "sampler-url is required when solver=sampler")
		}
	default:
		return errs.Config("config", "invalid solver %q (must be anneal or sampler)", c.Solver)
	}
	if c.Fallback != "" && c.Fallback != "anneal" {
		return errs.Config("config", "invalid fallback %q (must be anneal or empty)", c.Fallback)
	}
	if _, err := anneal.ParseInit(c.Init); err != nil {
		return err
	}
	if _, err := qubo.ParseTerms(c.Terms); err != nil {
		return err
	}
	if c.Sweeps < 1 {
		return errs.Config("config", "sweeps must be >= 1, got %d", c.Sweeps)
	}
	if c.Reads < 1 || c.SamplerReads < 1 {
		return errs.Config("config", "reads must be >= 1")
	}
	if c.Workers < 0 {
		return errs.Config("config", "workers must be >= 0, got %d", c.Workers)
	}
	if c.Window <= 0 {
		return errs.Config("config", "window must be > 0")
	}
	if err := c.Penalties().Validate(); err != nil {
		return err
	}

	switch c.Storage {
	case "none", "memory", "redis":
	case "postgres":
		if c.PostgresDSN == "" {
			return errs.Config("config", "postgres-dsn is required when storage=postgres")
		}
	default:
		return errs.Config("config", "invalid storage %q (must be none, memory, redis or postgres)", c.Storage)
	}

	if c.TraceSampling < 0 || c.TraceSampling > 1 {
		return errs.Config("config", "trace-sampling must be within [0, 1], got %v", c.TraceSampling)
	}
	if c.RateLimit < 0 {
		return errs.Config("config", "rate-limit must be >= 0")
	}
	return c.TLS.Validate()
}

// Penalties returns the configured penalty weights.
func (c *Config) Penalties() qubo.Penalties {
	return qubo.Penalties{
		Deviation:  c.PenaltyDeviation,
		Boundary:   c.PenaltyBoundary,
		Smoothness: c.PenaltySmoothness,
		RangeHigh:  c.PenaltyRangeHigh,
		RangeLow:   c.PenaltyRangeLow,
		OneHot:     c.PenaltyOneHot,
	}
}

// GapDates parses --start and --end.
func (c *Config) GapDates() (time.Time, time.Time, error) {
	if c.Start == "" || c.End == "" {
		return time.Time{}, time.Time{}, errs.Config("config", "start and end are required")
	}
	start, err := time.Parse(time.RFC3339, c.Start)
	if err != nil {
		return time.Time{}, time.Time{}, errs.Config("config", "invalid start %q: %v", c.Start, err)
	}
	end, err := time.Parse(time.RFC3339, c.End)
	if err != nil {
		return time.Time{}, time.Time{}, errs.Config("config", "invalid end %q: %v", c.End, err)
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, errs.Config("config", "end %s is not after start %s", c.End, c.Start)
	}
	return start, end, nil
}

type binder struct {
	fs  *pflag.FlagSet
	env map[string]string
}

func (b binder) str(p *string, name, env, def, usage string) {
	b.env[name] = env
	b.fs.StringVar(p, name, getEnv(env, def), usage)
}

func (b binder) integer(p *int, name, env string, def int, usage string) {
	b.env[name] = env
	b.fs.IntVar(p, name, getEnvInt(env, def), usage)
}

func (b binder) uint64(p *uint64, name, env string, def uint64, usage string) {
	b.env[name] = env
	b.fs.Uint64Var(p, name, getEnvUint64(env, def), usage)
}

func (b binder) float(p *float64, name, env string, def float64, usage string) {
	b.env[name] = env
	b.fs.Float64Var(p, name, getEnvFloat(env, def), usage)
}

func (b binder) duration(p *time.Duration, name, env string, def time.Duration, usage string) {
	b.env[name] = env
	b.fs.DurationVar(p, name, getEnvDuration(env, def), usage)
}

func (b binder) boolean(p *bool, name, env string, def bool, usage string) {
	b.env[name] = env
	b.fs.BoolVar(p, name, getEnvBool(env, def), usage)
}

// parseAdapterConfig collects ADAPTER_* variables into a map keyed by the
// lower camel case remainder: ADAPTER_TIMESTAMP_PATH → timestampPath.
// ADAPTER itself selects the kind and is not part of the map.
func parseAdapterConfig(environ []string) map[string]string {
	config := make(map[string]string)
	for _, env := range environ {
		key, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(key, "ADAPTER_") || len(key) == len("ADAPTER_") {
			continue
		}
		config[toLowerCamelCase(key[len("ADAPTER_"):])] = value
	}
	return config
}

func toLowerCamelCase(s string) string {
	parts := strings.Split(strings.ToLower(s), "_")
	var sb strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i > 0 && sb.Len() > 0 {
			sb.WriteString(strings.ToUpper(p[:1]))
			sb.WriteString(p[1:])
			continue
		}
		sb.WriteString(p)
	}
	return sb.String()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if u, err := strconv.ParseUint(value, 10, 64); err == nil {
			return u
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
