package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gridprice/internal/api"
	"gridprice/internal/models"
	"gridprice/internal/provider"
	"gridprice/internal/provider/cdr"
	"gridprice/internal/provider/ercot"
	"gridprice/internal/validation"
)

// Config represents the application configuration
type Config struct {
	// ERCOT contains upstream API credentials and client tuning
	ERCOT ERCOTConfig
	// Database contains primary store settings
	Database DatabaseConfig
	// Influx contains derived store settings
	Influx InfluxConfig
	// Primary contains primary store write tuning
	Primary PrimaryConfig
	// Metrics contains Pushgateway settings
	Metrics MetricsConfig
	// Log contains logger settings
	Log LogConfig
	// StreamsFile is an optional TOML file overriding stream tuning
	StreamsFile string

	Streams map[string]provider.Config `json:"streams" validate:"dive"`
}

// ERCOTConfig contains the upstream API settings
type ERCOTConfig struct {
	Username          string `validate:"required,nospaces"`
	Password          string `validate:"required"`
	SubscriptionKey   string `validate:"required,nospaces"`
	TokenURL          string `validate:"required,url"`
	ClientID          string `validate:"required"`
	BaseURL           string `validate:"required,url"`
	CDRURL            string `validate:"required,url"`
	Timezone          string `validate:"required"`
	PageSize          int    `validate:"min=1"`
	MaxAttempts       int    `validate:"min=1"`
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration `validate:"gtefield=RetryBaseDelay"`
	RequestsPerMinute int           `validate:"gte=0"`
	HTTPTimeout       time.Duration `validate:"gt=0"`
	TokenSafetyMargin time.Duration `validate:"gte=0"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	// Driver selects the primary store: postgres or sqlite
	Driver string `validate:"oneof=postgres sqlite"`
	// Host is the database server hostname
	Host string
	// Port is the database server port
	Port int
	// User is the database username
	User string
	// Password is the database password
	Password string
	// DBName is the database name
	DBName string
	// SSLMode is the SSL mode for the database connection
	SSLMode string
	// MigrationsPath is the path to database migrations
	MigrationsPath string
	// SQLitePath is the database file when Driver is sqlite
	SQLitePath string `validate:"required_if=Driver sqlite"`
}

// InfluxConfig contains the derived store settings
type InfluxConfig struct {
	Enabled           bool
	URL               string `validate:"required_if=Enabled true,omitempty,url"`
	Token             string `validate:"required_if=Enabled true"`
	Org               string `validate:"required_if=Enabled true"`
	Bucket            string `validate:"required_if=Enabled true"`
	MaxPointsPerWrite int    `validate:"min=1"`
	WritesPerMinute   int    `validate:"gte=0"`
	MaxAttempts       int    `validate:"min=1"`
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration `validate:"gtefield=RetryBaseDelay"`
	BreakerThreshold  int           `validate:"min=1"`
	Timeout           time.Duration `validate:"gt=0"`
}

// PrimaryConfig contains primary store write tuning
type PrimaryConfig struct {
	ChunkSize      int `validate:"min=1"`
	MaxAttempts    int `validate:"min=1"`
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration `validate:"gtefield=RetryBaseDelay"`
}

// MetricsConfig contains Pushgateway settings
type MetricsConfig struct {
	// PushgatewayURL disables pushing when empty
	PushgatewayURL string `validate:"omitempty,url"`
	Job            string `validate:"required"`
}

// LogConfig contains logger settings
type LogConfig struct {
	Level  string `validate:"oneof=trace debug info warn error"`
	Format string `validate:"oneof=console json"`
}

// LoadFromEnv retrieves configuration from environment variables
func (c *Config) LoadFromEnv() error {
	values := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			values[k] = v
		}
	}
	return c.Load(values)
}

// Load reads configuration from a map of named values, applies the optional
// streams file and validates the result
func (c *Config) Load(values map[string]string) error {
	e := env(values)

	c.ERCOT = ERCOTConfig{
		Username:          e.get("ERCOT_USERNAME"),
		Password:          e.get("ERCOT_PASSWORD"),
		SubscriptionKey:   e.get("ERCOT_SUBSCRIPTION_KEY"),
		TokenURL:          e.getOrDefault("ERCOT_TOKEN_URL", api.DefaultTokenURL),
		ClientID:          e.getOrDefault("ERCOT_CLIENT_ID", api.DefaultClientID),
		BaseURL:           e.getOrDefault("ERCOT_BASE_URL", api.DefaultBaseURL),
		CDRURL:            e.getOrDefault("ERCOT_CDR_URL", cdr.DefaultURL),
		Timezone:          e.getOrDefault("ERCOT_TIMEZONE", api.DefaultTimezone),
		PageSize:          e.getAsInt("ERCOT_PAGE_SIZE", api.DefaultPageSize),
		MaxAttempts:       e.getAsInt("ERCOT_MAX_ATTEMPTS", api.DefaultMaxAttempts),
		RetryBaseDelay:    e.getAsDuration("ERCOT_RETRY_BASE_DELAY", api.DefaultBaseDelay),
		RetryMaxDelay:     e.getAsDuration("ERCOT_RETRY_MAX_DELAY", api.DefaultMaxDelay),
		RequestsPerMinute: e.getAsInt("ERCOT_REQUESTS_PER_MINUTE", 30),
		HTTPTimeout:       e.getAsDuration("ERCOT_HTTP_TIMEOUT", 60*time.Second),
		TokenSafetyMargin: e.getAsDuration("ERCOT_TOKEN_SAFETY_MARGIN", api.DefaultSafetyMargin),
	}
	c.Database = DatabaseConfig{
		Driver:         e.getOrDefault("DB_DRIVER", "postgres"),
		Host:           e.getOrDefault("DB_HOST", "localhost"),
		Port:           e.getAsInt("DB_PORT", 5432),
		User:           e.getOrDefault("DB_USER", "postgres"),
		Password:       e.getOrDefault("DB_PASSWORD", "postgres"),
		DBName:         e.getOrDefault("DB_NAME", "gridprice"),
		SSLMode:        e.getOrDefault("DB_SSL_MODE", "disable"),
		MigrationsPath: e.getOrDefault("DB_MIGRATIONS_PATH", "migrations"),
		SQLitePath:     e.getOrDefault("SQLITE_PATH", "data/gridprice.db"),
	}
	c.Influx = InfluxConfig{
		Enabled:           e.getAsBool("INFLUX_ENABLED", true),
		URL:               e.get("INFLUX_URL"),
		Token:             e.get("INFLUX_TOKEN"),
		Org:               e.get("INFLUX_ORG"),
		Bucket:            e.get("INFLUX_BUCKET"),
		MaxPointsPerWrite: e.getAsInt("INFLUX_MAX_POINTS_PER_WRITE", 5000),
		WritesPerMinute:   e.getAsInt("INFLUX_WRITES_PER_MINUTE", 60),
		MaxAttempts:       e.getAsInt("INFLUX_MAX_ATTEMPTS", 3),
		RetryBaseDelay:    e.getAsDuration("INFLUX_RETRY_BASE_DELAY", 5*time.Second),
		RetryMaxDelay:     e.getAsDuration("INFLUX_RETRY_MAX_DELAY", 60*time.Second),
		BreakerThreshold:  e.getAsInt("INFLUX_BREAKER_THRESHOLD", 3),
		Timeout:           e.getAsDuration("INFLUX_TIMEOUT", 30*time.Second),
	}
	c.Primary = PrimaryConfig{
		ChunkSize:      e.getAsInt("PRIMARY_CHUNK_SIZE", 5000),
		MaxAttempts:    e.getAsInt("PRIMARY_MAX_ATTEMPTS", 3),
		RetryBaseDelay: e.getAsDuration("PRIMARY_RETRY_BASE_DELAY", 500*time.Millisecond),
		RetryMaxDelay:  e.getAsDuration("PRIMARY_RETRY_MAX_DELAY", 10*time.Second),
	}
	c.Metrics = MetricsConfig{
		PushgatewayURL: e.get("METRICS_PUSHGATEWAY_URL"),
		Job:            e.getOrDefault("METRICS_JOB", "gridprice_ingest"),
	}
	c.Log = LogConfig{
		Level:  strings.ToLower(e.getOrDefault("LOG_LEVEL", "info")),
		Format: strings.ToLower(e.getOrDefault("LOG_FORMAT", "console")),
	}
	c.StreamsFile = e.get("STREAMS_FILE")

	// Initialize stream configuration
	c.Streams = make(map[string]provider.Config)
	for _, def := range []provider.Config{
		ercot.DefaultConfig(models.StreamRealTime),
		ercot.DefaultConfig(models.StreamDayAhead),
		cdr.DefaultConfig(),
	} {
		c.Streams[def.Name] = e.stream(def)
	}

	if c.StreamsFile != "" {
		if err := c.ApplyStreamsFile(c.StreamsFile); err != nil {
			return err
		}
	}

	if _, err := time.LoadLocation(c.ERCOT.Timezone); err != nil {
		return fmt.Errorf("invalid ERCOT_TIMEZONE %q: %w", c.ERCOT.Timezone, err)
	}

	return validation.Struct(c)
}

// Location returns the upstream API's local zone
func (c *ERCOTConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Stream returns the configuration of a named stream
func (c *Config) Stream(name string) (provider.Config, bool) {
	s, ok := c.Streams[name]
	return s, ok
}

// env is a snapshot of named configuration values
type env map[string]string

func (e env) get(key string) string {
	return strings.TrimSpace(e[key])
}

func (e env) getOrDefault(key string, defaultVal string) string {
	if v := e.get(key); v != "" {
		return v
	}
	return defaultVal
}

// getAsInt retrieves a value and converts it to an integer
func (e env) getAsInt(key string, defaultVal int) int {
	if v := e.get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

// getAsBool retrieves a value and converts it to a boolean
func (e env) getAsBool(key string, defaultVal bool) bool {
	if v := e.get(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

// getAsDuration accepts Go durations ("90s") or whole seconds ("90")
func (e env) getAsDuration(key string, defaultVal time.Duration) time.Duration {
	v := e.get(key)
	if v == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultVal
}

func (e env) getAsList(key string, defaultVal []string) []string {
	v := e.get(key)
	if v == "" {
		return defaultVal
	}
	return normalizePoints(strings.Split(v, ","))
}

// stream overlays STREAM_<NAME>_* values on a default stream config
func (e env) stream(def provider.Config) provider.Config {
	prefix := "STREAM_" + strings.ToUpper(def.Name) + "_"
	def.Enabled = e.getAsBool(prefix+"ENABLED", def.Enabled)
	def.Lookback = e.getAsDuration(prefix+"LOOKBACK", def.Lookback)
	def.PageSize = e.getAsInt(prefix+"PAGE_SIZE", def.PageSize)
	def.MaxPages = e.getAsInt(prefix+"MAX_PAGES", def.MaxPages)
	def.Measurement = e.getOrDefault(prefix+"MEASUREMENT", def.Measurement)
	def.AllowList = e.getAsList(prefix+"ALLOW_LIST", def.AllowList)
	return def
}

func normalizePoints(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		u := strings.ToUpper(strings.TrimSpace(s))
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
