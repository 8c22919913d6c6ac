// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Query         QueryConfig         `mapstructure:"query"`
	Sources       SourcesConfig       `mapstructure:"sources"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// --- Core App/Infrastructure Config ---

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig holds the HTTP front end settings.
type ServerConfig struct {
	Address         string `mapstructure:"address"`
	ReadTimeout     int    `mapstructure:"read_timeout"`     // milliseconds
	WriteTimeout    int    `mapstructure:"write_timeout"`    // milliseconds
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string.
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig holds result cache settings. A zero NegativeTTL disables
// caching of no-data outcomes entirely.
type CacheConfig struct {
	TTL         int `mapstructure:"ttl"`          // milliseconds
	NegativeTTL int `mapstructure:"negative_ttl"` // milliseconds, 0 = never cache negatives
}

// QueryConfig holds classifier/normalizer settings.
type QueryConfig struct {
	DefaultRegion      string `mapstructure:"default_region"`       // ISO region for phone parsing, e.g. "US"
	DefaultCountryCode string `mapstructure:"default_country_code"` // dialing prefix fallback, e.g. "1"
}

// --- Source Configuration ---

// SourcesConfig selects and orders the upstream source clients. Precedence is
// an explicit data value: the consolidator walks sources in exactly this
// order when merging fields.
type SourcesConfig struct {
	Precedence []string            `mapstructure:"precedence"`
	Billing    BillingSourceConfig `mapstructure:"billing"`
	CRM        CRMSourceConfig     `mapstructure:"crm"`
	Records    RecordsSourceConfig `mapstructure:"records"`
}

type BillingSourceConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Timeout int    `mapstructure:"timeout"` // milliseconds
}

type CRMSourceConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	TokenURL     string `mapstructure:"token_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	Timeout      int    `mapstructure:"timeout"` // milliseconds
}

type RecordsSourceConfig struct {
	Timeout int `mapstructure:"timeout"` // milliseconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// ObservabilityConfig holds tracing/metrics exporter settings.
type ObservabilityConfig struct {
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"` // empty disables trace export
}
