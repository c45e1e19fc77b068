package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig represents the main application configuration
type AppConfig struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Spotify     SpotifyConfig     `mapstructure:"spotify"`
	Discogs     DiscogsConfig     `mapstructure:"discogs"`
	MusicBrainz MusicBrainzConfig `mapstructure:"musicbrainz"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Crypto      CryptoConfig      `mapstructure:"crypto"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig represents the ops server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig represents PostgreSQL configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Address  string        `mapstructure:"address"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	PoolSize int           `mapstructure:"pool_size"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// SpotifyConfig holds the process-wide catalog provider credentials.
// Connections may carry per-connection overrides; these are the
// fallback.
type SpotifyConfig struct {
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	RedirectURI  string        `mapstructure:"redirect_uri"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// DiscogsConfig holds the secondary metadata source credentials.
type DiscogsConfig struct {
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MusicBrainzConfig holds primary metadata source settings. The user
// agent is required by the MusicBrainz API terms.
type MusicBrainzConfig struct {
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// SyncConfig controls the synchronization engine and scheduler.
type SyncConfig struct {
	DispatchInterval time.Duration `mapstructure:"dispatch_interval"`
	Staleness        time.Duration `mapstructure:"staleness"`
	PurgeAfter       time.Duration `mapstructure:"purge_after"`
	LockTimeout      time.Duration `mapstructure:"lock_timeout"`
	Concurrency      int           `mapstructure:"concurrency"`
}

// CryptoConfig holds the key for encrypting connection secrets at
// rest. Must be exactly 32 bytes once decoded.
type CryptoConfig struct {
	SecretsKey string `mapstructure:"secrets_key"`
}

// LoggingConfig controls log output
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig loads application configuration from file and environment
func LoadConfig() (*AppConfig, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("TUNEBRIDGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Set default values
	viper.SetDefault("server.port", 3000)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", 15*time.Second)
	viper.SetDefault("server.write_timeout", 15*time.Second)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.dbname", "tunebridge")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.max_open_conns", 50)
	viper.SetDefault("database.max_idle_conns", 25)
	viper.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.timeout", 5*time.Second)

	// Empty-string defaults keep env-only secrets visible to Unmarshal.
	viper.SetDefault("spotify.client_id", "")
	viper.SetDefault("spotify.client_secret", "")
	viper.SetDefault("spotify.redirect_uri", "http://localhost:3000/callback")
	viper.SetDefault("spotify.timeout", 10*time.Second)

	viper.SetDefault("discogs.token", "")
	viper.SetDefault("discogs.timeout", 10*time.Second)

	viper.SetDefault("crypto.secrets_key", "")

	viper.SetDefault("musicbrainz.user_agent", "tunebridge/1.0 (https://github.com/tunebridge/tunebridge)")
	viper.SetDefault("musicbrainz.timeout", 10*time.Second)

	viper.SetDefault("sync.dispatch_interval", 6*time.Hour)
	viper.SetDefault("sync.staleness", 24*time.Hour)
	viper.SetDefault("sync.purge_after", 30*24*time.Hour)
	viper.SetDefault("sync.lock_timeout", 5*time.Minute)
	viper.SetDefault("sync.concurrency", 10)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	// Read configuration file, fall back to defaults + env when absent
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg AppConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// DSN builds the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}
