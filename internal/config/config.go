// Package config loads NKit settings from a YAML file, NKIT_ environment
// variables and a .env file, in increasing order of precedence after
// defaults.
package config

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/viper"
)

const EnvPrefix = "NKIT"

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Transaction TransactionConfig `mapstructure:"transaction"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Codegen     CodegenConfig     `mapstructure:"codegen"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	DefaultFormat   string        `mapstructure:"default_format"`
	MaxListLimit    int           `mapstructure:"max_list_limit"`
}

type DatabaseConfig struct {
	Name            string        `mapstructure:"name"`
	Dialect         string        `mapstructure:"dialect"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	SnapshotFile    string        `mapstructure:"snapshot_file"`
	// InitScripts are SQL files run in order at serve startup, before the
	// schema is loaded.
	InitScripts     []string      `mapstructure:"init_scripts"`
}

type TransactionConfig struct {
	DeadlockRetries int           `mapstructure:"deadlock_retries"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	Isolation       string        `mapstructure:"isolation"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AuthConfig enables bearer token auth on the API when JWTSecret is set.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	Issuer    string        `mapstructure:"issuer"`
}

// RedisConfig enables the schema snapshot cache and token revocation when
// Addr is set.
type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	SnapshotTTL time.Duration `mapstructure:"snapshot_ttl"`
}

type CodegenConfig struct {
	Dir     string `mapstructure:"dir"`
	Package string `mapstructure:"package"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", time.Minute)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.default_format", "json")
	v.SetDefault("server.max_list_limit", 1000)

	// every key needs a default so AutomaticEnv can override it on Unmarshal
	v.SetDefault("database.name", "default")
	v.SetDefault("database.dialect", "sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.snapshot_file", "")
	v.SetDefault("database.init_scripts", []string{})
	v.SetDefault("database.conn_max_idle_time", time.Duration(0))
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("transaction.deadlock_retries", 3)
	v.SetDefault("transaction.retry_delay", 200*time.Millisecond)
	v.SetDefault("transaction.isolation", "default")
	v.SetDefault("transaction.timeout", time.Duration(0))

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.issuer", "nkit")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.snapshot_ttl", time.Hour)

	v.SetDefault("codegen.dir", "gen")
	v.SetDefault("codegen.package", "models")
}

// Load reads the configuration into a fresh viper instance.
func Load(cfgFile string) (*Config, error) {
	return LoadWith(viper.New(), cfgFile)
}

// LoadWith reads the configuration into v, which may already carry bound
// command line flags. Precedence: flags > env > config file > defaults.
func LoadWith(v *viper.Viper, cfgFile string) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	} else {
		v.SetConfigName("nkit")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	switch strings.ToLower(c.Server.DefaultFormat) {
	case "json", "xml", "yaml":
	default:
		errs = append(errs, fmt.Errorf("server.default_format %q must be json, xml or yaml", c.Server.DefaultFormat))
	}
	if c.Database.Dialect == "" {
		errs = append(errs, errors.New("database.dialect is required"))
	}
	if c.Database.DSN == "" && c.Database.SnapshotFile == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Transaction.DeadlockRetries < 0 {
		errs = append(errs, errors.New("transaction.deadlock_retries must not be negative"))
	}
	if c.Transaction.RetryDelay < 0 {
		errs = append(errs, errors.New("transaction.retry_delay must not be negative"))
	}
	if _, err := c.Transaction.IsolationLevel(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be text or json", c.Logging.Format))
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 32 bytes"))
	}
	if c.Codegen.Package == "" {
		errs = append(errs, errors.New("codegen.package is required"))
	}

	return errors.Join(errs...)
}

var isolationLevels = map[string]sql.IsolationLevel{
	"":                 sql.LevelDefault,
	"default":          sql.LevelDefault,
	"read_uncommitted": sql.LevelReadUncommitted,
	"read_committed":   sql.LevelReadCommitted,
	"repeatable_read":  sql.LevelRepeatableRead,
	"snapshot":         sql.LevelSnapshot,
	"serializable":     sql.LevelSerializable,
}

// IsolationLevel maps the configured isolation name to a sql.IsolationLevel.
func (t TransactionConfig) IsolationLevel() (sql.IsolationLevel, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(t.Isolation)), " ", "_")
	level, ok := isolationLevels[key]
	if !ok {
		return 0, fmt.Errorf("transaction.isolation %q is not a known isolation level", t.Isolation)
	}
	return level, nil
}
