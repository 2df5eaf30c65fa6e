package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Port          string        `yaml:"port" env:"PORT" env-default:"8080"`
	Env           string        `yaml:"env" env:"ENV" env-default:"local"`
	LogLevel      string        `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	DBAdapter     string        `yaml:"db_adapter" env:"DB_ADAPTER" env-default:"postgres"`
	SQLiteFile    string        `yaml:"sqlite_file" env:"SQLITE_FILE" env-default:"./data/receiptshare.db"`
	MigrationsDir string        `yaml:"migrations_dir" env:"MIGRATIONS_DIR" env-default:"./migrations"`
	JwtSecret     string        `yaml:"jwt_secret" env:"JWT_SECRET" env-default:"change-me"`
	AccessTTL     time.Duration `yaml:"access_token_ttl" env:"ACCESS_TOKEN_TTL" env-default:"1h"`
	RefreshTTL    time.Duration `yaml:"refresh_token_ttl" env:"REFRESH_TOKEN_TTL" env-default:"720h"`
	RateLimit     int           `yaml:"rate_limit_per_minute" env:"RATE_LIMIT_PER_MINUTE" env-default:"120"`
	CORSOrigins   []string      `yaml:"cors_origins" env:"CORS_ORIGINS" env-separator:","`

	Postgres  Postgres  `yaml:"postgres"`
	Bootstrap Bootstrap `yaml:"bootstrap"`
}

// Postgres connection settings. DSN wins over the individual fields.
type Postgres struct {
	DSN      string `yaml:"dsn" env:"POSTGRES_DSN"`
	Host     string `yaml:"host" env:"POSTGRES_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"POSTGRES_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"POSTGRES_USER" env-default:"receiptshare"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD"`
	DB       string `yaml:"db" env:"POSTGRES_DB" env-default:"receiptshare"`
	SSLMode  string `yaml:"sslmode" env:"POSTGRES_SSLMODE" env-default:"disable"`
}

// Bootstrap seeds the first admin and API client on an empty store.
type Bootstrap struct {
	AdminEmail    string `yaml:"admin_email" env:"ADMIN_EMAIL"`
	AdminPassword string `yaml:"admin_password" env:"ADMIN_PASSWORD"`
	ClientID      string `yaml:"client_id" env:"BOOTSTRAP_CLIENT_ID"`
	ClientSecret  string `yaml:"client_secret" env:"BOOTSTRAP_CLIENT_SECRET"`
}

// BuildPostgresDSN constructs a PostgreSQL DSN from individual components or returns the provided DSN
func (c *Config) BuildPostgresDSN() (string, error) {
	p := c.Postgres
	if p.DSN != "" {
		return p.DSN, nil
	}
	if p.Host == "" {
		return "", errors.New("POSTGRES_HOST or POSTGRES_DSN must be set")
	}
	if p.User == "" {
		return "", errors.New("POSTGRES_USER must be set")
	}
	if p.DB == "" {
		return "", errors.New("POSTGRES_DB must be set")
	}

	port := p.Port
	if port == "" {
		port = "5432"
	}
	sslMode := p.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=%s", p.Host, port, p.User, p.DB, sslMode)
	if p.Password != "" {
		dsn += " password=" + p.Password
	}
	return dsn, nil
}

// IsProduction reports whether ENV names a production deployment.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Env)
	return env == "production" || env == "prod"
}

// Load reads path (YAML) when given, then overlays the environment.
func Load(path string) (*Config, error) {
	var c Config
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &c)
	} else {
		err = cleanenv.ReadEnv(&c)
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	switch c.DBAdapter {
	case "postgres":
		dsn, err := c.BuildPostgresDSN()
		if err != nil {
			return fmt.Errorf("postgres configuration error: %w", err)
		}
		c.Postgres.DSN = dsn
	case "sqlite":
		if c.SQLiteFile == "" {
			return errors.New("SQLITE_FILE must be set when DB_ADAPTER=sqlite")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}

	if c.IsProduction() && (c.JwtSecret == "" || c.JwtSecret == "change-me") {
		return errors.New("JWT_SECRET must be set in production")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("invalid PORT: %s", c.Port)
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE: %d", c.RateLimit)
	}
	if (c.Bootstrap.AdminEmail == "") != (c.Bootstrap.AdminPassword == "") {
		return errors.New("ADMIN_EMAIL and ADMIN_PASSWORD must be set together")
	}
	if (c.Bootstrap.ClientID == "") != (c.Bootstrap.ClientSecret == "") {
		return errors.New("BOOTSTRAP_CLIENT_ID and BOOTSTRAP_CLIENT_SECRET must be set together")
	}
	return nil
}
