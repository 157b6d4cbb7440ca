package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	WebSocket WebSocketConfig
	CORS      CORSConfig
	Logging   LoggingConfig
	Sync      SyncConfig
}

type ServerConfig struct {
	Port string
	Host string
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

// URL is the CouchDB DSN handed to kivik.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("http://%s:%s@%s:%s", d.User, d.Password, d.Host, d.Port)
}

type JWTConfig struct {
	Secret                 string
	Expiration             time.Duration
	RefreshTokenExpiration time.Duration
}

type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration
	MaxConnPerUser  int
}

type CORSConfig struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

type LoggingConfig struct {
	Level string
}

type SyncConfig struct {
	// ChangesPageSize bounds a single change-feed query against the store.
	ChangesPageSize int
	// MaxBatchItems rejects batches larger than this.
	MaxBatchItems int
	// RecentOperationsCacheSize is the number of terminal operation ids
	// remembered in memory for resubmission dedup.
	RecentOperationsCacheSize int
	// WriteRetries bounds optimistic retries on revision conflicts.
	WriteRetries int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("app_env", EnvLocal)

	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", "5984")
	v.SetDefault("db_user", "admin")
	v.SetDefault("db_password", "password")
	v.SetDefault("db_name", "recipe_sync")

	v.SetDefault("jwt_secret", "dev-secret-change-in-production")
	v.SetDefault("jwt_expiration", "15m")
	v.SetDefault("refresh_token_expiration", "168h")

	v.SetDefault("ws_read_buffer_size", 4096)
	v.SetDefault("ws_write_buffer_size", 4096)
	v.SetDefault("ws_max_message_size", 1048576)
	v.SetDefault("ws_max_conn_per_user", 5)

	v.SetDefault("cors_allowed_origins", "*")
	v.SetDefault("cors_allowed_methods", "GET,POST,PUT,DELETE,OPTIONS")
	v.SetDefault("cors_allowed_headers", "Content-Type,Authorization")

	v.SetDefault("log_level", "info")

	v.SetDefault("sync_changes_page_size", 100)
	v.SetDefault("sync_max_batch_items", 500)
	v.SetDefault("sync_recent_operations_cache_size", 4096)
	v.SetDefault("sync_write_retries", 5)
}

// Load reads the given env files (.env when none are given) and the
// process environment. Missing files are not an error.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	jwtExp, err := time.ParseDuration(v.GetString("jwt_expiration"))
	if err != nil {
		return nil, fmt.Errorf("invalid JWT_EXPIRATION: %w", err)
	}

	refreshExp, err := time.ParseDuration(v.GetString("refresh_token_expiration"))
	if err != nil {
		return nil, fmt.Errorf("invalid REFRESH_TOKEN_EXPIRATION: %w", err)
	}

	env := v.GetString("app_env")
	switch env {
	case EnvLocal, EnvDev, EnvProd:
	default:
		return nil, fmt.Errorf("invalid APP_ENV %q: want one of %s, %s, %s", env, EnvLocal, EnvDev, EnvProd)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: v.GetString("port"),
			Host: v.GetString("host"),
			Env:  env,
		},
		Database: DatabaseConfig{
			Host:     v.GetString("db_host"),
			Port:     v.GetString("db_port"),
			User:     v.GetString("db_user"),
			Password: v.GetString("db_password"),
			Name:     v.GetString("db_name"),
		},
		JWT: JWTConfig{
			Secret:                 v.GetString("jwt_secret"),
			Expiration:             jwtExp,
			RefreshTokenExpiration: refreshExp,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  v.GetInt("ws_read_buffer_size"),
			WriteBufferSize: v.GetInt("ws_write_buffer_size"),
			MaxMessageSize:  v.GetInt64("ws_max_message_size"),
			WriteWait:       10 * time.Second,
			PongWait:        60 * time.Second,
			PingPeriod:      54 * time.Second,
			MaxConnPerUser:  v.GetInt("ws_max_conn_per_user"),
		},
		CORS: CORSConfig{
			AllowedOrigins: v.GetString("cors_allowed_origins"),
			AllowedMethods: v.GetString("cors_allowed_methods"),
			AllowedHeaders: v.GetString("cors_allowed_headers"),
		},
		Logging: LoggingConfig{
			Level: v.GetString("log_level"),
		},
		Sync: SyncConfig{
			ChangesPageSize:           v.GetInt("sync_changes_page_size"),
			MaxBatchItems:             v.GetInt("sync_max_batch_items"),
			RecentOperationsCacheSize: v.GetInt("sync_recent_operations_cache_size"),
			WriteRetries:              v.GetInt("sync_write_retries"),
		},
	}

	if cfg.Sync.ChangesPageSize <= 0 {
		return nil, fmt.Errorf("invalid SYNC_CHANGES_PAGE_SIZE: must be positive")
	}
	if cfg.Sync.WriteRetries <= 0 {
		return nil, fmt.Errorf("invalid SYNC_WRITE_RETRIES: must be positive")
	}

	return cfg, nil
}
