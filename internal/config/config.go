package config

import (
	"fmt"

	"github.com/recoverops/intake/internal/db"

	"github.com/spf13/viper"
)

// Config is the explicit configuration object handed to services at
// construction time. Nothing in the ingestion core reads global state, so two
// pipelines with different settings can run in one process.
type Config struct {
	DB        db.Config
	Server    Server
	Redis     Redis
	Ingestion Ingestion
}

// Server captures the HTTP surface settings.
type Server struct {
	Addr           string
	AllowedOrigins []string
}

// Redis locates the external job queue the core publishes descriptors to.
type Redis struct {
	Addr     string
	Password string
	DB       int
	Queue    string
}

// Ingestion tunes the pipeline itself.
type Ingestion struct {
	// ChunkSize bounds how many rows go to the landing store per batch of
	// work; large files are never wrapped in one transaction.
	ChunkSize int
	// ChunkParallelism bounds how many chunks are in flight at once.
	ChunkParallelism int
	// SyncPromote promotes landed rows inside the ingest call instead of
	// leaving them pending for a later promotion pass.
	SyncPromote bool
}

// Default returns the configuration used when no file or env overrides exist.
func Default() Config {
	return Config{
		DB: db.DefaultConfig(),
		Server: Server{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Redis: Redis{
			Addr:  "localhost:6379",
			Queue: "intake:jobs",
		},
		Ingestion: Ingestion{
			ChunkSize:        500,
			ChunkParallelism: 4,
			SyncPromote:      true,
		},
	}
}

// Load builds the config from config.yaml in configPath plus environment
// overrides (INTAKE_DATABASE_HOST, INTAKE_SERVER_ADDR, ...), falling back to
// defaults when neither is set.
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("INTAKE")

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("server.addr")
	v.BindEnv("redis.addr")
	v.BindEnv("redis.password")
	v.BindEnv("redis.queue")

	if err := v.ReadInConfig(); err != nil {
		// Config file not found? Use defaults + env.
		fmt.Println("No config.yaml found, using defaults and env vars")
	} else {
		fmt.Println("Loaded config.yaml")
	}

	if v.IsSet("database.host") {
		cfg.DB.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.DB.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.DB.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.DB.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.DB.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.DB.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}
	if v.IsSet("redis.addr") {
		cfg.Redis.Addr = v.GetString("redis.addr")
	}
	if v.IsSet("redis.password") {
		cfg.Redis.Password = v.GetString("redis.password")
	}
	if v.IsSet("redis.db") {
		cfg.Redis.DB = v.GetInt("redis.db")
	}
	if v.IsSet("redis.queue") {
		cfg.Redis.Queue = v.GetString("redis.queue")
	}
	if v.IsSet("ingestion.chunk_size") {
		cfg.Ingestion.ChunkSize = v.GetInt("ingestion.chunk_size")
	}
	if v.IsSet("ingestion.chunk_parallelism") {
		cfg.Ingestion.ChunkParallelism = v.GetInt("ingestion.chunk_parallelism")
	}
	if v.IsSet("ingestion.sync_promote") {
		cfg.Ingestion.SyncPromote = v.GetBool("ingestion.sync_promote")
	}

	return cfg, nil
}
