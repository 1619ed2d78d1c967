package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jhossain1509/email-database-manager/internal/classifier"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Mimir      MimirConfig
	Worker     WorkerConfig
	Validation ValidationConfig
	SMTP       SMTPConfig
	Files      FilesConfig
	Storage    StorageConfig
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	URL            string
	MaxConnections int
	MaxIdleConns   int
	AutoMigrate    bool
}

type RedisConfig struct {
	URL        string
	MXCacheTTL time.Duration
}

type AuthConfig struct {
	JWTSecret string
}

type MimirConfig struct {
	URL           string
	TenantHeader  string
	BatchSize     int
	FlushInterval time.Duration
	AuthToken     string
}

type WorkerConfig struct {
	Concurrency int
	PopTimeout  time.Duration
	JobLockTTL  time.Duration
	// PollInterval switches the queue to ZPOPMIN polling when set, for
	// Redis-compatible servers without BZPOPMIN.
	PollInterval time.Duration
}

type ValidationConfig struct {
	TopDomains         []string
	BlockedSuffixes    []string
	DisposableDomains  []string
	DisposableKeywords []string
	RolePrefixes       []string
	DNSServer          string
	DNSTimeout         time.Duration
}

type SMTPConfig struct {
	RatePerSecond  float64
	HeloName       string
	HealthInterval time.Duration
}

type FilesConfig struct {
	UploadDir string
	ExportDir string
	SplitSize int
}

type StorageConfig struct {
	Backend  string
	S3Bucket string
	S3Prefix string
	S3Region string
}

// Classifier returns the classifier lists, falling back to the built-in ones
// for any list left empty.
func (v ValidationConfig) Classifier() classifier.Config {
	def := classifier.DefaultConfig()
	pick := func(configured, fallback []string) []string {
		if len(configured) == 0 {
			return fallback
		}
		return configured
	}
	return classifier.Config{
		TopDomains:         pick(v.TopDomains, def.TopDomains),
		BlockedSuffixes:    pick(v.BlockedSuffixes, def.BlockedSuffixes),
		DisposableDomains:  pick(v.DisposableDomains, def.DisposableDomains),
		DisposableKeywords: pick(v.DisposableKeywords, def.DisposableKeywords),
		RolePrefixes:       pick(v.RolePrefixes, def.RolePrefixes),
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.url", "")
	v.SetDefault("database.maxconnections", 25)
	v.SetDefault("database.maxidleconns", 5)
	v.SetDefault("database.automigrate", true)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.mxcachettl", "1h")
	v.SetDefault("auth.jwtsecret", "")
	v.SetDefault("mimir.url", "")
	v.SetDefault("mimir.tenantheader", "X-Scope-OrgID")
	v.SetDefault("mimir.batchsize", 1000)
	v.SetDefault("mimir.flushinterval", "10s")
	v.SetDefault("mimir.authtoken", "")
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.poptimeout", "5s")
	v.SetDefault("worker.joblockttl", "30m")
	v.SetDefault("worker.pollinterval", "0s")
	v.SetDefault("validation.topdomains", []string{})
	v.SetDefault("validation.blockedsuffixes", []string{})
	v.SetDefault("validation.disposabledomains", []string{})
	v.SetDefault("validation.disposablekeywords", []string{})
	v.SetDefault("validation.roleprefixes", []string{})
	v.SetDefault("validation.dnsserver", "8.8.8.8:53")
	v.SetDefault("validation.dnstimeout", "5s")
	v.SetDefault("smtp.ratepersecond", 0)
	v.SetDefault("smtp.heloname", "localhost")
	v.SetDefault("smtp.healthinterval", "15m")
	v.SetDefault("files.uploaddir", "./data/uploads")
	v.SetDefault("files.exportdir", "./data/exports")
	v.SetDefault("files.splitsize", 10000)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.s3bucket", "")
	v.SetDefault("storage.s3prefix", "exports")
	v.SetDefault("storage.s3region", "us-east-1")
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("EMAILDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Override with environment variables
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if url := os.Getenv("MIMIR_URL"); url != "" {
		cfg.Mimir.URL = url
	}
	if token := os.Getenv("MIMIR_AUTH_TOKEN"); token != "" {
		cfg.Mimir.AuthToken = token
	}

	if cfg.Worker.Concurrency < 1 {
		cfg.Worker.Concurrency = 1
	}
	if cfg.Files.SplitSize <= 0 {
		cfg.Files.SplitSize = 10000
	}

	return &cfg, nil
}
