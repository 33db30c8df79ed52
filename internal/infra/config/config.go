package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	PoolSize int `yaml:"pool_size"`

	Batch    Batch    `yaml:"batch"`
	Reclaim  Reclaim  `yaml:"reclaim"`
	Estimate Estimate `yaml:"estimate"`

	Redis       Redis       `yaml:"redis"`
	Postgres    Postgres    `yaml:"postgres"`
	NATS        NATS        `yaml:"nats"`
	MinIO       MinIO       `yaml:"minio"`
	BrandFilter BrandFilter `yaml:"brand_filter"`
}

type BrandFilter struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type Batch struct {
	Size         int           `yaml:"size"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type Reclaim struct {
	Interval  time.Duration `yaml:"interval"`
	Timeout   time.Duration `yaml:"timeout"`
	BatchSize int           `yaml:"batch_size"`
}

type Estimate struct {
	WorkFactor float64       `yaml:"work_factor"`
	PerItem    time.Duration `yaml:"per_item"`
	Channels   []string      `yaml:"channels"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Postgres struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

type NATS struct {
	URL           string `yaml:"url"`
	Name          string `yaml:"name"`
	MaxReconnects int    `yaml:"max_reconnects"`
	Subject       string `yaml:"subject"`
	Stream        string `yaml:"stream"`
}

type MinIO struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Bucket          string `yaml:"bucket"`
}

func MustLoad(path string) *Config {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("config: cannot read file %q: %v", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Fatalf("config: cannot unmarshal yaml: %v", err)
	}

	if cfg.Redis.Addr == "" {
		log.Fatalf("config: redis.addr is empty")
	}
	if cfg.Postgres.DSN == "" {
		log.Fatalf("config: postgres.dsn is empty")
	}
	if cfg.NATS.Subject == "" {
		log.Fatalf("config: nats.subject is empty")
	}
	if cfg.NATS.Stream == "" {
		log.Fatalf("config: nats.stream is empty")
	}
	if cfg.BrandFilter.URL == "" {
		log.Fatalf("config: brand_filter.url is empty")
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	if cfg.Batch.Size <= 0 {
		cfg.Batch.Size = 50
	}
	if cfg.Batch.PollInterval <= 0 {
		cfg.Batch.PollInterval = time.Second
	}
	if cfg.Reclaim.Interval <= 0 {
		cfg.Reclaim.Interval = time.Hour
	}
	if cfg.Reclaim.Timeout <= 0 {
		cfg.Reclaim.Timeout = 24 * time.Hour
	}
	if cfg.Reclaim.BatchSize <= 0 {
		cfg.Reclaim.BatchSize = 1000
	}
	if cfg.Estimate.WorkFactor <= 0 {
		cfg.Estimate.WorkFactor = 1
	}
	if cfg.Estimate.PerItem <= 0 {
		cfg.Estimate.PerItem = 3 * time.Second
	}
	if cfg.Postgres.MaxOpenConns <= 0 {
		cfg.Postgres.MaxOpenConns = 10
	}

	return &cfg
}
