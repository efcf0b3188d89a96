// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/executor"
	"github.com/pbinitiative/zenpvm/pkg/bpmn/jobs"
	"gopkg.in/yaml.v3"
)

const (
	StorageInMemory = "inmemory"
	StorageBolt     = "bolt"

	CacheFIFO = "fifo"
	CacheLRU  = "lru"
)

type Config struct {
	// Server is the admin REST server
	Server Server `yaml:"server" json:"server"`
	// Name is used for OTEL as an application identifier
	Name          string        `yaml:"name" json:"name" env:"NAME" env-default:"zenpvm"`
	Tracing       Tracing       `yaml:"tracing" json:"tracing"`
	Storage       Storage       `yaml:"storage" json:"storage"`
	Engine        Engine        `yaml:"engine" json:"engine"`
	AsyncExecutor AsyncExecutor `yaml:"asyncExecutor" json:"asyncExecutor"`
	Retry         Retry         `yaml:"retry" json:"retry"`
}

type Server struct {
	Addr string `yaml:"addr" json:"addr" env:"REST_API_ADDR" env-default:":8080"`
}

type Tracing struct {
	Enabled         bool     `yaml:"enabled" json:"enabled" env:"OTEL_ENABLED" env-default:"false"`
	Endpoint        string   `yaml:"endpoint" json:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT" env-default:"localhost:4318"`
	Name            string   `yaml:"name" json:"name" env:"OTEL_SERVICE_NAME" env-default:"zenpvm"`
	TransferHeaders []string `yaml:"transferHeaders,omitempty" json:"transferHeaders" env:"OTEL_TRANSFER_HEADERS"`
}

type Storage struct {
	Type string `yaml:"type" json:"type" env:"STORAGE_TYPE" env-default:"inmemory"`
	// Path of the bolt database file
	Path    string        `yaml:"path" json:"path" env:"STORAGE_PATH" env-default:"zenpvm.db"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" env:"STORAGE_TIMEOUT" env-default:"1s"`
}

type Engine struct {
	DeploymentCacheLimit int    `yaml:"deploymentCacheLimit" json:"deploymentCacheLimit" env:"ENGINE_DEPLOYMENT_CACHE_LIMIT" env-default:"100"`
	DeploymentCache      string `yaml:"deploymentCache" json:"deploymentCache" env:"ENGINE_DEPLOYMENT_CACHE" env-default:"fifo"`
}

type AsyncExecutor struct {
	Enabled             bool          `yaml:"enabled" json:"enabled" env:"ASYNC_EXECUTOR_ENABLED" env-default:"true"`
	PoolSize            int           `yaml:"poolSize" json:"poolSize" env:"ASYNC_EXECUTOR_POOL_SIZE" env-default:"4"`
	QueueSize           int           `yaml:"queueSize" json:"queueSize" env:"ASYNC_EXECUTOR_QUEUE_SIZE" env-default:"16"`
	AcquisitionBatch    int           `yaml:"acquisitionBatch" json:"acquisitionBatch" env:"ASYNC_EXECUTOR_ACQUISITION_BATCH" env-default:"8"`
	AcquisitionInterval time.Duration `yaml:"acquisitionInterval" json:"acquisitionInterval" env:"ASYNC_EXECUTOR_ACQUISITION_INTERVAL" env-default:"5s"`
	LockDuration        time.Duration `yaml:"lockDuration" json:"lockDuration" env:"ASYNC_EXECUTOR_LOCK_DURATION" env-default:"5m"`
	LockOwner           string        `yaml:"lockOwner" json:"lockOwner" env:"ASYNC_EXECUTOR_LOCK_OWNER"`
	BreakerFailures     uint32        `yaml:"breakerFailures" json:"breakerFailures" env:"ASYNC_EXECUTOR_BREAKER_FAILURES" env-default:"5"`
	BreakerTimeout      time.Duration `yaml:"breakerTimeout" json:"breakerTimeout" env:"ASYNC_EXECUTOR_BREAKER_TIMEOUT" env-default:"30s"`
}

func (a AsyncExecutor) ExecutorConfig() executor.Config {
	return executor.Config{
		PoolSize:            a.PoolSize,
		QueueSize:           a.QueueSize,
		AcquisitionBatch:    a.AcquisitionBatch,
		AcquisitionInterval: a.AcquisitionInterval,
		LockDuration:        a.LockDuration,
		LockOwner:           a.LockOwner,
		BreakerFailures:     a.BreakerFailures,
		BreakerTimeout:      a.BreakerTimeout,
	}
}

type Retry struct {
	Retries    int           `yaml:"retries" json:"retries" env:"RETRY_RETRIES" env-default:"3"`
	Wait       time.Duration `yaml:"wait" json:"wait" env:"RETRY_WAIT" env-default:"10s"`
	Multiplier float64       `yaml:"multiplier" json:"multiplier" env:"RETRY_MULTIPLIER" env-default:"1"`
	MaxWait    time.Duration `yaml:"maxWait" json:"maxWait" env:"RETRY_MAX_WAIT"`
}

func (r Retry) RetryPolicy() jobs.RetryPolicy {
	return jobs.RetryPolicy{Retries: r.Retries, Wait: r.Wait, Multiplier: r.Multiplier, MaxWait: r.MaxWait}
}

func (c Config) validate() error {
	var errs error
	switch c.Storage.Type {
	case StorageInMemory, StorageBolt:
	default:
		errs = errors.Join(errs, fmt.Errorf("unknown storage type %q", c.Storage.Type))
	}
	switch c.Engine.DeploymentCache {
	case CacheFIFO, CacheLRU:
	default:
		errs = errors.Join(errs, fmt.Errorf("unknown deployment cache %q", c.Engine.DeploymentCache))
	}
	if c.Retry.Retries < 0 {
		errs = errors.Join(errs, fmt.Errorf("retries must not be negative, got %d", c.Retry.Retries))
	}
	return errs
}

// Yaml renders the effective configuration in the format of conf.yaml.
func (c Config) Yaml() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal configuration: %w", err)
	}
	return string(out), nil
}

func InitConfig() Config {
	c, err := ReadConfig()
	if err != nil {
		fmt.Printf("Error occurred while reading the configuration: %s\n", err)
		panic(err)
	}
	return c
}

// ReadConfig reads CONFIG_FILE, ./conf.yaml when it is not set, or the
// environment when the file does not exist.
func ReadConfig() (Config, error) {
	c := Config{}
	var fileName string
	confFile := os.Getenv("CONFIG_FILE")
	if confFile == "" {
		wd, err := os.Getwd()
		if err != nil {
			return c, err
		}
		fileName = fmt.Sprintf("%s/conf.yaml", wd)
	} else {
		fileName = confFile
	}
	var err error
	if _, perr := os.Stat(fileName); errors.Is(perr, os.ErrNotExist) {
		err = cleanenv.ReadEnv(&c)
		fmt.Printf("Configuration file %s not found. Reading config from ENV.\n", fileName)
	} else {
		err = cleanenv.ReadConfig(fileName, &c)
	}
	if err != nil {
		return c, err
	}
	return c, c.validate()
}
