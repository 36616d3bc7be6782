package server

import (
	"errors"
	"time"

	"github.com/cyclopcam/glyphs/pkg/coordinator"
	"github.com/cyclopcam/glyphs/server/storage"
	"github.com/cyclopcam/logs"
)

type Config struct {
	RoundDB       string        `json:"roundDB"`       // Path to the sqlite audit log of rounds
	Storage       StorageConfig `json:"storage"`       // Blob store for image data and models
	Cache         string        `json:"cache"`         // Path to the model cache directory
	CacheBytes    int64         `json:"cacheBytes"`    // Maximum size of the model cache
	AdminKeyHash  string        `json:"adminKeyHash"`  // Output of 'glyphctl hashkey'. Admin APIs are disabled if empty.
	Workers       int           `json:"workers"`       // Worker pool size of each coordinator
	StaggerMS     int           `json:"staggerMS"`     // Delay between starting each worker
	DemoRateLimit int           `json:"demoRateLimit"` // Recognition requests per minute, per IP

	hotReloadWWW bool
}

// One of the storage options must be configured (i.e. either 'filesystem' or 'gcs')
type StorageConfig struct {
	Filesystem *StorageConfigFS  `json:"filesystem"`
	GCS        *StorageConfigGCS `json:"gcs"`
}

type StorageConfigFS struct {
	Root string `json:"root"` // Path to the root of the filesystem
}

type StorageConfigGCS struct {
	Bucket string `json:"bucket"` // Name of the GCS bucket
}

func (c *StorageConfig) open(log logs.Log) (storage.Storage, error) {
	switch {
	case c.GCS != nil:
		return storage.NewStorageGCS(log, c.GCS.Bucket)
	case c.Filesystem != nil:
		return storage.NewStorageFS(log, c.Filesystem.Root)
	}
	return nil, errors.New("storage must name either 'filesystem' or 'gcs'")
}

func (c *Config) setDefaults() {
	if c.RoundDB == "" {
		c.RoundDB = "rounds.sqlite"
	}
	if c.Cache == "" {
		c.Cache = "model-cache"
	}
	if c.CacheBytes == 0 {
		c.CacheBytes = 64 * 1024 * 1024
	}
	if c.DemoRateLimit == 0 {
		c.DemoRateLimit = 120
	}
}

func (c *Config) coordinatorConfig() coordinator.Config {
	cfg := coordinator.DefaultConfig()
	if c.Workers != 0 {
		cfg.Workers = c.Workers
	}
	if c.StaggerMS != 0 {
		cfg.Stagger = time.Duration(c.StaggerMS) * time.Millisecond
	}
	return cfg
}
