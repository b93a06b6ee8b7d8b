// Package config holds the settings of the serve command.
//
// Settings come from an optional YAML file; flags given on the command line
// override what the file sets.
//
//	addr: ":8080"
//	graphs: ["./dialogues"]
//	log:
//	  level: info
//	  format: json
//	store:
//	  driver: redis
//	  redis:
//	    addr: localhost:6379
//	    ttl: 24h
//	  encryption_key: "<64 hex chars>"
//	  mask: ["(?i)password"]
package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverRedis  = "redis"
)

// Config is the full serve configuration.
type Config struct {
	Addr        string      `yaml:"addr"`
	Graphs      []string    `yaml:"graphs"`
	Log         Log         `yaml:"log"`
	Store       Store       `yaml:"store"`
	Engine      Engine      `yaml:"engine"`
	Replication Replication `yaml:"replication"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Store selects where snapshots are persisted.
type Store struct {
	Driver        string   `yaml:"driver"`
	Dir           string   `yaml:"dir"`
	Redis         Redis    `yaml:"redis"`
	KeepTerminal  bool     `yaml:"keep_terminal"`
	EncryptionKey string   `yaml:"encryption_key"`
	Mask          []string `yaml:"mask"`
}

// Redis configures the redis client shared by the store, the locker and the frame bus.
type Redis struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

// Engine tunes the traversal engine.
type Engine struct {
	HistoryCap int `yaml:"history_cap"`
	StepLimit  int `yaml:"step_limit"`
	QueueSize  int `yaml:"queue_size"`
}

// Replication tunes the coordinator.
type Replication struct {
	Backlog    int  `yaml:"backlog"`
	BufferSize int  `yaml:"buffer_size"`
	PubSub     bool `yaml:"pubsub"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Addr:   ":8080",
		Graphs: []string{"."},
		Log:    Log{Level: "info", Format: "text"},
		Store: Store{
			Driver: DriverMemory,
			Dir:    ".parley/snapshots",
			Redis:  Redis{Addr: "localhost:6379", Prefix: "parley:"},
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := Decode(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Decode overlays YAML data on cfg. Unknown keys are rejected.
func Decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return cfg.Validate()
}

// Validate checks the configuration for values the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if len(c.Graphs) == 0 {
		errs = append(errs, errors.New("at least one graph path is required"))
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverFile:
		if c.Store.Dir == "" {
			errs = append(errs, errors.New("store.dir is required for the file driver"))
		}
	case DriverRedis:
		if c.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("store.redis.addr is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	if c.Replication.PubSub && c.Store.Driver != DriverRedis {
		errs = append(errs, errors.New("replication.pubsub requires the redis store driver"))
	}
	for _, pattern := range c.Store.Mask {
		if _, err := regexp.Compile(pattern); err != nil {
			errs = append(errs, fmt.Errorf("store.mask: %w", err))
		}
	}
	if c.Store.EncryptionKey != "" {
		if _, err := c.Store.Key(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Key decodes the hex encryption key. It returns nil when encryption is off.
func (s Store) Key() ([]byte, error) {
	if s.EncryptionKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(s.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("store.encryption_key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("store.encryption_key: want 32 bytes, got %d", len(key))
	}
	return key, nil
}
