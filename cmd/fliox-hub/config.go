package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"

	fliox "github.com/friflo/fliox.go"
	"github.com/friflo/fliox.go/pkg/constants"
	"github.com/friflo/fliox.go/pkg/container"
	"github.com/friflo/fliox.go/pkg/container/file"
	"github.com/friflo/fliox.go/pkg/container/memory"
	"github.com/friflo/fliox.go/pkg/container/redis"
	"github.com/friflo/fliox.go/pkg/container/sqlite"
	"github.com/friflo/fliox.go/pkg/database"
	"github.com/friflo/fliox.go/pkg/hub"
	"github.com/friflo/fliox.go/pkg/models"
)

const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

type Config struct {
	Hub       hub.Info         `yaml:"hub"`
	Addr      string           `yaml:"addr"`
	Log       LogConfig        `yaml:"log"`
	Events    EventConfig      `yaml:"events"`
	Databases []DatabaseConfig `yaml:"databases"`
}

type LogConfig struct {
	// Format is json (zerolog) or text (log/slog).
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
	// File appends json records to a file instead of stderr.
	File string `yaml:"file"`
}

type EventConfig struct {
	QueueSize int    `yaml:"queueSize"`
	Overflow  string `yaml:"overflow"`
}

type DatabaseConfig struct {
	Name    string `yaml:"name"`
	Backend string `yaml:"backend"`
	// Path is the directory of a file backend or the database file of a
	// sqlite backend.
	Path string `yaml:"path"`
	// Redis is the address of the redis server of a redis backend.
	Redis  string `yaml:"redis"`
	Strict bool   `yaml:"strict"`
	// Containers maps container names to their key kind, e.g. int or string?.
	Containers map[string]string `yaml:"containers"`
}

func DefaultConfig() *Config {
	return &Config{
		Hub:  hub.Info{Name: "fliox-hub"},
		Addr: ":8010",
		Log:  LogConfig{Format: "text", Level: "info"},
		Events: EventConfig{
			QueueSize: constants.DefaultEventQueueSize,
			Overflow:  hub.DropOldest.String(),
		},
	}
}

// LoadConfig reads the yaml file at path over the defaults. An empty path
// uses the defaults only. Unknown fields are rejected.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.UnmarshalWithOptions(data, cfg, yaml.Strict()); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if len(cfg.Databases) == 0 {
		cfg.Databases = []DatabaseConfig{{Name: constants.DefaultDatabase, Backend: BackendMemory}}
	}
	return cfg, cfg.Validate()
}

// applyEnv lets FLIOX_* variables override the file.
func (c *Config) applyEnv() {
	c.Addr = fliox.GetEnvOrDefault("FLIOX_ADDR", c.Addr)
	c.Log.Format = fliox.GetEnvOrDefault("FLIOX_LOG_FORMAT", c.Log.Format)
	c.Log.Level = fliox.GetEnvOrDefault("FLIOX_LOG_LEVEL", c.Log.Level)
	c.Events.QueueSize = fliox.GetEnvIntOrDefault("FLIOX_EVENT_QUEUE_SIZE", c.Events.QueueSize)
	c.Events.Overflow = fliox.GetEnvOrDefault("FLIOX_EVENT_OVERFLOW", c.Events.Overflow)
}

func (c *Config) Validate() error {
	if c.Hub.Name == "" {
		return fmt.Errorf("%w: hub name is empty", constants.ErrValidation)
	}
	if c.Events.QueueSize <= 0 {
		return fmt.Errorf("%w: event queue size must be positive", constants.ErrValidation)
	}
	if _, err := hub.ParseOverflow(c.Events.Overflow); err != nil {
		return err
	}
	names := make(map[string]bool, len(c.Databases))
	for _, db := range c.Databases {
		if db.Name == "" {
			return fmt.Errorf("%w: database without name", constants.ErrValidation)
		}
		if names[db.Name] {
			return fmt.Errorf("%w: duplicate database %s", constants.ErrValidation, db.Name)
		}
		names[db.Name] = true
		if err := db.validate(); err != nil {
			return fmt.Errorf("database %s: %w", db.Name, err)
		}
	}
	return nil
}

func (d *DatabaseConfig) validate() error {
	switch d.Backend {
	case BackendMemory:
	case BackendFile, BackendSQLite:
		if d.Path == "" {
			return fmt.Errorf("%w: %s backend requires a path", constants.ErrValidation, d.Backend)
		}
	case BackendRedis:
		if d.Redis == "" {
			return fmt.Errorf("%w: redis backend requires an address", constants.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", constants.ErrValidation, d.Backend)
	}
	for name, kind := range d.Containers {
		if err := container.ValidName(name); err != nil {
			return err
		}
		if _, err := models.ParseKeyKind(kind); err != nil {
			return fmt.Errorf("container %s: %w", name, err)
		}
	}
	return nil
}

func (d *DatabaseConfig) backend() (container.Backend, error) {
	switch d.Backend {
	case BackendFile:
		return file.NewBackend(d.Path), nil
	case BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(d.Path), 0o755); err != nil {
			return nil, err
		}
		return sqlite.Open(d.Path)
	case BackendRedis:
		return redis.NewBackend(redis.NewGoRedis(d.Redis), d.Name), nil
	}
	return memory.NewBackend(), nil
}

func (d *DatabaseConfig) database() (*database.Database, error) {
	backend, err := d.backend()
	if err != nil {
		return nil, fmt.Errorf("open %s backend of database %s: %w", d.Backend, d.Name, err)
	}
	opts := make([]database.Option, 0, len(d.Containers)+1)
	for name, kind := range d.Containers {
		k, err := models.ParseKeyKind(kind)
		if err != nil {
			_ = backend.Close()
			return nil, err
		}
		opts = append(opts, database.WithContainer(name, k))
	}
	if d.Strict {
		opts = append(opts, database.WithStrictSchema())
	}
	return database.New(d.Name, backend, opts...), nil
}

// NewHub creates the hub serving the configured databases.
func NewHub(cfg *Config, opts ...hub.Option) (*hub.Hub, error) {
	overflow, err := hub.ParseOverflow(cfg.Events.Overflow)
	if err != nil {
		return nil, err
	}
	opts = append(opts, hub.WithEventQueue(cfg.Events.QueueSize, overflow))
	h := hub.New(cfg.Hub, opts...)
	for i := range cfg.Databases {
		db, err := cfg.Databases[i].database()
		if err != nil {
			_ = h.Close()
			return nil, err
		}
		h.AddDatabase(db)
	}
	return h, nil
}
