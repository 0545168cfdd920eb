package config

import (
	"fmt"
	"os"
	"time"

	"github.com/cuemby/alpinekube/pkg/health"
	"github.com/cuemby/alpinekube/pkg/runtime"
	"github.com/cuemby/alpinekube/pkg/types"
	"gopkg.in/yaml.v3"
)

// Config is the control plane configuration file
type Config struct {
	APIAddr        string        `yaml:"api_addr"`
	APISocket      string        `yaml:"api_socket"` // Read-only Unix socket, disabled when empty
	HealthAddr     string        `yaml:"health_addr"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	UnhealthyAfter time.Duration `yaml:"unhealthy_after"`
	RemoveAfter    time.Duration `yaml:"remove_after"`
	RestartTimeout time.Duration `yaml:"restart_timeout"`

	Runtime RuntimeConfig `yaml:"runtime"`
	Journal JournalConfig `yaml:"journal"`
	Log     LogConfig     `yaml:"log"`
}

// RuntimeConfig selects the node runtime driver
type RuntimeConfig struct {
	Driver           string `yaml:"driver"`
	Image            string `yaml:"image"`
	ContainerdSocket string `yaml:"containerd_socket"`
	Namespace        string `yaml:"namespace"`
	MemoryPerCPUMB   int64  `yaml:"memory_per_cpu_mb"`
}

// JournalConfig enables the event journal when Path is set
type JournalConfig struct {
	Path string `yaml:"path"`
}

// LogConfig configures logging
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the built-in configuration
func Default() *Config {
	hc := health.DefaultConfig()
	return &Config{
		APIAddr:        "127.0.0.1:7070",
		HealthAddr:     "127.0.0.1:9090",
		SweepInterval:  5 * time.Second,
		UnhealthyAfter: hc.UnhealthyAfter,
		RemoveAfter:    hc.RemoveAfter,
		RestartTimeout: hc.RestartTimeout,
		Runtime: RuntimeConfig{
			Driver:           runtime.DriverSimulated,
			Image:            runtime.DefaultImage,
			ContainerdSocket: runtime.DefaultSocketPath,
			Namespace:        runtime.DefaultNamespace,
			MemoryPerCPUMB:   512,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the control plane cannot run with
func (c *Config) Validate() error {
	if c.APIAddr == "" {
		return types.NewInvalidArgument("api_addr is required")
	}
	if c.SweepInterval <= 0 {
		return types.NewInvalidArgument("sweep_interval must be positive, got %s", c.SweepInterval)
	}
	if err := c.Health().Validate(); err != nil {
		return err
	}
	switch c.Runtime.Driver {
	case runtime.DriverSimulated, runtime.DriverContainerd, runtime.DriverDocker:
	default:
		return types.NewInvalidArgument("unknown runtime driver %q", c.Runtime.Driver)
	}
	if c.Runtime.MemoryPerCPUMB <= 0 {
		return types.NewInvalidArgument("runtime.memory_per_cpu_mb must be positive, got %d", c.Runtime.MemoryPerCPUMB)
	}
	return nil
}

// Health returns the health controller thresholds
func (c *Config) Health() health.Config {
	return health.Config{
		UnhealthyAfter: c.UnhealthyAfter,
		RemoveAfter:    c.RemoveAfter,
		RestartTimeout: c.RestartTimeout,
	}
}

// RuntimeDriver returns the runtime driver configuration
func (c *Config) RuntimeDriver() runtime.Config {
	return runtime.Config{
		Driver:           c.Runtime.Driver,
		ContainerdSocket: c.Runtime.ContainerdSocket,
		Namespace:        c.Runtime.Namespace,
	}
}

// MemoryBytes returns the memory limit for a node with cpu cores
func (c *Config) MemoryBytes(cpu int) int64 {
	return int64(cpu) * c.Runtime.MemoryPerCPUMB << 20
}
