package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/godbus/dbus/v5"
)

// Config holds the resolved configuration for every sysgenid command.
type Config struct {
	Core     Core
	Bus      Bus
	Metrics  Metrics
	Overseer Overseer
	Watcher  Watcher
	Paths    Paths
	// Warnings collects non-fatal problems found while loading.
	Warnings []string
}

// Core holds process-wide settings.
type Core struct {
	Debug     bool
	LogFormat string
	// LogFile, when set, receives a copy of every log record.
	LogFile string
}

// BusType selects which message bus to connect to.
type BusType string

const (
	BusSession BusType = "session"
	BusSystem  BusType = "system"
	// BusAddress connects to the bus at Bus.Address.
	BusAddress BusType = "address"
)

// Bus describes where the coordinator lives on the bus.
type Bus struct {
	Type    BusType
	Address string
	// Name is the well-known name the service requests.
	Name string
	Path string
	// CallTimeout bounds each client method call.
	CallTimeout time.Duration
}

// ObjectPath returns Path as a bus object path.
func (b Bus) ObjectPath() dbus.ObjectPath {
	return dbus.ObjectPath(b.Path)
}

// Metrics configures the optional metrics and health endpoint of serve.
type Metrics struct {
	Enabled bool
	Host    string
	Port    int
}

// Addr returns the listen address.
func (m Metrics) Addr() string {
	return net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
}

// Overseer configures the quiesce, trigger and unquiesce workflow.
type Overseer struct {
	MinGen uint32
	// Timeout bounds the wait for readiness. Zero waits forever.
	Timeout      time.Duration
	PollInterval time.Duration
	// QuiesceCommand and UnquiesceCommand are optional shell commands run
	// around the generation change.
	QuiesceCommand   string
	UnquiesceCommand string
}

// Watcher configures the watcher agent.
type Watcher struct {
	Tracking bool
	// OnGeneration is an optional shell command run after every new
	// generation, before acknowledging it.
	OnGeneration string
}

// Paths records files that were consulted.
type Paths struct {
	ConfigFileUsed string
	EnvFileUsed    string
}

var (
	ErrInvalidLogFormat = errors.New("invalid log format")
	ErrInvalidBus       = errors.New("invalid bus configuration")
	ErrInvalidMetrics   = errors.New("invalid metrics configuration")
	ErrInvalidOverseer  = errors.New("invalid overseer configuration")
)

// Validate checks the configuration for values no command can work with.
func (c *Config) Validate() error {
	if err := c.validateCore(); err != nil {
		return err
	}
	if err := c.validateBus(); err != nil {
		return err
	}
	if err := c.validateMetrics(); err != nil {
		return err
	}
	if err := c.validateOverseer(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateCore() error {
	switch c.Core.LogFormat {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("%w: %q (must be text or json)", ErrInvalidLogFormat, c.Core.LogFormat)
	}
}

func (c *Config) validateBus() error {
	switch c.Bus.Type {
	case BusSession, BusSystem:
	case BusAddress:
		if c.Bus.Address == "" {
			return fmt.Errorf("%w: bus.address is required when bus.type is %q", ErrInvalidBus, BusAddress)
		}
	default:
		return fmt.Errorf("%w: unknown bus.type %q", ErrInvalidBus, c.Bus.Type)
	}
	if c.Bus.Name == "" {
		return fmt.Errorf("%w: bus.name must not be empty", ErrInvalidBus)
	}
	if !c.Bus.ObjectPath().IsValid() {
		return fmt.Errorf("%w: bus.path %q is not a valid object path", ErrInvalidBus, c.Bus.Path)
	}
	return nil
}

func (c *Config) validateMetrics() error {
	if !c.Metrics.Enabled {
		return nil
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidMetrics, c.Metrics.Port)
	}
	return nil
}

func (c *Config) validateOverseer() error {
	if c.Overseer.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", ErrInvalidOverseer)
	}
	if c.Overseer.PollInterval <= 0 {
		return fmt.Errorf("%w: poll_interval must be positive", ErrInvalidOverseer)
	}
	return nil
}
