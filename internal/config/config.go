package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Persistence drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Config is the complete sceneboard configuration.
//
// Values come from three sources, later ones overriding earlier ones:
// built-in defaults, the TOML file, and SCENEBOARD_* environment variables.
type Config struct {
	History   History   `toml:"history" envPrefix:"HISTORY_"`
	Persist   Persist   `toml:"persist" envPrefix:"PERSIST_"`
	Log       Log       `toml:"log" envPrefix:"LOG_"`
	Telemetry Telemetry `toml:"telemetry" envPrefix:"TELEMETRY_"`
	Metrics   Metrics   `toml:"metrics" envPrefix:"METRICS_"`
}

// History configures the undo history.
type History struct {
	// Capacity is the maximum number of undo entries.
	Capacity int `toml:"capacity" env:"CAPACITY"`
}

// Persist configures the remote store and the write dispatcher.
type Persist struct {
	// Driver selects the gateway: "memory" or "sqlite".
	Driver string `toml:"driver" env:"DRIVER"`
	// Path is the SQLite database file. Required for the sqlite driver.
	Path string `toml:"path" env:"PATH"`

	QueueSize      int      `toml:"queue_size" env:"QUEUE_SIZE"`
	Timeout        Duration `toml:"timeout" env:"TIMEOUT"`
	MaxTries       uint     `toml:"max_tries" env:"MAX_TRIES"`
	BackoffInitial Duration `toml:"backoff_initial" env:"BACKOFF_INITIAL"`
	BackoffMax     Duration `toml:"backoff_max" env:"BACKOFF_MAX"`
}

// Log configures the structured logger.
type Log struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level" env:"LEVEL"`
	// Format is text or json.
	Format string `toml:"format" env:"FORMAT"`
}

// Telemetry configures trace export. An empty endpoint disables it.
type Telemetry struct {
	Endpoint    string `toml:"endpoint" env:"ENDPOINT"`
	ServiceName string `toml:"service_name" env:"SERVICE_NAME"`
}

// Metrics configures the Prometheus listener. An empty address disables it.
type Metrics struct {
	Addr string `toml:"addr" env:"ADDR"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		History: History{Capacity: 100},
		Persist: Persist{
			Driver:         DriverMemory,
			QueueSize:      1024,
			Timeout:        Duration(5 * time.Second),
			MaxTries:       5,
			BackoffInitial: Duration(100 * time.Millisecond),
			BackoffMax:     Duration(5 * time.Second),
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Telemetry: Telemetry{ServiceName: "sceneboard"},
	}
}

// Validate reports every invalid setting. The returned error wraps
// ErrInvalidConfig and one *ValidationError per problem.
func (c Config) Validate() error {
	var errs []error
	bad := func(path string, value any, msg string) {
		errs = append(errs, &ValidationError{Path: path, Value: value, Message: msg})
	}

	if c.History.Capacity < 1 {
		bad("history.capacity", c.History.Capacity, "must be at least 1")
	}

	switch c.Persist.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Persist.Path == "" {
			bad("persist.path", c.Persist.Path, "required for the sqlite driver")
		}
	default:
		bad("persist.driver", c.Persist.Driver, "must be memory or sqlite")
	}
	if c.Persist.QueueSize < 1 {
		bad("persist.queue_size", c.Persist.QueueSize, "must be at least 1")
	}
	if c.Persist.Timeout <= 0 {
		bad("persist.timeout", c.Persist.Timeout, "must be positive")
	}
	if c.Persist.MaxTries < 1 {
		bad("persist.max_tries", c.Persist.MaxTries, "must be at least 1")
	}
	if c.Persist.BackoffInitial <= 0 {
		bad("persist.backoff_initial", c.Persist.BackoffInitial, "must be positive")
	}
	if c.Persist.BackoffMax < c.Persist.BackoffInitial {
		bad("persist.backoff_max", c.Persist.BackoffMax, "must not be less than backoff_initial")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		bad("log.level", c.Log.Level, "must be debug, info, warn or error")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		bad("log.format", c.Log.Format, "must be text or json")
	}

	if c.Telemetry.Endpoint != "" && c.Telemetry.ServiceName == "" {
		bad("telemetry.service_name", c.Telemetry.ServiceName, "required when an endpoint is set")
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
}

// Duration is a time.Duration written as a Go duration string ("250ms").
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String implements fmt.Stringer.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", b, err)
	}
	*d = Duration(v)
	return nil
}
