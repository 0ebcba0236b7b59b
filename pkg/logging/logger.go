// Package logging configures zerolog for the client and the proxy binary.
//
// Setup is called once at startup; packages then derive their loggers with
// NewLogger so every line carries a component field. Resource identifiers
// (PUUIDs, match IDs, Riot IDs) go through MaskID before they are logged.
// API keys are never logged.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel is a level name as accepted in LOG_LEVEL.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	Level LogLevel

	// Pretty switches from JSON lines to zerolog's console writer.
	Pretty bool

	// Output defaults to os.Stderr.
	Output io.Writer

	// Service, when set, is added to every line as "service".
	Service string
}

// DefaultConfig returns JSON output at info level on stderr.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// FromEnv builds a Config from LOG_LEVEL and LOG_PRETTY as returned by getenv.
func FromEnv(getenv func(string) string) Config {
	cfg := DefaultConfig()
	if level := getenv("LOG_LEVEL"); level != "" {
		cfg.Level = LogLevel(strings.ToLower(level))
	}
	switch strings.ToLower(getenv("LOG_PRETTY")) {
	case "1", "true", "yes":
		cfg.Pretty = true
	}
	return cfg
}

// Setup sets the global level and replaces log.Logger. The returned logger is
// the new global logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	log.Logger = ctx.Logger()
	return log.Logger
}

// parseLevel maps a level name to zerolog. Unknown or disabling names fall
// back to info so a typo in LOG_LEVEL never silences the process.
func parseLevel(level LogLevel) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(string(level)))
	if name == "warning" {
		name = "warn"
	}
	l, err := zerolog.ParseLevel(name)
	if err != nil || l == zerolog.NoLevel || l == zerolog.Disabled {
		return zerolog.InfoLevel
	}
	return l
}

// NewLogger derives a logger tagged with component from the global logger.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// MaskID shortens an identifier for logs, keeping the first six and last four
// characters. IDs of ten characters or fewer are replaced entirely.
func MaskID(id string) string {
	r := []rune(id)
	if len(r) <= 10 {
		return "***"
	}
	return string(r[:6]) + "..." + string(r[len(r)-4:])
}

// Level guidelines:
//
//	debug  cache hits and stores, cooldown waits, coalesced joins
//	info   success after retry, startup and shutdown
//	warn   404, each retry (status, attempt, backoff), 429 cooldowns,
//	       Redis and cache errors, breaker state changes
//	error  fatal responses with body snippet, retry exhaustion,
//	       undecodable bodies, bad configuration
//
// Common fields: component, type, id (masked), status, attempt, backoff,
// error_class, body.
