package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bryanchriswhite/garp/internal/capture"
	"github.com/bryanchriswhite/garp/internal/logger"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid config")

// Validate checks cfg and reports every problem found.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if cfg.Host == "" {
		add("host is required")
	}
	if err := validatePort(cfg.Port); err != nil {
		add("port %q: %v", cfg.Port, err)
	}
	if cfg.LocalOnly && cfg.Host != "localhost" && cfg.Host != "127.0.0.1" {
		add("host %q is not local; local_only allows localhost or 127.0.0.1", cfg.Host)
	}
	if !validLevel(cfg.LogLevel) {
		add("log_level %q (use: debug, info, warn, error)", cfg.LogLevel)
	}

	c := cfg.Capture
	if !capture.ValidBackend(c.Backend) {
		add("capture.backend %q (use: %s, %s)", c.Backend, capture.BackendAuto, strings.Join(capture.BackendNames, ", "))
	}
	if c.OutputIndex < 0 {
		add("capture.output_index must not be negative")
	}
	if c.AcquireTimeout <= 0 {
		add("capture.acquire_timeout must be positive")
	}
	if c.ProbeTimeout <= 0 {
		add("capture.probe_timeout must be positive")
	}
	if c.PollInterval < 0 {
		add("capture.poll_interval must not be negative")
	}
	if c.FPS < 0 {
		add("capture.fps must not be negative")
	}
	if c.Retry.Attempts < 1 {
		add("capture.retry.attempts must be at least 1")
	}
	if c.Retry.Backoff < 0 {
		add("capture.retry.backoff must not be negative")
	}

	return errors.Join(errs...)
}

// validatePort accepts any value of at least 4 characters that parses as a
// uint16, with an optional leading '+' ("+8080" and "065535" are valid).
func validatePort(port string) error {
	if len(port) < 4 {
		return errors.New("must be at least 4 characters")
	}
	if _, err := strconv.ParseUint(strings.TrimPrefix(port, "+"), 10, 16); err != nil {
		return errors.New("must be a number no greater than 65535")
	}
	return nil
}

func validLevel(level string) bool {
	switch logger.LogLevel(strings.ToLower(level)) {
	case logger.DebugLevel, logger.InfoLevel, logger.WarnLevel, logger.ErrorLevel, "warning":
		return true
	}
	return false
}

// ParseValue converts a command-line string into the type stored under key.
func ParseValue(key, raw string) (any, error) {
	switch key {
	case "local_only", "log_pretty":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid boolean: %s (use: true or false)", raw)
		}
		return b, nil
	case "capture.output_index", "capture.fps", "capture.retry.attempts":
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid number: %s", raw)
		}
		return n, nil
	case "capture.acquire_timeout", "capture.probe_timeout", "capture.poll_interval", "capture.retry.backoff":
		if _, err := time.ParseDuration(raw); err != nil {
			return nil, fmt.Errorf("invalid duration: %s (e.g. 200ms)", raw)
		}
		// Stored as written so the file stays readable
		return raw, nil
	case "host", "port", "log_level", "capture.backend", "capture.display":
		return raw, nil
	default:
		return nil, fmt.Errorf("unknown configuration key: %s", key)
	}
}
