package pstore

import "github.com/behrlich/go-pstore/internal/logging"

// LogConfig configures the structured logger every manager instance derives
// per-call contextual loggers from (WithHandle/WithItem/WithOp/WithError).
type LogConfig = logging.Config

// LogLevel selects the minimum severity a logger emits.
type LogLevel = logging.LogLevel

const (
	LogDebug = logging.LevelDebug
	LogInfo  = logging.LevelInfo
	LogWarn  = logging.LevelWarn
	LogError = logging.LevelError
)

// DefaultLogConfig returns the package's default logger configuration
// (text output to stderr at Info level).
func DefaultLogConfig() *LogConfig { return logging.DefaultConfig() }
