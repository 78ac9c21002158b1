package vhd

import (
	"io"

	"github.com/ehrlich-b/go-vhd/internal/logging"
)

// LogLevel selects the verbosity of a std logger built by NewStdLogger.
type LogLevel = logging.LogLevel

const (
	LevelDebug = logging.LevelDebug
	LevelInfo  = logging.LevelInfo
	LevelWarn  = logging.LevelWarn
	LevelError = logging.LevelError
)

// NewStdLogger builds a Logger that writes level-prefixed lines to w. A nil
// w defaults to os.Stderr, matching the teacher's logging.DefaultConfig.
func NewStdLogger(w io.Writer, level LogLevel) Logger {
	return logging.NewLogger(&logging.Config{Level: level, Output: w})
}
