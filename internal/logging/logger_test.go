package logging

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerDefaultsToStderr(t *testing.T) {
	logger := NewLogger(nil)
	require.NotNil(t, logger)
	require.Equal(t, os.Stderr, logger.logger.Writer())
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("should be suppressed")
	logger.Info("should also be suppressed")
	require.Empty(t, buf.String())

	logger.Warn("visible")
	require.Contains(t, buf.String(), "[WARN] visible")
}

func TestLoggerPrintfIsInfoLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelInfo, Output: &buf})

	logger.Printf("block %d allocated", 7)
	require.Contains(t, buf.String(), "[INFO] block 7 allocated")
}

func TestLoggerDebugfFormatsArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Debugf("bat[%d]=%#x", 3, uint32(0xFFFFFFFF))
	require.Contains(t, buf.String(), "[DEBUG] bat[3]=0xffffffff")
}

func TestSetDefaultAndGlobalFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))

	Debug("debug message", "key", "value")
	require.Contains(t, buf.String(), "debug message")
	require.Contains(t, buf.String(), "key=value")

	buf.Reset()
	Error("error message")
	require.Contains(t, buf.String(), "[ERROR] error message")
}
