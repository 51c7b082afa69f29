package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitTelemetryCreatesLogFileDirectory(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "nested", "toolsched.log")
	cfg := &Config{Logging: LoggingConfig{File: logPath, Level: "debug"}}

	logger := initTelemetry(cfg)
	assert.NotNil(t, logger)

	assert.DirExists(t, filepath.Dir(logPath))
}

func TestLogToolCallDoesNotPanicBeforeInitTelemetry(t *testing.T) {
	telemetryLogger = nil
	assert.NotPanics(t, func() {
		LogToolCall(ToolCallEvent{CallID: "c1", ToolName: "echo", Status: StatusSuccess})
	})
}
