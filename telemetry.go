package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ToolCallEvent is the structured record LogToolCall emits for every
// terminal ToolCall, the scheduler's only durable trace of what ran.
type ToolCallEvent struct {
	CallID     string
	ToolName   string
	Status     ToolCallStatus
	DurationMs int64
	ErrorType  string
	Outcome    ConfirmationOutcome
}

var telemetryLogger *slog.Logger

// initTelemetry wires a slog.Logger rotated through lumberjack, the
// same rotation strategy the teacher's initLogger used for its own
// application log.
func initTelemetry(cfg *Config) *slog.Logger {
	path := cfg.Logging.File
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		path = filepath.Join(home, ".local", "share", "toolsched", "toolsched.log")
	}
	_ = os.MkdirAll(filepath.Dir(path), 0o755)

	writer := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}

	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	handler := slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: level})
	telemetryLogger = slog.New(handler)
	return telemetryLogger
}

// LogToolCall records a terminal ToolCall's outcome. Safe to call
// before initTelemetry (falls back to slog.Default()).
func LogToolCall(event ToolCallEvent) {
	logger := telemetryLogger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("tool_call",
		slog.String("call_id", event.CallID),
		slog.String("tool", event.ToolName),
		slog.String("status", string(event.Status)),
		slog.Int64("duration_ms", event.DurationMs),
		slog.String("error_type", event.ErrorType),
		slog.String("outcome", string(event.Outcome)),
		slog.Time("logged_at", time.Now()),
	)
}
