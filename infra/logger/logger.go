package logger

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/gopayments/payflow/infra/opensearch"
)

// LogLevel represents the severity level of a log entry
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelFatal LogLevel = "fatal"
)

// LogContext holds contextual information for logging
type LogContext struct {
	Driver        string
	TransactionID string
	RequestID     string
	Fields        map[string]any
}

// SystemLogger handles structured logging to console and, when
// configured, OpenSearch.
type SystemLogger struct {
	openSearchLogger *opensearch.Logger
	minLevel         LogLevel
	service          string
}

// SystemLoggerConfig represents configuration for the system logger
type SystemLoggerConfig struct {
	MinLevel LogLevel
	Service  string
}

// NewSystemLogger creates a new system logger. openSearchLogger may be
// nil for console-only logging.
func NewSystemLogger(openSearchLogger *opensearch.Logger, cfg SystemLoggerConfig) *SystemLogger {
	if cfg.MinLevel == "" {
		cfg.MinLevel = LevelInfo
	}
	if cfg.Service == "" {
		cfg.Service = "payflow"
	}
	return &SystemLogger{
		openSearchLogger: openSearchLogger,
		minLevel:         cfg.MinLevel,
		service:          cfg.Service,
	}
}

// Debug logs a debug message
func (sl *SystemLogger) Debug(message string, ctx ...LogContext) {
	sl.log(LevelDebug, message, "", ctx...)
}

// Info logs an info message
func (sl *SystemLogger) Info(message string, ctx ...LogContext) {
	sl.log(LevelInfo, message, "", ctx...)
}

// Warn logs a warning message
func (sl *SystemLogger) Warn(message string, ctx ...LogContext) {
	sl.log(LevelWarn, message, "", ctx...)
}

// Error logs an error message
func (sl *SystemLogger) Error(message string, err error, ctx ...LogContext) {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	sl.log(LevelError, message, errMsg, ctx...)
}

// Fatal logs a fatal message and exits
func (sl *SystemLogger) Fatal(message string, err error, ctx ...LogContext) {
	sl.Error(message, err, ctx...)
	os.Exit(1)
}

func (sl *SystemLogger) log(level LogLevel, message, errMsg string, ctx ...LogContext) {
	if !sl.shouldLog(level) {
		return
	}

	logCtx := LogContext{}
	if len(ctx) > 0 {
		logCtx = ctx[0]
	}

	sl.logToConsole(level, message, errMsg, logCtx)

	if sl.openSearchLogger != nil {
		event := opensearch.Event{
			Timestamp:     time.Now().UTC(),
			Driver:        logCtx.Driver,
			Level:         string(level),
			Message:       message,
			TransactionID: logCtx.TransactionID,
			RequestID:     logCtx.RequestID,
			Error:         errMsg,
			Fields:        logCtx.Fields,
		}
		go func() {
			indexCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := sl.openSearchLogger.LogEvent(indexCtx, event); err != nil {
				log.Printf("opensearch event logging failed: %v", err)
			}
		}()
	}
}

func (sl *SystemLogger) logToConsole(level LogLevel, message, errMsg string, logCtx LogContext) {
	line := map[string]any{
		"level":   string(level),
		"service": sl.service,
		"message": message,
	}
	if logCtx.Driver != "" {
		line["driver"] = logCtx.Driver
	}
	if logCtx.TransactionID != "" {
		line["transaction_id"] = logCtx.TransactionID
	}
	if logCtx.RequestID != "" {
		line["request_id"] = logCtx.RequestID
	}
	if errMsg != "" {
		line["error"] = errMsg
	}
	if len(logCtx.Fields) > 0 {
		line["fields"] = logCtx.Fields
	}

	encoded, err := json.Marshal(line)
	if err != nil {
		log.Printf("[%s] %s %s", level, message, errMsg)
		return
	}
	log.Println(string(encoded))
}

func (sl *SystemLogger) shouldLog(level LogLevel) bool {
	levelOrder := map[LogLevel]int{
		LevelDebug: 0,
		LevelInfo:  1,
		LevelWarn:  2,
		LevelError: 3,
		LevelFatal: 4,
	}
	return levelOrder[level] >= levelOrder[sl.minLevel]
}
