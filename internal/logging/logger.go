// Package logging provides structured logging for rpc2ctl.
// It wraps log/slog with level handling, component loggers and redaction of
// credentials and session tokens.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity of log messages
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a level name to a LogLevel, defaulting to InfoLevel.
func ParseLevel(name string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Logger provides structured logging with component context
type Logger struct {
	logger    *slog.Logger
	level     LogLevel
	component string
}

// Config represents logging configuration
type Config struct {
	Level     LogLevel
	Format    string // "json" or "text"
	Output    string // "stdout", "stderr", "discard" or file path
	Component string
	// Writer overrides Output when set.
	Writer io.Writer
}

// DefaultConfig returns the default logging configuration. The console UI owns
// the terminal, so logs go to stderr.
func DefaultConfig() Config {
	return Config{
		Level:     InfoLevel,
		Format:    "text",
		Output:    "stderr",
		Component: "rpc2ctl",
	}
}

// sensitiveKeys are attribute names whose values never reach the log.
var sensitiveKeys = []string{"password", "session", "token", "secret"}

func redact(groups []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, s := range sensitiveKeys {
		if strings.Contains(key, s) {
			return slog.String(a.Key, "[REDACTED]")
		}
	}
	return a
}

// NewLogger creates a new logger with the specified configuration
func NewLogger(config Config) (*Logger, error) {
	output := config.Writer
	if output == nil {
		switch config.Output {
		case "stdout":
			output = os.Stdout
		case "stderr", "":
			output = os.Stderr
		case "discard":
			output = io.Discard
		default:
			file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return nil, fmt.Errorf("failed to open log file %s: %w", config.Output, err)
			}
			output = file
		}
	}

	opts := &slog.HandlerOptions{
		Level:       slogLevel(config.Level),
		ReplaceAttr: redact,
	}

	var handler slog.Handler
	switch config.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return &Logger{
		logger:    slog.New(handler),
		level:     config.Level,
		component: config.Component,
	}, nil
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	l, _ := NewLogger(Config{Level: ErrorLevel, Writer: io.Discard})
	return l
}

// slogLevel converts our LogLevel to slog.Level
func slogLevel(level LogLevel) slog.Level {
	switch level {
	case DebugLevel:
		return slog.LevelDebug
	case InfoLevel:
		return slog.LevelInfo
	case WarnLevel:
		return slog.LevelWarn
	case ErrorLevel:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent creates a new logger for a specific component
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		logger:    l.logger.With(slog.String("component", component)),
		level:     l.level,
		component: component,
	}
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{
		logger:    l.logger.With(slog.Any(key, value)),
		level:     l.level,
		component: l.component,
	}
}

// Debug logs a debug level message
func (l *Logger) Debug(msg string, args ...any) {
	if l.level <= DebugLevel {
		l.logger.Debug(msg, args...)
	}
}

// Info logs an info level message
func (l *Logger) Info(msg string, args ...any) {
	if l.level <= InfoLevel {
		l.logger.Info(msg, args...)
	}
}

// Warn logs a warning level message
func (l *Logger) Warn(msg string, args ...any) {
	if l.level <= WarnLevel {
		l.logger.Warn(msg, args...)
	}
}

// Error logs an error level message
func (l *Logger) Error(msg string, args ...any) {
	if l.level <= ErrorLevel {
		l.logger.Error(msg, args...)
	}
}

// LogOperation logs the start and end of an operation with duration
func (l *Logger) LogOperation(operation string, fn func() error) error {
	start := time.Now()
	opLogger := l.WithField("operation", operation)

	opLogger.Debug("Operation starting")

	err := fn()
	duration := time.Since(start)

	if err != nil {
		opLogger.Error("Operation failed",
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return err
	}

	opLogger.Debug("Operation completed", slog.Duration("duration", duration))
	return nil
}

// LogEnvelope logs an outgoing request without its params or session.
func (l *Logger) LogEnvelope(method string, id int64, url string, hasObject bool) {
	l.Debug("Sending envelope",
		slog.String("method", method),
		slog.Int64("id", id),
		slog.String("url", url),
		slog.Bool("object", hasObject))
}

// LogHTTPRequest logs HTTP request details (without sensitive data)
func (l *Logger) LogHTTPRequest(url string, statusCode int, duration time.Duration) {
	l.Debug("HTTP request completed",
		slog.String("url", url),
		slog.Int("status_code", statusCode),
		slog.Duration("duration", duration))
}

// LogLoginStep logs progress through the login handshake
func (l *Logger) LogLoginStep(host, username, state string) {
	l.Debug("Login state change",
		slog.String("host", host),
		slog.String("user", username),
		slog.String("state", state))
}

// LogConfigLoad logs configuration loading operations
func (l *Logger) LogConfigLoad(configPath string, profileName string) {
	l.Debug("Loading configuration",
		slog.String("config_path", configPath),
		slog.String("profile", profileName))
}

// LogKeepAlive logs keep-alive monitor results
func (l *Logger) LogKeepAlive(status string, responseTime time.Duration, err error) {
	fields := []any{
		slog.String("status", status),
		slog.Duration("response_time", responseTime),
	}
	if err != nil {
		fields = append(fields, slog.String("error", err.Error()))
		l.Warn("Keep-alive failed", fields...)
		return
	}
	l.Debug("Keep-alive completed", fields...)
}

// Global logger instance
var (
	globalMu     sync.Mutex
	globalLogger *Logger
)

// InitGlobalLogger initializes the global logger with the specified configuration
func InitGlobalLogger(config Config) error {
	logger, err := NewLogger(config)
	if err != nil {
		return fmt.Errorf("failed to initialize global logger: %w", err)
	}
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = logger
	return nil
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger, _ = NewLogger(DefaultConfig())
	}
	return globalLogger
}

// Component-specific logger creators
func GetProtocolLogger() *Logger {
	return GetGlobalLogger().WithComponent("protocol")
}

func GetAuthLogger() *Logger {
	return GetGlobalLogger().WithComponent("auth")
}

func GetObjectLogger() *Logger {
	return GetGlobalLogger().WithComponent("object")
}

func GetConfigLogger() *Logger {
	return GetGlobalLogger().WithComponent("config")
}

func GetMonitorLogger() *Logger {
	return GetGlobalLogger().WithComponent("monitor")
}

func GetUILogger() *Logger {
	return GetGlobalLogger().WithComponent("ui")
}
