// Package logging provides structured logging capabilities using slog.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/audiograph/corefw/internal/conf"
	"gopkg.in/natefinch/lumberjack.v2"
)

// global logger instances, initialized in Init()
var (
	structuredLogger    *slog.Logger
	humanReadableLogger *slog.Logger
	loggerMu            sync.RWMutex // Protects logger access
)

// Track closable writers for proper resource management in SetOutput
var currentStructuredOutputCloser io.Closer
var currentHumanReadableOutputCloser io.Closer

// currentLogLevel stores the dynamic level for all loggers
var currentLogLevel = new(slog.LevelVar)
var initOnce sync.Once
var initialized bool

const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

// levelNames adds trace and fatal level names.
var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelFatal: "FATAL",
}

// defaultReplaceAttr provides common attribute formatting for all loggers.
// It formats time, customizes level names, and truncates floats to 2 decimal places.
func defaultReplaceAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
		a.Value = slog.StringValue(a.Value.Time().Format("2006-01-02T15:04:05Z07:00"))
	}
	if a.Key == slog.LevelKey {
		if level, ok := a.Value.Any().(slog.Level); ok {
			levelLabel, exists := levelNames[level]
			if !exists {
				levelLabel = level.String()
			}
			a.Value = slog.StringValue(levelLabel)
		} else {
			a.Value = slog.StringValue(fmt.Sprintf("%v", a.Value.Any()))
		}
	}
	if a.Value.Kind() == slog.KindFloat64 {
		truncatedVal := math.Trunc(a.Value.Float64()*100) / 100.0
		a.Value = slog.Float64Value(truncatedVal)
	}
	return a
}

// Init initializes the global loggers based on configuration.
// It sets up both a structured (JSON) logger and a human-readable (Text) logger.
func Init() {
	initOnce.Do(func() {
		currentLogLevel.Set(slog.LevelInfo)

		err := os.MkdirAll("logs", 0o755) //nolint:gosec // accept 0o755 for now
		if err != nil {
			fmt.Printf("Failed to create logs directory: %v\n", err)
			os.Exit(1)
		}

		structuredLogFile, err := os.OpenFile("logs/corefw.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666) //nolint:gosec // accept 0o666 for now
		if err != nil {
			fmt.Printf("Failed to open structured log file: %v\n", err)
			structuredLogFile = os.Stderr
		}
		if structuredLogFile != os.Stderr {
			currentStructuredOutputCloser = structuredLogFile
		} else {
			currentStructuredOutputCloser = nil
		}

		structuredHandler := slog.NewJSONHandler(structuredLogFile, &slog.HandlerOptions{
			Level:       currentLogLevel,
			ReplaceAttr: defaultReplaceAttr,
		})

		currentHumanReadableOutputCloser = nil
		humanReadableHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       currentLogLevel,
			ReplaceAttr: defaultReplaceAttr,
		})

		loggerMu.Lock()
		structuredLogger = slog.New(structuredHandler)
		humanReadableLogger = slog.New(humanReadableHandler)
		loggerMu.Unlock()

		slog.SetDefault(structuredLogger)

		initialized = true
	})
}

// IsInitialized returns true if the logging system has been initialized.
func IsInitialized() bool {
	return initialized
}

// SetLevel changes the logging level for all initialized loggers.
func SetLevel(level slog.Level) {
	currentLogLevel.Set(level)
}

// SetOutput allows redirecting logger output, e.g., to a file.
// It safely closes any previously opened closable writers before creating new ones.
func SetOutput(structuredOutput, humanReadableOutput io.Writer) error {
	if structuredOutput == nil {
		return errors.New("structuredOutput writer cannot be nil")
	}
	if humanReadableOutput == nil {
		return errors.New("humanReadableOutput writer cannot be nil")
	}

	var closeErrors []error
	if currentStructuredOutputCloser != nil {
		if err := currentStructuredOutputCloser.Close(); err != nil {
			closeErrors = append(closeErrors, fmt.Errorf("failed to close previous structured output: %w", err))
		}
		currentStructuredOutputCloser = nil
	}
	if currentHumanReadableOutputCloser != nil {
		if err := currentHumanReadableOutputCloser.Close(); err != nil {
			closeErrors = append(closeErrors, fmt.Errorf("failed to close previous human-readable output: %w", err))
		}
		currentHumanReadableOutputCloser = nil
	}

	structuredHandler := slog.NewJSONHandler(structuredOutput, &slog.HandlerOptions{
		Level:       currentLogLevel,
		ReplaceAttr: defaultReplaceAttr,
	})

	humanReadableHandler := slog.NewTextHandler(humanReadableOutput, &slog.HandlerOptions{
		Level:       currentLogLevel,
		ReplaceAttr: defaultReplaceAttr,
	})

	loggerMu.Lock()
	structuredLogger = slog.New(structuredHandler)
	humanReadableLogger = slog.New(humanReadableHandler)
	loggerMu.Unlock()

	if c, ok := structuredOutput.(io.Closer); ok {
		currentStructuredOutputCloser = c
	}
	if c, ok := humanReadableOutput.(io.Closer); ok {
		currentHumanReadableOutputCloser = c
	}

	slog.SetDefault(structuredLogger)

	if len(closeErrors) > 0 {
		return errors.Join(closeErrors...)
	}

	return nil
}

// Structured returns the globally configured structured (JSON) logger.
// Returns nil if Init() has not been called.
func Structured() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return structuredLogger
}

// HumanReadable returns the globally configured human-readable (Text) logger.
// Returns nil if Init() has not been called.
func HumanReadable() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return humanReadableLogger
}

// ForService creates a new logger instance with the 'service' attribute added.
// Returns nil if Init() has not been called.
func ForService(serviceName string) *slog.Logger {
	loggerMu.RLock()
	logger := structuredLogger
	loggerMu.RUnlock()

	if logger == nil {
		return nil
	}
	return logger.With("service", serviceName)
}

// --- Convenience functions using the default logger ---

func Debug(msg string, args ...any) { slog.Debug(msg, args...) }
func Info(msg string, args ...any)  { slog.Info(msg, args...) }
func Warn(msg string, args ...any)  { slog.Warn(msg, args...) }
func Error(msg string, args ...any) { slog.Error(msg, args...) }

// Fatal logs a fatal message using the custom Fatal level and then exits.
func Fatal(msg string, args ...any) {
	slog.Log(context.TODO(), LevelFatal, msg, args...)
	os.Exit(1)
}

// Trace logs a trace message using the custom Trace level.
func Trace(msg string, args ...any) {
	slog.Log(context.TODO(), LevelTrace, msg, args...)
}

// NewFileLogger creates a new slog.Logger instance configured to write JSON logs
// to the specified file path using lumberjack for rotation based on global config.
// It includes a 'service' attribute in all logs.
func NewFileLogger(filePath, serviceName string, levelVar *slog.LevelVar) (*slog.Logger, func() error, error) {
	logDir := filepath.Dir(filePath)
	if logDir != "." {
		if err := os.MkdirAll(logDir, 0o755); err != nil { //nolint:gosec // accept 0o755 for now
			return nil, nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
		}
	}

	mainLogConf := conf.Setting().Main.Log

	lj := &lumberjack.Logger{
		Filename: filePath,
		Compress: false,
	}

	maxSizeMB := 100
	maxBackups := 3
	maxAge := 28 // days

	configMaxSizeMB := int(mainLogConf.MaxSize / (1024 * 1024))
	if configMaxSizeMB > 0 {
		maxSizeMB = configMaxSizeMB
	}

	switch mainLogConf.Rotation {
	case conf.RotationDaily:
		maxAge = 1
		maxBackups = 30
	case conf.RotationWeekly:
		maxAge = 7
		maxBackups = 4
	case conf.RotationSize:
		// Size-based rotation uses maxSizeMB derived from config (or default).
	default:
		slog.Warn("unknown log rotation type in config, using size-based defaults", "configuredType", mainLogConf.Rotation)
	}

	lj.MaxSize = maxSizeMB
	lj.MaxBackups = maxBackups
	lj.MaxAge = maxAge

	handler := slog.NewJSONHandler(lj, &slog.HandlerOptions{
		AddSource:   false,
		Level:       levelVar,
		ReplaceAttr: defaultReplaceAttr,
	})

	logger := slog.New(handler).With("service", serviceName)

	closeFunc := func() error {
		return lj.Close()
	}

	return logger, closeFunc, nil
}
