package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/taskmesh/engine/internal/scheduler"
)

var (
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger
)

// LogLevel represents available log levels
type LogLevel string

const (
	DEBUG LogLevel = "debug"
	INFO  LogLevel = "info"
	WARN  LogLevel = "warn"
	ERROR LogLevel = "error"
	PANIC LogLevel = "panic"
	FATAL LogLevel = "fatal"
)

// LogFormat represents output formats
type LogFormat string

const (
	JSON    LogFormat = "json"
	CONSOLE LogFormat = "console"
)

// Config holds logger configuration
type Config struct {
	Level      LogLevel  `json:"level"`
	Format     LogFormat `json:"format"`
	OutputPath string    `json:"output_path"`
	Caller     bool      `json:"caller"`
	Stacktrace bool      `json:"stacktrace"`
}

// DefaultConfig returns default logger configuration
func DefaultConfig() Config {
	return Config{
		Level:      INFO,
		Format:     CONSOLE,
		OutputPath: "stdout",
		Caller:     true,
		Stacktrace: true,
	}
}

// InitLogger initializes the global logger with configuration
func InitLogger(config Config) error {
	// Determine log level
	var level zapcore.Level
	switch config.Level {
	case DEBUG:
		level = zapcore.DebugLevel
	case INFO:
		level = zapcore.InfoLevel
	case WARN:
		level = zapcore.WarnLevel
	case ERROR:
		level = zapcore.ErrorLevel
	case PANIC:
		level = zapcore.PanicLevel
	case FATAL:
		level = zapcore.FatalLevel
	default:
		level = zapcore.InfoLevel
	}

	// Configure encoder
	var encoderConfig zapcore.EncoderConfig
	var encoder zapcore.Encoder

	if config.Format == JSON {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05")
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	// Configure output
	var writeSyncer zapcore.WriteSyncer
	if config.OutputPath == "stdout" || config.OutputPath == "" {
		writeSyncer = zapcore.AddSync(os.Stdout)
	} else {
		file, err := os.OpenFile(config.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return err
		}
		writeSyncer = zapcore.AddSync(file)
	}

	// Create core
	core := zapcore.NewCore(encoder, writeSyncer, level)

	// Build logger with options
	var options []zap.Option
	if config.Caller {
		options = append(options, zap.AddCaller())
		options = append(options, zap.AddCallerSkip(1))
	}
	if config.Stacktrace {
		options = append(options, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	Logger = zap.New(core, options...)
	Sugar = Logger.Sugar()

	return nil
}

// InitFromEnv initializes logger from environment variables
func InitFromEnv() error {
	config := DefaultConfig()

	// Override from environment
	if level := os.Getenv("ENGINE_LOG_LEVEL"); level != "" {
		config.Level = LogLevel(strings.ToLower(level))
	}
	if format := os.Getenv("ENGINE_LOG_FORMAT"); format != "" {
		config.Format = LogFormat(strings.ToLower(format))
	}
	if output := os.Getenv("ENGINE_LOG_OUTPUT"); output != "" {
		config.OutputPath = output
	}
	if caller := os.Getenv("ENGINE_LOG_CALLER"); caller == "false" {
		config.Caller = false
	}
	if stacktrace := os.Getenv("ENGINE_LOG_STACKTRACE"); stacktrace == "false" {
		config.Stacktrace = false
	}

	return InitLogger(config)
}

// Sync flushes any buffered log entries
func Sync() {
	if Logger != nil {
		Logger.Sync()
	}
}

func init() {
	// Library callers (e.g. component unit tests) that never call InitFromEnv
	// still get a usable logger instead of a nil-pointer panic on first use.
	_ = InitLogger(DefaultConfig())
}

// Context-aware logging helpers

// WithComponent adds component context to logger
func WithComponent(component string) *zap.Logger {
	return Logger.With(zap.String("component", component))
}

// WithTask adds task context to logger
func WithTask(taskID string) *zap.Logger {
	return Logger.With(zap.String("task_id", taskID))
}

// WithExecution adds execution-attempt context to logger
func WithExecution(taskID string, attempt int) *zap.Logger {
	return Logger.With(
		zap.String("task_id", taskID),
		zap.Int("attempt", attempt),
	)
}

// WithError adds error context to logger
func WithError(err error) *zap.Logger {
	return Logger.With(zap.Error(err))
}

// Performance logging helpers

// LogPerformance logs performance metrics
func LogPerformance(operation string, duration int64, success bool) {
	Logger.Info("Performance metric",
		zap.String("operation", operation),
		zap.Int64("duration_ms", duration),
		zap.Bool("success", success),
	)
}

// LogSchedulingDecision logs a scheduler dispatch decision: the policy
// that ran, its reasoning, how many candidates it selected, and its
// forecast outcome.
func LogSchedulingDecision(policy, reasoning string, selectedCount int, outcome scheduler.ExpectedOutcome) {
	Logger.Info("scheduling decision",
		zap.String("policy", policy),
		zap.String("reasoning", reasoning),
		zap.Int("selected", selectedCount),
		zap.Int64("expected_duration_ms", outcome.TotalDuration.Milliseconds()),
		zap.Float64("resource_utilization", outcome.ResourceUtilization),
		zap.Float64("parallelism_factor", outcome.ParallelismFactor),
		zap.String("risk", string(outcome.RiskAssessment)),
	)
}

// Structured error logging

// LogError logs structured error information
func LogError(operation string, err error, context map[string]interface{}) {
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.Error(err),
	}
	
	for key, value := range context {
		fields = append(fields, zap.Any(key, value))
	}
	
	Logger.Error("Operation failed", fields...)
}

// LogCriticalError logs critical system errors
func LogCriticalError(operation string, err error, context map[string]interface{}) {
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.Error(err),
		zap.String("severity", "critical"),
	}
	
	for key, value := range context {
		fields = append(fields, zap.Any(key, value))
	}
	
	Logger.Error("Critical system error", fields...)
}