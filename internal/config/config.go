package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadEnv loads environment variables from a .env file if one exists in the
// working directory. Variables already present in the system environment are
// never overridden.
func LoadEnv() {
	file, err := os.Open(".env")
	if err != nil {
		return
	}
	defer file.Close()

	fmt.Println("loading environment from .env file")

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Printf("error reading .env file: %v\n", err)
	}
}

// GetEnvOrDefault returns the environment variable value or a fallback.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// GetKafkaBrokers returns the Kafka broker list from ENGINE_KAFKA_BROKERS.
func GetKafkaBrokers() []string {
	brokersStr := os.Getenv("ENGINE_KAFKA_BROKERS")
	if brokersStr == "" {
		return []string{}
	}
	return strings.Split(brokersStr, ",")
}

// EngineConfig holds every tunable of the scheduling/lifecycle engine. All
// fields have sane defaults and can be overridden through environment
// variables; see Load.
type EngineConfig struct {
	// Concurrency and scheduling cadence
	MaxConcurrentTasks     int
	SchedulingTick         time.Duration
	PriorityRecomputeEvery time.Duration
	StarvationThreshold    time.Duration
	StarvationBoostPerTick int
	QueueSizeCritical      int

	// Retry and timeout behavior
	DefaultTaskTimeout time.Duration
	MaxRetries         int
	RetryBaseDelay     time.Duration
	RetryBackoffFactor float64
	RetryMaxDelay      time.Duration
	PauseHandoffWindow time.Duration

	// Persistence
	SnapshotDir         string
	AutosaveInterval    time.Duration
	OpportunisticMinGap time.Duration
	MaxRecoverableAge   time.Duration
	MaxBackupSnapshots  int
	MaxHistoryPerTask   int
	SnapshotChecksum    string // "sha256" or "md5"
	SnapshotCompress    bool

	// Optional backends
	RedisAddr   string
	PostgresDSN string
	KafkaTopic  string

	// Logging
	LogLevel  string
	LogFormat string
}

// DefaultEngineConfig returns the engine's out-of-the-box configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxConcurrentTasks:     16,
		SchedulingTick:         100 * time.Millisecond,
		PriorityRecomputeEvery: 10 * time.Second,
		StarvationThreshold:    2 * time.Minute,
		StarvationBoostPerTick: 5,
		QueueSizeCritical:      10000,

		DefaultTaskTimeout: 5 * time.Minute,
		MaxRetries:         3,
		RetryBaseDelay:     5 * time.Second,
		RetryBackoffFactor: 3.0,
		RetryMaxDelay:      60 * time.Second,
		PauseHandoffWindow: 100 * time.Millisecond,

		SnapshotDir:         GetEnvOrDefault("ENGINE_SNAPSHOT_DIR", "./snapshots"),
		AutosaveInterval:    5 * time.Minute,
		OpportunisticMinGap: 1 * time.Second,
		MaxRecoverableAge:   7 * 24 * time.Hour,
		MaxBackupSnapshots:  10,
		MaxHistoryPerTask:   100,
		SnapshotChecksum:    "sha256",
		SnapshotCompress:    true,

		LogLevel:  "info",
		LogFormat: "console",
	}
}

// Load builds an EngineConfig from defaults overridden by environment
// variables. Call config.LoadEnv() beforehand to populate the process
// environment from a .env file.
func Load() EngineConfig {
	c := DefaultEngineConfig()

	c.MaxConcurrentTasks = getEnvInt("ENGINE_MAX_CONCURRENT_TASKS", c.MaxConcurrentTasks)
	c.SchedulingTick = getEnvDuration("ENGINE_SCHEDULING_TICK", c.SchedulingTick)
	c.PriorityRecomputeEvery = getEnvDuration("ENGINE_PRIORITY_RECOMPUTE_INTERVAL", c.PriorityRecomputeEvery)
	c.StarvationThreshold = getEnvDuration("ENGINE_STARVATION_THRESHOLD", c.StarvationThreshold)
	c.StarvationBoostPerTick = getEnvInt("ENGINE_STARVATION_BOOST", c.StarvationBoostPerTick)
	c.QueueSizeCritical = getEnvInt("ENGINE_QUEUE_SIZE_CRITICAL", c.QueueSizeCritical)

	c.DefaultTaskTimeout = getEnvDuration("ENGINE_DEFAULT_TASK_TIMEOUT", c.DefaultTaskTimeout)
	c.MaxRetries = getEnvInt("ENGINE_MAX_RETRIES", c.MaxRetries)
	c.RetryBaseDelay = getEnvDuration("ENGINE_RETRY_BASE_DELAY", c.RetryBaseDelay)
	c.RetryBackoffFactor = getEnvFloat("ENGINE_RETRY_BACKOFF_FACTOR", c.RetryBackoffFactor)
	c.RetryMaxDelay = getEnvDuration("ENGINE_RETRY_MAX_DELAY", c.RetryMaxDelay)
	c.PauseHandoffWindow = getEnvDuration("ENGINE_PAUSE_HANDOFF_WINDOW", c.PauseHandoffWindow)

	c.SnapshotDir = GetEnvOrDefault("ENGINE_SNAPSHOT_DIR", c.SnapshotDir)
	c.AutosaveInterval = getEnvDuration("ENGINE_AUTOSAVE_INTERVAL", c.AutosaveInterval)
	c.OpportunisticMinGap = getEnvDuration("ENGINE_SNAPSHOT_MIN_GAP", c.OpportunisticMinGap)
	c.MaxRecoverableAge = getEnvDuration("ENGINE_MAX_RECOVERABLE_AGE", c.MaxRecoverableAge)
	c.MaxBackupSnapshots = getEnvInt("ENGINE_MAX_BACKUP_SNAPSHOTS", c.MaxBackupSnapshots)
	c.MaxHistoryPerTask = getEnvInt("ENGINE_MAX_HISTORY_PER_TASK", c.MaxHistoryPerTask)
	c.SnapshotChecksum = GetEnvOrDefault("ENGINE_SNAPSHOT_CHECKSUM", c.SnapshotChecksum)
	c.SnapshotCompress = getEnvBool("ENGINE_SNAPSHOT_COMPRESS", c.SnapshotCompress)

	c.RedisAddr = os.Getenv("ENGINE_REDIS_ADDR")
	c.PostgresDSN = os.Getenv("ENGINE_POSTGRES_DSN")
	c.KafkaTopic = GetEnvOrDefault("ENGINE_KAFKA_TOPIC", "engine.task-events")

	c.LogLevel = GetEnvOrDefault("ENGINE_LOG_LEVEL", c.LogLevel)
	c.LogFormat = GetEnvOrDefault("ENGINE_LOG_FORMAT", c.LogFormat)

	return c
}
