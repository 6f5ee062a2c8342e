// Package config loads worker and gateway settings.
//
// Sources are applied in order: built-in defaults, the YAML file named by
// WORKER_CONFIG, environment variables, and finally the first positional
// argument, which overrides the listening port.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete worker configuration.
type Config struct {
	Port             int           `yaml:"port"`
	LogDir           string        `yaml:"log_dir"`
	LogTZOffsetHours int           `yaml:"log_tz_offset_hours"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	CompileTimeout   time.Duration `yaml:"compile_timeout"`
	ClassMarker      string        `yaml:"class_marker"`
	Backend          string        `yaml:"backend"` // local, docker

	Java    JavaConfig    `yaml:"java"`
	Docker  DockerConfig  `yaml:"docker"`
	Events  EventsConfig  `yaml:"events"`
	Gateway GatewayConfig `yaml:"gateway"`
}

// JavaConfig locates the JDK tools and the JUnit console launcher.
type JavaConfig struct {
	Javac          string   `yaml:"javac"`
	Java           string   `yaml:"java"`
	JUnitJar       string   `yaml:"junit_jar"`
	ExtraClasspath []string `yaml:"extra_classpath"`
}

// DockerConfig configures the containerized backend.
type DockerConfig struct {
	Image    string `yaml:"image"`
	MemoryMB int64  `yaml:"memory_mb"`
	Pull     bool   `yaml:"pull"`
}

// EventsConfig selects where outcome events are published.
type EventsConfig struct {
	Sink  string      `yaml:"sink"` // none, redis, kafka
	Redis RedisConfig `yaml:"redis"`
	Kafka KafkaConfig `yaml:"kafka"`
}

// RedisConfig configures the Redis outcome bus.
type RedisConfig struct {
	Addr            string        `yaml:"addr"`
	Stream          string        `yaml:"stream"`
	Channel         string        `yaml:"channel"`
	StreamMaxLen    int64         `yaml:"stream_max_len"`
	RetentionPeriod time.Duration `yaml:"retention_period"`
}

// KafkaConfig configures the Kafka outcome publisher.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// GatewayConfig configures the HTTP gateway.
type GatewayConfig struct {
	Addr       string `yaml:"addr"`
	WorkerAddr string `yaml:"worker_addr"`
}

// Backends.
const (
	BackendLocal  = "local"
	BackendDocker = "docker"
)

// Event sinks.
const (
	SinkNone  = "none"
	SinkRedis = "redis"
	SinkKafka = "kafka"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:             5000,
		LogDir:           "/data/logs/java_logs",
		LogTZOffsetHours: 8,
		ReadTimeout:      30 * time.Second,
		CompileTimeout:   2 * time.Minute,
		ClassMarker:      "Test",
		Backend:          BackendLocal,
		Java: JavaConfig{
			Javac:          "javac",
			Java:           "java",
			JUnitJar:       "/opt/java_libs/junit-platform-console-standalone.jar",
			ExtraClasspath: []string{"/opt/java_libs/json.jar"},
		},
		Docker: DockerConfig{
			Image:    "eclipse-temurin:21-jdk",
			MemoryMB: 512,
		},
		Events: EventsConfig{
			Sink: SinkNone,
			Redis: RedisConfig{
				Addr:            "localhost:6379",
				Stream:          "goxec:outcomes",
				Channel:         "goxec:outcomes:live",
				StreamMaxLen:    10000,
				RetentionPeriod: time.Minute,
			},
			Kafka: KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topic:   "worker-outcomes",
			},
		},
		Gateway: GatewayConfig{
			Addr:       ":8080",
			WorkerAddr: "127.0.0.1:5000",
		},
	}
}

// Load builds the configuration from all sources. args are the process
// arguments without the program name.
func Load(args []string) (Config, error) {
	cfg := Default()

	if path := os.Getenv("WORKER_CONFIG"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	if len(args) > 0 && args[0] != "" {
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return Config{}, fmt.Errorf("invalid port argument %q: %w", args[0], err)
		}
		cfg.Port = port
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the worker cannot start with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	switch c.Backend {
	case BackendLocal, BackendDocker:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	switch c.Events.Sink {
	case SinkNone, SinkRedis, SinkKafka:
	default:
		return fmt.Errorf("unknown events sink %q", c.Events.Sink)
	}
	if c.ClassMarker == "" {
		return fmt.Errorf("class marker must not be empty")
	}
	return nil
}

// ListenAddr is the loopback address the worker binds.
func (c Config) ListenAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", c.Port)
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Port = envInt("WORKER_PORT", cfg.Port)
	cfg.LogDir = envOrDefault("LOG_DIR", cfg.LogDir)
	cfg.LogTZOffsetHours = envInt("LOG_TZ_OFFSET_HOURS", cfg.LogTZOffsetHours)
	cfg.ReadTimeout = envDuration("READ_TIMEOUT", cfg.ReadTimeout)
	cfg.CompileTimeout = envDuration("COMPILE_TIMEOUT", cfg.CompileTimeout)
	cfg.ClassMarker = envOrDefault("CLASS_MARKER", cfg.ClassMarker)
	cfg.Backend = envOrDefault("RUNNER_BACKEND", cfg.Backend)

	cfg.Java.Javac = envOrDefault("JAVAC_BIN", cfg.Java.Javac)
	cfg.Java.Java = envOrDefault("JAVA_BIN", cfg.Java.Java)
	cfg.Java.JUnitJar = envOrDefault("JUNIT_JAR", cfg.Java.JUnitJar)
	if raw, ok := os.LookupEnv("EXTRA_CLASSPATH"); ok {
		cfg.Java.ExtraClasspath = splitList(raw, ":")
	}

	cfg.Docker.Image = envOrDefault("DOCKER_IMAGE", cfg.Docker.Image)
	cfg.Docker.MemoryMB = int64(envInt("DOCKER_MEMORY_MB", int(cfg.Docker.MemoryMB)))
	cfg.Docker.Pull = envBool("DOCKER_PULL", cfg.Docker.Pull)

	cfg.Events.Sink = envOrDefault("EVENTS_SINK", cfg.Events.Sink)
	cfg.Events.Redis.Addr = envOrDefault("REDIS_ADDR", cfg.Events.Redis.Addr)
	cfg.Events.Redis.Stream = envOrDefault("REDIS_STREAM", cfg.Events.Redis.Stream)
	cfg.Events.Redis.Channel = envOrDefault("REDIS_CHANNEL", cfg.Events.Redis.Channel)
	cfg.Events.Redis.StreamMaxLen = int64(envInt("REDIS_STREAM_MAXLEN", int(cfg.Events.Redis.StreamMaxLen)))
	if raw := os.Getenv("KAFKA_BROKERS"); raw != "" {
		cfg.Events.Kafka.Brokers = splitList(raw, ",")
	}
	cfg.Events.Kafka.Topic = envOrDefault("KAFKA_TOPIC", cfg.Events.Kafka.Topic)

	cfg.Gateway.Addr = envOrDefault("GATEWAY_ADDR", cfg.Gateway.Addr)
	cfg.Gateway.WorkerAddr = envOrDefault("WORKER_ADDR", cfg.Gateway.WorkerAddr)
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("ignoring invalid integer setting", "key", key, "value", raw)
		return fallback
	}
	return value
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		slog.Warn("ignoring invalid duration setting", "key", key, "value", raw)
		return fallback
	}
	return d
}

func envBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		slog.Warn("ignoring invalid boolean setting", "key", key, "value", raw)
		return fallback
	}
	return value
}

func splitList(raw, sep string) []string {
	fields := strings.Split(raw, sep)
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		if trimmed := strings.TrimSpace(field); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
