// Package config loads service configuration from an optional YAML file and
// environment variables. Environment variables always win.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Backend       BackendConfig       `yaml:"backend"`
	Capture       CaptureConfig       `yaml:"capture"`
	Captioner     CaptionerConfig     `yaml:"captioner"`
	Monitor       MonitorConfig       `yaml:"monitor"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServiceConfig struct {
	Principal string `yaml:"principal"`
	HTTPPort  string `yaml:"httpPort"`
	GRPCPort  string `yaml:"grpcPort"`
}

// BackendConfig points at the remote transcription/reasoning service.
type BackendConfig struct {
	BaseURL string        `yaml:"baseUrl"`
	Timeout time.Duration `yaml:"timeout"`
}

// CaptureConfig selects the audio source and its buffering limits.
type CaptureConfig struct {
	WAVPath       string        `yaml:"wavPath"`
	ChunkSize     int           `yaml:"chunkSize"`
	ChunkInterval time.Duration `yaml:"chunkInterval"`
	MaxAudioBytes int64         `yaml:"maxAudioBytes"`
	MaxDuration   time.Duration `yaml:"maxDuration"`
}

type CaptionerConfig struct {
	Provider       string `yaml:"provider"` // none, mock, google
	LanguageCode   string `yaml:"languageCode"`
	SampleRateHz   int    `yaml:"sampleRateHz"`
	InterimResults bool   `yaml:"interimResults"`
	AudioEncoding  string `yaml:"audioEncoding"`
}

type MonitorConfig struct {
	Delay time.Duration `yaml:"delay"`
}

type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	TopicActivity string   `yaml:"topicActivity"`
	TopicResults  string   `yaml:"topicResults"`
	Principal     string   `yaml:"principal"`
}

type ObservabilityConfig struct {
	LogLevel    string `yaml:"logLevel"`
	LogFormat   string `yaml:"logFormat"`
	MetricsAddr string `yaml:"metricsAddr"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		Service: ServiceConfig{
			Principal: "svc-voice-session",
			HTTPPort:  "8080",
			GRPCPort:  "50051",
		},
		Backend: BackendConfig{
			BaseURL: "https://lifeops-agent.onrender.com",
			Timeout: 30 * time.Second,
		},
		Capture: CaptureConfig{
			WAVPath:       "testdata/sample-8khz.wav",
			ChunkSize:     1600, // 100ms at 8kHz 16-bit mono
			ChunkInterval: 100 * time.Millisecond,
			MaxAudioBytes: 5 * 1024 * 1024,
			MaxDuration:   5 * time.Minute,
		},
		Captioner: CaptionerConfig{
			Provider:       "mock",
			LanguageCode:   "en-US",
			SampleRateHz:   8000,
			InterimResults: true,
			AudioEncoding:  "LINEAR16",
		},
		Monitor: MonitorConfig{
			Delay: 2 * time.Second,
		},
		Kafka: KafkaConfig{
			TopicActivity: "lifeops.session.activity",
			TopicResults:  "lifeops.session.results",
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsAddr: ":9090",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// CONFIG_FILE (if any), then environment variables.
func Load() *Config {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Ignoring unreadable config file")
		}
	}

	cfg.Service.Principal = envOrDefault("SERVICE_PRINCIPAL", cfg.Service.Principal)
	cfg.Service.HTTPPort = envOrDefault("HTTP_PORT", cfg.Service.HTTPPort)
	cfg.Service.GRPCPort = envOrDefault("GRPC_PORT", cfg.Service.GRPCPort)

	cfg.Backend.BaseURL = strings.TrimRight(envOrDefault("BACKEND_URL", cfg.Backend.BaseURL), "/")
	cfg.Backend.Timeout = envOrDefaultDuration("BACKEND_TIMEOUT", cfg.Backend.Timeout)

	cfg.Capture.WAVPath = envOrDefault("CAPTURE_WAV_PATH", cfg.Capture.WAVPath)
	cfg.Capture.ChunkSize = envOrDefaultInt("CAPTURE_CHUNK_SIZE", cfg.Capture.ChunkSize)
	cfg.Capture.ChunkInterval = envOrDefaultDuration("CAPTURE_CHUNK_INTERVAL", cfg.Capture.ChunkInterval)
	cfg.Capture.MaxAudioBytes = envOrDefaultInt64("CAPTURE_MAX_AUDIO_BYTES", cfg.Capture.MaxAudioBytes)
	cfg.Capture.MaxDuration = envOrDefaultDuration("CAPTURE_MAX_DURATION", cfg.Capture.MaxDuration)

	cfg.Captioner.Provider = envOrDefault("CAPTIONER_PROVIDER", cfg.Captioner.Provider)
	cfg.Captioner.LanguageCode = envOrDefault("CAPTIONER_LANGUAGE_CODE", cfg.Captioner.LanguageCode)
	cfg.Captioner.SampleRateHz = envOrDefaultInt("CAPTIONER_SAMPLE_RATE_HZ", cfg.Captioner.SampleRateHz)
	cfg.Captioner.InterimResults = envOrDefaultBool("CAPTIONER_INTERIM_RESULTS", cfg.Captioner.InterimResults)
	cfg.Captioner.AudioEncoding = envOrDefault("CAPTIONER_AUDIO_ENCODING", cfg.Captioner.AudioEncoding)

	cfg.Monitor.Delay = envOrDefaultDuration("MONITOR_DELAY", cfg.Monitor.Delay)

	cfg.Kafka.Enabled = envOrDefaultBool("KAFKA_ENABLED", cfg.Kafka.Enabled)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	cfg.Kafka.TopicActivity = envOrDefault("KAFKA_TOPIC_ACTIVITY", cfg.Kafka.TopicActivity)
	cfg.Kafka.TopicResults = envOrDefault("KAFKA_TOPIC_RESULTS", cfg.Kafka.TopicResults)
	cfg.Kafka.Principal = envOrDefault("KAFKA_PRINCIPAL", cfg.Kafka.Principal)
	if cfg.Kafka.Principal == "" {
		cfg.Kafka.Principal = cfg.Service.Principal
	}

	cfg.Observability.LogLevel = envOrDefault("LOG_LEVEL", cfg.Observability.LogLevel)
	cfg.Observability.LogFormat = envOrDefault("LOG_FORMAT", cfg.Observability.LogFormat)
	cfg.Observability.MetricsAddr = envOrDefault("METRICS_ADDR", cfg.Observability.MetricsAddr)

	return &cfg
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
