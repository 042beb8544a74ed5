package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var configEnvVars = []string{
	"CONFIG_FILE", "SERVICE_PRINCIPAL", "HTTP_PORT", "GRPC_PORT",
	"BACKEND_URL", "BACKEND_TIMEOUT",
	"CAPTURE_WAV_PATH", "CAPTURE_CHUNK_SIZE", "CAPTURE_CHUNK_INTERVAL",
	"CAPTURE_MAX_AUDIO_BYTES", "CAPTURE_MAX_DURATION",
	"CAPTIONER_PROVIDER", "CAPTIONER_LANGUAGE_CODE", "CAPTIONER_SAMPLE_RATE_HZ",
	"CAPTIONER_INTERIM_RESULTS", "CAPTIONER_AUDIO_ENCODING",
	"MONITOR_DELAY", "KAFKA_ENABLED", "KAFKA_BROKERS", "KAFKA_PRINCIPAL",
	"KAFKA_TOPIC_ACTIVITY", "KAFKA_TOPIC_RESULTS",
	"LOG_LEVEL", "LOG_FORMAT", "METRICS_ADDR",
}

func clearEnv() {
	for _, v := range configEnvVars {
		os.Unsetenv(v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv()

	cfg := Load()

	if cfg.Service.Principal != "svc-voice-session" {
		t.Errorf("expected default principal 'svc-voice-session', got %s", cfg.Service.Principal)
	}
	if cfg.Service.HTTPPort != "8080" {
		t.Errorf("expected default http port '8080', got %s", cfg.Service.HTTPPort)
	}
	if cfg.Backend.BaseURL != "https://lifeops-agent.onrender.com" {
		t.Errorf("unexpected default backend url %s", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Timeout != 30*time.Second {
		t.Errorf("expected default backend timeout 30s, got %v", cfg.Backend.Timeout)
	}
	if cfg.Captioner.Provider != "mock" {
		t.Errorf("expected default captioner 'mock', got %s", cfg.Captioner.Provider)
	}
	if cfg.Captioner.SampleRateHz != 8000 {
		t.Errorf("expected default sample rate 8000, got %d", cfg.Captioner.SampleRateHz)
	}
	if !cfg.Captioner.InterimResults {
		t.Error("expected interim results to default to true")
	}
	if cfg.Capture.MaxAudioBytes != 5*1024*1024 {
		t.Errorf("expected default max audio bytes 5MB, got %d", cfg.Capture.MaxAudioBytes)
	}
	if cfg.Monitor.Delay != 2*time.Second {
		t.Errorf("expected default monitor delay 2s, got %v", cfg.Monitor.Delay)
	}
	if cfg.Kafka.Enabled {
		t.Error("expected kafka to be disabled by default")
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv()
	os.Setenv("BACKEND_URL", "http://localhost:8000/")
	os.Setenv("BACKEND_TIMEOUT", "5s")
	os.Setenv("CAPTIONER_PROVIDER", "google")
	os.Setenv("CAPTIONER_SAMPLE_RATE_HZ", "16000")
	os.Setenv("CAPTIONER_INTERIM_RESULTS", "false")
	os.Setenv("CAPTURE_MAX_DURATION", "10m")
	os.Setenv("MONITOR_DELAY", "250ms")
	os.Setenv("KAFKA_ENABLED", "true")
	os.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	os.Setenv("LOG_LEVEL", "debug")
	defer clearEnv()

	cfg := Load()

	if cfg.Backend.BaseURL != "http://localhost:8000" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Timeout != 5*time.Second {
		t.Errorf("expected timeout 5s, got %v", cfg.Backend.Timeout)
	}
	if cfg.Captioner.Provider != "google" {
		t.Errorf("expected captioner 'google', got %s", cfg.Captioner.Provider)
	}
	if cfg.Captioner.SampleRateHz != 16000 {
		t.Errorf("expected sample rate 16000, got %d", cfg.Captioner.SampleRateHz)
	}
	if cfg.Captioner.InterimResults {
		t.Error("expected interim results false")
	}
	if cfg.Capture.MaxDuration != 10*time.Minute {
		t.Errorf("expected max duration 10m, got %v", cfg.Capture.MaxDuration)
	}
	if cfg.Monitor.Delay != 250*time.Millisecond {
		t.Errorf("expected monitor delay 250ms, got %v", cfg.Monitor.Delay)
	}
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("unexpected kafka config %+v", cfg.Kafka)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_InvalidValues_FallbackToDefaults(t *testing.T) {
	clearEnv()
	os.Setenv("CAPTIONER_SAMPLE_RATE_HZ", "not-a-number")
	os.Setenv("CAPTIONER_INTERIM_RESULTS", "invalid")
	os.Setenv("CAPTURE_MAX_AUDIO_BYTES", "invalid")
	os.Setenv("BACKEND_TIMEOUT", "invalid")
	defer clearEnv()

	cfg := Load()

	if cfg.Captioner.SampleRateHz != 8000 {
		t.Errorf("expected default sample rate on invalid input, got %d", cfg.Captioner.SampleRateHz)
	}
	if !cfg.Captioner.InterimResults {
		t.Error("expected default interim results on invalid input")
	}
	if cfg.Capture.MaxAudioBytes != 5*1024*1024 {
		t.Errorf("expected default max audio bytes on invalid input, got %d", cfg.Capture.MaxAudioBytes)
	}
	if cfg.Backend.Timeout != 30*time.Second {
		t.Errorf("expected default timeout on invalid input, got %v", cfg.Backend.Timeout)
	}
}

func TestLoad_KafkaPrincipal_FallsBackToServicePrincipal(t *testing.T) {
	clearEnv()
	os.Setenv("SERVICE_PRINCIPAL", "my-service")
	defer clearEnv()

	cfg := Load()

	if cfg.Kafka.Principal != "my-service" {
		t.Errorf("expected Kafka principal to fall back to service principal, got %s", cfg.Kafka.Principal)
	}
}

func TestLoad_ConfigFile_EnvWins(t *testing.T) {
	clearEnv()
	path := filepath.Join(t.TempDir(), "voice.yaml")
	content := []byte(`
backend:
  baseUrl: http://from-file:9000
  timeout: 12s
captioner:
  provider: none
monitor:
  delay: 1s
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	os.Setenv("CONFIG_FILE", path)
	os.Setenv("MONITOR_DELAY", "3s")
	defer clearEnv()

	cfg := Load()

	if cfg.Backend.BaseURL != "http://from-file:9000" {
		t.Errorf("expected base url from file, got %s", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Timeout != 12*time.Second {
		t.Errorf("expected timeout from file, got %v", cfg.Backend.Timeout)
	}
	if cfg.Captioner.Provider != "none" {
		t.Errorf("expected captioner from file, got %s", cfg.Captioner.Provider)
	}
	if cfg.Monitor.Delay != 3*time.Second {
		t.Errorf("expected env to override file delay, got %v", cfg.Monitor.Delay)
	}
	// untouched sections keep their defaults
	if cfg.Service.HTTPPort != "8080" {
		t.Errorf("expected default http port, got %s", cfg.Service.HTTPPort)
	}
}

func TestEnvOrDefaultBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		expected bool
	}{
		{"true string", "true", false, true},
		{"false string", "false", true, false},
		{"1", "1", false, true},
		{"0", "0", true, false},
		{"TRUE uppercase", "TRUE", false, true},
		{"invalid", "invalid", true, true},
		{"empty", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_BOOL_VAR"
			if tt.envValue != "" {
				os.Setenv(key, tt.envValue)
			} else {
				os.Unsetenv(key)
			}
			defer os.Unsetenv(key)

			got := envOrDefaultBool(key, tt.def)
			if got != tt.expected {
				t.Errorf("envOrDefaultBool(%s, %v) = %v, want %v", tt.envValue, tt.def, got, tt.expected)
			}
		})
	}
}
