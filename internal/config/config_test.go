package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var configEnvVars = []string{
	"SERVICE_PRINCIPAL", "GRPC_PORT", "METRICS_ADDR", "SESSION_TIMEOUT",
	"STT_PROVIDER", "STT_LANGUAGE_CODE",
	"ASR_APP_ID", "ASR_SECRET_ID", "ASR_SECRET_KEY", "ASR_SCHEME", "ASR_HOST",
	"ASR_ENGINE_MODEL_TYPE", "ASR_NEED_VAD", "ASR_VAD_SILENCE_MS", "ASR_VOICE_FORMAT",
	"ASR_SIGNATURE_TTL", "ASR_HANDSHAKE_TIMEOUT",
	"AUDIO_SAMPLE_RATE_HZ", "AUDIO_FRAME_MS", "AUDIO_QUEUE_SIZE", "AUDIO_PACE_REALTIME",
	"AUDIO_MAX_DURATION",
	"EXTRACTOR_PROVIDER", "EXTRACTOR_BASE_URL", "EXTRACTOR_MODEL", "EXTRACTOR_API_KEY",
	"EXTRACTOR_COOLDOWN", "EXTRACTOR_MAX_LATENCY", "EXTRACTOR_TIMEOUT",
	"KAFKA_ENABLED", "KAFKA_BROKERS", "KAFKA_TOPIC_PARTIAL", "KAFKA_TOPIC_UTTERANCE",
	"KAFKA_TOPIC_CALL_RECORD", "KAFKA_PRINCIPAL",
	"LOG_LEVEL", "LOG_FORMAT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range configEnvVars {
		os.Unsetenv(v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.Service.Principal != "svc-call-monitor" {
		t.Errorf("expected default principal 'svc-call-monitor', got %s", cfg.Service.Principal)
	}
	if cfg.Service.GRPCPort != "" {
		t.Errorf("expected gRPC health disabled by default, got port %s", cfg.Service.GRPCPort)
	}
	if cfg.Service.MetricsAddr != ":9090" {
		t.Errorf("expected default metrics addr ':9090', got %s", cfg.Service.MetricsAddr)
	}
	if cfg.Service.SessionTimeout != 0 {
		t.Errorf("expected no session timeout by default, got %v", cfg.Service.SessionTimeout)
	}

	if cfg.STT.Provider != "tencent" {
		t.Errorf("expected default STT provider 'tencent', got %s", cfg.STT.Provider)
	}

	if cfg.ASR.Host != "asr.cloud.tencent.com" {
		t.Errorf("expected default ASR host, got %s", cfg.ASR.Host)
	}
	if cfg.ASR.Scheme != "wss" {
		t.Errorf("expected default scheme 'wss', got %s", cfg.ASR.Scheme)
	}
	if cfg.ASR.EngineModelType != "8k_zh" {
		t.Errorf("expected default engine '8k_zh', got %s", cfg.ASR.EngineModelType)
	}
	if !cfg.ASR.NeedVAD {
		t.Error("expected VAD enabled by default")
	}
	if cfg.ASR.VADSilenceMs != 1000 {
		t.Errorf("expected default vad silence 1000, got %d", cfg.ASR.VADSilenceMs)
	}
	if cfg.ASR.VoiceFormat != 1 {
		t.Errorf("expected default voice format 1, got %d", cfg.ASR.VoiceFormat)
	}
	if cfg.ASR.SignatureTTL != 24*time.Hour {
		t.Errorf("expected default signature ttl 24h, got %v", cfg.ASR.SignatureTTL)
	}

	if cfg.Audio.SampleRateHz != 8000 {
		t.Errorf("expected default sample rate 8000, got %d", cfg.Audio.SampleRateHz)
	}
	if cfg.Audio.FrameMs != 40 {
		t.Errorf("expected default frame 40ms, got %d", cfg.Audio.FrameMs)
	}
	if cfg.Audio.QueueSize != 256 {
		t.Errorf("expected default queue size 256, got %d", cfg.Audio.QueueSize)
	}

	if cfg.Extractor.Provider != "openai" {
		t.Errorf("expected default extractor 'openai', got %s", cfg.Extractor.Provider)
	}
	if cfg.Extractor.Model != "qwen3:8b" {
		t.Errorf("expected default model 'qwen3:8b', got %s", cfg.Extractor.Model)
	}
	if cfg.Extractor.Cooldown != 2*time.Second {
		t.Errorf("expected default cooldown 2s, got %v", cfg.Extractor.Cooldown)
	}
	if cfg.Extractor.MaxLatency != 0 {
		t.Errorf("expected max latency bound off by default, got %v", cfg.Extractor.MaxLatency)
	}

	if cfg.Kafka.Enabled {
		t.Error("expected Kafka disabled by default")
	}
	if len(cfg.Kafka.Brokers) != 0 {
		t.Errorf("expected no brokers by default, got %v", cfg.Kafka.Brokers)
	}
	if cfg.Kafka.TopicUtterance != "callmonitor.transcript.utterance" {
		t.Errorf("unexpected default utterance topic %s", cfg.Kafka.TopicUtterance)
	}

	if cfg.Observability.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Observability.LogLevel)
	}
	if cfg.Observability.LogFormat != "json" {
		t.Errorf("expected default log format 'json', got %s", cfg.Observability.LogFormat)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	os.Setenv("SERVICE_PRINCIPAL", "custom-principal")
	os.Setenv("GRPC_PORT", "9999")
	os.Setenv("SESSION_TIMEOUT", "5m")
	os.Setenv("STT_PROVIDER", "google")
	os.Setenv("ASR_SECRET_ID", "AKIDexample")
	os.Setenv("ASR_NEED_VAD", "false")
	os.Setenv("ASR_VAD_SILENCE_MS", "800")
	os.Setenv("AUDIO_SAMPLE_RATE_HZ", "16000")
	os.Setenv("AUDIO_FRAME_MS", "20")
	os.Setenv("AUDIO_PACE_REALTIME", "true")
	os.Setenv("EXTRACTOR_PROVIDER", "gemini")
	os.Setenv("EXTRACTOR_COOLDOWN", "500ms")
	os.Setenv("KAFKA_ENABLED", "true")
	os.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	os.Setenv("LOG_LEVEL", "debug")
	defer clearEnv(t)

	cfg := Load()

	if cfg.Service.Principal != "custom-principal" {
		t.Errorf("expected principal 'custom-principal', got %s", cfg.Service.Principal)
	}
	if cfg.Service.GRPCPort != "9999" {
		t.Errorf("expected port '9999', got %s", cfg.Service.GRPCPort)
	}
	if cfg.Service.SessionTimeout != 5*time.Minute {
		t.Errorf("expected session timeout 5m, got %v", cfg.Service.SessionTimeout)
	}
	if cfg.STT.Provider != "google" {
		t.Errorf("expected STT provider 'google', got %s", cfg.STT.Provider)
	}
	if cfg.ASR.SecretID != "AKIDexample" {
		t.Errorf("expected secret id 'AKIDexample', got %s", cfg.ASR.SecretID)
	}
	if cfg.ASR.NeedVAD {
		t.Error("expected VAD disabled")
	}
	if cfg.ASR.VADSilenceMs != 800 {
		t.Errorf("expected vad silence 800, got %d", cfg.ASR.VADSilenceMs)
	}
	if cfg.Audio.SampleRateHz != 16000 {
		t.Errorf("expected sample rate 16000, got %d", cfg.Audio.SampleRateHz)
	}
	if cfg.Audio.FrameMs != 20 {
		t.Errorf("expected frame 20ms, got %d", cfg.Audio.FrameMs)
	}
	if !cfg.Audio.PaceRealtime {
		t.Error("expected realtime pacing enabled")
	}
	if cfg.Extractor.Provider != "gemini" {
		t.Errorf("expected extractor 'gemini', got %s", cfg.Extractor.Provider)
	}
	if cfg.Extractor.Cooldown != 500*time.Millisecond {
		t.Errorf("expected cooldown 500ms, got %v", cfg.Extractor.Cooldown)
	}
	if !cfg.Kafka.Enabled {
		t.Error("expected Kafka enabled")
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[0] != "kafka-1:9092" || cfg.Kafka.Brokers[1] != "kafka-2:9092" {
		t.Errorf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_InvalidValues_FallbackToDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("ASR_VAD_SILENCE_MS", "not-a-number")
	os.Setenv("ASR_NEED_VAD", "invalid")
	os.Setenv("AUDIO_SAMPLE_RATE_HZ", "invalid")
	os.Setenv("EXTRACTOR_COOLDOWN", "invalid")
	os.Setenv("KAFKA_BROKERS", " , ")
	defer clearEnv(t)

	cfg := Load()

	if cfg.ASR.VADSilenceMs != 1000 {
		t.Errorf("expected default vad silence on invalid input, got %d", cfg.ASR.VADSilenceMs)
	}
	if !cfg.ASR.NeedVAD {
		t.Error("expected default VAD on invalid input")
	}
	if cfg.Audio.SampleRateHz != 8000 {
		t.Errorf("expected default sample rate on invalid input, got %d", cfg.Audio.SampleRateHz)
	}
	if cfg.Extractor.Cooldown != 2*time.Second {
		t.Errorf("expected default cooldown on invalid input, got %v", cfg.Extractor.Cooldown)
	}
	if len(cfg.Kafka.Brokers) != 0 {
		t.Errorf("expected no brokers on blank input, got %v", cfg.Kafka.Brokers)
	}
}

func TestLoad_KafkaPrincipal_FallsBackToServicePrincipal(t *testing.T) {
	clearEnv(t)
	os.Setenv("SERVICE_PRINCIPAL", "my-service")
	defer clearEnv(t)

	cfg := Load()

	if cfg.Kafka.Principal != "my-service" {
		t.Errorf("expected Kafka principal to fall back to service principal, got %s", cfg.Kafka.Principal)
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	defer clearEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("ASR_SECRET_ID=from-file\nASR_HOST=asr.example.test\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	os.Setenv("ASR_HOST", "from-env")

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := Load()
	if cfg.ASR.SecretID != "from-file" {
		t.Errorf("expected secret id from file, got %s", cfg.ASR.SecretID)
	}
	if cfg.ASR.Host != "from-env" {
		t.Errorf("expected environment to win over file, got %s", cfg.ASR.Host)
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

func TestConfiguration_Validate(t *testing.T) {
	valid := func() *Configuration {
		return &Configuration{
			STT:       STTConfig{Provider: "tencent"},
			ASR:       ASRConfig{AppID: "1250000000", SecretID: "AKID", SecretKey: "secret"},
			Audio:     AudioConfig{SampleRateHz: 8000, FrameMs: 40},
			Extractor: ExtractorConfig{Provider: "openai"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Configuration)
		wantErr bool
	}{
		{"valid", func(*Configuration) {}, false},
		{"google needs no asr keys", func(c *Configuration) { c.STT.Provider = "google"; c.ASR = ASRConfig{} }, false},
		{"missing asr secret", func(c *Configuration) { c.ASR.SecretKey = "" }, true},
		{"unknown stt provider", func(c *Configuration) { c.STT.Provider = "whisper" }, true},
		{"gemini without key", func(c *Configuration) { c.Extractor.Provider = "gemini" }, true},
		{"unknown extractor", func(c *Configuration) { c.Extractor.Provider = "claude" }, true},
		{"zero frame", func(c *Configuration) { c.Audio.FrameMs = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected an error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
