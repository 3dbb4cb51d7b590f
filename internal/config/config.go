package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Configuration is the full process configuration, read from the environment.
type Configuration struct {
	Service       ServiceConfig
	STT           STTConfig
	ASR           ASRConfig
	Audio         AudioConfig
	Extractor     ExtractorConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Principal      string
	GRPCPort       string // empty disables the gRPC health server
	MetricsAddr    string // empty disables the HTTP observability server
	SessionTimeout time.Duration
}

type STTConfig struct {
	Provider     string // tencent, google
	LanguageCode string // google only
}

// ASRConfig holds the signed-websocket recognizer settings.
type ASRConfig struct {
	AppID            string
	SecretID         string
	SecretKey        string
	Scheme           string
	Host             string
	EngineModelType  string
	NeedVAD          bool
	VADSilenceMs     int
	VoiceFormat      int
	SignatureTTL     time.Duration
	HandshakeTimeout time.Duration
}

type AudioConfig struct {
	SampleRateHz int
	FrameMs      int
	QueueSize    int
	PaceRealtime bool
	MaxDuration  time.Duration
}

type ExtractorConfig struct {
	Provider   string // openai, gemini
	BaseURL    string
	Model      string
	APIKey     string
	Cooldown   time.Duration
	MaxLatency time.Duration
	Timeout    time.Duration
}

type KafkaConfig struct {
	Enabled         bool
	Brokers         []string
	TopicPartial    string
	TopicUtterance  string
	TopicCallRecord string
	Principal       string
}

type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
}

// LoadDotEnv loads variables from the given files (default ".env") without
// overriding values already present in the environment. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// Load reads the configuration from the environment.
func Load() *Configuration {
	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-call-monitor")

	return &Configuration{
		Service: ServiceConfig{
			Principal:      principal,
			GRPCPort:       os.Getenv("GRPC_PORT"),
			MetricsAddr:    envOrDefault("METRICS_ADDR", ":9090"),
			SessionTimeout: envOrDefaultDuration("SESSION_TIMEOUT", 0),
		},
		STT: STTConfig{
			Provider:     envOrDefault("STT_PROVIDER", "tencent"),
			LanguageCode: envOrDefault("STT_LANGUAGE_CODE", "zh-CN"),
		},
		ASR: ASRConfig{
			AppID:            os.Getenv("ASR_APP_ID"),
			SecretID:         os.Getenv("ASR_SECRET_ID"),
			SecretKey:        os.Getenv("ASR_SECRET_KEY"),
			Scheme:           envOrDefault("ASR_SCHEME", "wss"),
			Host:             envOrDefault("ASR_HOST", "asr.cloud.tencent.com"),
			EngineModelType:  envOrDefault("ASR_ENGINE_MODEL_TYPE", "8k_zh"),
			NeedVAD:          envOrDefaultBool("ASR_NEED_VAD", true),
			VADSilenceMs:     envOrDefaultInt("ASR_VAD_SILENCE_MS", 1000),
			VoiceFormat:      envOrDefaultInt("ASR_VOICE_FORMAT", 1),
			SignatureTTL:     envOrDefaultDuration("ASR_SIGNATURE_TTL", 24*time.Hour),
			HandshakeTimeout: envOrDefaultDuration("ASR_HANDSHAKE_TIMEOUT", 10*time.Second),
		},
		Audio: AudioConfig{
			SampleRateHz: envOrDefaultInt("AUDIO_SAMPLE_RATE_HZ", 8000),
			FrameMs:      envOrDefaultInt("AUDIO_FRAME_MS", 40),
			QueueSize:    envOrDefaultInt("AUDIO_QUEUE_SIZE", 256),
			PaceRealtime: envOrDefaultBool("AUDIO_PACE_REALTIME", false),
			MaxDuration:  envOrDefaultDuration("AUDIO_MAX_DURATION", 0),
		},
		Extractor: ExtractorConfig{
			Provider:   envOrDefault("EXTRACTOR_PROVIDER", "openai"),
			BaseURL:    envOrDefault("EXTRACTOR_BASE_URL", "http://localhost:11434/v1"),
			Model:      envOrDefault("EXTRACTOR_MODEL", "qwen3:8b"),
			APIKey:     os.Getenv("EXTRACTOR_API_KEY"),
			Cooldown:   envOrDefaultDuration("EXTRACTOR_COOLDOWN", 2*time.Second),
			MaxLatency: envOrDefaultDuration("EXTRACTOR_MAX_LATENCY", 0),
			Timeout:    envOrDefaultDuration("EXTRACTOR_TIMEOUT", 60*time.Second),
		},
		Kafka: KafkaConfig{
			Enabled:         envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:         envOrDefaultList("KAFKA_BROKERS", nil),
			TopicPartial:    envOrDefault("KAFKA_TOPIC_PARTIAL", "callmonitor.transcript.partial"),
			TopicUtterance:  envOrDefault("KAFKA_TOPIC_UTTERANCE", "callmonitor.transcript.utterance"),
			TopicCallRecord: envOrDefault("KAFKA_TOPIC_CALL_RECORD", "callmonitor.call-record"),
			Principal:       envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Observability: ObservabilityConfig{
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
		},
	}
}

// Validate reports settings the selected providers cannot run without.
func (c *Configuration) Validate() error {
	var errs []error
	switch c.STT.Provider {
	case "tencent":
		if c.ASR.AppID == "" || c.ASR.SecretID == "" || c.ASR.SecretKey == "" {
			errs = append(errs, errors.New("ASR_APP_ID, ASR_SECRET_ID and ASR_SECRET_KEY are required for the tencent provider"))
		}
	case "google":
	default:
		errs = append(errs, fmt.Errorf("unknown STT_PROVIDER %q", c.STT.Provider))
	}
	switch c.Extractor.Provider {
	case "openai":
	case "gemini":
		if c.Extractor.APIKey == "" {
			errs = append(errs, errors.New("EXTRACTOR_API_KEY is required for the gemini provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown EXTRACTOR_PROVIDER %q", c.Extractor.Provider))
	}
	if c.Audio.SampleRateHz <= 0 || c.Audio.FrameMs <= 0 {
		errs = append(errs, errors.New("AUDIO_SAMPLE_RATE_HZ and AUDIO_FRAME_MS must be positive"))
	}
	return errors.Join(errs...)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// envOrDefaultList splits a comma separated value, dropping blank entries.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
