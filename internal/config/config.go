package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice bridge service.
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Public base URL of this service. The telephony provider connects
	// its media stream to wss://<this-host>/streams/telephony.
	PublicURL string `envconfig:"PUBLIC_URL" default:""`

	// Recognition service (Deepgram)
	DeepgramAPIKey            string        `envconfig:"DEEPGRAM_API_KEY" required:"true"`
	DeepgramModel             string        `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage          string        `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`
	RecognitionConnectTimeout time.Duration `envconfig:"RECOGNITION_CONNECT_TIMEOUT" default:"5s"`

	// Dialogue generation (OpenAI-compatible)
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY" required:"true"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL" default:""`
	OpenAIModel   string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`

	// Speech synthesis (Cartesia)
	SynthesisAPIKey     string `envconfig:"SYNTHESIS_API_KEY" required:"true"`
	SynthesisURL        string `envconfig:"SYNTHESIS_URL" default:"https://api.cartesia.ai/v1/tts"`
	SynthesisVoiceID    string `envconfig:"SYNTHESIS_VOICE_ID" default:"sonic-english"`
	SynthesisModelID    string `envconfig:"SYNTHESIS_MODEL_ID" default:"sonic"`
	SynthesisEncoding   string `envconfig:"SYNTHESIS_ENCODING" default:"pcm_s16le"` // pcm_s16le or mulaw
	SynthesisSampleRate int    `envconfig:"SYNTHESIS_SAMPLE_RATE" default:"24000"`

	// Transcoding subprocess for non-mulaw synthesis output. Empty
	// disables the subprocess and converts in process instead.
	TranscoderPath string `envconfig:"TRANSCODER_PATH" default:"ffmpeg"`

	// Telephony control API (required only for placing outbound calls)
	TwilioAccountSID string `envconfig:"TWILIO_ACCOUNT_SID" default:""`
	TwilioAuthToken  string `envconfig:"TWILIO_AUTH_TOKEN" default:""`
	TwilioFromNumber string `envconfig:"TWILIO_FROM_NUMBER" default:""`

	// Queue and buffer bounds
	InboundQueueSize     int `envconfig:"INBOUND_QUEUE_SIZE" default:"100"`       // frames
	SynthesisBufferBytes int `envconfig:"SYNTHESIS_BUFFER_BYTES" default:"32000"` // ~4 s of 8 kHz mulaw
	HistoryWindow        int `envconfig:"HISTORY_WINDOW" default:"20"`            // turns, system turn included

	// Resilience configuration
	CircuitBreakerMaxFailures  int           `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout time.Duration `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30s"`
	RetryMaxAttempts           int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        time.Duration `envconfig:"RETRY_INITIAL_BACKOFF" default:"100ms"`

	// Storage
	TaskDir   string `envconfig:"TASK_DIR" default:"./tasks"`
	RecordDir string `envconfig:"RECORD_DIR" default:"./records"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from a .env file (if present) and the
// environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv reads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.DeepgramAPIKey == "" {
		return nil, fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if cfg.SynthesisAPIKey == "" {
		return nil, fmt.Errorf("SYNTHESIS_API_KEY is required")
	}
	if cfg.InboundQueueSize <= 0 {
		return nil, fmt.Errorf("INBOUND_QUEUE_SIZE must be positive")
	}
	if cfg.SynthesisBufferBytes <= 0 {
		return nil, fmt.Errorf("SYNTHESIS_BUFFER_BYTES must be positive")
	}
	if cfg.HistoryWindow < 2 {
		return nil, fmt.Errorf("HISTORY_WINDOW must be at least 2")
	}
	return &cfg, nil
}

// OutboundEnabled reports whether the telephony control API is
// configured for placing calls.
func (c *Config) OutboundEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != ""
}
