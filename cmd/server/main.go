package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/parley-ai/voicebridge/internal/bridge"
	"github.com/parley-ai/voicebridge/internal/config"
	"github.com/parley-ai/voicebridge/internal/dialogue"
	"github.com/parley-ai/voicebridge/internal/observability"
	"github.com/parley-ai/voicebridge/internal/recognition"
	"github.com/parley-ai/voicebridge/internal/resilience"
	"github.com/parley-ai/voicebridge/internal/session"
	"github.com/parley-ai/voicebridge/internal/synthesis"
	"github.com/parley-ai/voicebridge/internal/telephony"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Bool("outbound_enabled", cfg.OutboundEnabled()).
		Msg("Voice Bridge Service starting")

	store := session.NewStore(cfg.RecordDir, logger)

	// The generator and synthesizer clients are shared across calls;
	// recognizer sessions are per-call.
	generator := dialogue.NewOpenAIGenerator(cfg, logger)
	var transcoder *synthesis.Transcoder
	if cfg.TranscoderPath != "" {
		transcoder = synthesis.NewTranscoder(cfg.TranscoderPath, logger)
	} else {
		logger.Info().Msg("Transcoder disabled, converting synthesis audio in process")
	}
	synthesizer := synthesis.NewCartesiaClient(cfg, transcoder, logger)

	deps := bridge.Deps{
		Config: cfg,
		Store:  store,
		NewRecognizer: func(l zerolog.Logger) recognition.Recognizer {
			return recognition.NewDeepgramRecognizer(cfg, l)
		},
		NewGenerator:   func(zerolog.Logger) dialogue.Generator { return generator },
		NewSynthesizer: func(zerolog.Logger) synthesis.Synthesizer { return synthesizer },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/streams/telephony", bridge.Handler(deps))

	var placer bridge.CallPlacer
	if cfg.OutboundEnabled() {
		retry := &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    cfg.RetryInitialBackoff,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
		}
		placer = telephony.NewDialer(
			cfg.TwilioAccountSID,
			cfg.TwilioAuthToken,
			cfg.TwilioFromNumber,
			streamURL(cfg),
			retry,
			logger,
		)
	} else {
		logger.Info().Msg("Telephony credentials not set, outbound calling disabled")
	}
	api := bridge.NewAPI(cfg, store, placer, logger)
	mux.HandleFunc("/calls", api.PlaceCall)
	mux.HandleFunc("/calls/status", api.CallStatus)

	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"recognition": func(ctx context.Context) (bool, error) {
			if cfg.DeepgramAPIKey == "" {
				return false, fmt.Errorf("recognition API key not configured")
			}
			return true, nil
		},
		"dialogue": func(ctx context.Context) (bool, error) {
			if cfg.OpenAIAPIKey == "" {
				return false, fmt.Errorf("dialogue API key not configured")
			}
			return true, nil
		},
		"synthesis": func(ctx context.Context) (bool, error) {
			if cfg.SynthesisAPIKey == "" {
				return false, fmt.Errorf("synthesis API key not configured")
			}
			return true, nil
		},
		"transcoder": func(ctx context.Context) (bool, error) {
			if cfg.TranscoderPath == "" {
				return true, nil
			}
			if _, err := exec.LookPath(cfg.TranscoderPath); err != nil {
				return false, fmt.Errorf("transcoder binary not found: %w", err)
			}
			return true, nil
		},
	}))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: media streams outlive any fixed deadline.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/streams/telephony", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Int("active_calls", store.Active()).Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}

// streamURL derives the media stream endpoint the telephony provider
// should connect to from the service's public URL.
func streamURL(cfg *config.Config) string {
	base := cfg.PublicURL
	if base == "" {
		return fmt.Sprintf("ws://localhost:%s/streams/telephony", cfg.Port)
	}
	base = strings.TrimSuffix(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/streams/telephony"
}
