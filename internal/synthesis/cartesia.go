package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley-ai/voicebridge/internal/audio"
	"github.com/parley-ai/voicebridge/internal/config"
	"github.com/parley-ai/voicebridge/internal/observability"
	"github.com/parley-ai/voicebridge/internal/resilience"
)

const encodingMulaw = "mulaw"

// CartesiaClient synthesizes speech through Cartesia's TTS API. When
// the endpoint is configured for PCM output, the response is piped
// through the transcoder down to telephony mu-law.
type CartesiaClient struct {
	cfg        *config.Config
	httpClient *http.Client
	transcoder *Transcoder
	breaker    *resilience.CircuitBreaker
	logger     zerolog.Logger
}

type cartesiaRequest struct {
	Text         string  `json:"text"`
	VoiceID      string  `json:"voice_id"`
	ModelID      string  `json:"model_id,omitempty"`
	OutputFormat string  `json:"output_format,omitempty"`
	SampleRate   int     `json:"sample_rate,omitempty"`
	Speed        float64 `json:"speed,omitempty"`
}

// NewCartesiaClient creates a synthesizer client. The circuit breaker
// sheds synthesis requests after repeated endpoint failures.
func NewCartesiaClient(cfg *config.Config, transcoder *Transcoder, logger zerolog.Logger) *CartesiaClient {
	return &CartesiaClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		transcoder: transcoder,
		breaker:    resilience.NewCircuitBreaker("cartesia", cfg.CircuitBreakerMaxFailures, cfg.CircuitBreakerResetTimeout),
		logger:     logger,
	}
}

// Synthesize requests audio for text and returns it as a mu-law stream.
func (c *CartesiaClient) Synthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	reqBody := cartesiaRequest{
		Text:         text,
		VoiceID:      c.cfg.SynthesisVoiceID,
		ModelID:      c.cfg.SynthesisModelID,
		OutputFormat: c.cfg.SynthesisEncoding,
		SampleRate:   c.cfg.SynthesisSampleRate,
		Speed:        1.0,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	var resp *http.Response
	err = c.breaker.Call(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.SynthesisURL, bytes.NewReader(jsonData))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", c.cfg.SynthesisAPIKey)

		resp, err = c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("synthesis request failed: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			status := resp.StatusCode
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			resp = nil
			return fmt.Errorf("synthesis endpoint returned status %d: %s", status, string(body))
		}
		return nil
	})
	observability.UpdateCircuitBreakerState("cartesia", int(c.breaker.State()))
	if err != nil {
		return nil, err
	}

	if c.cfg.SynthesisEncoding == encodingMulaw && c.cfg.SynthesisSampleRate == 8000 {
		return resp.Body, nil
	}
	if c.transcoder == nil {
		return c.convertInProcess(resp.Body)
	}
	stream, err := c.transcoder.Transcode(ctx, resp.Body, c.cfg.SynthesisSampleRate)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	return stream, nil
}

// convertInProcess downsamples PCM to mu-law without the external
// transcoder. It buffers the whole utterance, so it is only the
// fallback path when no transcoder is configured.
func (c *CartesiaClient) convertInProcess(body io.ReadCloser) (io.ReadCloser, error) {
	defer body.Close()
	pcm, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read synthesis response: %w", err)
	}
	mulaw, err := audio.PCMToMulaw(pcm, c.cfg.SynthesisSampleRate, audio.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to convert synthesis audio: %w", err)
	}
	return io.NopCloser(bytes.NewReader(mulaw)), nil
}
