package recognition

import (
	"context"
	"fmt"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/parley-ai/voicebridge/internal/config"
)

// messageCallbackHandler adapts the SDK's callback interface onto the
// recognizer's event channel. It embeds the default handler and
// overrides only the methods we care about.
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	onMessage func(*msginterfaces.MessageResponse)
	onError   func(*msginterfaces.ErrorResponse) error
}

func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.onMessage(message)
	return nil
}

func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if m.onError != nil {
		return m.onError(errorResponse)
	}
	return m.DefaultCallbackHandler.Error(errorResponse)
}

// DeepgramRecognizer streams caller audio to Deepgram and surfaces
// transcription results as Events in arrival order. A transport
// failure mid-call is fatal for the session; there is no in-call
// reconnect.
type DeepgramRecognizer struct {
	cfg    *config.Config
	logger zerolog.Logger

	mu     sync.Mutex
	client *listenClient.WSCallback
	closed bool

	// evMu orders late callback deliveries against the channel close.
	evMu         sync.Mutex
	events       chan Event
	eventsClosed bool
}

// NewDeepgramRecognizer creates a recognizer session for one call.
func NewDeepgramRecognizer(cfg *config.Config, logger zerolog.Logger) *DeepgramRecognizer {
	return &DeepgramRecognizer{
		cfg:    cfg,
		logger: logger,
		events: make(chan Event, 100),
	}
}

// Connect opens the streaming session. The wire format is fixed to the
// telephony side: 8 kHz mono mu-law.
func (d *DeepgramRecognizer) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client != nil {
		return fmt.Errorf("recognizer already connected")
	}
	if d.closed {
		return fmt.Errorf("recognizer is closed")
	}

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.cfg.DeepgramModel,
		Language:       d.cfg.DeepgramLanguage,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "mulaw",
		Channels:       1,
		SampleRate:     8000,
	}

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		onMessage:              d.handleMessage,
		onError: func(errorResponse *msginterfaces.ErrorResponse) error {
			d.logger.Error().Interface("response", errorResponse).Msg("Recognizer stream error")
			return nil
		},
	}

	client, err := listenClient.NewWSUsingCallback(ctx, d.cfg.DeepgramAPIKey, nil, tOptions, callback)
	if err != nil {
		return fmt.Errorf("failed to create recognizer client: %w", err)
	}

	d.client = client
	d.logger.Info().
		Str("model", d.cfg.DeepgramModel).
		Str("language", d.cfg.DeepgramLanguage).
		Msg("Recognizer session started")
	return nil
}

func (d *DeepgramRecognizer) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}
	switch msg.Type {
	case "Results", "Message":
		if len(msg.Channel.Alternatives) == 0 {
			return
		}
		alt := msg.Channel.Alternatives[0]
		d.push(Event{
			Text:        alt.Transcript,
			IsFinal:     msg.IsFinal,
			SpeechFinal: msg.SpeechFinal,
			Confidence:  alt.Confidence,
			At:          time.Now(),
		})
	case "SpeechStarted":
		d.logger.Debug().Msg("Recognizer detected speech start")
	case "UtteranceEnd":
		d.logger.Debug().Msg("Recognizer detected utterance end")
	case "Metadata":
	default:
		d.logger.Debug().Str("type", msg.Type).Msg("Recognizer message ignored")
	}
}

// push hands an event to the consumer. The SDK's callback goroutine can
// still deliver messages while Close runs; one arriving after the
// channel closed is dropped, never sent.
func (d *DeepgramRecognizer) push(event Event) {
	d.evMu.Lock()
	defer d.evMu.Unlock()
	if d.eventsClosed {
		return
	}
	select {
	case d.events <- event:
	default:
		d.logger.Warn().Msg("Recognizer event channel full, dropping event")
	}
}

// Send forwards one chunk of caller audio to the recognizer.
func (d *DeepgramRecognizer) Send(audio []byte) error {
	d.mu.Lock()
	client := d.client
	closed := d.closed
	d.mu.Unlock()

	if closed || client == nil {
		return fmt.Errorf("recognizer is not connected")
	}
	if _, err := client.Write(audio); err != nil {
		return fmt.Errorf("failed to send audio to recognizer: %w", err)
	}
	return nil
}

// Events delivers transcription results in arrival order.
func (d *DeepgramRecognizer) Events() <-chan Event {
	return d.events
}

// Close finishes the streaming session and releases the event channel.
func (d *DeepgramRecognizer) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	client := d.client
	d.client = nil
	d.mu.Unlock()

	if client != nil {
		client.Finish()
	}

	d.evMu.Lock()
	d.eventsClosed = true
	close(d.events)
	d.evMu.Unlock()

	d.logger.Debug().Msg("Recognizer session closed")
	return nil
}
