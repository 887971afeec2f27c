package recognition

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley-ai/voicebridge/internal/observability"
	"github.com/parley-ai/voicebridge/internal/session"
)

// Relay bridges one call's inbound audio into a recognizer session and
// turns its transcription events into caller utterances. Finalized
// segments accumulate until the recognizer's endpointing decision, at
// which point the utterance is dispatched exactly once. Utterances that
// complete while the assistant is speaking are dropped, not queued.
type Relay struct {
	rec     Recognizer
	sess    *session.Session
	inbound <-chan []byte
	onFinal func(text string)
	metrics *observability.Metrics
	logger  zerolog.Logger

	pending strings.Builder
}

// NewRelay wires a recognizer session to a call. onFinal receives each
// completed caller utterance.
func NewRelay(rec Recognizer, sess *session.Session, inbound <-chan []byte, onFinal func(text string), metrics *observability.Metrics, logger zerolog.Logger) *Relay {
	return &Relay{
		rec:     rec,
		sess:    sess,
		inbound: inbound,
		onFinal: onFinal,
		metrics: metrics,
		logger:  logger,
	}
}

// Connect opens the recognizer session, bounded by timeout. A failure
// here is fatal for the call.
func (r *Relay) Connect(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := r.rec.Connect(ctx); err != nil {
		return fmt.Errorf("recognizer connect failed: %w", err)
	}
	return nil
}

// Run pumps audio into the recognizer and consumes its events until the
// context is cancelled, the inbound queue closes, or a transport error.
func (r *Relay) Run(ctx context.Context) error {
	errc := make(chan error, 2)
	go func() { errc <- r.pump(ctx) }()
	go func() { errc <- r.consume(ctx) }()
	return <-errc
}

// pump forwards caller audio to the recognizer in receipt order.
func (r *Relay) pump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-r.inbound:
			if !ok {
				return nil
			}
			if err := r.rec.Send(frame); err != nil {
				if r.metrics != nil {
					r.metrics.RecordError("recognizer_send", "recognition")
				}
				return fmt.Errorf("recognizer send failed: %w", err)
			}
		}
	}
}

func (r *Relay) consume(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-r.rec.Events():
			if !ok {
				return nil
			}
			r.handleEvent(event)
		}
	}
}

func (r *Relay) handleEvent(event Event) {
	if !event.IsFinal {
		if r.metrics != nil {
			r.metrics.RecordTranscriptEvent("partial")
		}
		r.logger.Debug().Str("text", event.Text).Msg("Partial transcript")
		return
	}

	if event.Text != "" {
		if r.pending.Len() > 0 {
			r.pending.WriteByte(' ')
		}
		r.pending.WriteString(event.Text)
	}
	if r.metrics != nil {
		r.metrics.RecordTranscriptEvent("final")
	}
	if !event.SpeechFinal {
		return
	}

	utterance := strings.TrimSpace(r.pending.String())
	r.pending.Reset()
	if utterance == "" {
		return
	}

	// Caller speech recognized while the assistant holds the floor,
	// either generating or playing a reply, is dropped at arrival
	// rather than replayed later.
	if r.sess.Speaking() || r.sess.State() == session.StateResponding {
		if r.metrics != nil {
			r.metrics.RecordTranscriptEvent("suppressed")
		}
		r.logger.Debug().Str("text", utterance).Msg("Utterance suppressed while assistant speaking")
		return
	}

	if r.metrics != nil {
		r.metrics.RecordTranscriptEvent("speech_final")
	}
	r.logger.Info().Str("text", utterance).Float64("confidence", event.Confidence).Msg("Caller utterance")
	r.onFinal(utterance)
}
