package synthesis

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley-ai/voicebridge/internal/audio"
	"github.com/parley-ai/voicebridge/internal/observability"
	"github.com/parley-ai/voicebridge/internal/session"
)

// Streamer plays synthesized replies to the caller. It holds the
// session's speaking flag for the duration of playback, buffers the
// synthesis stream through a bounded ring, and paces frames out through
// the frame sender. One streamer per call.
type Streamer struct {
	synth       Synthesizer
	sender      FrameSender
	bufferBytes int
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

// NewStreamer wires a synthesizer to a call's frame sender. bufferBytes
// bounds how far synthesis may run ahead of playback.
func NewStreamer(synth Synthesizer, sender FrameSender, bufferBytes int, metrics *observability.Metrics, logger zerolog.Logger) *Streamer {
	if bufferBytes <= 0 {
		bufferBytes = 32000
	}
	return &Streamer{
		synth:       synth,
		sender:      sender,
		bufferBytes: bufferBytes,
		metrics:     metrics,
		logger:      logger,
	}
}

// Speak synthesizes text and plays it to the caller, returning after
// the last frame went out. The session reads as speaking for the whole
// window, including a failed synthesis attempt.
func (s *Streamer) Speak(ctx context.Context, sess *session.Session, text string) error {
	sess.SetSpeaking(true)
	defer sess.SetSpeaking(false)

	if s.metrics != nil {
		s.metrics.RecordSynthesisStart()
	}
	stream, err := s.synth.Synthesize(ctx, text)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordSynthesisEnd(false)
			s.metrics.RecordError("synthesis", "synthesis")
		}
		return fmt.Errorf("synthesis failed: %w", err)
	}

	err = s.play(ctx, stream)
	if closeErr := stream.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if s.metrics != nil {
		s.metrics.RecordSynthesisEnd(err == nil)
	}
	return err
}

// play pumps the synthesis stream through the ring buffer into paced
// outbound frames. A slow wire never stalls the producer: overflow
// drops the oldest buffered audio instead.
func (s *Streamer) play(ctx context.Context, stream io.Reader) error {
	ring := audio.NewRingBuffer(s.bufferBytes + 1)
	produced := make(chan error, 1)

	go func() {
		chunk := make([]byte, 4096)
		for {
			n, err := stream.Read(chunk)
			if n > 0 {
				if dropped := ring.WriteOver(chunk[:n]); dropped > 0 {
					s.logger.Warn().Int("bytes", dropped).Msg("Synthesis buffer overflow, dropping oldest audio")
					if s.metrics != nil {
						s.metrics.RecordDrop("synthesis_buffer", dropped)
					}
				}
			}
			if err != nil {
				if err == io.EOF {
					produced <- nil
				} else {
					produced <- err
				}
				return
			}
		}
	}()

	frame := make([]byte, audio.FrameSize)
	filled := 0
	var producerErr error
	producerDone := false
	for {
		if filled < audio.FrameSize {
			filled += ring.Read(frame[filled:])
		}
		// A partial frame waits for the producer to fill it; sending it
		// early would pad silence into the middle of the utterance. The
		// trailing remainder goes out once the producer finishes.
		if filled == audio.FrameSize || (producerDone && filled > 0) {
			if err := s.sender.SendFrame(ctx, frame[:filled]); err != nil {
				return fmt.Errorf("failed to send audio frame: %w", err)
			}
			filled = 0
			continue
		}
		if producerDone {
			return producerErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-produced:
			producerDone = true
			producerErr = err
		case <-time.After(audio.FrameInterval / 4):
			// Producer still running, buffer momentarily empty.
		}
	}
}
