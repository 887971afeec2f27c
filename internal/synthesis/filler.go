package synthesis

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley-ai/voicebridge/internal/audio"
	"github.com/parley-ai/voicebridge/internal/session"
)

// fillerToneHz keeps the thinking sound unobtrusive: a short soft beep
// once a second.
const (
	fillerToneHz    = 440.0
	fillerAmplitude = 2000
	fillerToneMs    = 180
	fillerGapMs     = 820
	fillerDelay     = 400 * time.Millisecond
)

// TonePlayer plays a quiet looping tone while a reply is being
// generated. It starts after a short delay so fast replies never hear
// it, and stops the moment real audio is ready.
type TonePlayer struct {
	sender FrameSender
	delay  time.Duration
	logger zerolog.Logger
	frames [][]byte

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTonePlayer builds the tone loop for one call's frame sender.
func NewTonePlayer(sender FrameSender, logger zerolog.Logger) *TonePlayer {
	return &TonePlayer{
		sender: sender,
		delay:  fillerDelay,
		logger: logger,
		frames: fillerFrames(),
	}
}

// fillerFrames precomputes one tone-plus-gap cycle as mu-law frames.
func fillerFrames() [][]byte {
	toneSamples := audio.SampleRate * fillerToneMs / 1000
	gapSamples := audio.SampleRate * fillerGapMs / 1000
	cycle := make([]byte, 0, toneSamples+gapSamples)
	for i := 0; i < toneSamples; i++ {
		sample := int16(fillerAmplitude * math.Sin(2*math.Pi*fillerToneHz*float64(i)/audio.SampleRate))
		cycle = append(cycle, audio.LinearToMulaw(sample))
	}
	for i := 0; i < gapSamples; i++ {
		cycle = append(cycle, audio.Silence)
	}
	return audio.SliceFrames(cycle)
}

// Start begins the tone loop. Calling Start while a loop is already
// running is a no-op.
func (p *TonePlayer) Start(ctx context.Context, sess *session.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done

	go func() {
		defer close(done)
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.delay):
		}
		p.logger.Debug().Msg("Playing thinking tone")
		for {
			for _, frame := range p.frames {
				if ctx.Err() != nil {
					return
				}
				if err := p.sender.SendFrame(ctx, frame); err != nil {
					if ctx.Err() == nil {
						p.logger.Warn().Err(err).Msg("Thinking tone send failed")
					}
					return
				}
			}
		}
	}()
}

// Stop halts the tone loop and waits for the last frame to go out.
func (p *TonePlayer) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
