package synthesis

import (
	"context"
	"io"
)

// Synthesizer converts reply text into a stream of 8 kHz mono mu-law
// audio ready for the telephony leg. The caller must close the stream.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (io.ReadCloser, error)
}

// FrameSender delivers one outbound audio frame at the wire cadence.
type FrameSender interface {
	SendFrame(ctx context.Context, frame []byte) error
}
