package audio

import "time"

// Telephony wire format: G.711 mu-law, 8 kHz mono, 20 ms frames.
const (
	SampleRate    = 8000
	FrameSize     = 160 // bytes per frame (8000 Hz * 0.020 s)
	FrameInterval = 20 * time.Millisecond

	// Silence is the mu-law encoding of a zero sample, used for padding.
	Silence byte = 0xFF
)

// PadFrame returns b extended to exactly FrameSize bytes with mu-law
// silence. Frames already at FrameSize are returned unchanged; longer
// input is truncated.
func PadFrame(b []byte) []byte {
	if len(b) == FrameSize {
		return b
	}
	if len(b) > FrameSize {
		return b[:FrameSize]
	}
	frame := make([]byte, FrameSize)
	copy(frame, b)
	for i := len(b); i < FrameSize; i++ {
		frame[i] = Silence
	}
	return frame
}

// SliceFrames splits b into FrameSize frames. The final short frame, if
// any, is padded with silence. Input bytes are copied; the result does
// not alias b.
func SliceFrames(b []byte) [][]byte {
	if len(b) == 0 {
		return nil
	}
	n := (len(b) + FrameSize - 1) / FrameSize
	frames := make([][]byte, 0, n)
	for off := 0; off < len(b); off += FrameSize {
		end := off + FrameSize
		if end > len(b) {
			end = len(b)
		}
		frame := make([]byte, end-off)
		copy(frame, b[off:end])
		frames = append(frames, PadFrame(frame))
	}
	return frames
}
