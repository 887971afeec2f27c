package recognition

import (
	"context"
	"time"
)

// Event is one transcription result from the speech recognizer, in
// arrival order. SpeechFinal marks the recognizer's endpointing
// decision that the caller finished speaking.
type Event struct {
	Text        string
	IsFinal     bool
	SpeechFinal bool
	Confidence  float64
	At          time.Time
}

// Recognizer is a streaming speech-to-text session for one call. Send
// forwards caller audio in receipt order; Events delivers transcription
// results until Close.
type Recognizer interface {
	Connect(ctx context.Context) error
	Send(audio []byte) error
	Events() <-chan Event
	Close() error
}
