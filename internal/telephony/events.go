package telephony

// StreamMessage is one JSON event frame on the telephony media socket.
// The provider sends connected, start, media, and stop events; we send
// media events carrying synthesized audio back.
type StreamMessage struct {
	Event     string        `json:"event"`
	StreamSid string        `json:"streamSid,omitempty"`
	Media     *MediaPayload `json:"media,omitempty"`
	Start     *StartPayload `json:"start,omitempty"`
	Stop      *StopPayload  `json:"stop,omitempty"`
}

// MediaPayload carries one base64-encoded 20 ms mu-law audio chunk.
// Some provider versions use "chunk" instead of "payload".
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Payload   string `json:"payload,omitempty"`
}

// StartPayload resolves the stream to a logical call and carries the
// custom parameters set when the call was placed.
type StartPayload struct {
	AccountSid       string            `json:"accountSid"`
	CallSid          string            `json:"callSid"`
	StreamSid        string            `json:"streamSid"`
	Tracks           []string          `json:"tracks,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// StopPayload signals the remote end of the media stream.
type StopPayload struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

// TrackInbound tags media events carrying the caller's audio.
const TrackInbound = "inbound"
