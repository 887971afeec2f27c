package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/parley-ai/voicebridge/internal/audio"
	"github.com/parley-ai/voicebridge/internal/observability"
	"github.com/rs/zerolog"
)

// Upgrader upgrades provider media stream connections.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin validation against provider IP ranges belongs in the
		// fronting proxy.
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// StartInfo is what the remote start event resolves: the stream id, the
// logical call id, and any custom parameters set at call placement.
type StartInfo struct {
	StreamSID  string
	CallSID    string
	AccountSID string
	Params     map[string]string
}

// Gateway terminates the telephony-side socket for one call. It decodes
// inbound media events onto a bounded frame queue and sends outbound
// frames at the fixed wire cadence.
type Gateway struct {
	conn          *websocket.Conn
	inbound       chan []byte
	frameInterval time.Duration
	logger        zerolog.Logger
	metrics       *observability.Metrics

	writeMu   sync.Mutex
	streamSID string
}

// NewGateway wraps an upgraded media stream connection. queueSize
// bounds the inbound frame queue; overflowing frames are dropped.
func NewGateway(conn *websocket.Conn, queueSize int, frameInterval time.Duration, logger zerolog.Logger, metrics *observability.Metrics) *Gateway {
	if frameInterval <= 0 {
		frameInterval = audio.FrameInterval
	}
	return &Gateway{
		conn:          conn,
		inbound:       make(chan []byte, queueSize),
		frameInterval: frameInterval,
		logger:        logger,
		metrics:       metrics,
	}
}

// Accept performs the protocol handshake: it consumes events until the
// start event arrives and returns the identifiers it carries. The
// caller must close the connection to unblock Accept on cancellation.
func (g *Gateway) Accept(ctx context.Context) (*StartInfo, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, data, err := g.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("handshake read failed: %w", err)
		}
		var msg StreamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			g.logger.Error().Err(err).Msg("Malformed stream message")
			continue
		}
		switch msg.Event {
		case "connected":
			g.logger.Debug().Msg("Media stream connected")
		case "start":
			if msg.Start == nil {
				return nil, fmt.Errorf("start event missing payload")
			}
			g.writeMu.Lock()
			g.streamSID = msg.Start.StreamSid
			g.writeMu.Unlock()
			return &StartInfo{
				StreamSID:  msg.Start.StreamSid,
				CallSID:    msg.Start.CallSid,
				AccountSID: msg.Start.AccountSid,
				Params:     msg.Start.CustomParameters,
			}, nil
		case "stop":
			return nil, fmt.Errorf("stream stopped during handshake")
		default:
			// Unknown events before start are ignored.
		}
	}
}

// ReadLoop drains the socket until the stop event or a transport error.
// Inbound-track media is decoded and pushed onto the frame queue
// without ever blocking; full-queue frames are dropped with a warning.
// onStop is invoked for a remote stop event.
func (g *Gateway) ReadLoop(ctx context.Context, onStop func()) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		_, data, err := g.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Warn().Err(err).Msg("Media stream read error")
			}
			return fmt.Errorf("media stream closed: %w", err)
		}
		var msg StreamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			g.logger.Error().Err(err).Msg("Malformed stream message")
			continue
		}

		switch msg.Event {
		case "media":
			if msg.Media == nil {
				continue
			}
			if msg.Media.Track != "" && msg.Media.Track != TrackInbound {
				continue
			}
			g.handleMedia(msg.Media)
		case "stop":
			g.logger.Info().Msg("Media stream stopped by remote")
			if onStop != nil {
				onStop()
			}
			return nil
		case "connected", "start":
			// Already handled in Accept; duplicates are ignored.
		default:
			g.logger.Debug().Str("event", msg.Event).Msg("Ignoring unknown stream event")
		}
	}
}

func (g *Gateway) handleMedia(media *MediaPayload) {
	encoded := media.Payload
	if encoded == "" {
		encoded = media.Chunk
	}
	if encoded == "" {
		g.logger.Debug().Msg("Media event missing payload")
		return
	}
	frame, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		g.logger.Error().Err(err).Msg("Failed to decode media payload")
		return
	}
	if g.metrics != nil {
		g.metrics.RecordAudioBytes("in", int64(len(frame)))
	}
	select {
	case g.inbound <- frame:
	default:
		g.logger.Warn().Msg("Inbound audio queue full, dropping frame")
		if g.metrics != nil {
			g.metrics.RecordDrop("inbound_audio", len(frame))
		}
	}
}

// Inbound is the queue of decoded caller audio frames, in receipt order.
func (g *Gateway) Inbound() <-chan []byte {
	return g.inbound
}

// SendFrame sends one outbound audio frame, padding it to the fixed
// frame size, then holds the caller for one frame interval so outbound
// audio never outruns the wire cadence.
func (g *Gateway) SendFrame(ctx context.Context, frame []byte) error {
	frame = audio.PadFrame(frame)
	msg := StreamMessage{
		Event: "media",
		Media: &MediaPayload{Payload: base64.StdEncoding.EncodeToString(frame)},
	}

	g.writeMu.Lock()
	msg.StreamSid = g.streamSID
	err := g.conn.WriteJSON(msg)
	g.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to send media frame: %w", err)
	}
	if g.metrics != nil {
		g.metrics.RecordFrameSent()
		g.metrics.RecordAudioBytes("out", int64(len(frame)))
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(g.frameInterval):
		return nil
	}
}

// Close tears down the underlying socket, unblocking any reads.
func (g *Gateway) Close() error {
	return g.conn.Close()
}
