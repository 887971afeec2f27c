package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/parley-ai/voicebridge/internal/audio"
	"github.com/parley-ai/voicebridge/internal/config"
	"github.com/parley-ai/voicebridge/internal/dialogue"
	"github.com/parley-ai/voicebridge/internal/observability"
	"github.com/parley-ai/voicebridge/internal/recognition"
	"github.com/parley-ai/voicebridge/internal/session"
	"github.com/parley-ai/voicebridge/internal/synthesis"
	"github.com/parley-ai/voicebridge/internal/telephony"
)

// Deps bundles the per-call component factories. Factories take the
// call-scoped logger so every component logs under the same ids.
type Deps struct {
	Config *config.Config
	Store  *session.Store
	Tools  []dialogue.Tool

	NewRecognizer  func(logger zerolog.Logger) recognition.Recognizer
	NewGenerator   func(logger zerolog.Logger) dialogue.Generator
	NewSynthesizer func(logger zerolog.Logger) synthesis.Synthesizer
}

// Run drives one call from socket upgrade to finalized record: the
// media handshake, the recognizer session, the dialogue turn loop, and
// the synthesis playout all live for exactly this call.
func Run(ctx context.Context, conn *websocket.Conn, deps Deps) error {
	cfg := deps.Config
	correlationID := observability.NewCorrelationID()
	logger := observability.CallLogger(correlationID, "", "")
	metrics := observability.NewCallMetrics()
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	gw := telephony.NewGateway(conn, cfg.InboundQueueSize, audio.FrameInterval, logger, metrics)
	// Reads on the socket only unblock when it closes.
	go func() {
		<-ctx.Done()
		gw.Close()
	}()
	defer func() {
		gw.Close()
		metrics.RecordCallEnd()
	}()

	info, err := gw.Accept(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Media stream handshake failed")
		return err
	}
	logger = observability.CallLogger(correlationID, info.CallSID, info.StreamSID)
	logger.Info().Msg("Media stream started")

	sess, err := resolveSession(deps, info, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to resolve call session")
		return err
	}
	sess.Logger = logger
	completed := false
	defer func() {
		sess.SetState(session.StateEnded)
		path, ferr := deps.Store.Finalize(sess, completed)
		if ferr != nil {
			logger.Error().Err(ferr).Msg("Failed to persist call record")
			return
		}
		logger.Info().
			Str("record", path).
			Bool("completed", completed).
			Dur("duration", time.Since(start)).
			Msg("Call ended")
	}()

	rec := deps.NewRecognizer(sess.Logger)
	defer rec.Close()

	// One pending caller utterance at a time. Utterances that arrive
	// while a turn is in flight are dropped, never queued.
	turns := make(chan string, 1)
	relay := recognition.NewRelay(rec, sess, gw.Inbound(), func(text string) {
		select {
		case turns <- text:
		default:
			metrics.RecordTranscriptEvent("suppressed")
			sess.Logger.Debug().Str("text", text).Msg("Utterance dropped, turn already pending")
		}
	}, metrics, sess.Logger)

	if err := relay.Connect(ctx, cfg.RecognitionConnectTimeout); err != nil {
		sess.Logger.Error().Err(err).Msg("Recognizer unavailable, ending call")
		metrics.RecordError("recognizer_connect", "recognition")
		return err
	}
	sess.SetState(session.StateIdle)

	streamer := synthesis.NewStreamer(deps.NewSynthesizer(sess.Logger), gw, cfg.SynthesisBufferBytes, metrics, sess.Logger)
	filler := synthesis.NewTonePlayer(gw, sess.Logger)
	orch := dialogue.NewOrchestrator(deps.NewGenerator(sess.Logger), streamer, filler, deps.Tools, cfg.HistoryWindow, metrics, sess.Logger)

	fatal := make(chan error, 2)
	go func() {
		fatal <- gw.ReadLoop(ctx, func() {
			sess.Logger.Info().Msg("Remote hangup")
		})
	}()
	go func() {
		fatal <- relay.Run(ctx)
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := orch.Greet(ctx, sess, sess.Task.GreetingLine()); err != nil {
			sess.Logger.Error().Err(err).Msg("Greeting playback failed")
		}
		for {
			select {
			case <-ctx.Done():
				return
			case text := <-turns:
				if err := orch.HandleUtterance(ctx, sess, text); err != nil {
					sess.Logger.Error().Err(err).Msg("Dialogue turn failed, call continues")
					metrics.RecordError("dialogue_turn", "dialogue")
				}
			}
		}
	}()

	err = <-fatal
	completed = err == nil
	cancel()
	filler.Stop()
	wg.Wait()
	if err != nil {
		return fmt.Errorf("call ended abnormally: %w", err)
	}
	return nil
}

// resolveSession matches the stream to a previously registered outbound
// call, or creates an inbound session with the task named in the
// stream's custom parameters.
func resolveSession(deps Deps, info *telephony.StartInfo, logger zerolog.Logger) (*session.Session, error) {
	sess, ok := deps.Store.LookupCall(info.CallSID)
	if !ok {
		var task *session.Task
		if name := info.Params["task"]; name != "" {
			var err error
			task, err = session.LoadTask(deps.Config.TaskDir, name)
			if err != nil {
				logger.Warn().Err(err).Str("task", name).Msg("Task not found, using default prompt")
			}
		}
		sess = deps.Store.Create(session.Inbound, task, nil)
	}
	if err := deps.Store.Bind(sess, info.StreamSID, info.CallSID); err != nil {
		return nil, err
	}
	return sess, nil
}
