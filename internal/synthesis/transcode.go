package synthesis

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Transcoder converts synthesized PCM into telephony mu-law by piping
// it through an external ffmpeg process. One process per utterance.
type Transcoder struct {
	path   string
	logger zerolog.Logger
}

// NewTranscoder points at the ffmpeg binary. path "" means "ffmpeg"
// from PATH.
func NewTranscoder(path string, logger zerolog.Logger) *Transcoder {
	if path == "" {
		path = "ffmpeg"
	}
	return &Transcoder{path: path, logger: logger}
}

// Transcode streams 16-bit little-endian mono PCM at inputRate into
// 8 kHz mono mu-law. The returned stream must be closed; Close reaps
// the process and surfaces its stderr on failure. Cancelling ctx kills
// the process.
func (t *Transcoder) Transcode(ctx context.Context, in io.ReadCloser, inputRate int) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, t.path,
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le", "-ar", strconv.Itoa(inputRate), "-ac", "1", "-i", "pipe:0",
		"-f", "mulaw", "-ar", "8000", "-ac", "1", "pipe:1",
	)
	cmd.Stdin = in
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open transcoder stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start transcoder %q: %w", t.path, err)
	}
	t.logger.Debug().Int("input_rate", inputRate).Msg("Transcoder process started")

	return &transcodeStream{in: in, stdout: stdout, cmd: cmd, stderr: stderr}, nil
}

type transcodeStream struct {
	in     io.ReadCloser
	stdout io.ReadCloser
	cmd    *exec.Cmd
	stderr *bytes.Buffer
}

func (s *transcodeStream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *transcodeStream) Close() error {
	s.stdout.Close()
	s.in.Close()
	if err := s.cmd.Wait(); err != nil {
		msg := strings.TrimSpace(s.stderr.String())
		if msg != "" {
			return fmt.Errorf("transcoder failed: %w: %s", err, msg)
		}
		return fmt.Errorf("transcoder failed: %w", err)
	}
	return nil
}
