// Package audio provides the producers that fill the audio FIFO: file
// replay and raw PCM read from a pipe.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"asr-call-monitor/internal/observability/logging"
	"asr-call-monitor/internal/queue"
	"asr-call-monitor/internal/service/stt"
)

// Format is the fixed PCM frame format sent to the recognizer.
type Format struct {
	SampleRateHz int
	FrameMs      int
}

// DefaultFormat is 8 kHz mono 16-bit in 40 ms frames.
func DefaultFormat() Format {
	return Format{SampleRateHz: 8000, FrameMs: 40}
}

// FrameBytes returns the size of one frame in bytes.
func (f Format) FrameBytes() int {
	return FrameSize(f.SampleRateHz, f.FrameMs)
}

// FrameSize returns the byte size of a 16-bit mono frame.
func FrameSize(sampleRateHz, frameMs int) int {
	return sampleRateHz * frameMs / 1000 * 2
}

// frames splits pcm into fixed frames, zero padding the last one.
func frames(pcm []byte, size int) [][]byte {
	var out [][]byte
	for off := 0; off < len(pcm); off += size {
		frame := make([]byte, size)
		copy(frame, pcm[off:])
		out = append(out, frame)
	}
	return out
}

// WAVSource replays a WAV file as fixed frames followed by END.
type WAVSource struct {
	Path   string
	Format Format

	// Pace sends one frame per frame duration instead of as fast as the
	// FIFO accepts them.
	Pace bool

	Logger *zerolog.Logger
}

// Run decodes the file, converts it to the target format and fills frames.
func (s *WAVSource) Run(ctx context.Context, out *queue.FIFO[stt.Frame]) error {
	logger := sourceLogger(s.Logger, "wav-source")

	f, err := os.Open(s.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.Path, err)
	}
	defer f.Close()

	clip, err := DecodeWAV(f)
	if err != nil {
		return fmt.Errorf("decode %s: %w", s.Path, err)
	}

	pcm := EncodePCM(Resample(clip.Samples, clip.SampleRate, s.Format.SampleRateHz))
	chunks := frames(pcm, s.Format.FrameBytes())

	logger.Info().
		Str("path", s.Path).
		Int("sourceRateHz", clip.SampleRate).
		Int64("durationMs", clip.DurationMs()).
		Int("frames", len(chunks)).
		Msg("Replaying file")

	var tick <-chan time.Time
	if s.Pace {
		t := time.NewTicker(time.Duration(s.Format.FrameMs) * time.Millisecond)
		defer t.Stop()
		tick = t.C
	}

	for _, chunk := range chunks {
		if tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := out.Put(ctx, stt.Payload(chunk)); err != nil {
			return err
		}
	}
	return out.Put(ctx, stt.EndOfInput())
}

// ReaderSource reads raw 16-bit little-endian mono PCM, already at the
// target rate, from R (typically stdin fed by a capture tool).
type ReaderSource struct {
	R      io.Reader
	Format Format

	// MaxDuration stops reading after that much audio. Zero reads to EOF.
	MaxDuration time.Duration

	Logger *zerolog.Logger
}

// Run reads frames until EOF or MaxDuration, then sends END. A blocked
// read is not interrupted by ctx; cancellation is observed between frames.
func (s *ReaderSource) Run(ctx context.Context, out *queue.FIFO[stt.Frame]) error {
	logger := sourceLogger(s.Logger, "reader-source")

	size := s.Format.FrameBytes()
	maxFrames := 0
	if s.MaxDuration > 0 && s.Format.FrameMs > 0 {
		maxFrames = int(s.MaxDuration / (time.Duration(s.Format.FrameMs) * time.Millisecond))
	}

	sent := 0
	for maxFrames == 0 || sent < maxFrames {
		if err := ctx.Err(); err != nil {
			return err
		}

		frame := make([]byte, size)
		n, err := io.ReadFull(s.R, frame)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("read audio: %w", err)
		}

		if err := out.Put(ctx, stt.Payload(frame)); err != nil {
			return err
		}
		sent++
		if n < size {
			break
		}
	}

	logger.Info().
		Int("frames", sent).
		Int("durationMs", sent*s.Format.FrameMs).
		Msg("Input finished")
	return out.Put(ctx, stt.EndOfInput())
}

func sourceLogger(l *zerolog.Logger, component string) zerolog.Logger {
	if l != nil {
		return *l
	}
	return logging.WithComponent(component)
}
