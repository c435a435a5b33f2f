// Package transcribe turns audio payloads into plain text. The relay treats
// transcription as a black box; the simulated implementation here stands in
// for a real speech-to-text backend.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ent0n29/chatrelay/internal/audio"
)

var ErrEmptyAudio = errors.New("empty audio payload")

// Transcriber converts an audio clip to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioBytes []byte) (string, error)
}

// Simulated is a deterministic local transcriber. It validates the payload
// (WAV containers are decoded, anything else is treated as raw 16kHz PCM16
// mono) and fabricates a transcript keyed to the clip duration.
type Simulated struct{}

func NewSimulated() *Simulated { return &Simulated{} }

func (s *Simulated) Transcribe(ctx context.Context, audioBytes []byte) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	if len(audioBytes) == 0 {
		return "", ErrEmptyAudio
	}

	info, err := audio.DecodeWAVPCM16(audioBytes)
	if errors.Is(err, audio.ErrNotWAV) {
		info = audio.Info{SampleRate: 16000, Channels: 1, PCM: audioBytes}
	} else if err != nil {
		return "", fmt.Errorf("decode audio: %w", err)
	}

	d := info.Duration()
	if d <= 0 {
		return "", ErrEmptyAudio
	}
	return fmt.Sprintf("simulated transcript of a %s clip", d.Round(100*time.Millisecond)), nil
}
