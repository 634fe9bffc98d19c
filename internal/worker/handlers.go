package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/streamer-sales/sales-gateway/internal/artifact"
	"github.com/streamer-sales/sales-gateway/internal/audio"
	"github.com/streamer-sales/sales-gateway/internal/queue"
)

// DefaultRuneDuration is how long SilentSpeech speaks each rune.
const DefaultRuneDuration = 60 * time.Millisecond

// SilentSpeech writes a silent WAV per sentence, sized to the sentence length.
type SilentSpeech struct {
	Layout       artifact.Layout
	Format       audio.Format
	RuneDuration time.Duration
}

func (s SilentSpeech) Handle(ctx context.Context, job queue.Job) error {
	if err := job.Validate(queue.TTS); err != nil {
		return err
	}
	format := s.Format
	if format == (audio.Format{}) {
		format = audio.PCM16Mono
	}
	per := s.RuneDuration
	if per <= 0 {
		per = DefaultRuneDuration
	}

	dst := s.Layout.ChunkAudio(job.RequestID, job.ChunkID)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("worker: create tts dir: %w", err)
	}
	d := time.Duration(utf8.RuneCountInString(job.Sentence)) * per
	return audio.WriteSilence(dst, format, d)
}

// MarkerRenderer completes digital-human jobs without rendering: it writes
// the completion marker for the merged audio, naming the audio it was
// asked to render. No video file is produced.
type MarkerRenderer struct {
	Layout artifact.Layout
}

func (r MarkerRenderer) Handle(ctx context.Context, job queue.Job) error {
	if err := job.Validate(queue.DigitalHuman); err != nil {
		return err
	}
	if _, err := os.Stat(job.TTSPath); err != nil {
		return fmt.Errorf("worker: merged audio: %w", err)
	}

	marker := r.Layout.CompletionMarker(job.TTSPath)
	if err := os.MkdirAll(filepath.Dir(marker), 0o755); err != nil {
		return fmt.Errorf("worker: create video dir: %w", err)
	}
	tmp := marker + ".tmp"
	if err := os.WriteFile(tmp, []byte(job.TTSPath+"\n"), 0o644); err != nil {
		return fmt.Errorf("worker: write marker: %w", err)
	}
	return os.Rename(tmp, marker)
}
