// Package audio merges per-chunk WAV files into one request-scoped WAV.
package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/streamer-sales/sales-gateway/internal/domain"
)

// ErrNoChunks is returned when Merge is given no inputs.
var ErrNoChunks = errors.New("audio: no chunks to merge")

// Format is the set of WAV parameters every chunk must share.
type Format struct {
	SampleRate  int
	NumChannels int
	BitDepth    int
	AudioFormat int
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit/fmt%d", f.SampleRate, f.NumChannels, f.BitDepth, f.AudioFormat)
}

// FormatMismatchError names the first chunk whose parameters differ from the
// first chunk's.
type FormatMismatchError struct {
	Path     string
	Index    int
	Expected Format
	Got      Format
}

func (e *FormatMismatchError) Error() string {
	return fmt.Sprintf("audio: chunk %d (%s) is %s, expected %s", e.Index+1, e.Path, e.Got, e.Expected)
}

// Merge concatenates the PCM payloads of srcs, in order, into a new WAV at
// dst. All inputs must have identical format parameters. Mismatches are
// returned wrapped in a merge_format_mismatch StageError.
func Merge(dst string, srcs []string) (Format, error) {
	if len(srcs) == 0 {
		return Format{}, ErrNoChunks
	}

	var (
		format Format
		merged *goaudio.IntBuffer
	)
	for i, src := range srcs {
		f, buf, err := readChunk(src)
		if err != nil {
			return Format{}, err
		}
		if i == 0 {
			format = f
			merged = &goaudio.IntBuffer{
				Format:         buf.Format,
				SourceBitDepth: f.BitDepth,
			}
		} else if f != format {
			return Format{}, domain.NewStageError(domain.ErrorKindMergeFormatMismatch, "merge",
				&FormatMismatchError{Path: src, Index: i, Expected: format, Got: f})
		}
		merged.Data = append(merged.Data, buf.Data...)
	}

	if err := writeWAV(dst, format, merged); err != nil {
		return Format{}, err
	}
	return format, nil
}

func readChunk(path string) (Format, *goaudio.IntBuffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return Format{}, nil, fmt.Errorf("audio: open chunk: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return Format{}, nil, fmt.Errorf("audio: %s is not a valid wav file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Format{}, nil, fmt.Errorf("audio: read %s: %w", path, err)
	}

	format := Format{
		SampleRate:  int(dec.SampleRate),
		NumChannels: int(dec.NumChans),
		BitDepth:    int(dec.BitDepth),
		AudioFormat: int(dec.WavAudioFormat),
	}
	return format, buf, nil
}

// PCM16Mono is the format the speech workers produce by default.
var PCM16Mono = Format{SampleRate: 16000, NumChannels: 1, BitDepth: 16, AudioFormat: 1}

// WriteSilence writes d of silence in format to dst.
func WriteSilence(dst string, format Format, d time.Duration) error {
	frames := int(int64(format.SampleRate) * int64(d) / int64(time.Second))
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: format.NumChannels, SampleRate: format.SampleRate},
		Data:           make([]int, frames*format.NumChannels),
		SourceBitDepth: format.BitDepth,
	}
	return writeWAV(dst, format, buf)
}

// writeWAV writes through a temp file so a reader never sees a partial merge.
func writeWAV(dst string, format Format, buf *goaudio.IntBuffer) error {
	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("audio: create merged file: %w", err)
	}

	enc := wav.NewEncoder(out, format.SampleRate, format.BitDepth, format.NumChannels, format.AudioFormat)
	if err := enc.Write(buf); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("audio: encode merged file: %w", err)
	}
	if err := enc.Close(); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("audio: finalize merged file: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("audio: close merged file: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("audio: rename merged file: %w", err)
	}
	return nil
}

// Cleanup removes chunk files after a successful merge. Failures are logged
// and otherwise ignored; it reports how many files were removed.
func Cleanup(paths []string, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.Default()
	}
	removed := 0
	for _, p := range paths {
		if err := os.Remove(p); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				logger.Warn("failed to remove chunk audio", slog.String("path", p), slog.String("error", err.Error()))
			}
			continue
		}
		removed++
	}
	return removed
}
