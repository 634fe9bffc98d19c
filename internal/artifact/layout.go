// Package artifact owns the file naming contract shared with the TTS and
// digital-human workers, and waits for the files those workers produce.
package artifact

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/streamer-sales/sales-gateway/internal/domain"
)

// Layout maps request and chunk ids to artifact paths. Chunk audio lives in
// a per-request directory so no request id can name another request's
// chunk or merged file.
//
// The path methods assume Check has accepted the request id.
type Layout struct {
	TTSDir   string
	VideoDir string
}

// Check rejects request ids that would leave the artifact directories.
func (l Layout) Check(requestID string) error {
	if err := domain.ValidateRequestID(requestID); err != nil {
		return err
	}
	if !filepath.IsLocal(requestID) || filepath.Base(requestID) != requestID {
		return fmt.Errorf("%w: %q", domain.ErrInvalidRequestID, requestID)
	}
	return nil
}

// ChunkDir holds the chunk audio of one request.
func (l Layout) ChunkDir(requestID string) string {
	return filepath.Join(l.TTSDir, requestID)
}

// ChunkAudio is the path the TTS worker writes for one chunk.
func (l Layout) ChunkAudio(requestID string, chunkID int) string {
	return filepath.Join(l.ChunkDir(requestID), fmt.Sprintf("%08d.wav", chunkID))
}

// ChunkAudioPaths returns the chunk paths for ids 1..n in order.
func (l Layout) ChunkAudioPaths(requestID string, n int) []string {
	paths := make([]string, 0, n)
	for id := 1; id <= n; id++ {
		paths = append(paths, l.ChunkAudio(requestID, id))
	}
	return paths
}

// MergedAudio is the request-scoped merged WAV.
func (l Layout) MergedAudio(requestID string) string {
	return filepath.Join(l.TTSDir, requestID+".wav")
}

// CompletionMarker is the file the renderer writes once the video for
// mergedAudio is complete.
func (l Layout) CompletionMarker(mergedAudio string) string {
	base := filepath.Base(mergedAudio)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(l.VideoDir, stem+".txt")
}

// Video is the rendered video for mergedAudio.
func (l Layout) Video(mergedAudio string) string {
	base := filepath.Base(mergedAudio)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(l.VideoDir, stem+".mp4")
}
