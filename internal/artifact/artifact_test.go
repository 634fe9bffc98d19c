package artifact

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/streamer-sales/sales-gateway/internal/domain"
)

func TestLayout(t *testing.T) {
	l := Layout{TTSDir: "/data/tts", VideoDir: "/data/video"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"chunk dir", l.ChunkDir("req-1"), "/data/tts/req-1"},
		{"chunk audio", l.ChunkAudio("req-1", 7), "/data/tts/req-1/00000007.wav"},
		{"merged audio", l.MergedAudio("req-1"), "/data/tts/req-1.wav"},
		{"marker", l.CompletionMarker("/data/tts/req-1.wav"), "/data/video/req-1.txt"},
		{"video", l.Video("/data/tts/req-1.wav"), "/data/video/req-1.mp4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}

	paths := l.ChunkAudioPaths("req-1", 3)
	if len(paths) != 3 || paths[0] != l.ChunkAudio("req-1", 1) || paths[2] != l.ChunkAudio("req-1", 3) {
		t.Errorf("ChunkAudioPaths = %v", paths)
	}
	if len(l.ChunkAudioPaths("req-1", 0)) != 0 {
		t.Error("expected no paths for zero chunks")
	}
}

func TestLayout_MergedNeverCollidesWithChunks(t *testing.T) {
	l := Layout{TTSDir: "/data/tts", VideoDir: "/data/video"}

	// "abc-00000001" once named the same file as chunk 1 of "abc".
	merged := l.MergedAudio("abc-00000001")
	for _, chunk := range l.ChunkAudioPaths("abc", 3) {
		if chunk == merged {
			t.Fatalf("chunk %q collides with merged audio of another request", chunk)
		}
	}
	if filepath.Dir(l.ChunkAudio("abc", 1)) == filepath.Dir(merged) {
		t.Error("chunk audio shares the merged audio directory")
	}
}

func TestLayout_Check(t *testing.T) {
	l := Layout{TTSDir: "/data/tts", VideoDir: "/data/video"}

	valid := []string{"req-1", "abc_DEF-123", "0b7c5a1e-6f5e-4bd4-9a4f-2f1f4a9f3c11", strings.Repeat("a", 128)}
	for _, id := range valid {
		if err := l.Check(id); err != nil {
			t.Errorf("Check(%q) error = %v", id, err)
		}
	}

	invalid := []string{"", "..", "../outside", "a/b", "/tmp/x", `a\b`, "a.b", "有效", "a b", strings.Repeat("a", 129)}
	for _, id := range invalid {
		if err := l.Check(id); !errors.Is(err, domain.ErrInvalidRequestID) {
			t.Errorf("Check(%q) error = %v, want ErrInvalidRequestID", id, err)
		}
	}
}

func TestAwaitAll_Empty(t *testing.T) {
	w := NewWatcher("tts", time.Hour, time.Hour)
	called := false
	if err := w.AwaitAll(context.Background(), nil, func(Progress) { called = true }); err != nil {
		t.Fatalf("AwaitAll() error = %v", err)
	}
	if called {
		t.Error("progress reported for empty set")
	}
}

func TestAwaitAll_FilesAppear(t *testing.T) {
	dir := t.TempDir()
	paths := []string{filepath.Join(dir, "a.wav"), filepath.Join(dir, "b.wav")}

	go func() {
		time.Sleep(20 * time.Millisecond)
		os.WriteFile(paths[1], []byte("x"), 0o644)
		time.Sleep(20 * time.Millisecond)
		os.WriteFile(paths[0], []byte("x"), 0o644)
	}()

	var mu sync.Mutex
	var progress []Progress
	w := NewWatcher("tts", 5*time.Millisecond, 5*time.Second)
	err := w.AwaitAll(context.Background(), paths, func(p Progress) {
		mu.Lock()
		progress = append(progress, p)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("AwaitAll() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(progress) == 0 {
		t.Fatal("expected progress callbacks while waiting")
	}
	if progress[0].Total != 2 || progress[0].Remaining != 2 {
		t.Errorf("first progress = %+v", progress[0])
	}
	for i := 1; i < len(progress); i++ {
		if progress[i].Remaining > progress[i-1].Remaining {
			t.Errorf("remaining went up: %+v", progress)
		}
	}
}

func TestAwaitAll_Timeout(t *testing.T) {
	w := &Watcher{
		Stage:        "dg",
		PollInterval: 5 * time.Millisecond,
		Timeout:      30 * time.Millisecond,
		Exists:       func(string) bool { return false },
	}
	err := w.AwaitAll(context.Background(), []string{"never"}, nil)
	if !domain.IsKind(err, domain.ErrorKindStageTimeout) {
		t.Fatalf("expected stage timeout, got %v", err)
	}
	var se *domain.StageError
	if !errors.As(err, &se) || se.Stage != "dg" {
		t.Errorf("stage = %v", se)
	}
}

func TestAwaitAll_Cancelled(t *testing.T) {
	w := &Watcher{
		PollInterval: 5 * time.Millisecond,
		Timeout:      time.Minute,
		Exists:       func(string) bool { return false },
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := w.AwaitAll(ctx, []string{"never"}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancellation was not prompt")
	}
}

func TestAwaitAll_DuplicatePaths(t *testing.T) {
	var checks int
	w := &Watcher{
		PollInterval: time.Millisecond,
		Timeout:      time.Second,
		Exists: func(string) bool {
			checks++
			return true
		},
	}
	var reported bool
	if err := w.AwaitAll(context.Background(), []string{"a", "a"}, func(Progress) { reported = true }); err != nil {
		t.Fatalf("AwaitAll() error = %v", err)
	}
	if checks != 1 || reported {
		t.Errorf("checks = %d reported = %v", checks, reported)
	}
}
