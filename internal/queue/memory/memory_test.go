package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/streamer-sales/sales-gateway/internal/queue"
)

func TestBridge_FIFOPerQueue(t *testing.T) {
	b := New()
	defer b.Close()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		if err := b.Submit(ctx, queue.TTS, queue.NewAudioJob("u1", "r1", i, "sentence")); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	if err := b.Submit(ctx, queue.DigitalHuman, queue.NewVideoJob("u1", "r1", "/tmp/r1.wav")); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if b.Len(queue.TTS) != 3 || b.Len(queue.DigitalHuman) != 1 {
		t.Fatalf("Len tts=%d dg=%d", b.Len(queue.TTS), b.Len(queue.DigitalHuman))
	}

	for want := 1; want <= 3; want++ {
		job, err := b.Consume(ctx, queue.TTS)
		if err != nil {
			t.Fatalf("Consume() error = %v", err)
		}
		if job.ChunkID != want {
			t.Errorf("ChunkID = %d, want %d", job.ChunkID, want)
		}
	}

	job, err := b.Consume(ctx, queue.DigitalHuman)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if job.TTSPath != "/tmp/r1.wav" || job.ChunkID != 0 {
		t.Errorf("video job = %+v", job)
	}
}

func TestBridge_ConsumeWaitsForSubmit(t *testing.T) {
	b := New()
	defer b.Close()

	got := make(chan queue.Job, 1)
	go func() {
		job, err := b.Consume(context.Background(), queue.TTS)
		if err == nil {
			got <- job
		}
	}()

	time.Sleep(10 * time.Millisecond)
	if err := b.Submit(context.Background(), queue.TTS, queue.NewAudioJob("u", "r", 1, "hello there")); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	select {
	case job := <-got:
		if job.Sentence != "hello there" {
			t.Errorf("Sentence = %q", job.Sentence)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer was not woken")
	}
}

func TestBridge_ConsumeCancelled(t *testing.T) {
	b := New()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := b.Consume(ctx, queue.TTS); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestBridge_RejectsMalformedJobs(t *testing.T) {
	b := New()
	defer b.Close()
	ctx := context.Background()

	tests := []struct {
		name string
		q    queue.Name
		job  queue.Job
	}{
		{"missing request id", queue.TTS, queue.Job{ChunkID: 1, Sentence: "x"}},
		{"unsafe request id", queue.TTS, queue.NewAudioJob("u", "../r", 1, "x")},
		{"tts chunk zero", queue.TTS, queue.NewAudioJob("u", "r", 0, "x")},
		{"video without path", queue.DigitalHuman, queue.NewVideoJob("u", "r", "")},
		{"unknown queue", queue.Name("music"), queue.NewAudioJob("u", "r", 1, "x")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := b.Submit(ctx, tt.q, tt.job); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestBridge_Close(t *testing.T) {
	b := New()

	done := make(chan error, 1)
	go func() {
		_, err := b.Consume(context.Background(), queue.DigitalHuman)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	b.Close()

	select {
	case err := <-done:
		if !errors.Is(err, queue.ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer not released by Close")
	}

	if err := b.Submit(context.Background(), queue.TTS, queue.NewAudioJob("u", "r", 1, "x")); !errors.Is(err, queue.ErrClosed) {
		t.Errorf("Submit after Close = %v, want ErrClosed", err)
	}
}
