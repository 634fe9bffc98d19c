// Package queue defines the hand-off between the orchestrator and the
// out-of-process TTS and digital-human workers.
//
// Submit is fire-and-forget: it returns once the job is handed to the
// backing queue and never waits for a worker. The bridge applies no
// backpressure; a slow worker shows up as a longer artifact wait downstream.
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/streamer-sales/sales-gateway/internal/domain"
)

// Name identifies a logical queue.
type Name string

const (
	// TTS carries one job per sentence chunk to the speech synthesizer.
	TTS Name = "tts"
	// DigitalHuman carries one job per request to the video renderer.
	DigitalHuman Name = "digital_human"
)

// ErrClosed is returned by a bridge after Close.
var ErrClosed = errors.New("queue: bridge closed")

// Job is a unit of work for an external worker. Audio jobs set Sentence and
// a 1-based ChunkID; video jobs set TTSPath and ChunkID 0.
type Job struct {
	UserID    string `json:"user_id"`
	RequestID string `json:"request_id"`
	ChunkID   int    `json:"chunk_id"`
	Sentence  string `json:"sentence,omitempty"`
	TTSPath   string `json:"tts_path,omitempty"`
}

// Validate reports whether the job is well formed for queue q.
func (j Job) Validate(q Name) error {
	if j.RequestID == "" {
		return errors.New("queue: job has no request_id")
	}
	if err := domain.ValidateRequestID(j.RequestID); err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	switch q {
	case TTS:
		if j.ChunkID < 1 || j.Sentence == "" {
			return fmt.Errorf("queue: tts job for %s needs chunk_id >= 1 and a sentence", j.RequestID)
		}
	case DigitalHuman:
		if j.ChunkID != 0 || j.TTSPath == "" {
			return fmt.Errorf("queue: digital human job for %s needs chunk_id 0 and tts_path", j.RequestID)
		}
	default:
		return fmt.Errorf("queue: unknown queue %q", q)
	}
	return nil
}

// Bridge hands jobs to workers and lets workers take them.
type Bridge interface {
	// Submit enqueues job on q without waiting for a worker.
	Submit(ctx context.Context, q Name, job Job) error
	// Consume blocks until a job is available on q or ctx is done.
	Consume(ctx context.Context, q Name) (Job, error)
	// Close releases the bridge.
	Close() error
}

// NewAudioJob builds the TTS job for a sentence chunk.
func NewAudioJob(userID, requestID string, chunkID int, sentence string) Job {
	return Job{UserID: userID, RequestID: requestID, ChunkID: chunkID, Sentence: sentence}
}

// NewVideoJob builds the digital-human job for a merged audio file.
func NewVideoJob(userID, requestID, ttsPath string) Job {
	return Job{UserID: userID, RequestID: requestID, TTSPath: ttsPath}
}
