// Package stt implements STTProvider adapters for several hosted
// speech-to-text APIs.
package stt

import (
	"context"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
)

// BatchTranscribeFunc performs one-shot transcription of a buffered PCM
// segment, the shape every provider in this package natively exposes
// (upload-then-poll or a single multipart POST, never a streaming socket).
type BatchTranscribeFunc func(ctx context.Context, audioPCM []byte, language string) (string, error)

// silenceSegmentMs is how much trailing low-RMS audio closes a segment and
// triggers a transcribe call, letting a batch-only vendor approximate
// streaming finals instead of waiting for the whole call to End.
const silenceSegmentMs = 600

// minSegmentMs avoids transcribing on every short pause.
const minSegmentMs = 400

// BatchSTTProvider adapts a batch (upload-then-transcribe) vendor API to
// the streaming pipeline.STTProvider contract. Audio is buffered and
// transcribed once per detected pause (using the same RMS measure the
// barge-in controller uses) rather than per true streaming partial —
// these vendors never emit partials, only a final transcript per request.
type BatchSTTProvider struct {
	name       string
	transcribe BatchTranscribeFunc
}

// NewBatchSTTProvider wraps transcribe as a streaming-shaped provider
// under name.
func NewBatchSTTProvider(name string, transcribe BatchTranscribeFunc) *BatchSTTProvider {
	return &BatchSTTProvider{name: name, transcribe: transcribe}
}

func (p *BatchSTTProvider) Name() string { return p.name }

// Open starts a new pseudo-streaming session for one call.
func (p *BatchSTTProvider) Open(ctx context.Context, language string, sampleRate int) (pipeline.STTSession, error) {
	return &batchSession{
		provider:   p,
		language:   language,
		sampleRate: sampleRate,
		events:     make(chan pipeline.STTSessionEvent, 8),
	}, nil
}

type batchSession struct {
	provider   *BatchSTTProvider
	language   string
	sampleRate int

	mu            sync.Mutex
	segment       []byte
	silentFrameMs int
	ended         bool

	events chan pipeline.STTSessionEvent
}

func (s *batchSession) Write(ctx context.Context, frame pipeline.AudioFrame) error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	s.segment = append(s.segment, frame...)
	frameMs := 1000 * len(frame) / 2 / max(s.sampleRate, 1)

	level := pipeline.RMSLevel(frame)
	if level < 300 {
		s.silentFrameMs += frameMs
	} else {
		s.silentFrameMs = 0
	}

	segmentMs := 1000 * len(s.segment) / 2 / max(s.sampleRate, 1)
	shouldFlush := s.silentFrameMs >= silenceSegmentMs && segmentMs >= minSegmentMs
	var toTranscribe []byte
	if shouldFlush {
		toTranscribe = s.segment
		s.segment = nil
		s.silentFrameMs = 0
	}
	s.mu.Unlock()

	if toTranscribe != nil {
		go s.transcribeAndEmit(ctx, toTranscribe, pipeline.STTFinal)
	}
	return nil
}

func (s *batchSession) transcribeAndEmit(ctx context.Context, audioPCM []byte, onType pipeline.STTSessionEventType) {
	text, err := s.provider.transcribe(ctx, audioPCM, s.language)
	s.mu.Lock()
	ended := s.ended
	s.mu.Unlock()
	if ended {
		return
	}
	if err != nil {
		s.safeSend(pipeline.STTSessionEvent{Type: pipeline.STTError, Err: err})
		return
	}
	if text == "" {
		return
	}
	s.safeSend(pipeline.STTSessionEvent{Type: onType, Result: pipeline.TranscriptFragment{
		Text: text, IsFinal: true, Confidence: 0.9, Language: s.language, ArrivedAt: time.Now(),
	}})
}

func (s *batchSession) safeSend(ev pipeline.STTSessionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}

// End flushes any buffered segment through one final transcribe call.
func (s *batchSession) End(ctx context.Context) error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	remainder := s.segment
	s.segment = nil
	s.mu.Unlock()

	if len(remainder) > 0 {
		s.transcribeAndEmit(ctx, remainder, pipeline.STTFinal)
	}

	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	s.events <- pipeline.STTSessionEvent{Type: pipeline.STTEnded}
	close(s.events)
	return nil
}

// Abort tears down the session without a final transcribe call.
func (s *batchSession) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	close(s.events)
}

func (s *batchSession) Events() <-chan pipeline.STTSessionEvent { return s.events }
