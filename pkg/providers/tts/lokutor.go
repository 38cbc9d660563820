// Package tts implements pipeline.TTSProvider adapters for hosted
// text-to-speech APIs.
package tts

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/pipeline"
)

// LokutorTTS speaks Lokutor's synthesis websocket protocol: one JSON
// request per utterance, answered with a run of binary audio frames
// terminated by a text "EOS" (or "ERR:<message>") frame over a single
// shared connection.
type LokutorTTS struct {
	apiKey string
	host   string
	scheme string
}

// NewLokutorTTS returns a pipeline.TTSProvider backed by Lokutor.
func NewLokutorTTS(apiKey string) *LokutorTTS {
	return &LokutorTTS{
		apiKey: apiKey,
		host:   "api.lokutor.com",
		scheme: "wss",
	}
}

func (t *LokutorTTS) Name() string { return "lokutor" }

func (t *LokutorTTS) dial(ctx context.Context) (*websocket.Conn, error) {
	u := url.URL{Scheme: t.scheme, Host: t.host, Path: "/ws", RawQuery: "api_key=" + t.apiKey}
	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("lokutor: dial: %w", err)
	}
	return conn, nil
}

// Synthesize performs one synchronous request/response round trip over a
// throwaway connection, used for short filler phrases where opening a
// whole streaming session would be wasteful.
func (t *LokutorTTS) Synthesize(ctx context.Context, text, voice, language string) ([]byte, error) {
	conn, err := t.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := sendSynthesisRequest(ctx, conn, text, voice, language); err != nil {
		return nil, err
	}

	var audio []byte
	for {
		msgType, payload, err := conn.Read(ctx)
		if err != nil {
			return nil, fmt.Errorf("lokutor: read: %w", err)
		}
		switch msgType {
		case websocket.MessageBinary:
			audio = append(audio, payload...)
		case websocket.MessageText:
			msg := string(payload)
			if msg == "EOS" {
				return audio, nil
			}
			if len(msg) >= 4 && msg[:4] == "ERR:" {
				return nil, fmt.Errorf("lokutor: %s", msg)
			}
		}
	}
}

func sendSynthesisRequest(ctx context.Context, conn *websocket.Conn, text, voice, language string) error {
	req := map[string]any{
		"text":    text,
		"voice":   voice,
		"lang":    language,
		"speed":   1.05,
		"steps":   5,
		"version": "versa-1.0",
	}
	if err := wsjson.Write(ctx, conn, req); err != nil {
		return fmt.Errorf("lokutor: send request: %w", err)
	}
	return nil
}

// OpenStream implements pipeline.TTSProvider. Lokutor's wire protocol is a
// synchronous one-request-one-EOS-response round trip per utterance rather
// than a naturally multiplexed stream, so the session queues incoming
// sentences and runs them one at a time over a single held connection, on
// one consumer goroutine.
func (t *LokutorTTS) OpenStream(ctx context.Context, voice, language string) (pipeline.TTSSession, error) {
	conn, err := t.dial(ctx)
	if err != nil {
		return nil, err
	}

	sessCtx, cancel := context.WithCancel(ctx)
	sess := &lokutorSession{
		conn:      conn,
		voice:     voice,
		language:  language,
		ctx:       sessCtx,
		cancel:    cancel,
		textCh:    make(chan queuedText, 16),
		events:    make(chan pipeline.TTSSessionEvent, 8),
		drainDone: make(chan struct{}),
	}
	go sess.run()
	return sess, nil
}

// queuedText is one SendText call buffered on textCh: the sentence plus an
// optional per-sentence language override (empty means "use the session's
// negotiated language").
type queuedText struct {
	text     string
	language string
}

type lokutorSession struct {
	conn     *websocket.Conn
	voice    string
	language string

	ctx    context.Context
	cancel context.CancelFunc

	textCh    chan queuedText
	events    chan pipeline.TTSSessionEvent
	drainDone chan struct{}

	mu     sync.Mutex
	closed bool
}

// run consumes queued sentences one at a time, performing one synthesis
// round trip per sentence over the shared connection and forwarding audio
// chunks as they arrive. It exits (and signals drainDone) once textCh is
// closed and fully drained, or the session is aborted.
func (s *lokutorSession) run() {
	defer close(s.drainDone)
	defer s.conn.Close(websocket.StatusNormalClosure, "")

	for q := range s.textCh {
		if err := s.synthesizeOne(q.text, q.language); err != nil {
			s.emit(pipeline.TTSSessionEvent{Type: pipeline.TTSError, Err: err})
			return
		}
	}
	s.emit(pipeline.TTSSessionEvent{Type: pipeline.TTSComplete})
}

// synthesizeOne performs one request/response round trip. language, when
// non-empty, overrides the session's negotiated language for this sentence
// only — how a mid-stream voice-language switch reaches an already-open
// session without redialing.
func (s *lokutorSession) synthesizeOne(text, language string) error {
	if language == "" {
		language = s.language
	}
	if err := sendSynthesisRequest(s.ctx, s.conn, text, s.voice, language); err != nil {
		return err
	}
	for {
		msgType, payload, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return nil // aborted: not a real failure
			}
			return fmt.Errorf("lokutor: read: %w", err)
		}
		switch msgType {
		case websocket.MessageBinary:
			s.emit(pipeline.TTSSessionEvent{Type: pipeline.TTSAudioChunk, Audio: payload})
		case websocket.MessageText:
			msg := string(payload)
			if msg == "EOS" {
				return nil
			}
			if len(msg) >= 4 && msg[:4] == "ERR:" {
				return fmt.Errorf("lokutor: %s", msg)
			}
		}
	}
}

func (s *lokutorSession) emit(ev pipeline.TTSSessionEvent) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// SendText queues one sentence for synthesis. language, when non-empty,
// overrides the session's negotiated language for this sentence only.
func (s *lokutorSession) SendText(ctx context.Context, text, language string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("lokutor: session closed")
	}
	select {
	case s.textCh <- queuedText{text: text, language: language}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// End closes the text queue and waits, bounded by ctx, for the run
// goroutine to finish draining all queued sentences.
func (s *lokutorSession) End(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.textCh)
	s.mu.Unlock()

	select {
	case <-s.drainDone:
		return nil
	case <-ctx.Done():
		s.Abort()
		return ctx.Err()
	}
}

// Abort tears down the connection immediately, unblocking any in-flight
// Read and discarding queued sentences.
func (s *lokutorSession) Abort() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.textCh)
	}
	s.mu.Unlock()
	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "aborted")
}

func (s *lokutorSession) Events() <-chan pipeline.TTSSessionEvent { return s.events }
