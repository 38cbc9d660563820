package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/audio"
)

// TTSSession is one upstream text-to-speech streaming connection.
type TTSSession interface {
	// SendText queues one sentence for synthesis. language, when non-empty,
	// overrides the session's negotiated language for this sentence only —
	// the mechanism a mid-stream language switch (spec.md §4.9, S5) uses to
	// reach an already-open session, since OpenStream's voice/language is
	// fixed at dial time.
	SendText(ctx context.Context, text, language string) error
	End(ctx context.Context) error
	Abort()
	Events() <-chan TTSSessionEvent
}

// TTSSessionEventType distinguishes the streaming session's event kinds.
type TTSSessionEventType int

const (
	TTSAudioChunk TTSSessionEventType = iota
	TTSComplete
	TTSError
)

// TTSSessionEvent is one event published by a TTSSession.
type TTSSessionEvent struct {
	Type  TTSSessionEventType
	Audio []byte
	Err   error
}

// TTSProvider opens streaming TTS sessions and offers a one-shot
// synthesize call for fillers.
type TTSProvider interface {
	OpenStream(ctx context.Context, voice, language string) (TTSSession, error)
	Synthesize(ctx context.Context, text, voice, language string) ([]byte, error)
	Name() string
}

// ttsChunkTarget is the minimum accumulation before a raw-PCM chunk is
// WAV-wrapped and emitted: ~90ms at 44.1kHz/16-bit ≈ 8KB.
const ttsChunkTarget = 8000

// queuedSentence is one SendText call buffered before the upstream session
// is ready.
type queuedSentence struct {
	text     string
	language string
}

// TTSDriver accepts sentences and streams synthesized audio out.
// SendText may be called before the upstream session is ready; sentences
// are queued and flushed in order once it is.
type TTSDriver struct {
	provider   TTSProvider
	rawPCM     bool // true for providers whose chunks need WAV wrapping
	sampleRate int
	endTimeout time.Duration

	mu        sync.Mutex
	session   TTSSession
	ready     bool
	queue     []queuedSentence
	textSent  bool
	pcmAccum  []byte

	onAudioChunk func([]byte)
	onComplete   func()
	onError      func(error)
}

// NewTTSDriver constructs a driver. rawPCM selects whether outbound chunks
// get a freshly prepended WAV header (true) or are passed through as
// received, e.g. mu-law/telephony (false).
func NewTTSDriver(provider TTSProvider, rawPCM bool, sampleRate int, endTimeout time.Duration, onAudioChunk func([]byte), onComplete func(), onError func(error)) *TTSDriver {
	return &TTSDriver{
		provider:     provider,
		rawPCM:       rawPCM,
		sampleRate:   sampleRate,
		endTimeout:   endTimeout,
		onAudioChunk: onAudioChunk,
		onComplete:   onComplete,
		onError:      onError,
	}
}

// Open starts the upstream session and begins consuming its events.
func (d *TTSDriver) Open(ctx context.Context, voice, language string) error {
	sess, err := d.provider.OpenStream(ctx, voice, language)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.session = sess
	d.ready = true
	queued := d.queue
	d.queue = nil
	d.textSent = len(queued) > 0
	d.mu.Unlock()

	for _, q := range queued {
		_ = d.sendNow(ctx, sess, q.text, q.language)
	}

	go d.consume(sess)
	return nil
}

func (d *TTSDriver) consume(sess TTSSession) {
	for ev := range sess.Events() {
		switch ev.Type {
		case TTSAudioChunk:
			d.handleChunk(ev.Audio)
		case TTSComplete:
			d.flushAccum()
			if d.onComplete != nil {
				d.onComplete()
			}
		case TTSError:
			if d.onError != nil {
				d.onError(ev.Err)
			}
		}
	}
}

func (d *TTSDriver) handleChunk(chunk []byte) {
	if !d.rawPCM {
		if d.onAudioChunk != nil {
			d.onAudioChunk(chunk)
		}
		return
	}
	d.mu.Lock()
	d.pcmAccum = append(d.pcmAccum, chunk...)
	var out []byte
	if len(d.pcmAccum) >= ttsChunkTarget {
		out = audio.NewWavBuffer(d.pcmAccum, d.sampleRate)
		d.pcmAccum = nil
	}
	d.mu.Unlock()
	if out != nil && d.onAudioChunk != nil {
		d.onAudioChunk(out)
	}
}

func (d *TTSDriver) flushAccum() {
	d.mu.Lock()
	var out []byte
	if len(d.pcmAccum) > 0 {
		out = audio.NewWavBuffer(d.pcmAccum, d.sampleRate)
		d.pcmAccum = nil
	}
	d.mu.Unlock()
	if out != nil && d.onAudioChunk != nil {
		d.onAudioChunk(out)
	}
}

// SendText hands a sentence to the driver, queueing it if not yet ready.
// language, when non-empty, overrides the voice language negotiated at
// Open time for this sentence only — how a mid-stream language switch
// (spec.md §4.9, S5) reaches an already-open session.
func (d *TTSDriver) SendText(ctx context.Context, text, language string) error {
	d.mu.Lock()
	if !d.ready {
		d.queue = append(d.queue, queuedSentence{text: text, language: language})
		d.textSent = true
		d.mu.Unlock()
		return nil
	}
	sess := d.session
	d.mu.Unlock()
	return d.sendNow(ctx, sess, text, language)
}

func (d *TTSDriver) sendNow(ctx context.Context, sess TTSSession, text, language string) error {
	d.mu.Lock()
	d.textSent = true
	d.mu.Unlock()
	return sess.SendText(ctx, text, language)
}

// End signals no more text is coming and waits (bounded by endTimeout) for
// the upstream's done event. Must not be called if no text was ever sent —
// some providers error on empty input.
func (d *TTSDriver) End(ctx context.Context) error {
	d.mu.Lock()
	sent := d.textSent
	sess := d.session
	d.mu.Unlock()
	if !sent {
		return ErrTTSEndWithNoText
	}
	if sess == nil {
		return nil
	}
	endCtx, cancel := context.WithTimeout(ctx, d.endTimeout)
	defer cancel()
	return sess.End(endCtx)
}

// Abort cancels the upstream session immediately and discards any queued
// sentences.
func (d *TTSDriver) Abort() {
	d.mu.Lock()
	sess := d.session
	d.session = nil
	d.ready = false
	d.queue = nil
	d.pcmAccum = nil
	d.mu.Unlock()
	if sess != nil {
		sess.Abort()
	}
}

// TextSent reports whether any sentence was handed to the driver for the
// current session (since the last Open, counting sentences queued before
// it); used by the orchestrator to decide whether End is legal.
func (d *TTSDriver) TextSent() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.textSent
}
