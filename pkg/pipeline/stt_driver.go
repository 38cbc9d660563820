package pipeline

import (
	"context"
	"sync"
)

// STTSession is one upstream speech-to-text connection, opened for the
// lifetime of a single call. Concrete providers implement this; see
// pkg/providers/stt.
type STTSession interface {
	Write(ctx context.Context, frame AudioFrame) error
	End(ctx context.Context) error
	Abort()
	// Events returns the channel of transcript/error/ended events this
	// session publishes. Closed once the session is fully torn down.
	Events() <-chan STTSessionEvent
}

// STTSessionEventType distinguishes the four STT session event kinds.
type STTSessionEventType int

const (
	STTPartial STTSessionEventType = iota
	STTFinal
	STTError
	STTEnded
)

// STTSessionEvent is one event published by an STTSession.
type STTSessionEvent struct {
	Type   STTSessionEventType
	Result TranscriptFragment
	Err    error
}

// STTProvider opens STT sessions for a given language and sample rate.
type STTProvider interface {
	Open(ctx context.Context, language string, sampleRate int) (STTSession, error)
	Name() string
}

// STTDriver owns the lifecycle and backpressure of one upstream STT
// session. It tolerates writes before the session reports ready by
// queueing frames, flushing them in order once ready.
type STTDriver struct {
	provider STTProvider
	cfg      Config

	mu      sync.Mutex
	session STTSession
	ready   bool
	queue   [][]byte
	queuedN int

	onPartial func(TranscriptFragment)
	onFinal   func(TranscriptFragment)
	onError   func(error)
	onEnded   func()
}

// NewSTTDriver constructs a driver bound to provider, with callbacks wired
// to the pipeline's event queue.
func NewSTTDriver(provider STTProvider, cfg Config, onPartial, onFinal func(TranscriptFragment), onError func(error), onEnded func()) *STTDriver {
	return &STTDriver{
		provider:  provider,
		cfg:       cfg,
		onPartial: onPartial,
		onFinal:   onFinal,
		onError:   onError,
		onEnded:   onEnded,
	}
}

// Open starts the upstream session and begins consuming its event channel
// on a background goroutine.
func (d *STTDriver) Open(ctx context.Context, language string, sampleRate int) error {
	sess, err := d.provider.Open(ctx, language, sampleRate)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.session = sess
	d.ready = true // providers in this module open synchronously; flush immediately
	queued := d.queue
	d.queue = nil
	d.mu.Unlock()

	for _, frame := range queued {
		_ = sess.Write(ctx, frame)
	}

	go d.consume(sess)
	return nil
}

func (d *STTDriver) consume(sess STTSession) {
	for ev := range sess.Events() {
		switch ev.Type {
		case STTPartial:
			if d.onPartial != nil {
				d.onPartial(ev.Result)
			}
		case STTFinal:
			if d.onFinal != nil {
				d.onFinal(ev.Result)
			}
		case STTError:
			if d.onError != nil {
				d.onError(ev.Err)
			}
		case STTEnded:
			if d.onEnded != nil {
				d.onEnded()
			}
		}
	}
}

// Write forwards (or queues, if not yet ready) an inbound frame. Queued
// frames are bounded by Config.STTBackpressureCap bytes; on overflow the
// oldest queued frame is dropped.
func (d *STTDriver) Write(ctx context.Context, frame AudioFrame) error {
	d.mu.Lock()
	if !d.ready {
		d.queue = append(d.queue, append([]byte(nil), frame...))
		d.queuedN += len(frame)
		cap := d.cfg.STTBackpressureCap
		for cap > 0 && d.queuedN > cap && len(d.queue) > 0 {
			d.queuedN -= len(d.queue[0])
			d.queue = d.queue[1:]
		}
		d.mu.Unlock()
		return nil
	}
	sess := d.session
	d.mu.Unlock()
	if sess == nil {
		return ErrNilProvider
	}
	return sess.Write(ctx, frame)
}

// End signals no more audio is coming for this session.
func (d *STTDriver) End(ctx context.Context) error {
	d.mu.Lock()
	sess := d.session
	d.mu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.End(ctx)
}

// Abort cancels the upstream session immediately. Idempotent.
func (d *STTDriver) Abort() {
	d.mu.Lock()
	sess := d.session
	d.session = nil
	d.ready = false
	d.queue = nil
	d.queuedN = 0
	d.mu.Unlock()
	if sess != nil {
		sess.Abort()
	}
}
