package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// State is one of the Turn Orchestrator's four states.
type State int

const (
	StateIdle State = iota
	StateProcessing
	StateAwaitingTool
	StateAborting
)

// ToolExecutor executes a tool call against the external tool registry.
// Returns the result to embed in the tool message, or an error (recorded
// as {error: message}).
type ToolExecutor interface {
	Execute(ctx context.Context, toolName string, args json.RawMessage, sessionID string, callContext any, timeout time.Duration) (result any, err error)
}

// internalEventKind tags the single serialized event queue every
// sub-session callback feeds into — the one place turn state is mutated.
type internalEventKind int

const (
	ieSTTPartial internalEventKind = iota
	ieSTTFinal
	ieSTTError
	ieSTTEnded
	ieTurnReady
	ieLLMToken
	ieLLMSentence
	ieLLMToolCall
	ieLLMComplete
	ieLLMError
	ieTTSComplete
	ieTTSError
	ieBargeIn
	ieStop
)

type internalEvent struct {
	kind       internalEventKind
	fragment   TranscriptFragment
	text       string
	confidence float64
	toolCall   ToolCall
	response   LLMResponse
	err        error
	generation int
}

// Pipeline is a single logical actor bound 1:1 to a call session. It owns
// the Turn Orchestrator state machine, the three provider drivers, the turn
// arbiter, barge-in controller, filler player and history manager, and
// drives the turn lifecycle end to end.
type Pipeline struct {
	session *Session
	cfg     Config
	logger  Logger

	sttDriver  *STTDriver
	llmDriver  *LLMDriver
	ttsDriver  *TTSDriver
	arbiter    *Arbiter
	validator  *Validator
	bargein    *BargeInController
	filler     *FillerPlayer
	history    *History
	tracker    *TTSPlaybackTracker
	echo       *EchoSuppressor
	toolExec   ToolExecutor
	toolDefs   []ToolDefinition

	ttsVoice     string
	ttsLanguage  string
	fillerText   string

	ctx    context.Context
	cancel context.CancelFunc

	events chan Event // outbound, consumed by the caller
	intern chan internalEvent

	mu            sync.Mutex
	state         State
	generation    int // bumped on every abort to invalidate stale callbacks
	executingTool bool
	queuedInput   []string
	turn          *Turn
	turnMetrics   *TurnMetrics

	stopped bool
}

// NewPipelineOpts bundles the provider and collaborator dependencies a
// Pipeline is constructed from. All wiring is explicit constructor
// injection; there is no global provider registry.
type NewPipelineOpts struct {
	STT          STTProvider
	LLM          LLMProvider
	TTS          TTSProvider
	TTSRawPCM    bool // true for raw-PCM providers needing WAV-wrap accumulation
	ToolExecutor ToolExecutor
	Tools        []ToolDefinition
	FillerCache  *FillerCache
	FillerText   string
	Logger       Logger
}

// NewPipeline constructs a Pipeline for session, wiring every component
// together behind a single serialized event queue.
func NewPipeline(ctx context.Context, session *Session, opts NewPipelineOpts) *Pipeline {
	pctx, cancel := context.WithCancel(ctx)
	logger := opts.Logger
	if logger == nil {
		logger = NoOpLogger{}
	}

	p := &Pipeline{
		session:     session,
		cfg:         session.Config,
		logger:      logger,
		tracker:     NewTTSPlaybackTracker(),
		echo:        NewEchoSuppressor(),
		history:     NewHistory(session.Log),
		validator:   NewValidator(session.Config),
		toolExec:    opts.ToolExecutor,
		toolDefs:    DedupeToolDefinitions(opts.Tools),
		ttsVoice:    session.Config.TTSVoice,
		ttsLanguage: session.Config.Language,
		fillerText:  opts.FillerText,
		ctx:         pctx,
		cancel:      cancel,
		events:      make(chan Event, 1024),
		intern:      make(chan internalEvent, 256),
		state:       StateIdle,
	}

	p.filler = NewFillerPlayer(opts.FillerCache, opts.TTS, p.ttsVoice)

	p.arbiter = NewArbiter(session.Config, p.isTurnInFlight, ArbiterCallbacks{
		OnTurnEnded: func(text string, confidence float64) {
			p.pushIntern(internalEvent{kind: ieTurnReady, text: text, confidence: confidence})
		},
	})

	p.bargein = NewBargeInController(session.Config, p.tracker, p.echo, func() {
		p.pushIntern(internalEvent{kind: ieBargeIn})
	})

	p.sttDriver = NewSTTDriver(opts.STT, session.Config,
		func(f TranscriptFragment) { p.pushIntern(internalEvent{kind: ieSTTPartial, fragment: f}) },
		func(f TranscriptFragment) { p.pushIntern(internalEvent{kind: ieSTTFinal, fragment: f}) },
		func(err error) { p.pushIntern(internalEvent{kind: ieSTTError, err: err}) },
		func() { p.pushIntern(internalEvent{kind: ieSTTEnded}) },
	)

	p.llmDriver = NewLLMDriver(opts.LLM,
		func(chunk string) { p.pushIntern(internalEvent{kind: ieLLMToken, text: chunk}) },
		func(sentence string) { p.pushIntern(internalEvent{kind: ieLLMSentence, text: sentence}) },
		func(call ToolCall) { p.pushIntern(internalEvent{kind: ieLLMToolCall, toolCall: call}) },
		func(resp LLMResponse) { p.pushIntern(internalEvent{kind: ieLLMComplete, response: resp}) },
		func(err error) { p.pushIntern(internalEvent{kind: ieLLMError, err: err}) },
	)

	p.ttsDriver = NewTTSDriver(opts.TTS, opts.TTSRawPCM, session.Config.SampleRate, session.Config.TTSEndTimeout,
		func(chunk []byte) {
			p.echo.RecordPlayedAudio(chunk)
			p.emit(Event{Type: EventTTSAudioChunk, Data: chunk})
			p.mu.Lock()
			if p.turnMetrics != nil && p.turnMetrics.FirstTTSByte.IsZero() {
				p.turnMetrics.FirstTTSByte = time.Now()
				latency := p.turnMetrics.FirstTTSByte.Sub(p.turnMetrics.TurnStart).Milliseconds()
				ObserveStageDuration("tts", p.turnMetrics.FirstTTSByte.Sub(p.turnMetrics.TurnStart))
				p.mu.Unlock()
				p.emit(Event{Type: EventFirstAudio, Data: FirstAudioByteData{LatencyMs: latency}})
			} else {
				p.mu.Unlock()
			}
		},
		func() { p.pushIntern(internalEvent{kind: ieTTSComplete}) },
		func(err error) { p.pushIntern(internalEvent{kind: ieTTSError, err: err}) },
	)

	go p.run()
	if opts.STT != nil {
		if err := p.sttDriver.Open(pctx, session.Config.Language, session.Config.SampleRate); err != nil {
			p.emit(Event{Type: EventError, Data: fmt.Errorf("%w: %v", ErrSTTFailed, err)})
		}
	}

	return p
}

// Events returns the pipeline's outbound event stream.
func (p *Pipeline) Events() <-chan Event { return p.events }

func (p *Pipeline) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("dropping event, outbound queue full", "type", ev.Type)
	}
}

func (p *Pipeline) pushIntern(ev internalEvent) {
	select {
	case p.intern <- ev:
	case <-p.ctx.Done():
	}
}

func (p *Pipeline) isTurnInFlight() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state != StateIdle
}

// Write delivers one inbound PCM frame, the pipeline's hot path. Runs the
// barge-in/echo check synchronously; if TTS is active the frame is gated
// and NOT forwarded to STT (the echo-suppression gate).
func (p *Pipeline) Write(ctx context.Context, frame AudioFrame) error {
	if p.bargein.Inspect(frame) {
		return nil // gated: tts active, not delivered to STT
	}

	// Input gating during tool execution happens downstream in handle():
	// STT finals still reach the arbiter's upstream session, but ieSTTFinal
	// routes them to queuedUserInput instead of the arbiter while
	// executingTool is set, so raw audio is always forwarded here.
	return p.sttDriver.Write(ctx, frame)
}

// run is the single consumer of the serialized internal event queue; STT
// and LLM events and TTS completion are handled here. Two paths update turn
// state outside it, under p.mu: the TTS audio callback (first-byte
// timestamp) and executeTool, which runs on its own goroutine.
func (p *Pipeline) run() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case ev := <-p.intern:
			p.handle(ev)
		}
	}
}

func (p *Pipeline) handle(ev internalEvent) {
	switch ev.kind {
	case ieSTTPartial:
		p.arbiter.OnPartial()
		p.emit(Event{Type: EventSTTPartial, Data: ev.fragment.Text})
	case ieSTTFinal:
		p.mu.Lock()
		gated := p.executingTool
		p.mu.Unlock()
		if gated {
			p.mu.Lock()
			p.queuedInput = append(p.queuedInput, ev.fragment.Text)
			p.mu.Unlock()
			return
		}
		p.arbiter.OnFinal(ev.fragment.Text, ev.fragment.Confidence)
		p.emit(Event{Type: EventSTTFinal, Data: ev.fragment.Text})
	case ieSTTError:
		p.failTurn(fmt.Errorf("%w: %v", ErrSTTFailed, ev.err))
	case ieSTTEnded:
		p.arbiter.OnSessionEnded()
	case ieTurnReady:
		p.onTurnReady(ev.text, ev.confidence)
	case ieLLMToken:
		p.mu.Lock()
		if p.turnMetrics != nil && p.turnMetrics.FirstLLMToken.IsZero() {
			p.turnMetrics.FirstLLMToken = time.Now()
		}
		p.mu.Unlock()
		p.emit(Event{Type: EventLLMToken, Data: ev.text})
	case ieLLMSentence:
		p.onLLMSentence(ev.text)
	case ieLLMToolCall:
		p.onToolCall(ev.toolCall)
	case ieLLMComplete:
		p.onLLMComplete(ev.response)
	case ieLLMError:
		p.failTurn(fmt.Errorf("%w: %v", ErrLLMFailed, ev.err))
	case ieTTSComplete:
		// Release the echo-suppression gate after a bounded drain window
		// rather than instantly: playback of the last chunk already handed
		// to the audio sink lags slightly behind this upstream "done"
		// signal, so Active() must still read true for a short grace period
		// to avoid the tail of our own TTS leaking into STT as a false
		// barge-in. finishTurn (driven separately from onLLMComplete) is
		// what ends the turn; this only ungates input.
		p.tracker.SetActive(false, p.cfg.TTSPlaybackDrain)
	case ieTTSError:
		ObserveError("tts")
		p.emit(Event{Type: EventError, Data: fmt.Errorf("%w: %v", ErrTTSFailed, ev.err)})
	case ieBargeIn:
		p.onBargeIn()
	case ieStop:
		p.onStop()
	}
}

// onTurnReady validates the accumulated text and, on acceptance, begins a
// new turn (Idle → Processing).
func (p *Pipeline) onTurnReady(text string, confidence float64) {
	reason := p.validator.Accept(text, confidence, p.tracker.Active())
	if reason != RejectNone {
		p.logger.Debug("transcript rejected", "reason", reason, "text", text)
		return
	}

	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return
	}
	p.state = StateProcessing
	p.turn = &Turn{StartedAt: time.Now(), AccumulatedText: text, Status: TurnCompleted}
	p.turnMetrics = &TurnMetrics{TurnStart: p.turn.StartedAt}
	p.mu.Unlock()

	p.session.Log.Append(Message{Role: RoleUser, Content: text})
	p.tracker.Reset()

	history := p.session.Log.Snapshot()

	// Snapshot the turn's opening voice/language before spawning the
	// parallel-establishment goroutine below: p.ttsLanguage is subsequently
	// written only from onLLMSentence, which — like onTurnReady — runs on
	// the single run() goroutine, but the Open call here executes on its
	// own goroutine and must not read that field concurrently with those
	// writes.
	openVoice, openLanguage := p.ttsVoice, p.ttsLanguage

	// The LLM stream and the TTS session are established in parallel
	// (spec.md §4.9): an errgroup joins the two initiations so a slow or
	// failing TTS dial never delays kicking off the LLM request, and vice
	// versa. Each leg reports its own failure on the event queue rather
	// than through the group's error, since a TTS dial failure and an LLM
	// stream failure need distinct downstream handling.
	go func() {
		var g errgroup.Group
		g.Go(func() error {
			if err := p.ttsDriver.Open(p.ctx, openVoice, openLanguage); err != nil {
				p.emit(Event{Type: EventError, Data: fmt.Errorf("%w: %v", ErrTTSFailed, err)})
			}
			return nil
		})
		g.Go(func() error {
			if err := p.llmDriver.Stream(p.ctx, history, p.toolDefs, p.session.Config.SystemPrompt); err != nil {
				p.pushIntern(internalEvent{kind: ieLLMError, err: err})
			}
			return nil
		})
		_ = g.Wait()
	}()
}

func (p *Pipeline) startLLMStream() {
	history := p.session.Log.Snapshot()
	p.mu.Lock()
	p.turn.FirstLLMTokenAt = time.Time{}
	p.mu.Unlock()
	go func() {
		if err := p.llmDriver.Stream(p.ctx, history, p.toolDefs, p.session.Config.SystemPrompt); err != nil {
			p.pushIntern(internalEvent{kind: ieLLMError, err: err})
		}
	}()
}

func (p *Pipeline) onLLMSentence(sentence string) {
	// detectLanguageFromScript classifies this sentence independently of any
	// prior one; p.ttsLanguage just tracks the most recently detected
	// language for components that need a "current" value (e.g. the filler
	// player) between sentences, since onLLMSentence is only ever invoked
	// from the single run() goroutine and is therefore its sole writer.
	lang := detectLanguageFromScript(sentence)
	p.ttsLanguage = lang

	p.tracker.QueueSentence(sentence)
	p.tracker.SetActive(true, 0)
	p.emit(Event{Type: EventLLMSentence, Data: sentence})

	// lang is threaded straight into SendText rather than relying on the
	// session's voice/language negotiated at Open time, since that is fixed
	// for the life of the session (spec.md §4.9, S5: TTS voice language
	// switches mid-turn, sentence by sentence).
	if err := p.ttsDriver.SendText(p.ctx, sentence, lang); err != nil {
		p.emit(Event{Type: EventError, Data: fmt.Errorf("%w: %v", ErrTTSFailed, err)})
		return
	}
	// A sentence handed to the TTS driver (sent, or queued until the session
	// is ready) is considered played for history-truncation purposes: the
	// driver has no
	// per-sentence playback-complete signal from providers, so the
	// orchestrator tracks "handed to TTS" as the played-prefix boundary.
	// This is an estimate, not a client-side playback clock.
	p.tracker.MarkPlayed()
}

func (p *Pipeline) onToolCall(call ToolCall) {
	p.mu.Lock()
	p.state = StateAwaitingTool
	p.executingTool = true
	if p.turn != nil {
		p.turn.ToolCallCount++
	}
	p.mu.Unlock()

	p.emit(Event{Type: EventLLMToolCall, Data: call})

	// Filler Player runs synchronously, before the tool executes.
	p.filler.Play(p.ctx, p.ttsLanguage, p.fillerText, func(chunk []byte) {
		p.emit(Event{Type: EventTTSAudioChunk, Data: chunk})
	})

	p.session.Log.Append(Message{Role: RoleAssistant, Content: "", ToolCalls: []ToolCall{call}})

	go p.executeTool(call)
}

func (p *Pipeline) executeTool(call ToolCall) {
	started := time.Now()
	var result any
	var execErr error
	if p.toolExec != nil {
		result, execErr = p.toolExec.Execute(p.ctx, call.Name, json.RawMessage(call.Arguments), p.session.ID, p.session.Context, p.cfg.ToolTimeout)
	} else {
		execErr = ErrNilProvider
	}
	ObserveStageDuration("tool_execution", time.Since(started))

	var content string
	if execErr != nil {
		b, _ := json.Marshal(map[string]string{"error": execErr.Error()})
		content = string(b)
	} else {
		b, _ := json.Marshal(result)
		content = string(b)
	}
	p.session.Log.Append(Message{Role: RoleTool, Content: content, ToolCallID: call.ID, ToolName: call.Name})

	if call.Name == EndCallToolName {
		p.emit(Event{Type: EventSessionEnd, Data: SessionEndData{Reason: "end_call"}})
		time.AfterFunc(500*time.Millisecond, func() { p.Stop() })
		return
	}

	p.mu.Lock()
	p.queuedInput = nil // discard input queued during tool execution
	p.executingTool = false
	p.state = StateProcessing
	p.mu.Unlock()

	p.startLLMStream()
}

func (p *Pipeline) onLLMComplete(resp LLMResponse) {
	p.mu.Lock()
	if p.state == StateAwaitingTool {
		// Tool calls were already surfaced individually via onToolCall; a
		// text-only complete alongside AwaitingTool means nothing further
		// to append here.
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.session.Log.Append(Message{Role: RoleAssistant, Content: resp.Text, ToolCalls: resp.ToolCalls})

	p.mu.Lock()
	if p.turnMetrics != nil {
		ObserveStageDuration("llm", time.Since(p.turnMetrics.TurnStart))
	}
	p.mu.Unlock()

	// signalTTSComplete: call TTS end iff text was sent this turn.
	if p.ttsDriver.TextSent() {
		go func() {
			if err := p.ttsDriver.End(p.ctx); err != nil && err != ErrTTSEndWithNoText {
				p.emit(Event{Type: EventError, Data: fmt.Errorf("%w: %v", ErrTTSFailed, err)})
			}
		}()
	}

	p.finishTurn(TurnCompleted)
}

func (p *Pipeline) finishTurn(status TurnStatus) {
	p.mu.Lock()
	turn := p.turn
	metrics := p.turnMetrics
	p.state = StateIdle
	p.executingTool = false
	p.turn = nil
	p.turnMetrics = nil
	p.mu.Unlock()

	if turn == nil || metrics == nil {
		return
	}
	turn.Status = status

	now := time.Now()
	data := metrics.Complete(now)
	p.session.Metrics.IncrementTurnCount()
	ObserveStageDuration("turn", now.Sub(metrics.TurnStart))
	p.emit(Event{Type: EventTurnComplete, Data: data})

	p.bargein.Reset()
}

// onBargeIn implements the Any → Aborting transition: abort TTS and LLM,
// truncate history to the played prefix, reset playback state, clear the
// accumulated transcript, and emit barge_in.
func (p *Pipeline) onBargeIn() {
	promMetrics.bargeInsTotal.Inc()

	p.mu.Lock()
	p.generation++
	p.state = StateAborting
	p.executingTool = false
	p.queuedInput = nil
	wasProcessing := p.turn != nil
	p.mu.Unlock()

	p.llmDriver.Abort()
	p.ttsDriver.Abort()

	playedPrefix := p.tracker.PlayedPrefix()
	p.history.Truncate(playedPrefix)
	p.tracker.Reset()
	p.echo.ClearBuffer()
	p.arbiter.OnSessionEnded() // clears accumulated transcript, drops pending timer

	if wasProcessing {
		p.finishTurn(TurnInterrupted)
	}

	p.mu.Lock()
	p.state = StateIdle
	p.mu.Unlock()

	p.emit(Event{Type: EventBargeIn})
}

// Interrupt triggers the same abort path as a detected barge-in, for an
// explicit external trigger (e.g. a UI button).
func (p *Pipeline) Interrupt() {
	p.pushIntern(internalEvent{kind: ieBargeIn})
}

// onStop implements the Any → terminal transition: abort all three
// sessions, clear timers, emit final metrics, and stop accepting input.
// Equivalent to a silent barge-in: no barge_in event, but history is
// still truncated to the played prefix.
func (p *Pipeline) onStop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.sttDriver.Abort()
	p.llmDriver.Abort()
	p.ttsDriver.Abort()

	playedPrefix := p.tracker.PlayedPrefix()
	p.history.Truncate(playedPrefix)
	p.tracker.Reset()

	p.finishTurn(TurnInterrupted)
	p.cancel()
	close(p.events)
}

// Stop is idempotent (testable property 7): calling it twice has the same
// effect as once.
func (p *Pipeline) Stop() {
	p.pushIntern(internalEvent{kind: ieStop})
}
