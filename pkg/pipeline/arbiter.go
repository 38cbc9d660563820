package pipeline

import (
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// midThoughtTail matches trailing words that signal the speaker has not
// finished a thought: conjunctions, pronouns, auxiliary verbs, determiners,
// common intent verbs, prepositions, or a trailing comma. English-centric
// by design — not silently extended to other scripts without the same
// tuning effort.
var midThoughtTail = regexp.MustCompile(`(?i)(,|\b(and|but|or|so|because|if|when|while|that|which|who|i|you|he|she|it|we|they|is|are|was|were|am|be|been|being|do|does|did|will|would|can|could|should|the|a|an|this|these|those|my|your|his|her|its|our|their|want|need|going|trying|like|to|about|with|for|of|in|on|at|from))$`)

var clearEndingPhrase = regexp.MustCompile(`(?i)(thanks|thank you|bye|goodbye|that's all|that is all|nothing else|all set)[.!?]?\s*$`)

// silenceClass is the trailing-text classification silenceWait dispatches
// on.
type silenceClass int

const (
	classMidThought silenceClass = iota
	classClearEnding
	classQuestion
	classPunctuatedLong
	classVeryShort
	classMediumUnpunctuated
	classDefault
)

func classify(text string) silenceClass {
	trimmed := strings.TrimSpace(text)
	switch {
	case midThoughtTail.MatchString(trimmed):
		return classMidThought
	case endsWithAny(trimmed, ".!?") && clearEndingPhrase.MatchString(trimmed):
		return classClearEnding
	case strings.HasSuffix(trimmed, "?"):
		return classQuestion
	case endsWithAny(trimmed, sentenceFinalPunct) && len(trimmed) > 20:
		return classPunctuatedLong
	case len(trimmed) < 20 && !endsWithAny(trimmed, sentenceFinalPunct):
		return classVeryShort
	case len(trimmed) < 40:
		return classMediumUnpunctuated
	default:
		return classDefault
	}
}

func endsWithAny(s, chars string) bool {
	if s == "" {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(s)
	return strings.ContainsRune(chars, last)
}

// silenceWait computes the adaptive silence debounce given the base (B)
// and max (M) durations from Config.
func silenceWait(text string, baseMs, maxMs int) time.Duration {
	b := float64(baseMs)
	clampMax := func(v float64) float64 {
		if v > float64(maxMs) {
			return float64(maxMs)
		}
		return v
	}
	var ms float64
	switch classify(text) {
	case classMidThought:
		ms = float64(maxMs)
	case classClearEnding:
		ms = clampMax(0.5 * b)
		if ms > 600 {
			ms = 600
		}
	case classQuestion:
		ms = clampMax(0.6 * b)
		if ms > 700 {
			ms = 700
		}
	case classPunctuatedLong:
		ms = clampMax(0.75 * b)
		if ms > 900 {
			ms = 900
		}
	case classVeryShort:
		ms = float64(maxMs)
	case classMediumUnpunctuated:
		ms = b
		if ms < 1200 {
			ms = 1200
		}
		ms = clampMax(ms)
	default:
		ms = b
	}
	return time.Duration(ms) * time.Millisecond
}

// ArbiterCallbacks are invoked by the Arbiter when a debounce timer fires
// and the accumulated text should be handed to the Turn Orchestrator.
type ArbiterCallbacks struct {
	// OnTurnEnded is called with the accumulated text once silenceWait has
	// elapsed without further speech and no turn is already processing.
	OnTurnEnded func(text string, confidence float64)
}

// Arbiter accumulates STT finals and runs the adaptive silence debounce
// that decides when a user utterance is done.
type Arbiter struct {
	mu          sync.Mutex
	accumulated string
	lastConf    float64
	lastSpeechAt time.Time
	isSpeaking  bool
	timer       *time.Timer

	baseMs, maxMs int
	turnInFlight  func() bool // reports whether the orchestrator is mid-turn

	cb ArbiterCallbacks
}

// NewArbiter constructs an Arbiter. turnInFlight reports whether the
// orchestrator is currently processing a turn (drops the fired debounce if
// so).
func NewArbiter(cfg Config, turnInFlight func() bool, cb ArbiterCallbacks) *Arbiter {
	return &Arbiter{
		baseMs:       cfg.BaseSilenceWaitMs,
		maxMs:        cfg.MaxSilenceWaitMs,
		turnInFlight: turnInFlight,
		cb:           cb,
	}
}

// OnPartial handles an STT partial transcript: marks speaking, cancels any
// pending debounce.
func (a *Arbiter) OnPartial() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.isSpeaking = true
	a.lastSpeechAt = time.Now()
	a.cancelTimerLocked()
}

// OnFinal handles an STT final transcript: appends to the accumulated text
// and (re)schedules the debounce timer.
func (a *Arbiter) OnFinal(text string, confidence float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.isSpeaking = false
	a.lastConf = confidence
	if a.accumulated == "" {
		a.accumulated = strings.TrimSpace(text)
	} else {
		a.accumulated = a.accumulated + " " + strings.TrimSpace(text)
	}
	a.cancelTimerLocked()

	wait := silenceWait(a.accumulated, a.baseMs, a.maxMs)
	speechAtSchedule := a.lastSpeechAt
	a.timer = time.AfterFunc(wait, func() { a.fire(speechAtSchedule) })
}

// OnSessionEnded processes any pending accumulated text immediately: if
// the STT session ends while accumulated is non-empty, it is handed off
// with the last-known confidence rather than discarded.
func (a *Arbiter) OnSessionEnded() {
	a.mu.Lock()
	a.cancelTimerLocked()
	text := a.accumulated
	conf := a.lastConf
	a.accumulated = ""
	a.mu.Unlock()
	if strings.TrimSpace(text) == "" {
		return
	}
	if a.cb.OnTurnEnded != nil {
		a.cb.OnTurnEnded(text, conf)
	}
}

func (a *Arbiter) cancelTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *Arbiter) fire(speechAtSchedule time.Time) {
	a.mu.Lock()
	// If the user resumed speaking after this timer was scheduled, bail and
	// keep the accumulated text (invariant 11).
	if a.lastSpeechAt.After(speechAtSchedule) {
		a.mu.Unlock()
		return
	}
	if a.turnInFlight != nil && a.turnInFlight() {
		a.mu.Unlock()
		return
	}
	text := a.accumulated
	conf := a.lastConf
	a.accumulated = ""
	a.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		return
	}
	if a.cb.OnTurnEnded != nil {
		a.cb.OnTurnEnded(text, conf)
	}
}

// IsSpeaking reports whether the arbiter currently believes the user is
// mid-utterance (an STT partial arrived more recently than the last final).
func (a *Arbiter) IsSpeaking() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isSpeaking
}
