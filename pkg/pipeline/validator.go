package pipeline

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// RejectReason names why a transcript was rejected, for logging.
type RejectReason string

const (
	RejectNone             RejectReason = ""
	RejectLowConfidence    RejectReason = "low_confidence"
	RejectTooShort         RejectReason = "too_short"
	RejectNoiseOrFiller    RejectReason = "noise_or_filler"
	RejectNoValidScript    RejectReason = "no_valid_script"
	RejectEchoWindow       RejectReason = "echo_window_too_short"
	RejectIncompleteThought RejectReason = "incomplete_thought"
)

// noisePatterns are common ASR hallucination/filler tokens rejected
// outright regardless of length.
var noisePatterns = map[string]bool{
	"um": true, "uh": true, "hmm": true, "mhm": true, "ah": true, "oh": true,
	"crunching": true, "static": true, "silence": true, "inaudible": true,
	"unintelligible": true, "background noise": true, "music": true,
	"typing": true, "breathing": true, "sigh": true, "cough": true,
	"sneeze": true, "laughter": true, "applause": true,
	"you": true, "the": true, "a": true,
}

// shortPhraseAllowList holds standalone short phrases (greetings,
// acknowledgements) that bypass the minimum-length and completeness rules.
var shortPhraseAllowList = map[string]bool{
	"hi": true, "hello": true, "hey": true, "yes": true, "no": true,
	"yeah": true, "nope": true, "ok": true, "okay": true, "thanks": true,
	"thank you": true, "bye": true, "goodbye": true, "sure": true,
	"please": true, "correct": true, "right": true, "got it": true,
}

var bracketedAside = regexp.MustCompile(`^[\[(*].*[\])*]$`)

// sentenceFinalPunct holds the terminators treated as "semantically
// complete", including the Devanagari danda/double-danda.
const sentenceFinalPunct = ".!?।॥"

// latinOrIndic reports whether r falls in the Latin block or one of the
// spec-listed Indic script ranges (Devanagari, Bengali, Gurmukhi, Gujarati,
// Tamil, Telugu, Kannada, Malayalam).
func latinOrIndic(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
		return true
	case r >= 0x0900 && r <= 0x097F: // Devanagari
		return true
	case r >= 0x0980 && r <= 0x09FF: // Bengali
		return true
	case r >= 0x0A00 && r <= 0x0A7F: // Gurmukhi (Punjabi)
		return true
	case r >= 0x0A80 && r <= 0x0AFF: // Gujarati
		return true
	case r >= 0x0B80 && r <= 0x0BFF: // Tamil
		return true
	case r >= 0x0C00 && r <= 0x0C7F: // Telugu
		return true
	case r >= 0x0C80 && r <= 0x0CFF: // Kannada
		return true
	case r >= 0x0D00 && r <= 0x0D7F: // Malayalam
		return true
	}
	return false
}

func hasValidScriptChar(s string) bool {
	for _, r := range s {
		if latinOrIndic(r) {
			return true
		}
	}
	return false
}

func isSentenceFinal(s string) bool {
	if s == "" {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(s)
	return strings.ContainsRune(sentenceFinalPunct, last) ||
		strings.HasSuffix(s, "?") || strings.HasSuffix(s, "!") || strings.HasSuffix(s, ".")
}

func isNoiseOrFiller(trimmed string) bool {
	lower := strings.ToLower(trimmed)
	if bracketedAside.MatchString(trimmed) {
		return true
	}
	if noisePatterns[lower] {
		return true
	}
	// purely punctuation/symbols: no letters or digits at all.
	hasAlnum := false
	for _, r := range trimmed {
		if (r >= '0' && r <= '9') || latinOrIndic(r) {
			hasAlnum = true
			break
		}
	}
	return !hasAlnum
}

// Validator decides whether to accept a final transcript before handing it
// to the Turn Orchestrator.
type Validator struct {
	MinChars int
}

// NewValidator returns a Validator using cfg's minimum-length setting.
func NewValidator(cfg Config) *Validator {
	min := cfg.MinTranscriptChars
	if min <= 0 {
		min = 4
	}
	return &Validator{MinChars: min}
}

// Accept applies the acceptance rules in order and returns the reject
// reason (RejectNone on acceptance).
func (v *Validator) Accept(text string, confidence float64, ttsPlaying bool) RejectReason {
	trimmed := strings.TrimSpace(text)

	// Rule 1: confidence OR length.
	if confidence < 0.5 && len(trimmed) < 20 {
		return RejectLowConfidence
	}

	isShortPhrase := shortPhraseAllowList[strings.ToLower(trimmed)]

	// Rule 2: minimum length, unless an allow-listed short phrase.
	if len(trimmed) < v.MinChars && !isShortPhrase {
		return RejectTooShort
	}

	// Rule 3: reject noise/filler/pure-punctuation.
	if isNoiseOrFiller(trimmed) && !isShortPhrase {
		return RejectNoiseOrFiller
	}

	// Rule 4: at least one Latin or Indic script character.
	if !hasValidScriptChar(trimmed) {
		return RejectNoValidScript
	}

	// Rule 5: echo-suppression tightens the threshold while TTS plays.
	if ttsPlaying && len(trimmed) < 10 {
		return RejectEchoWindow
	}

	// Rule 6: short utterances must be "semantically complete".
	if len(trimmed) < 15 && !isSentenceFinal(trimmed) && !isShortPhrase {
		return RejectIncompleteThought
	}

	return RejectNone
}
