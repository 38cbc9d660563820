package pipeline

import "errors"

// Sentinel errors. Sub-session failures never propagate as panics; they are
// wrapped in one of these and surfaced as an EventError on the pipeline's
// event channel: transient upstream errors fail the turn, not the pipeline.
var (
	ErrNilProvider       = errors.New("pipeline: nil provider")
	ErrTranscriptRejected = errors.New("pipeline: transcript rejected by validator")
	ErrSTTFailed         = errors.New("pipeline: stt session failed")
	ErrLLMFailed         = errors.New("pipeline: llm stream failed")
	ErrTTSFailed         = errors.New("pipeline: tts stream failed")
	ErrToolTimeout       = errors.New("pipeline: tool execution timed out")
	ErrToolFailed        = errors.New("pipeline: tool execution failed")
	ErrTTSEndWithNoText  = errors.New("pipeline: tts end called with no text sent")
	ErrProviderConfig    = errors.New("pipeline: invalid provider configuration")
	ErrPipelineStopped   = errors.New("pipeline: stopped")
)
