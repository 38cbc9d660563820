package pipeline

import "time"

// BargeInController decides when user speech overrides current agent
// output. Active only while ttsActive; on ≥required consecutive
// loud chunks it triggers the orchestrator's abort path.
type BargeInController struct {
	tracker  *TTSPlaybackTracker
	echo     *EchoSuppressor
	drainFor time.Duration

	threshold float64
	required  int

	consecutiveLoud int

	onBargeIn func()
}

// NewBargeInController constructs a controller bound to tracker (read for
// ttsActive) and cfg's threshold/required settings.
func NewBargeInController(cfg Config, tracker *TTSPlaybackTracker, echo *EchoSuppressor, onBargeIn func()) *BargeInController {
	return &BargeInController{
		tracker:   tracker,
		echo:      echo,
		drainFor:  cfg.TTSPlaybackDrain,
		threshold: cfg.BargeInThresholdRMS,
		required:  cfg.BargeInRequiredChunks,
		onBargeIn: onBargeIn,
	}
}

// Inspect runs the barge-in check on one inbound frame. It reports whether
// the frame should be gated from STT (i.e. TTS is active, so the frame is
// NOT delivered to STT — the echo-suppression gate).
func (b *BargeInController) Inspect(frame AudioFrame) (gated bool) {
	active := b.tracker.Active()
	if !active {
		b.consecutiveLoud = 0
		return false
	}

	level := RMSLevel(frame)
	isEcho := b.echo != nil && b.echo.IsEcho(frame)

	if level > b.threshold && !isEcho {
		b.consecutiveLoud++
		if b.consecutiveLoud >= b.required {
			b.consecutiveLoud = 0
			if b.onBargeIn != nil {
				b.onBargeIn()
			}
		}
	} else {
		b.consecutiveLoud = 0
	}

	return true
}

// Reset clears the consecutive-loud-chunk counter (called after a barge-in
// fires or a turn completes).
func (b *BargeInController) Reset() {
	b.consecutiveLoud = 0
}
