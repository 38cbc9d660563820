package pipeline

import "testing"

func pcmFrame(samples ...int16) AudioFrame {
	frame := make(AudioFrame, len(samples)*2)
	for i, s := range samples {
		frame[i*2] = byte(s)
		frame[i*2+1] = byte(s >> 8)
	}
	return frame
}

func TestRMSLevelSilence(t *testing.T) {
	frame := pcmFrame(0, 0, 0, 0)
	if level := RMSLevel(frame); level != 0 {
		t.Errorf("expected 0 RMS for silence, got %f", level)
	}
}

func TestRMSLevelConstantAmplitude(t *testing.T) {
	frame := pcmFrame(1000, -1000, 1000, -1000)
	level := RMSLevel(frame)
	if level != 1000 {
		t.Errorf("expected RMS 1000 for constant-amplitude signal, got %f", level)
	}
}

func TestRMSLevelEmptyFrame(t *testing.T) {
	if level := RMSLevel(AudioFrame{}); level != 0 {
		t.Errorf("expected 0 RMS for empty frame, got %f", level)
	}
}
