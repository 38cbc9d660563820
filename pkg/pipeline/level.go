package pipeline

import "math"

// RMSLevel computes the root-mean-square level of a little-endian signed
// 16-bit PCM frame: sqrt(sum(sample^2) / N), in raw sample amplitude units
// (NOT normalized to [0,1] — the barge-in threshold of 600 is calibrated
// against this raw scale). Pure function; used only by the barge-in
// controller — STT receives the unmodified frame.
func RMSLevel(frame AudioFrame) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sumSq float64
	for i := 0; i+1 < len(frame); i += 2 {
		sample := float64(int16(frame[i]) | int16(frame[i+1])<<8)
		sumSq += sample * sample
	}
	return math.Sqrt(sumSq / float64(n))
}
