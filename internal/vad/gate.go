package vad

import (
	"fmt"
	"sync"
)

// Gate decides whether a PCM segment contains voice activity.
// The decision is a pure function of the samples and the configured energy
// threshold: the same segment always yields the same decision. The gate keeps
// counters for monitoring, but they never influence the decision.
type Gate struct {
	threshold float64

	// Statistics
	totalSegments    uint64
	acceptedSegments uint64

	mu sync.RWMutex
}

// GateStats represents gate statistics for monitoring
type GateStats struct {
	Threshold        float64 `json:"threshold"`
	TotalSegments    uint64  `json:"total_segments"`
	AcceptedSegments uint64  `json:"accepted_segments"`
	AcceptRate       float64 `json:"accept_rate"`
}

// NewGate creates a new voice activity gate with the given energy threshold.
// The threshold is compared against the mean absolute amplitude of int16
// samples, so the useful range is (0, 32767).
func NewGate(threshold float64) (*Gate, error) {
	if threshold <= 0 || threshold >= 32768 {
		return nil, fmt.Errorf("energy threshold must be in (0, 32768), got %f", threshold)
	}

	return &Gate{threshold: threshold}, nil
}

// Accept returns true if the segment's mean absolute amplitude exceeds the
// configured threshold. An empty segment is always rejected.
func (g *Gate) Accept(samples []int16) bool {
	accepted := MeanAbsAmplitude(samples) > g.threshold

	g.mu.Lock()
	g.totalSegments++
	if accepted {
		g.acceptedSegments++
	}
	g.mu.Unlock()

	return accepted
}

// MeanAbsAmplitude computes the mean absolute amplitude of a PCM segment
func MeanAbsAmplitude(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		if s < 0 {
			sum -= float64(s)
		} else {
			sum += float64(s)
		}
	}

	return sum / float64(len(samples))
}

// Threshold returns the configured energy threshold
func (g *Gate) Threshold() float64 {
	return g.threshold
}

// GetStats returns current gate statistics
func (g *Gate) GetStats() GateStats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	acceptRate := float64(0)
	if g.totalSegments > 0 {
		acceptRate = float64(g.acceptedSegments) / float64(g.totalSegments) * 100
	}

	return GateStats{
		Threshold:        g.threshold,
		TotalSegments:    g.totalSegments,
		AcceptedSegments: g.acceptedSegments,
		AcceptRate:       acceptRate,
	}
}
