// Package trend fits an ordinary least squares line over recent burnout
// scores to classify trajectory and predict where it is heading.
package trend

import (
	"math"

	"codecoach/internal/logging"
)

// Direction classifies the fitted slope.
type Direction string

const (
	DirectionDeteriorating Direction = "deteriorating" // slope >= +0.1
	DirectionStable        Direction = "stable"
	DirectionRecovering    Direction = "recovering" // slope <= -0.1
)

// Analysis is the result of one regression pass.
type Analysis struct {
	Direction          Direction `json:"direction"`
	Slope              float64   `json:"slope"`
	Intercept          float64   `json:"intercept"`
	RSquared           float64   `json:"r_squared"`
	Confidence         float64   `json:"confidence"`
	PredictedNext      float64   `json:"predicted_next"`
	SessionsToCritical *int      `json:"sessions_to_critical,omitempty"`
}

// Config tunes the detector.
type Config struct {
	WindowSize     int     `yaml:"window_size"`
	SlopeThreshold float64 `yaml:"slope_threshold"`
	CriticalScore  float64 `yaml:"critical_score"`
}

// DefaultConfig returns the standard trend constants.
func DefaultConfig() Config {
	return Config{
		WindowSize:     5,
		SlopeThreshold: 0.1,
		CriticalScore:  0.7,
	}
}

// Detector fits trends over per-session score series. Stateless apart
// from config; safe to share across goroutines.
type Detector struct {
	cfg Config
}

// New creates a detector with the given config.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Analyze fits OLS over the last WindowSize scores (indices 0..n-1 as x)
// and classifies the slope. Insufficient data yields a zero-confidence
// stable result, never an error.
func (d *Detector) Analyze(scores []float64) Analysis {
	if len(scores) == 0 {
		return Analysis{Direction: DirectionStable}
	}
	window := scores
	if len(window) > d.cfg.WindowSize {
		window = window[len(window)-d.cfg.WindowSize:]
	}

	slope, intercept, r2 := fit(window)
	n := len(window)

	direction := DirectionStable
	switch {
	case slope >= d.cfg.SlopeThreshold:
		direction = DirectionDeteriorating
	case slope <= -d.cfg.SlopeThreshold:
		direction = DirectionRecovering
	}

	confidence := r2 * math.Min(1, float64(n)/float64(d.cfg.WindowSize))
	predicted := clamp01(slope*float64(n) + intercept)

	a := Analysis{
		Direction:     direction,
		Slope:         slope,
		Intercept:     intercept,
		RSquared:      r2,
		Confidence:    confidence,
		PredictedNext: predicted,
	}

	current := window[n-1]
	if slope > 0 && current < d.cfg.CriticalScore {
		sessions := int(math.Ceil((d.cfg.CriticalScore - current) / slope))
		if sessions < 1 {
			sessions = 1
		}
		a.SessionsToCritical = &sessions
	}

	logging.Trend("direction=%s slope=%.4f r2=%.3f confidence=%.3f", direction, slope, r2, confidence)
	return a
}

// fit computes slope, intercept, and r-squared for y over x = 0..n-1.
func fit(y []float64) (slope, intercept, r2 float64) {
	n := len(y)
	if n < 2 {
		return 0, y[0], 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, v := range y {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / fn, 0
	}

	slope = (fn*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / fn

	meanY := sumY / fn
	var ssTot, ssRes float64
	for i, v := range y {
		pred := slope*float64(i) + intercept
		ssTot += (v - meanY) * (v - meanY)
		ssRes += (v - pred) * (v - pred)
	}
	if ssTot == 0 {
		return slope, intercept, 0
	}
	r2 = 1 - ssRes/ssTot
	if r2 < 0 {
		r2 = 0
	}
	if r2 > 1 {
		r2 = 1
	}
	return slope, intercept, r2
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
