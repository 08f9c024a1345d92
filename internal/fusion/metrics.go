package fusion

import (
	"math"

	"codecoach/internal/signal"
)

// WellnessMetrics summarize the user's current condition for export.
type WellnessMetrics struct {
	FrustrationIndex float64 `json:"frustration_index"` // 0-1
	FatigueIndex     float64 `json:"fatigue_index"`     // 0-1
	FocusScore       float64 `json:"focus_score"`       // 0-100
}

var frustrationKinds = map[signal.Kind]bool{
	signal.KindRapidWABurst:      true,
	signal.KindProblemSkipStreak: true,
}

var drainKinds = map[signal.Kind]bool{
	signal.KindTabAwayFrequency:  true,
	signal.KindIdleOnProblem:     true,
	signal.KindProblemSkipStreak: true,
}

// wellnessMetrics derives the indexes from the signal tail and the open
// session. Caller holds the context mutex.
func (c *Context) wellnessMetrics() WellnessMetrics {
	signals := c.collector.Signals()
	tail := signals
	if len(tail) > 10 {
		tail = tail[len(tail)-10:]
	}

	frustration, drains, idles := 0, 0, 0
	for _, s := range tail {
		if frustrationKinds[s.Kind] {
			frustration++
		}
		if drainKinds[s.Kind] {
			drains++
		}
		if s.Kind == signal.KindIdleOnProblem {
			idles++
		}
	}

	var sessionMinutes float64
	if cur := c.collector.CurrentSession(); cur != nil {
		sessionMinutes = cur.Duration(c.nowFn()).Minutes()
	}
	// Fatigue climbs superlinearly past the two-hour mark
	fatigue := math.Pow(sessionMinutes/120, 1.5) + math.Min(0.3, float64(idles)*0.1)

	return WellnessMetrics{
		FrustrationIndex: math.Min(1, float64(frustration)/5),
		FatigueIndex:     math.Min(1, fatigue),
		FocusScore:       math.Max(0, 100-float64(drains)*15),
	}
}
