// Package archetype classifies recurring failure styles from recent
// problem attempts. Each archetype is a signature over four evidence
// axes: solve-time pattern, submission pattern, error verdicts, and tag
// usage. Scores average over the axes a signature actually specifies.
package archetype

import (
	"fmt"
	"math"
	"time"

	"codecoach/internal/logging"
)

// Archetype names a recurring failure style.
type Archetype string

const (
	BruteForcer   Archetype = "brute_forcer"
	PatternChaser Archetype = "pattern_chaser"
	Hesitator     Archetype = "hesitator"
	Overfitter    Archetype = "overfitter"
	Avoider       Archetype = "avoider"
	SpeedDemon    Archetype = "speed_demon"
	Perfectionist Archetype = "perfectionist"
)

// time and submission pattern labels used by signatures
const (
	timeTooFast      = "too_fast"
	timeTooSlow      = "too_slow"
	timeInconsistent = "inconsistent"

	submitMany       = "many_attempts"
	submitNone       = "no_submit"
	submitSingleFail = "single_fail"
)

// Attempt is one problem attempt record.
type Attempt struct {
	ProblemRating int           `json:"problem_rating"`
	Tags          []string      `json:"tags,omitempty"`
	TimeSpent     time.Duration `json:"time_spent"`
	Submissions   int           `json:"submissions"`
	Verdicts      []string      `json:"verdicts,omitempty"` // AC, WA, TLE, MLE, RTE
	Solved        bool          `json:"solved"`
}

// Detection is one classified archetype with supporting evidence.
type Detection struct {
	Archetype  Archetype `json:"archetype"`
	Confidence float64   `json:"confidence"`
	Evidence   []string  `json:"evidence,omitempty"`
	At         time.Time `json:"at"`
}

// signature describes one archetype's expected footprint.
type signature struct {
	timePattern   string
	submitPattern string
	errorTypes    []string
	avoidTags     []string
	overuseTags   []string
	variesTags    bool // tag usage is erratic rather than skewed
}

var signatures = map[Archetype]signature{
	BruteForcer: {
		timePattern:   timeTooSlow,
		submitPattern: submitMany,
		errorTypes:    []string{"TLE", "MLE"},
		avoidTags:     []string{"optimization", "math"},
		overuseTags:   []string{"implementation", "brute force"},
	},
	PatternChaser: {
		timePattern:   timeTooFast,
		submitPattern: submitSingleFail,
		errorTypes:    []string{"WA"},
		avoidTags:     []string{"ad-hoc", "constructive"},
		overuseTags:   []string{"dp", "graph", "binary search"},
	},
	Hesitator: {
		timePattern:   timeTooSlow,
		submitPattern: submitNone,
	},
	Overfitter: {
		timePattern:   timeInconsistent,
		submitPattern: submitMany,
		errorTypes:    []string{"WA"},
		overuseTags:   []string{"implementation"},
	},
	Avoider: {
		timePattern:   timeInconsistent,
		submitPattern: submitNone,
		variesTags:    true,
	},
	SpeedDemon: {
		timePattern:   timeTooFast,
		submitPattern: submitMany,
		errorTypes:    []string{"WA", "RTE"},
		overuseTags:   []string{"greedy", "implementation"},
	},
	Perfectionist: {
		timePattern:   timeTooSlow,
		submitPattern: submitNone,
		errorTypes:    []string{"TLE"},
		overuseTags:   []string{"dp", "graphs"},
	},
}

const (
	minAttempts         = 5
	lookback            = 20
	confidenceThreshold = 0.6
)

// Detector scores attempts against the archetype signatures. Not safe
// for concurrent use; the owning context serializes access.
type Detector struct {
	attempts []Attempt
	history  []Detection

	nowFn func() time.Time
}

// NewDetector creates a detector.
func NewDetector() *Detector {
	return &Detector{nowFn: time.Now}
}

// SetClock overrides the time source, for tests.
func (d *Detector) SetClock(fn func() time.Time) { d.nowFn = fn }

// RecordAttempt adds one attempt to the lookback window.
func (d *Detector) RecordAttempt(a Attempt) {
	d.attempts = append(d.attempts, a)
	if len(d.attempts) > lookback {
		d.attempts = d.attempts[len(d.attempts)-lookback:]
	}
}

// Detect scores the lookback window against every signature and returns
// the best match at or above the confidence threshold. Fewer than five
// attempts always returns nil.
func (d *Detector) Detect() *Detection {
	if len(d.attempts) < minAttempts {
		return nil
	}

	var best *Detection
	for arch, sig := range signatures {
		conf, evidence := d.score(sig)
		if conf < confidenceThreshold {
			continue
		}
		if best == nil || conf > best.Confidence {
			best = &Detection{
				Archetype:  arch,
				Confidence: conf,
				Evidence:   evidence,
				At:         d.nowFn(),
			}
		}
	}
	if best != nil {
		d.history = append(d.history, *best)
		logging.Archetype("detected %s confidence=%.2f", best.Archetype, best.Confidence)
	}
	return best
}

// Dominant returns the most frequent archetype across detection
// history, or empty when nothing was ever detected.
func (d *Detector) Dominant() Archetype {
	counts := make(map[Archetype]int)
	for _, det := range d.history {
		counts[det.Archetype]++
	}
	var dominant Archetype
	bestCount := 0
	for arch, n := range counts {
		if n > bestCount {
			dominant = arch
			bestCount = n
		}
	}
	return dominant
}

// History returns past detections, oldest first.
func (d *Detector) History() []Detection { return d.history }

// Attempts returns the current lookback window.
func (d *Detector) Attempts() []Attempt { return d.attempts }

// score averages the sub-scores for the axes the signature specifies.
func (d *Detector) score(sig signature) (float64, []string) {
	var total float64
	var checks int
	var evidence []string

	ts, te := d.timeScore(sig.timePattern)
	total += ts
	checks++
	if te != "" {
		evidence = append(evidence, te)
	}

	ss, se := d.submissionScore(sig.submitPattern)
	total += ss
	checks++
	if se != "" {
		evidence = append(evidence, se)
	}

	if len(sig.errorTypes) > 0 {
		es, ee := d.errorScore(sig.errorTypes)
		total += es
		checks++
		if ee != "" {
			evidence = append(evidence, ee)
		}
	}

	if len(sig.avoidTags) > 0 || len(sig.overuseTags) > 0 || sig.variesTags {
		gs, ge := d.tagScore(sig)
		total += gs
		checks++
		if ge != "" {
			evidence = append(evidence, ge)
		}
	}

	return total / float64(checks), evidence
}

func (d *Detector) timeScore(pattern string) (float64, string) {
	var ratios []float64
	for _, a := range d.attempts {
		expected := expectedTime(a.ProblemRating)
		ratios = append(ratios, a.TimeSpent.Seconds()/expected.Seconds())
	}
	avg := mean(ratios)

	switch pattern {
	case timeTooFast:
		if avg < 0.5 {
			return 1, fmt.Sprintf("solving at %.0f%% of expected time", avg*100)
		}
	case timeTooSlow:
		if avg > 1.5 {
			return 1, fmt.Sprintf("taking %.1fx the expected time", avg)
		}
	case timeInconsistent:
		if stddev(ratios, avg) > 0.5 {
			return 1, "solve times swing wildly between problems"
		}
	}
	return 0, ""
}

func (d *Detector) submissionScore(pattern string) (float64, string) {
	n := len(d.attempts)
	matching := 0
	for _, a := range d.attempts {
		switch pattern {
		case submitMany:
			if a.Submissions > 3 {
				matching++
			}
		case submitNone:
			if a.Submissions == 0 {
				matching++
			}
		case submitSingleFail:
			if a.Submissions == 1 && !a.Solved {
				matching++
			}
		}
	}
	ratio := float64(matching) / float64(n)

	switch pattern {
	case submitMany:
		if ratio > 0.5 {
			return 1, fmt.Sprintf("%d of %d problems took 4+ submissions", matching, n)
		}
	case submitNone:
		if ratio > 0.4 {
			return 1, fmt.Sprintf("%d of %d problems abandoned without submitting", matching, n)
		}
	case submitSingleFail:
		if ratio > 0.4 {
			return 1, fmt.Sprintf("%d of %d problems failed on a single confident submission", matching, n)
		}
	}
	return 0, ""
}

func (d *Detector) errorScore(errorTypes []string) (float64, string) {
	total, matching := 0, 0
	for _, a := range d.attempts {
		for _, v := range a.Verdicts {
			if v == "AC" {
				continue
			}
			total++
			for _, want := range errorTypes {
				if v == want {
					matching++
					break
				}
			}
		}
	}
	if total == 0 {
		return 0, ""
	}
	ratio := float64(matching) / float64(total)
	if ratio > 0.6 {
		return ratio, fmt.Sprintf("%.0f%% of failures are %v", ratio*100, errorTypes)
	}
	return 0, ""
}

func (d *Detector) tagScore(sig signature) (float64, string) {
	freq := make(map[string]int)
	total := 0
	for _, a := range d.attempts {
		for _, tag := range a.Tags {
			freq[tag]++
			total++
		}
	}
	if total == 0 {
		return 0, ""
	}

	if sig.variesTags {
		// Erratic usage: tags that dominate or barely appear
		outliers := 0
		for _, n := range freq {
			share := float64(n) / float64(total)
			if share > 0.5 || share < 0.1 {
				outliers++
			}
		}
		if outliers > 0 {
			return 0.5, "tag usage is erratic"
		}
		return 0, ""
	}

	var score float64
	var checks int
	var detail string

	if len(sig.avoidTags) > 0 {
		avgFreq := float64(total) / float64(len(freq))
		avoided := 0
		for _, tag := range sig.avoidTags {
			if float64(freq[tag]) < avgFreq*0.3 {
				avoided++
			}
		}
		checks++
		if avoided*2 > len(sig.avoidTags) {
			score += 1
			detail = fmt.Sprintf("avoiding %v problems", sig.avoidTags)
		}
	}

	if len(sig.overuseTags) > 0 {
		overused := 0
		for _, tag := range sig.overuseTags {
			if float64(freq[tag])/float64(total) > 0.4 {
				overused++
			}
		}
		checks++
		if overused*2 > len(sig.overuseTags) {
			score += 1
			if detail == "" {
				detail = fmt.Sprintf("leaning hard on %v", sig.overuseTags)
			}
		}
	}

	if checks == 0 {
		return 0, ""
	}
	return score / float64(checks), detail
}

// expectedTime maps problem rating to a reasonable solve time.
func expectedTime(rating int) time.Duration {
	switch {
	case rating < 1000:
		return 15 * time.Minute
	case rating < 1400:
		return 30 * time.Minute
	case rating < 1800:
		return 45 * time.Minute
	default:
		return 60 * time.Minute
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64, avg float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += (x - avg) * (x - avg)
	}
	return math.Sqrt(sum / float64(len(xs)))
}
