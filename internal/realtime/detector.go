// Package realtime detects struggle patterns from live coding activity:
// typing dynamics, code snapshots, and anti-pattern heuristics. All
// detections are severity-scaled heuristics over raw text, no parsing.
package realtime

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"codecoach/internal/logging"
)

// Kind identifies a realtime detection.
type Kind string

const (
	KindTypingSpeedDrop  Kind = "typing_speed_drop"
	KindTypingBurst      Kind = "typing_burst"
	KindIdlePause        Kind = "idle_pause"
	KindRapidBackspace   Kind = "rapid_backspace"
	KindFullRewrite      Kind = "full_rewrite"
	KindLengthExplosion  Kind = "length_explosion"
	KindSelfDoubtComment Kind = "self_doubt_comment"
	KindOutdatedPattern  Kind = "outdated_pattern"
	KindEarlyBruteForce  Kind = "early_brute_force"
	KindNoDataStructures Kind = "no_data_structures"
	KindAlgorithmDelay   Kind = "algorithm_delay"
	KindGlobalArrayAbuse Kind = "global_array_abuse"
)

// Detection is one observed struggle pattern.
type Detection struct {
	Kind     Kind      `json:"kind"`
	Severity float64   `json:"severity"`
	Detail   string    `json:"detail,omitempty"`
	At       time.Time `json:"at"`
}

// TypingEvent is one keystroke batch report.
type TypingEvent struct {
	At      time.Time
	Added   int
	Deleted int
}

const (
	maxTypingEvents = 100
	maxSnapshots    = 20
	typingWindow    = 60 * time.Second
	minTypingEvents = 5
)

var (
	selfDoubtCommentRe = regexp.MustCompile(`(?i)(//|#).*\b(idk|don't know|not sure|hack|temp|fix|wrong)\b`)
	largeArrayRe       = regexp.MustCompile(`\bint\s+\w+\s*\[\s*\d{5,}\s*\]`)
	globalArrayRe      = regexp.MustCompile(`(?m)^\s*(int|long|char|double)\s+\w+\s*\[`)
	forLoopRe          = regexp.MustCompile(`\bfor\s*\(`)
	dsHintRe           = regexp.MustCompile(`\b(map|set|vector|dict|unordered_map|HashMap)\b`)
	dpUsageRe          = regexp.MustCompile(`dp\[|memo\[|lru_cache`)
	wsRe               = regexp.MustCompile(`\s+`)
)

// snapshot is one captured code state.
type snapshot struct {
	at    time.Time
	lines int
	hash  string
}

// Detector watches one user's live coding. Not safe for concurrent use;
// the owning context serializes access.
type Detector struct {
	typing    []TypingEvent
	snapshots []snapshot

	baselineCPM  float64
	problemStart time.Time
	problemTags  []string

	detections []Detection

	nowFn func() time.Time
}

// NewDetector creates a detector.
func NewDetector() *Detector {
	return &Detector{nowFn: time.Now}
}

// SetClock overrides the time source, for tests.
func (d *Detector) SetClock(fn func() time.Time) { d.nowFn = fn }

// StartProblem resets per-problem state. Tags drive the tag-aware
// heuristics (dp delay, early brute force).
func (d *Detector) StartProblem(tags []string) {
	d.problemStart = d.nowFn()
	d.problemTags = tags
	d.typing = nil
	d.snapshots = nil
	d.baselineCPM = 0
}

// RecordTyping ingests a keystroke batch and runs the typing heuristics.
func (d *Detector) RecordTyping(added, deleted int) []Detection {
	now := d.nowFn()
	ev := TypingEvent{At: now, Added: added, Deleted: deleted}
	d.typing = append(d.typing, ev)
	if len(d.typing) > maxTypingEvents {
		d.typing = d.typing[len(d.typing)-maxTypingEvents:]
	}

	var out []Detection
	out = append(out, d.checkTypingSpeed(now)...)
	if det := d.checkRapidBackspace(ev); det != nil {
		out = append(out, *det)
	}
	d.keep(out)
	return out
}

// CheckIdle probes how long the user has been silent. Severity scales
// with idle time up to two minutes.
func (d *Detector) CheckIdle() *Detection {
	if len(d.typing) == 0 {
		return nil
	}
	now := d.nowFn()
	idle := now.Sub(d.typing[len(d.typing)-1].At)
	if idle < 30*time.Second {
		return nil
	}
	det := Detection{
		Kind:     KindIdlePause,
		Severity: minf(idle.Seconds()/120, 1),
		At:       now,
	}
	d.keep([]Detection{det})
	return &det
}

// RecordSnapshot ingests a full code snapshot and runs the code-shape
// heuristics.
func (d *Detector) RecordSnapshot(code string) []Detection {
	now := d.nowFn()
	snap := snapshot{
		at:    now,
		lines: strings.Count(code, "\n") + 1,
		hash:  normalizedHash(code),
	}
	d.snapshots = append(d.snapshots, snap)
	if len(d.snapshots) > maxSnapshots {
		d.snapshots = d.snapshots[len(d.snapshots)-maxSnapshots:]
	}

	var out []Detection
	if det := d.checkRewrite(now); det != nil {
		out = append(out, *det)
	}
	if det := d.checkLengthExplosion(now); det != nil {
		out = append(out, *det)
	}
	out = append(out, d.analyzeCode(code, now)...)
	d.keep(out)
	return out
}

// ActiveSignals returns the distinct detection kinds seen in the last
// two minutes.
func (d *Detector) ActiveSignals() []Kind {
	cutoff := d.nowFn().Add(-2 * time.Minute)
	seen := make(map[Kind]bool)
	var out []Kind
	for _, det := range d.detections {
		if det.At.Before(cutoff) || seen[det.Kind] {
			continue
		}
		seen[det.Kind] = true
		out = append(out, det.Kind)
	}
	return out
}

// RecentDetections returns detections within the window at or above the
// severity floor.
func (d *Detector) RecentDetections(window time.Duration, minSeverity float64) []Detection {
	cutoff := d.nowFn().Add(-window)
	var out []Detection
	for _, det := range d.detections {
		if !det.At.Before(cutoff) && det.Severity >= minSeverity {
			out = append(out, det)
		}
	}
	return out
}

func (d *Detector) checkTypingSpeed(now time.Time) []Detection {
	cpm, ok := d.currentCPM(now)
	if !ok {
		return nil
	}
	if d.baselineCPM == 0 {
		d.baselineCPM = cpm
		return nil
	}

	ratio := cpm / d.baselineCPM
	switch {
	case ratio < 0.5:
		return []Detection{{
			Kind:     KindTypingSpeedDrop,
			Severity: 1 - ratio,
			At:       now,
		}}
	case ratio > 2:
		return []Detection{{
			Kind:     KindTypingBurst,
			Severity: minf(ratio-1, 1),
			At:       now,
		}}
	}
	return nil
}

// currentCPM computes characters per minute over the trailing window.
func (d *Detector) currentCPM(now time.Time) (float64, bool) {
	cutoff := now.Add(-typingWindow)
	chars, count := 0, 0
	for _, ev := range d.typing {
		if ev.At.Before(cutoff) {
			continue
		}
		chars += ev.Added
		count++
	}
	if count < minTypingEvents {
		return 0, false
	}
	return float64(chars) / typingWindow.Minutes(), true
}

func (d *Detector) checkRapidBackspace(ev TypingEvent) *Detection {
	if ev.Deleted <= ev.Added || ev.Deleted <= 5 {
		return nil
	}
	tail := d.typing
	if len(tail) > 5 {
		tail = tail[len(tail)-5:]
	}
	deleted := 0
	for _, e := range tail {
		deleted += e.Deleted
	}
	if deleted <= 20 {
		return nil
	}
	return &Detection{
		Kind:     KindRapidBackspace,
		Severity: minf(float64(deleted)/50, 1),
		At:       ev.At,
	}
}

// checkRewrite fires when the same normalized code keeps reappearing:
// the user is deleting everything and typing it back.
func (d *Detector) checkRewrite(now time.Time) *Detection {
	if len(d.snapshots) < 3 {
		return nil
	}
	tail := d.snapshots
	if len(tail) > 5 {
		tail = tail[len(tail)-5:]
	}
	current := tail[len(tail)-1].hash
	count := 0
	for _, s := range tail {
		if s.hash == current {
			count++
		}
	}
	if count < 3 {
		return nil
	}
	return &Detection{
		Kind:     KindFullRewrite,
		Severity: minf(float64(count)/5, 1),
		At:       now,
	}
}

func (d *Detector) checkLengthExplosion(now time.Time) *Detection {
	if len(d.snapshots) < 3 {
		return nil
	}
	tail := d.snapshots[len(d.snapshots)-3:]
	growth := tail[2].lines - tail[0].lines
	elapsed := tail[2].at.Sub(tail[0].at).Minutes()
	if growth <= 20 || elapsed <= 0 {
		return nil
	}
	rate := float64(growth) / elapsed
	if rate <= 10 {
		return nil
	}
	return &Detection{
		Kind:     KindLengthExplosion,
		Severity: minf(rate/20, 1),
		Detail:   "code growing without converging",
		At:       now,
	}
}

// analyzeCode runs the anti-pattern heuristics over one snapshot.
func (d *Detector) analyzeCode(code string, now time.Time) []Detection {
	var out []Detection
	sinceStart := now.Sub(d.problemStart)
	lines := strings.Count(code, "\n") + 1

	if selfDoubtCommentRe.MatchString(code) {
		out = append(out, Detection{Kind: KindSelfDoubtComment, Severity: 0.6, At: now})
	}

	if strings.Contains(code, "scanf") || strings.Contains(code, "printf") ||
		largeArrayRe.MatchString(code) || strings.Contains(code, "#define ll") {
		out = append(out, Detection{Kind: KindOutdatedPattern, Severity: 0.7, At: now})
	}

	if sinceStart < 2*time.Minute && len(forLoopRe.FindAllString(code, -1)) >= 2 {
		out = append(out, Detection{
			Kind:     KindEarlyBruteForce,
			Severity: 0.8,
			Detail:   "nested loops before reading the problem through",
			At:       now,
		})
	}

	if lines > 15 && !dsHintRe.MatchString(code) {
		out = append(out, Detection{Kind: KindNoDataStructures, Severity: 0.6, At: now})
	}

	if hasTag(d.problemTags, "dp") && sinceStart > 5*time.Minute && !dpUsageRe.MatchString(code) {
		out = append(out, Detection{
			Kind:     KindAlgorithmDelay,
			Severity: 0.7,
			Detail:   "dp problem with no dp structure yet",
			At:       now,
		})
	}

	if len(globalArrayRe.FindAllString(code, -1)) >= 3 {
		out = append(out, Detection{Kind: KindGlobalArrayAbuse, Severity: 0.5, At: now})
	}

	return out
}

func (d *Detector) keep(dets []Detection) {
	for _, det := range dets {
		d.detections = append(d.detections, det)
		logging.RealtimeDebug("detected %s severity=%.2f", det.Kind, det.Severity)
	}
	if len(d.detections) > 200 {
		d.detections = d.detections[len(d.detections)-200:]
	}
}

func normalizedHash(code string) string {
	norm := wsRe.ReplaceAllString(strings.TrimSpace(code), " ")
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:8])
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, want) {
			return true
		}
	}
	return false
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
