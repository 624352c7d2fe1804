// Package risk turns a merged proctoring-event timeline into a bounded,
// explainable risk score.
//
// The engine is pure: policy tables are compile-time constants and the same
// event list plus [Context] always yields an identical [Breakdown], down to
// the marshalled bytes. Scoring combines four components:
//
//  1. Base — per-kind weights scaled by frequency progression and by how
//     many violations occurred relative to the number of questions.
//  2. Pattern — copy-then-search sequences and rapid tab-switching bursts.
//  3. Temporal — clusters of high-risk events inside a single minute.
//  4. Context — a whole-attempt adjustment for critical-violation density,
//     scaled by test duration.
//
// The sum is capped at 100 and bucketed into LOW / MEDIUM / HIGH / CRITICAL.
package risk

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/invigil/invigil/internal/event"
)

// Context carries the attempt-level inputs the scorer normalizes against.
type Context struct {
	// TotalQuestions is the owning test's question count, at least 1.
	TotalQuestions int

	// DurationMinutes is the attempt duration, clamped to at least 1.
	DurationMinutes float64
}

// Score evaluates the merged event list against the fixed policy tables and
// returns the full breakdown. An empty list scores 0 with category LOW.
func Score(events []event.Event, tc Context) Breakdown {
	questions := tc.TotalQuestions
	if questions < 1 {
		questions = 1
	}

	sorted := make([]event.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	base := baseScore(events, questions)
	pattern, patterns := patternScore(sorted, questions)
	temporal := temporalScore(events)
	adjustment := contextAdjustment(events, questions, tc.DurationMinutes)

	total := base + pattern + temporal + adjustment
	if total > 100 {
		total = 100
	}
	total = round2(total)

	highRisk := map[string]int{}
	var highCount int
	for _, ev := range events {
		if critical[ev.Kind] || physical[ev.Kind] {
			highRisk[string(ev.Kind)]++
			highCount++
		}
	}

	return Breakdown{
		TotalScore:        total,
		BaseScore:         round2(base),
		PatternScore:      round2(pattern),
		TemporalScore:     round2(temporal),
		ContextAdjustment: round2(adjustment),
		RiskCategory:      categoryFor(total),
		ViolationDetails: ViolationDetails{
			HighRiskViolations: highRisk,
			PatternViolations:  patterns,
			TotalViolations:    len(events),
		},
		QuestionContext: QuestionContext{
			TotalQuestions:        tc.TotalQuestions,
			ViolationsPerQuestion: round2(float64(len(events)) / float64(questions)),
			HighRiskPerQuestion:   round2(float64(highCount) / float64(questions)),
		},
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Base score
// ─────────────────────────────────────────────────────────────────────────────

// baseScore sums the weighted penalty of every kind present. Kinds are
// visited in sorted order so float accumulation is reproducible.
func baseScore(events []event.Event, questions int) float64 {
	byKind := map[event.Kind][]event.Event{}
	for _, ev := range events {
		byKind[ev.Kind] = append(byKind[ev.Kind], ev)
	}
	kinds := make([]string, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)

	qf := questionFactor(questions)

	var base float64
	for _, ks := range kinds {
		k := event.Kind(ks)
		w := weightOf(k)
		if w == 0 {
			continue
		}
		evs := byKind[k]
		n := len(evs)
		rate := float64(n) / float64(questions)

		score := w * frequencyMultiplier(k, n) * questionMultiplier(k, n, rate, questions) * qf
		score *= contextualMultiplier(k, evs)
		base += score
	}
	return base
}

// questionMultiplier scales a kind's penalty by its violation rate per
// question. Critical kinds use stepped thresholds with floors for short
// tests; physical presence scales linearly but twice as steep as the rest.
func questionMultiplier(k event.Kind, n int, rate float64, questions int) float64 {
	switch {
	case critical[k]:
		m := 1.0
		switch {
		case rate >= 0.50:
			m = 3.0
		case rate >= 0.30:
			m = 2.5
		case rate >= 0.10:
			m = 2.0
		case rate >= 0.05:
			m = 1.5
		}
		if questions <= 5 && n >= 1 && m < 2.0 {
			m = 2.0
		}
		if questions <= 10 && n >= 2 && m < 1.8 {
			m = 1.8
		}
		return m
	case physical[k]:
		return 1 + 2*rate
	default:
		return 1 + rate
	}
}

// frequencyMultiplier escalates with repetition. Critical kinds grow
// without bound (0.8 per repeat, 1.2 beyond the third); physical and other
// kinds saturate at 4.0 and 2.5 respectively.
func frequencyMultiplier(k event.Kind, n int) float64 {
	nf := float64(n)
	switch {
	case critical[k]:
		switch {
		case n <= 1:
			return 1.0
		case n <= 3:
			return 1 + 0.8*(nf-1)
		default:
			return 1 + 2*0.8 + 1.2*(nf-3)
		}
	case physical[k]:
		return math.Min(1.5*nf, 4.0)
	default:
		return math.Min(1+0.4*(nf-1), 2.5)
	}
}

// contextualMultiplier inspects the events themselves: a copy of a whole
// paragraph, a minute spent hidden, or a head turned fully away all make the
// same kind worth more.
func contextualMultiplier(k event.Kind, evs []event.Event) float64 {
	m := 1.0
	switch k {
	case event.CopyDetected:
		for _, ev := range evs {
			if n, ok := extraNumber(ev.Extra, "text_length"); ok {
				switch {
				case n > 100:
					m *= 1.5
				case n > 50:
					m *= 1.2
				}
			}
		}
	case event.TabHidden:
		var total float64
		for _, ev := range evs {
			if d, ok := extraNumber(ev.Extra, "duration_seconds"); ok {
				total += d
			}
		}
		switch {
		case total > 60:
			m *= 2.0
		case total > 30:
			m *= 1.5
		}
	case event.LookAway:
		for _, ev := range evs {
			if yaw, ok := extraNumber(ev.Extra, "yaw"); ok {
				switch {
				case math.Abs(yaw) > 70:
					m *= 1.8
				case math.Abs(yaw) > 45:
					m *= 1.3
				}
			}
		}
	case event.InactivityDetected:
		for _, ev := range evs {
			if s, ok := extraNumber(ev.Extra, "inactiveSeconds"); ok {
				switch {
				case s > 600:
					m *= 3.0
				case s > 300:
					m *= 2.0
				}
			}
		}
	}
	return m
}

// ─────────────────────────────────────────────────────────────────────────────
// Pattern, temporal and context components
// ─────────────────────────────────────────────────────────────────────────────

// patternScore scans the time-sorted list for behavioural sequences. A copy
// followed within 30 s (and at most 9 events) by a tab switch, tab hide or
// window blur counts as one copy-then-search pattern; three switch events
// inside a two-minute window count as one rapid-switching burst.
func patternScore(sorted []event.Event, questions int) (float64, []string) {
	patterns := []string{}
	sev := severityFactor(questions)
	var score float64

	var found int
	for i, ev := range sorted {
		if ev.Kind != event.CopyDetected {
			continue
		}
		for j := i + 1; j < len(sorted) && j <= i+9; j++ {
			if sorted[j].Timestamp-ev.Timestamp > 30 {
				break
			}
			if copyFollowers[sorted[j].Kind] {
				found++
				break
			}
		}
	}
	if found > 0 {
		r := float64(found) / float64(questions)
		var per float64
		switch {
		case r >= 0.5:
			per = 25
		case r >= 0.2:
			per = 20
		case r >= 0.1:
			per = 15
		default:
			per = 10
		}
		score += float64(found) * per * sev
		patterns = append(patterns, fmt.Sprintf("copy_then_search x%d", found))
	}

	var switches []event.Event
	for _, ev := range sorted {
		if rapidSwitch[ev.Kind] {
			switches = append(switches, ev)
		}
	}
	if len(switches) >= 3 {
		var burst bool
		for i := 0; i+2 < len(switches); i++ {
			if switches[i+2].Timestamp-switches[i].Timestamp <= 120 {
				burst = true
				break
			}
		}
		if burst {
			rate := float64(len(switches)) / float64(questions)
			var pts float64
			switch {
			case rate >= 0.3:
				pts = 30
			case rate >= 0.1:
				pts = 20
			default:
				pts = 15
			}
			score += pts * sev
			patterns = append(patterns, "rapid_tab_switching")
		}
	}

	return score, patterns
}

// temporalScore buckets events into fixed one-minute windows and penalizes
// any window holding three or more high-risk events.
func temporalScore(events []event.Event) float64 {
	counts := map[int]int{}
	for _, ev := range events {
		if !temporalCluster[ev.Kind] {
			continue
		}
		counts[int(math.Floor(ev.Timestamp/60))]++
	}
	windows := make([]int, 0, len(counts))
	for w := range counts {
		windows = append(windows, w)
	}
	sort.Ints(windows)

	var score float64
	for _, w := range windows {
		if counts[w] >= 3 {
			score += float64(counts[w]) * 8
		}
	}
	return score
}

// contextAdjustment looks at the attempt as a whole: how many critical
// violations happened relative to the number of questions, in absolute
// terms, and whether the test was short enough that even a couple of them
// is damning. Short attempts are scaled up, marathon attempts down.
func contextAdjustment(events []event.Event, questions int, durationMinutes float64) float64 {
	var h int
	for _, ev := range events {
		if critical[ev.Kind] {
			h++
		}
	}

	density := float64(h) / float64(questions)
	var adj float64
	switch {
	case density >= 1:
		adj += 40
	case density >= 0.5:
		adj += 25
	case density >= 0.3:
		adj += 15
	case density >= 0.1:
		adj += 5
	}
	switch {
	case h > 20:
		adj += 15
	case h > 10:
		adj += 8
	}
	if questions <= 5 && h >= 2 {
		adj += 20
	} else if questions <= 10 && h >= 5 {
		adj += 15
	}

	mult := 1.0
	switch {
	case durationMinutes < 30:
		mult = 1.3
	case durationMinutes > 120:
		mult = 0.9
	}
	return adj * mult
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

// extraNumber reads a numeric attribute regardless of whether the event came
// from an in-process detector (int, float64) or a JSON payload (float64,
// json.Number).
func extraNumber(extra map[string]any, key string) (float64, bool) {
	v, ok := extra[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
