package risk

import "github.com/invigil/invigil/internal/event"

// ─────────────────────────────────────────────────────────────────────────────
// Fixed policy tables
// ─────────────────────────────────────────────────────────────────────────────

// weights is the per-event penalty weight for every known kind. Kinds not
// listed here score with [defaultWeight] rather than being dropped, so new
// client-side kinds degrade gracefully instead of vanishing from reports.
var weights = map[event.Kind]float64{
	event.TabSwitch:           10,
	event.NewTabOpened:        12,
	event.TabHidden:           8,
	event.WindowBlur:          6,
	event.MouseLeftWindow:     4,
	event.CopyDetected:        8,
	event.PasteDetected:       3,
	event.SelectAllDetected:   6,
	event.DevtoolsDetected:    0,
	event.DevtoolsShortcut:    0,
	event.F12Pressed:          0,
	event.ContextMenuDetected: 2,
	event.CtrlC:               8,
	event.CtrlV:               3,
	event.CtrlA:               5,
	event.CtrlTab:             9,
	event.AltTab:              7,
	event.KeyboardShortcut:    2,
	event.InactivityDetected:  1,

	event.LookAway:        3,
	event.EyesNotOnScreen: 4,
	event.PhoneDetected:   12,
	event.MultiplePeople:  15,

	event.MultipleSpeakersDetected: 10,
	event.SuspiciousSilence:        1,
	event.PossibleSpeakerChange:    2,
	event.BackgroundNoise:          0.5,
}

const defaultWeight = 1.0

// critical kinds indicate deliberate evasion. They escalate progressively
// with repetition and drive the whole-attempt context adjustment.
var critical = map[event.Kind]bool{
	event.CopyDetected: true,
	event.TabHidden:    true,
	event.TabSwitch:    true,
	event.NewTabOpened: true,
}

// physical kinds indicate another person or device in the room.
var physical = map[event.Kind]bool{
	event.PhoneDetected:  true,
	event.MultiplePeople: true,
}

// temporalCluster kinds are the ones counted when looking for bursts of
// activity inside a single minute.
var temporalCluster = map[event.Kind]bool{
	event.CopyDetected:   true,
	event.TabHidden:      true,
	event.TabSwitch:      true,
	event.PhoneDetected:  true,
	event.MultiplePeople: true,
}

// copyFollowers are the kinds that complete a copy-then-search pattern when
// they occur shortly after a COPY_DETECTED.
var copyFollowers = map[event.Kind]bool{
	event.TabHidden:  true,
	event.TabSwitch:  true,
	event.WindowBlur: true,
}

// rapidSwitch kinds are scanned for three-in-two-minutes bursts.
var rapidSwitch = map[event.Kind]bool{
	event.TabSwitch: true,
	event.TabHidden: true,
}

// questionFactor normalizes penalties by test length: a violation during a
// two-question quiz weighs far more than the same violation across a
// hundred-question exam.
func questionFactor(totalQuestions int) float64 {
	switch {
	case totalQuestions <= 1:
		return 2.0
	case totalQuestions <= 5:
		return 1.5
	case totalQuestions <= 10:
		return 1.2
	case totalQuestions <= 20:
		return 1.0
	case totalQuestions <= 50:
		return 0.9
	default:
		return 0.8
	}
}

// severityFactor scales pattern penalties by test length.
func severityFactor(totalQuestions int) float64 {
	switch {
	case totalQuestions <= 5:
		return 2.0
	case totalQuestions <= 10:
		return 1.5
	case totalQuestions >= 50:
		return 0.7
	default:
		return 1.0
	}
}

func weightOf(k event.Kind) float64 {
	if w, ok := weights[k]; ok {
		return w
	}
	return defaultWeight
}
