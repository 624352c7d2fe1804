// Package event defines the shared vocabulary between the detectors and
// the risk engine: typed, timestamped observations of suspicious activity
// during a recorded exam attempt.
//
// Detectors produce events, the risk engine consumes them, and the store
// persists them one row per event. Events are immutable once emitted.
package event

// Kind identifies what was observed. The set below is closed for events
// this worker produces, but browser-side kinds (and future unknown kinds)
// flow through scoring unchanged rather than being dropped.
type Kind string

// Browser and behaviour kinds. These are enqueued by the web client and
// scored here; the worker never emits them itself.
const (
	TabHidden           Kind = "TAB_HIDDEN"
	TabSwitch           Kind = "TAB_SWITCH"
	NewTabOpened        Kind = "NEW_TAB_OPENED"
	WindowBlur          Kind = "WINDOW_BLUR"
	MouseLeftWindow     Kind = "MOUSE_LEFT_WINDOW"
	CopyDetected        Kind = "COPY_DETECTED"
	PasteDetected       Kind = "PASTE_DETECTED"
	SelectAllDetected   Kind = "SELECT_ALL_DETECTED"
	CtrlC               Kind = "CTRL_C"
	CtrlV               Kind = "CTRL_V"
	CtrlA               Kind = "CTRL_A"
	CtrlTab             Kind = "CTRL_TAB"
	AltTab              Kind = "ALT_TAB"
	KeyboardShortcut    Kind = "KEYBOARD_SHORTCUT"
	ContextMenuDetected Kind = "CONTEXT_MENU_DETECTED"
	DevtoolsDetected    Kind = "DEVTOOLS_DETECTED"
	DevtoolsShortcut    Kind = "DEVTOOLS_SHORTCUT"
	F12Pressed          Kind = "F12_PRESSED"
	InactivityDetected  Kind = "INACTIVITY_DETECTED"
)

// Video detector kinds.
const (
	LookAway        Kind = "LOOK_AWAY"
	PhoneDetected   Kind = "PHONE_DETECTED"
	MultiplePeople  Kind = "MULTIPLE_PEOPLE"
	EyesNotOnScreen Kind = "EYES_NOT_ON_SCREEN"
)

// Audio detector kinds.
const (
	SuspiciousSilence        Kind = "SUSPICIOUS_SILENCE"
	PossibleSpeakerChange    Kind = "POSSIBLE_SPEAKER_CHANGE"
	MultipleSpeakersDetected Kind = "MULTIPLE_SPEAKERS_DETECTED"
	BackgroundNoise          Kind = "BACKGROUND_NOISE"
)

// Event is a single observation.
type Event struct {
	// Kind classifies the observation.
	Kind Kind

	// Timestamp is seconds from recording start. Non-negative. Within one
	// detector timestamps are non-decreasing; after merging streams the
	// ordering is only restored by the risk engine's sort.
	Timestamp float64

	// Extra carries kind-specific attributes (angles, confidences,
	// durations). Persisted as JSON alongside the event.
	Extra map[string]any
}

// Merge concatenates detector streams in the order given. It does not
// sort; consumers that need global time order sort themselves.
func Merge(streams ...[]Event) []Event {
	var n int
	for _, s := range streams {
		n += len(s)
	}
	if n == 0 {
		return nil
	}
	merged := make([]Event, 0, n)
	for _, s := range streams {
		merged = append(merged, s...)
	}
	return merged
}
