package media

import (
	"strings"
	"sync"
)

// lineTail is an io.Writer that retains the last N non-empty lines written
// to it. It backs the stderr capture of ffmpeg invocations: enough context
// to diagnose a failure without buffering a long transcode log.
type lineTail struct {
	mu    sync.Mutex
	lines []string
	head  int
	full  bool
	rest  string // partial line carried over between writes
}

func newLineTail(capacity int) *lineTail {
	if capacity < 1 {
		capacity = 1
	}
	return &lineTail{lines: make([]string, capacity)}
}

// Write splits p into lines and records them. Partial trailing lines are
// held back until completed by a later write. Always reports full success.
func (t *lineTail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.rest + string(p)
	for {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			break
		}
		t.push(strings.TrimRight(s[:i], "\r"))
		s = s[i+1:]
	}
	t.rest = s
	return len(p), nil
}

func (t *lineTail) push(line string) {
	if line == "" {
		return
	}
	t.lines[t.head] = line
	t.head = (t.head + 1) % len(t.lines)
	if t.head == 0 {
		t.full = true
	}
}

// Lines returns the retained lines in write order, including any pending
// partial line.
func (t *lineTail) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []string
	if t.full {
		out = append(out, t.lines[t.head:]...)
		out = append(out, t.lines[:t.head]...)
	} else {
		out = append(out, t.lines[:t.head]...)
	}
	if t.rest != "" {
		out = append(out, t.rest)
	}
	return out
}

// Joined returns the retained lines joined with "; ", for embedding in a
// single error string.
func (t *lineTail) Joined() string {
	return strings.Join(t.Lines(), "; ")
}
