package session

// RecallRing is the per-conversation history of sent message texts, walked
// with up/down while composing. Whatever was being typed when recall starts
// is kept and restored when walking past the newest entry.
type RecallRing struct {
	lines   []string
	max     int
	pos     int // len(lines) means "composing fresh input"
	pending string
}

func NewRecallRing(max int) *RecallRing {
	if max < 1 {
		max = 10
	}
	return &RecallRing{max: max}
}

// Push records a sent text and resets the recall cursor.
func (r *RecallRing) Push(text string) {
	if text == "" {
		return
	}
	r.lines = append(r.lines, text)
	if len(r.lines) > r.max {
		r.lines = r.lines[1:]
	}
	r.pos = len(r.lines)
	r.pending = ""
}

// Up steps one entry back in the sent history. current is the input-box
// content, preserved on the first step so Down can restore it.
func (r *RecallRing) Up(current string) (string, bool) {
	if r.pos == 0 {
		return "", false
	}
	if r.pos == len(r.lines) {
		r.pending = current
	}
	r.pos--
	return r.lines[r.pos], true
}

// Down steps forward again, ending at the preserved in-progress text.
func (r *RecallRing) Down() (string, bool) {
	if r.pos >= len(r.lines) {
		return "", false
	}
	r.pos++
	if r.pos == len(r.lines) {
		return r.pending, true
	}
	return r.lines[r.pos], true
}

// Len returns the number of remembered lines.
func (r *RecallRing) Len() int { return len(r.lines) }
