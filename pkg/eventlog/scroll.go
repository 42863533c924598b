package eventlog

// DefaultPinThreshold is how close (in abstract scroll units) the viewer must
// be to the bottom to count as pinned.
const DefaultPinThreshold = 40.0

// ScrollState implements the auto-scroll contract: the view stays pinned to
// the bottom while the viewer's offset is within a threshold of the maximum;
// any manual scroll away unpins until the viewer returns to, or requests,
// the bottom. The presentation layer feeds offsets in; this type only tracks
// the pin decision.
type ScrollState struct {
	threshold float64
	pinned    bool
}

// NewScrollState starts pinned, with the given threshold. A non-positive
// threshold falls back to DefaultPinThreshold.
func NewScrollState(threshold float64) *ScrollState {
	if threshold <= 0 {
		threshold = DefaultPinThreshold
	}
	return &ScrollState{threshold: threshold, pinned: true}
}

// Observe records the viewer's current offset against the maximum offset and
// updates the pin state. Call on every scroll event.
func (s *ScrollState) Observe(offset, max float64) {
	s.pinned = max-offset <= s.threshold
}

// Pinned reports whether new entries should auto-scroll the view.
func (s *ScrollState) Pinned() bool {
	return s.pinned
}

// ScrollToBottom re-pins after an explicit "jump to bottom" request.
func (s *ScrollState) ScrollToBottom() {
	s.pinned = true
}
