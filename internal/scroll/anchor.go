// Package scroll implements anchor-based scroll position preservation for a
// message list that grows at both ends. It is a pure algorithm over element
// geometry and viewport metrics: callers isolate their DOM or terminal
// reads/writes at the call site, so the engine needs no UI to run.
//
// Units are deliberately abstract. A browser caller passes pixels, a
// terminal caller passes line counts; the math is identical.
package scroll

import "math"

// Default thresholds. Callers with unusual geometry can pass their own to
// the threshold helpers.
const (
	// DefaultTopThreshold is how close to the top the viewport must be to
	// signal that the next older history page should be requested.
	DefaultTopThreshold = 24

	// DefaultBottomThreshold is how close to the bottom the viewport must
	// be for a newly appended message to auto-stick to the bottom.
	DefaultBottomThreshold = 100

	// Epsilon is the tolerance within which a restored anchor offset is
	// considered unmoved.
	Epsilon = 1
)

// Metrics is a snapshot of the scroll viewport: the scroll offset, the full
// content height, and the visible height.
type Metrics struct {
	ScrollTop    float64
	ScrollHeight float64
	ClientHeight float64
}

// Element is the rendered geometry of one message: its ID, its top edge
// relative to the start of the content, and its height.
type Element struct {
	ID     string
	Top    float64
	Height float64
}

// Anchor is a transient per-render snapshot of the element chosen as the
// fixed visual reference point during a single prepend operation.
type Anchor struct {
	MessageID     string
	OffsetFromTop float64
	Height        float64
}

// SelectAnchor picks the element the user is most plausibly reading: the
// first element whose top edge falls within the middle third of the
// viewport, or failing that the first element that is at least partially
// visible. Returns false when nothing is visible at all.
func SelectAnchor(elements []Element, m Metrics) (Anchor, bool) {
	top := m.ScrollTop
	bottom := m.ScrollTop + m.ClientHeight
	midStart := top + m.ClientHeight/3
	midEnd := top + 2*m.ClientHeight/3

	for _, el := range elements {
		if el.Top >= midStart && el.Top < midEnd {
			return capture(el, m), true
		}
	}

	for _, el := range elements {
		if el.Top+el.Height > top && el.Top < bottom {
			return capture(el, m), true
		}
	}

	return Anchor{}, false
}

// capture records the anchor's distance from the viewport top before the
// list mutates.
func capture(el Element, m Metrics) Anchor {
	return Anchor{
		MessageID:     el.ID,
		OffsetFromTop: el.Top - m.ScrollTop,
		Height:        el.Height,
	}
}

// Restore computes the scroll offset that puts the anchor back at its
// captured distance from the viewport top after the list has mutated.
// Returns false when the anchor element no longer exists, in which case the
// caller should leave the scroll position alone.
func Restore(anchor Anchor, after []Element) (float64, bool) {
	for _, el := range after {
		if el.ID == anchor.MessageID {
			top := el.Top - anchor.OffsetFromTop
			if top < 0 {
				top = 0
			}
			return top, true
		}
	}
	return 0, false
}

// PreservePosition is the full prepend flow: capture an anchor from the
// pre-mutation geometry, then compute the post-mutation scroll offset that
// keeps it visually fixed. Returns false when no anchor could be selected
// or relocated.
func PreservePosition(before Metrics, elementsBefore, elementsAfter []Element) (float64, bool) {
	anchor, ok := SelectAnchor(elementsBefore, before)
	if !ok {
		return 0, false
	}
	return Restore(anchor, elementsAfter)
}

// Moved reports whether a restored offset differs from the captured one by
// more than Epsilon. Useful for asserting the core invariant: prepending
// older history must never visibly move content the user is reading.
func Moved(anchor Anchor, after []Element, scrollTop float64) bool {
	for _, el := range after {
		if el.ID == anchor.MessageID {
			return math.Abs((el.Top-scrollTop)-anchor.OffsetFromTop) > Epsilon
		}
	}
	return true
}

// NearTop reports whether the viewport is within threshold of the top. This
// is the signal for the caller to request the next older history page; the
// engine itself never fetches.
func NearTop(m Metrics, threshold float64) bool {
	return m.ScrollTop <= threshold
}

// NearBottom reports whether the viewport is within threshold of the
// bottom.
func NearBottom(m Metrics, threshold float64) bool {
	return m.ScrollHeight-(m.ScrollTop+m.ClientHeight) <= threshold
}

// ShouldStickToBottom decides, from the metrics captured before an append,
// whether the view should auto-scroll to the new bottom afterwards. Readers
// scrolled up into history are left untouched.
func ShouldStickToBottom(before Metrics) bool {
	return NearBottom(before, DefaultBottomThreshold)
}

// BottomScrollTop returns the offset that pins the viewport to the bottom
// of the given content.
func BottomScrollTop(m Metrics) float64 {
	top := m.ScrollHeight - m.ClientHeight
	if top < 0 {
		return 0
	}
	return top
}
