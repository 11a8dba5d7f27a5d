package scroll

import (
	"fmt"
	"math"
	"testing"
)

// uniformList builds n elements of the given height stacked from offset.
func uniformList(n int, height, offset float64, idOffset int) []Element {
	out := make([]Element, n)
	for i := range out {
		out[i] = Element{
			ID:     fmt.Sprintf("m%d", i+idOffset),
			Top:    offset + float64(i)*height,
			Height: height,
		}
	}
	return out
}

func TestSelectAnchor_PrefersMiddleThird(t *testing.T) {
	// Viewport 300 tall at offset 0; elements 50 tall. The middle third is
	// [100, 200), so the first element whose top lands there is m2 (top 100).
	els := uniformList(10, 50, 0, 0)
	m := Metrics{ScrollTop: 0, ScrollHeight: 500, ClientHeight: 300}

	anchor, ok := SelectAnchor(els, m)
	if !ok {
		t.Fatal("expected an anchor")
	}
	if anchor.MessageID != "m2" {
		t.Errorf("expected m2 in the middle third, got %q", anchor.MessageID)
	}
	if anchor.OffsetFromTop != 100 {
		t.Errorf("expected offset 100, got %v", anchor.OffsetFromTop)
	}
}

func TestSelectAnchor_FallsBackToPartiallyVisible(t *testing.T) {
	// One tall element spans the whole viewport: its top is above the middle
	// third, so only the fallback can pick it.
	els := []Element{{ID: "m0", Top: 0, Height: 1000}}
	m := Metrics{ScrollTop: 200, ScrollHeight: 1000, ClientHeight: 300}

	anchor, ok := SelectAnchor(els, m)
	if !ok {
		t.Fatal("expected fallback anchor")
	}
	if anchor.MessageID != "m0" {
		t.Errorf("expected m0, got %q", anchor.MessageID)
	}
}

func TestSelectAnchor_NothingVisible(t *testing.T) {
	els := []Element{{ID: "m0", Top: 1000, Height: 50}}
	m := Metrics{ScrollTop: 0, ScrollHeight: 2000, ClientHeight: 300}

	if _, ok := SelectAnchor(els, m); ok {
		t.Fatal("expected no anchor when nothing is visible")
	}
}

func TestRestore_AnchorGone(t *testing.T) {
	anchor := Anchor{MessageID: "gone", OffsetFromTop: 40}
	if _, ok := Restore(anchor, uniformList(3, 50, 0, 0)); ok {
		t.Fatal("expected restore to fail for a missing anchor element")
	}
}

func TestRestore_ClampsToZero(t *testing.T) {
	anchor := Anchor{MessageID: "m0", OffsetFromTop: 80}
	after := []Element{{ID: "m0", Top: 10, Height: 50}}

	top, ok := Restore(anchor, after)
	if !ok {
		t.Fatal("expected restore to succeed")
	}
	if top != 0 {
		t.Errorf("expected clamp to 0, got %v", top)
	}
}

func TestPreservePosition_PrependDoesNotMoveContent(t *testing.T) {
	// User is scrolled to offset 150 in a 500-tall list; a history page of 10
	// elements (500 units) is prepended above.
	before := Metrics{ScrollTop: 150, ScrollHeight: 500, ClientHeight: 300}
	elementsBefore := uniformList(10, 50, 0, 10)
	elementsAfter := append(uniformList(10, 50, 0, 0), uniformList(10, 50, 500, 10)...)

	top, ok := PreservePosition(before, elementsBefore, elementsAfter)
	if !ok {
		t.Fatal("expected position to be preserved")
	}
	if top != 650 {
		t.Errorf("expected new offset 650, got %v", top)
	}

	// The invariant itself: the anchor sits at the same visual offset.
	anchor, _ := SelectAnchor(elementsBefore, before)
	if Moved(anchor, elementsAfter, top) {
		t.Error("anchor moved visibly after prepend")
	}
}

func TestMoved_WithinEpsilon(t *testing.T) {
	anchor := Anchor{MessageID: "m0", OffsetFromTop: 100}
	after := []Element{{ID: "m0", Top: 500, Height: 50}}

	if Moved(anchor, after, 400+Epsilon/2) {
		t.Error("sub-epsilon drift should not count as moved")
	}
	if !Moved(anchor, after, 400+2*Epsilon) {
		t.Error("drift beyond epsilon should count as moved")
	}
	if !Moved(anchor, nil, 400) {
		t.Error("missing anchor element should count as moved")
	}
}

func TestNearTop(t *testing.T) {
	if !NearTop(Metrics{ScrollTop: DefaultTopThreshold}, DefaultTopThreshold) {
		t.Error("offset at the threshold should be near top")
	}
	if NearTop(Metrics{ScrollTop: DefaultTopThreshold + 1}, DefaultTopThreshold) {
		t.Error("offset past the threshold should not be near top")
	}
}

func TestNearBottom(t *testing.T) {
	m := Metrics{ScrollTop: 600, ScrollHeight: 1000, ClientHeight: 300}
	if !NearBottom(m, 100) {
		t.Error("100 units from the bottom should be near bottom at threshold 100")
	}
	m.ScrollTop = 500
	if NearBottom(m, 100) {
		t.Error("200 units from the bottom should not be near bottom at threshold 100")
	}
}

func TestShouldStickToBottom(t *testing.T) {
	pinned := Metrics{ScrollTop: 700, ScrollHeight: 1000, ClientHeight: 300}
	if !ShouldStickToBottom(pinned) {
		t.Error("a pinned viewport should stick to bottom on append")
	}

	reading := Metrics{ScrollTop: 100, ScrollHeight: 1000, ClientHeight: 300}
	if ShouldStickToBottom(reading) {
		t.Error("a viewport scrolled into history must not stick")
	}
}

func TestBottomScrollTop(t *testing.T) {
	if got := BottomScrollTop(Metrics{ScrollHeight: 1000, ClientHeight: 300}); got != 700 {
		t.Errorf("expected 700, got %v", got)
	}
	// Content shorter than the viewport pins to zero.
	if got := BottomScrollTop(Metrics{ScrollHeight: 100, ClientHeight: 300}); got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
}

func TestPreservePosition_LineUnits(t *testing.T) {
	// The math is unit-agnostic: the same flow in terminal line units.
	before := Metrics{ScrollTop: 4, ScrollHeight: 30, ClientHeight: 12}
	elementsBefore := uniformList(10, 3, 0, 10)
	elementsAfter := append(uniformList(5, 3, 0, 0), uniformList(10, 3, 15, 10)...)

	top, ok := PreservePosition(before, elementsBefore, elementsAfter)
	if !ok {
		t.Fatal("expected position to be preserved")
	}
	anchor, _ := SelectAnchor(elementsBefore, before)
	relocated, _ := Restore(anchor, elementsAfter)
	if math.Abs(top-relocated) > Epsilon {
		t.Errorf("PreservePosition and Restore disagree: %v vs %v", top, relocated)
	}
}
