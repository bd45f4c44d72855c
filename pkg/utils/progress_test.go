package utils

import (
	"testing"
)

func TestProgressQuietDisablesBars(t *testing.T) {
	pg := NewProgress(true)
	bar := pg.AddCountBar("replay", 10)
	// a disabled bar is a safe no-op; these must not panic.
	bar.Increment()
	bar.SetTotal(20, true)
	pg.Wait()
}

func TestProgressQuietBarHasNilBackingBar(t *testing.T) {
	pg := NewProgress(true)
	bar := pg.AddCountBar("replay", 10)
	if bar.bar != nil {
		t.Fatalf("expected no-op bar when progress is disabled")
	}
}
