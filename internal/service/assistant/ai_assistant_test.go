package assistant

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestClampTitleCutsOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("ü", 120)
	got := clampTitle(long)
	if !utf8.ValidString(got) {
		t.Fatalf("clamped title split a rune: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != maxTitleRunes {
		t.Fatalf("want %d runes, got %d", maxTitleRunes, n)
	}

	short := "Roadshow planning"
	if clampTitle(short) != short {
		t.Fatalf("short title must pass through unchanged")
	}
}
