package audit

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestPreview_ShortValueUnchanged(t *testing.T) {
	if got := Preview("rm -rf ./build", TargetPreviewLength); got != "rm -rf ./build" {
		t.Errorf("expected value unchanged, got %q", got)
	}
	if got := Preview("", TargetPreviewLength); got != "" {
		t.Errorf("expected empty value unchanged, got %q", got)
	}
}

func TestPreview_TruncatesWithoutSplittingRunes(t *testing.T) {
	long := strings.Repeat("é", TargetPreviewLength+100)
	got := Preview(long, TargetPreviewLength)

	if n := utf8.RuneCountInString(got); n != TargetPreviewLength {
		t.Errorf("expected %d runes, got %d", TargetPreviewLength, n)
	}
	if !utf8.ValidString(got) {
		t.Error("expected valid UTF-8 after truncation")
	}
}
