package textutil

import (
	"fmt"
	"strings"
	"testing"
)

func TestTruncateOutputIdentity(t *testing.T) {
	cases := []string{"", "short", strings.Repeat("x", 1000)}
	for _, text := range cases {
		if got := TruncateOutput(text, 1000, 0.6); got != text {
			t.Errorf("text of length %d should be unchanged", len(text))
		}
	}
}

func TestTruncateOutputLength(t *testing.T) {
	text := strings.Repeat("a", 500) + strings.Repeat("b", 9500)
	maxChars := 1000

	got := TruncateOutput(text, maxChars, 0.6)

	marker := fmt.Sprintf("\n[--- OUTPUT TRUNCATED | middle omitted | original length=%d chars ---]\n", len(text))
	if !strings.Contains(got, marker) {
		t.Fatalf("marker missing from truncated output")
	}
	if want := maxChars + len(marker); len(got) != want {
		t.Errorf("truncated length = %d, want %d", len(got), want)
	}
}

func TestTruncateOutputSplit(t *testing.T) {
	text := strings.Repeat("h", 600) + strings.Repeat("m", 8800) + strings.Repeat("t", 600)

	got := TruncateOutput(text, 1000, 0.6)

	if !strings.HasPrefix(got, strings.Repeat("h", 600)) {
		t.Error("head should be the first 600 characters")
	}
	if !strings.HasSuffix(got, strings.Repeat("t", 400)) {
		t.Error("tail should be the last 400 characters")
	}
}

func TestTruncateOutputFullHeadRatio(t *testing.T) {
	// A ratio that rounds the tail to zero must not slice out of range.
	text := strings.Repeat("x", 50)
	got := TruncateOutput(text, 10, 0.99)
	if !strings.HasPrefix(got, strings.Repeat("x", 9)) {
		t.Errorf("unexpected head: %q", got)
	}
}
