// Package textutil contains small text helpers shared by the workflow nodes.
package textutil

import "fmt"

// TruncateOutput bounds text to maxChars while keeping both ends. Text at or
// under the limit is returned unchanged. Longer text is split into a head of
// floor(maxChars*splitRatio) characters and a tail of the remainder, joined
// by a marker that records the original length.
func TruncateOutput(text string, maxChars int, splitRatio float64) string {
	if text == "" || len(text) <= maxChars {
		return text
	}

	marker := fmt.Sprintf("\n[--- OUTPUT TRUNCATED | middle omitted | original length=%d chars ---]\n", len(text))

	headSize := int(float64(maxChars) * splitRatio)
	tailSize := maxChars - headSize

	head := text[:headSize]
	tail := ""
	if tailSize > 0 {
		tail = text[len(text)-tailSize:]
	}

	return head + marker + tail
}
