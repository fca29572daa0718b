// Package answer extracts the final answer from raw model output.
package answer

import "strings"

// Marker is the cue that ends every prompt; the model's answer follows it.
const Marker = "Answer:"

// Extract returns the text after the last Marker, trimmed. Models sometimes echo
// the prompt or repeat the marker in their own reasoning, so only the last
// occurrence counts. Without a marker the whole trimmed output is the answer.
func Extract(raw string) string {
	idx := strings.LastIndex(raw, Marker)
	if idx < 0 {
		return strings.TrimSpace(raw)
	}
	return strings.TrimSpace(raw[idx+len(Marker):])
}
