package llm

import (
	"regexp"
	"strings"
)

// Local models occasionally leak their chat template or hallucinate a
// continuation of the prompt structure. Both must be stripped before a
// token reaches the client or the database.

var templateMarkers = []string{
	"<|system|>", "<|user|>", "<|assistant|>", "<|end|>",
}

var roleEchoRe = regexp.MustCompile(`(?im)^\s*(user|assistant|system)\s*:\s*`)

var trailingSectionRe = regexp.MustCompile(`(?m)^(QUESTION|REMINDER|DOCUMENTS|PREVIOUS CHAT|Q|A|Question|Answer|Note|Important|Please note)\s*:`)

// CleanToken strips chat template markers from a streamed token.
// Line-level cleanup needs surrounding context and happens in
// CleanResponse.
func CleanToken(token string) string {
	for _, marker := range templateMarkers {
		token = strings.ReplaceAll(token, marker, "")
	}
	return token
}

// CleanResponse sanitizes the accumulated model output: template
// markers, echoed role labels at line starts, and any trailing
// hallucinated prompt section.
func CleanResponse(text string) string {
	for _, marker := range templateMarkers {
		text = strings.ReplaceAll(text, marker, "")
	}

	text = roleEchoRe.ReplaceAllString(text, "")

	// Cut at the first prompt-section heading that appears after real
	// content; a heading at offset zero would leave nothing to keep.
	if loc := trailingSectionRe.FindStringIndex(text); loc != nil && loc[0] > 0 {
		text = text[:loc[0]]
	}

	return strings.TrimSpace(text)
}
