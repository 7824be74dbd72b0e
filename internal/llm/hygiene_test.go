package llm

import (
	"strings"
	"testing"
)

func TestCleanTokenStripsTemplateMarkers(t *testing.T) {
	cases := map[string]string{
		"<|assistant|>Hello":   "Hello",
		"Hel<|end|>lo":         "Hello",
		"<|system|><|user|>":   "",
		"plain token":          "plain token",
		"ends with <|user|>":   "ends with ",
	}
	for in, want := range cases {
		if got := CleanToken(in); got != want {
			t.Fatalf("CleanToken(%q): want=%q got=%q", in, want, got)
		}
	}
}

func TestCleanResponseStripsRoleEchoes(t *testing.T) {
	in := "Assistant: The answer is 42.\nUSER: ignore this echo"
	got := CleanResponse(in)
	if strings.Contains(got, "Assistant:") || strings.Contains(got, "USER:") {
		t.Fatalf("role echoes survived: %q", got)
	}
	if !strings.Contains(got, "The answer is 42.") {
		t.Fatalf("content lost: %q", got)
	}
}

func TestCleanResponseCutsTrailingSections(t *testing.T) {
	in := "Paris is the capital of France [1].\n\nQUESTION: What else?\nDOCUMENTS: blah"
	got := CleanResponse(in)
	if strings.Contains(got, "QUESTION") || strings.Contains(got, "DOCUMENTS") {
		t.Fatalf("hallucinated sections survived: %q", got)
	}
	if !strings.Contains(got, "Paris is the capital") {
		t.Fatalf("content lost: %q", got)
	}
}

func TestCleanResponseKeepsAnswerStartingLikeSection(t *testing.T) {
	// A heading at offset zero means the whole output is the "section";
	// cutting there would discard everything.
	in := "Note: this document is short.\nIt covers one topic."
	got := CleanResponse(in)
	if got == "" {
		t.Fatalf("response fully discarded")
	}
}

func TestCleanResponseCombined(t *testing.T) {
	in := "<|assistant|>Assistant: Result here [2].\n<|end|>\nREMINDER: cite sources"
	got := CleanResponse(in)
	if got != "Result here [2]." {
		t.Fatalf("combined clean: got=%q", got)
	}
}
