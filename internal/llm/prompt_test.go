package llm

import (
	"strings"
	"testing"
)

func TestFormatContextNumbersDocs(t *testing.T) {
	docs := []ContextDoc{
		{Source: "a.txt", Content: "alpha"},
		{Source: "b.txt", Content: "beta"},
	}
	got := FormatContext(docs)
	if !strings.Contains(got, "[1] Source: a.txt") || !strings.Contains(got, "[2] Source: b.txt") {
		t.Fatalf("numbering missing: %q", got)
	}
}

func TestFormatContextEmpty(t *testing.T) {
	if got := FormatContext(nil); !strings.Contains(got, "No document context") {
		t.Fatalf("empty context placeholder missing: %q", got)
	}
}

func TestFormatHistoryWindowsLastTen(t *testing.T) {
	var history []Message
	for i := 0; i < 14; i++ {
		history = append(history, Message{Role: "user", Content: strings.Repeat("x", i+1)})
	}
	got := FormatHistory(history)
	if strings.Count(got, "\n") != 9 {
		t.Fatalf("expected 10 lines, got %d", strings.Count(got, "\n")+1)
	}
}

func TestExtractSourcesDedupes(t *testing.T) {
	docs := []ContextDoc{
		{Source: "a.txt", Content: "1"},
		{Source: "b.txt", Content: "2"},
		{Source: "a.txt", Content: "3"},
	}
	got := ExtractSources(docs)
	if len(got) != 2 || got[0] != "a.txt" || got[1] != "b.txt" {
		t.Fatalf("sources: got=%v", got)
	}
}

func TestExtractSourceChunksTruncatesAt800(t *testing.T) {
	docs := []ContextDoc{{Source: "big.txt", Content: strings.Repeat("y", 2000)}}
	chunks := ExtractSourceChunks(docs)
	if len(chunks) != 1 {
		t.Fatalf("chunks: want=1 got=%d", len(chunks))
	}
	if len(chunks[0].Chunk) != 800 {
		t.Fatalf("chunk length: want=800 got=%d", len(chunks[0].Chunk))
	}
	if chunks[0].Index != 1 {
		t.Fatalf("index: want=1 got=%d", chunks[0].Index)
	}
}

func TestBuildChatMessagesCitationContract(t *testing.T) {
	req := Request{
		Query:       "what is alpha?",
		ContextDocs: []ContextDoc{{Source: "a.txt", Content: "alpha is first"}},
	}
	msgs := BuildChatMessages(req)
	if len(msgs) != 2 || msgs[0].Role != "system" || msgs[1].Role != "user" {
		t.Fatalf("message shape: %+v", msgs)
	}
	sys := msgs[0].Content
	if !strings.Contains(sys, "CITATION FORMAT") {
		t.Fatalf("citation contract missing")
	}
	if !strings.Contains(sys, "[1] Source: a.txt") {
		t.Fatalf("context not embedded")
	}
	if !strings.Contains(sys, "Never disclose") {
		t.Fatalf("refusal posture missing")
	}
}

func TestBuildChatMessagesSummaryVariant(t *testing.T) {
	req := Request{
		Query:         "summarize everything",
		SummaryIntent: true,
		ContextDocs:   []ContextDoc{{Source: "a.txt", Content: "alpha"}},
	}
	msgs := BuildChatMessages(req)
	if !strings.Contains(msgs[0].Content, "Summary of Uploaded Documents") {
		t.Fatalf("summary format missing: %q", msgs[0].Content)
	}
}
