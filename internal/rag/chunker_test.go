package rag

import (
	"strings"
	"testing"
)

func TestSplitShortTextSingleChunk(t *testing.T) {
	c := NewChunker(800, 128)
	chunks := c.Split("hello world", "notes.txt")
	if len(chunks) != 1 {
		t.Fatalf("chunks: want=1 got=%d", len(chunks))
	}
	if chunks[0].Content != "hello world" {
		t.Fatalf("content: got=%q", chunks[0].Content)
	}
	if chunks[0].Metadata.Source != "notes.txt" {
		t.Fatalf("source: got=%q", chunks[0].Metadata.Source)
	}
	if chunks[0].Metadata.ChunkIndex != 0 || chunks[0].Metadata.ChunkID != 0 {
		t.Fatalf("metadata indices: got=%+v", chunks[0].Metadata)
	}
}

func TestSplitEmptyText(t *testing.T) {
	c := NewChunker(800, 128)
	if got := c.Split("   \n\n  ", "a.txt"); got != nil {
		t.Fatalf("expected nil for blank input, got %d chunks", len(got))
	}
}

func TestSplitRespectsSizeBound(t *testing.T) {
	c := NewChunker(200, 40)
	var b strings.Builder
	for i := 0; i < 60; i++ {
		b.WriteString("The quick brown fox jumps over the lazy dog. ")
	}
	chunks := c.Split(b.String(), "fox.txt")
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if n := len([]rune(ch.Content)); n > 200 {
			t.Fatalf("chunk %d exceeds size: %d runes", i, n)
		}
	}
}

func TestSplitSizeBoundHoldsWithOverlapCarry(t *testing.T) {
	c := NewChunker(800, 128)
	// each paragraph nearly fills a chunk on its own, so the overlap
	// carried from the previous chunk must be trimmed to fit
	para := strings.Repeat("alpha beta gamma delta epsilon ", 23)
	text := para + "\n\n" + para + "\n\n" + para
	chunks := c.Split(text, "long.txt")
	if len(chunks) < 3 {
		t.Fatalf("expected a chunk per paragraph, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if n := len([]rune(ch.Content)); n > 800 {
			t.Fatalf("chunk %d exceeds size: %d runes", i, n)
		}
	}
	bare := len([]rune(strings.TrimSpace(para)))
	for i := 1; i < len(chunks); i++ {
		if n := len([]rune(chunks[i].Content)); n <= bare {
			t.Fatalf("chunk %d lost its overlap carry: %d runes", i, n)
		}
	}
}

func TestSplitParagraphBoundaryPreferred(t *testing.T) {
	c := NewChunker(100, 20)
	text := strings.Repeat("alpha beta gamma. ", 4) + "\n\n" + strings.Repeat("delta epsilon zeta. ", 4)
	chunks := c.Split(text, "p.txt")
	if len(chunks) < 2 {
		t.Fatalf("expected paragraph split, got %d chunks", len(chunks))
	}
	if !strings.Contains(chunks[0].Content, "alpha") {
		t.Fatalf("first chunk missing first paragraph: %q", chunks[0].Content)
	}
}

func TestSplitOverlapCarriesTail(t *testing.T) {
	c := NewChunker(100, 30)
	text := strings.Repeat("one two three four five six seven eight nine ten ", 10)
	chunks := c.Split(text, "n.txt")
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		prevRunes := []rune(chunks[i-1].Content)
		start := len(prevRunes) - 30
		if start < 0 {
			start = 0
		}
		tail := strings.TrimSpace(string(prevRunes[start:]))
		if tail == "" {
			continue
		}
		if !strings.Contains(chunks[i].Content, strings.Fields(tail)[len(strings.Fields(tail))-1]) {
			t.Fatalf("chunk %d does not overlap previous tail %q: %q", i, tail, chunks[i].Content)
		}
	}
}

func TestSplitUnsplittableTokenHardCut(t *testing.T) {
	c := NewChunker(50, 10)
	token := strings.Repeat("x", 500)
	chunks := c.Split(token, "blob.bin")
	if len(chunks) < 2 {
		t.Fatalf("expected hard cut, got %d chunks", len(chunks))
	}
	for i, ch := range chunks {
		if n := len([]rune(ch.Content)); n > 50 {
			t.Fatalf("chunk %d exceeds size after hard cut: %d", i, n)
		}
	}
}

func TestSplitDeterministic(t *testing.T) {
	c := NewChunker(120, 24)
	text := strings.Repeat("Lorem ipsum dolor sit amet, consectetur adipiscing elit. ", 20)
	a := c.Split(text, "s.txt")
	b := c.Split(text, "s.txt")
	if len(a) != len(b) {
		t.Fatalf("non-deterministic chunk count: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Content != b[i].Content || a[i].Metadata != b[i].Metadata {
			t.Fatalf("chunk %d differs between runs", i)
		}
	}
}
