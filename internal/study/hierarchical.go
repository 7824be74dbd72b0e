package study

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/doctalk/doctalk-backend/internal/apperr"
	"github.com/doctalk/doctalk-backend/internal/llm"
	"github.com/doctalk/doctalk-backend/internal/logger"
	"github.com/doctalk/doctalk-backend/internal/types"
)

const (
	// chunks sampled from the corpus before any generation pass
	selectTarget = 30
	// local models get small batches to stay inside their context window
	localBatchSize = 6

	defaultFlashcardTarget = 15
)

// Card is one generated flashcard before persistence.
type Card struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

// MindmapDoc is the parsed shape the model is asked to emit.
type MindmapDoc struct {
	Title string              `json:"title"`
	Nodes []types.MindmapNode `json:"nodes"`
}

// Processor turns a document corpus into summaries, flashcards and mind
// maps. Large corpora are stratified down to selectTarget chunks; in
// local mode generation additionally runs in batches whose partial
// results are merged.
type Processor struct {
	log *logger.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func NewProcessor(log *logger.Logger, seed int64) *Processor {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Processor{
		log: log.With("service", "StudyProcessor"),
		rng: rand.New(rand.NewSource(seed)),
	}
}

// SelectChunks keeps the head and tail of the corpus (intros and
// conclusions) and fills the rest with a random sample of the middle.
// Order of the head and tail picks is preserved.
func (p *Processor) SelectChunks(all []string, target int) []string {
	if len(all) <= target {
		return all
	}

	head := min(max(1, target/10), len(all)/3)
	tail := head

	availableMiddle := len(all) - head - tail
	randomCount := min(target-head-tail, availableMiddle)
	if randomCount < 0 {
		randomCount = 0
	}

	selected := make([]string, 0, head+tail+randomCount)
	selected = append(selected, all[:head]...)
	if tail > 0 {
		selected = append(selected, all[len(all)-tail:]...)
	}

	middle := all[head : len(all)-tail]
	if len(middle) > 0 && randomCount > 0 {
		p.mu.Lock()
		perm := p.rng.Perm(len(middle))
		p.mu.Unlock()
		for _, idx := range perm[:min(randomCount, len(middle))] {
			selected = append(selected, middle[idx])
		}
	}
	return selected
}

// Summarize produces a document summary. In local mode large
// selections are summarized per batch and the partials merged in a
// final pass.
func (p *Processor) Summarize(ctx context.Context, provider llm.Provider, chunks []string, local bool) (string, error) {
	selected := p.SelectChunks(chunks, selectTarget)
	p.log.Info("summarizing", "selected", len(selected), "total", len(chunks), "local", local)

	if local && len(selected) > localBatchSize {
		batches := batchChunks(selected, localBatchSize)
		var partials []string
		for i, b := range batches {
			p.log.Info("summary batch", "batch", i+1, "of", len(batches))
			resp, err := provider.GenerateSimple(ctx, fmt.Sprintf(sectionSummaryPrompt, strings.Join(b, "\n\n")))
			if err != nil {
				return "", apperr.Wrap(apperr.KindProvider, "summary batch failed", err)
			}
			if s := strings.TrimSpace(resp); s != "" {
				partials = append(partials, s)
			}
		}
		if len(partials) == 0 {
			return "", apperr.New(apperr.KindProvider, "model produced no summary content")
		}
		merged, err := provider.GenerateSimple(ctx, fmt.Sprintf(mergeSummariesPrompt, strings.Join(partials, "\n\n")))
		if err != nil {
			return "", apperr.Wrap(apperr.KindProvider, "summary merge failed", err)
		}
		return strings.TrimSpace(merged), nil
	}

	resp, err := provider.GenerateSimple(ctx, fmt.Sprintf(fullSummaryPrompt, strings.Join(selected, "\n\n")))
	if err != nil {
		return "", apperr.Wrap(apperr.KindProvider, "summary generation failed", err)
	}
	return strings.TrimSpace(resp), nil
}

// GenerateFlashcards creates up to target cards, steering the model
// away from fronts that already exist and deduplicating the result.
func (p *Processor) GenerateFlashcards(ctx context.Context, provider llm.Provider, chunks []string, target int, existing []string, local bool) ([]Card, error) {
	if target <= 0 {
		target = defaultFlashcardTarget
	}
	selected := p.SelectChunks(chunks, selectTarget)
	avoid := existingInstruction(existing)
	p.log.Info("generating flashcards", "selected", len(selected), "target", target, "existing", len(existing), "local", local)

	var cards []Card
	if local && len(selected) > localBatchSize {
		batches := batchChunks(selected, localBatchSize)
		perBatch := max(3, target/len(batches))
		for i, b := range batches {
			p.log.Info("flashcard batch", "batch", i+1, "of", len(batches))
			resp, err := provider.GenerateSimple(ctx, fmt.Sprintf(flashcardPrompt, perBatch, avoid, strings.Join(b, "\n\n")))
			if err != nil {
				return nil, apperr.Wrap(apperr.KindProvider, "flashcard batch failed", err)
			}
			cards = append(cards, ParseFlashcards(resp)...)
		}
	} else {
		resp, err := provider.GenerateSimple(ctx, fmt.Sprintf(flashcardPrompt, target, avoid, strings.Join(selected, "\n\n")))
		if err != nil {
			return nil, apperr.Wrap(apperr.KindProvider, "flashcard generation failed", err)
		}
		cards = ParseFlashcards(resp)
	}

	cards = DedupeCards(cards, target)
	if len(cards) == 0 {
		return nil, apperr.New(apperr.KindProvider, "model returned no parseable flashcards")
	}
	return cards, nil
}

// GenerateMindmap builds a hierarchical mind map. Local mode generates
// partial maps per batch and merges them; node ids are normalized to
// dotted form either way.
func (p *Processor) GenerateMindmap(ctx context.Context, provider llm.Provider, chunks []string, local bool) (*MindmapDoc, error) {
	selected := p.SelectChunks(chunks, selectTarget)
	p.log.Info("generating mindmap", "selected", len(selected), "total", len(chunks), "local", local)

	if local && len(selected) > localBatchSize {
		batches := batchChunks(selected, localBatchSize)
		var partials []*MindmapDoc
		for i, b := range batches {
			p.log.Info("mindmap batch", "batch", i+1, "of", len(batches))
			resp, err := provider.GenerateSimple(ctx, fmt.Sprintf(mindmapPrompt, strings.Join(b, "\n\n")))
			if err != nil {
				return nil, apperr.Wrap(apperr.KindProvider, "mindmap batch failed", err)
			}
			if doc := ParseMindmap(resp); doc != nil && len(doc.Nodes) > 0 {
				partials = append(partials, doc)
			}
		}
		merged := MergeMindmaps(partials)
		if len(merged.Nodes) == 0 {
			return nil, apperr.New(apperr.KindProvider, "model returned no parseable mindmap")
		}
		merged.Nodes = ValidateAndFixNodes(merged.Nodes, "")
		return merged, nil
	}

	resp, err := provider.GenerateSimple(ctx, fmt.Sprintf(mindmapPrompt, strings.Join(selected, "\n\n")))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindProvider, "mindmap generation failed", err)
	}
	doc := ParseMindmap(resp)
	if doc == nil || len(doc.Nodes) == 0 {
		return nil, apperr.New(apperr.KindProvider, "model returned no parseable mindmap")
	}
	if doc.Title == "" {
		doc.Title = "Document Overview"
	}
	doc.Nodes = ValidateAndFixNodes(doc.Nodes, "")
	return doc, nil
}

// DedupeCards drops repeated fronts (case-insensitive) keeping first
// occurrence order, capped at target.
func DedupeCards(cards []Card, target int) []Card {
	seen := make(map[string]struct{}, len(cards))
	out := make([]Card, 0, min(len(cards), target))
	for _, c := range cards {
		key := strings.ToLower(strings.TrimSpace(c.Front))
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
		if len(out) >= target {
			break
		}
	}
	return out
}

func batchChunks(chunks []string, size int) [][]string {
	var batches [][]string
	for i := 0; i < len(chunks); i += size {
		end := min(i+size, len(chunks))
		batches = append(batches, chunks[i:end])
	}
	return batches
}

func existingInstruction(existing []string) string {
	if len(existing) == 0 {
		return ""
	}
	preview := strings.Join(existing[:min(5, len(existing))], ", ")
	if len(existing) > 5 {
		preview += fmt.Sprintf("... (%d total)", len(existing))
	}
	return "AVOID duplicating these existing questions: " + preview
}

const fullSummaryPrompt = `Provide a comprehensive summary of the following document content:

%s

Create a detailed summary covering all major topics, key points, and important details.`

const sectionSummaryPrompt = `Summarize the following document section:

%s

Provide a concise summary of key points and main ideas.`

const mergeSummariesPrompt = `Combine these partial summaries into one comprehensive summary:

%s

Create a unified, well-structured summary covering all major topics.`

const flashcardPrompt = `Based on the following document content, generate %d flashcards.
Each flashcard should have a "front" (question, max 50 characters) and "back" (answer, max 25 words).

RULES:
- NO citations, references, or numbers like [1], [2]
- Plain text only, no markdown
- Keep answers SHORT (under 25 words)

%s

IMPORTANT: Respond ONLY with valid JSON:
[
    {"front": "Question 1?", "back": "Answer 1"},
    {"front": "Question 2?", "back": "Answer 2"}
]

Document Content:
%s

Generate the flashcards.`

const mindmapPrompt = `Analyze the following document content and generate a mind map structure.
The mind map should have a central topic and hierarchical subtopics covering the main themes.

IMPORTANT: Respond ONLY with valid JSON in the following format, nothing else:
{
    "title": "Main Document Topic",
    "nodes": [
        {"id": "1", "label": "Major Topic 1", "children": [
            {"id": "1.1", "label": "Subtopic 1.1"},
            {"id": "1.2", "label": "Subtopic 1.2"}
        ]},
        {"id": "2", "label": "Major Topic 2", "children": [
            {"id": "2.1", "label": "Subtopic 2.1"}
        ]}
    ]
}

Rules:
- Create 4-8 major topics
- Each major topic can have 2-5 subtopics
- Subtopics can have 1-3 nested children if needed
- Keep labels concise (2-6 words)
- Cover the entire document comprehensively

Document Content:
%s

Generate a comprehensive mind map covering all major themes from the document.`
