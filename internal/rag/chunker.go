package rag

import "strings"

const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 128
)

// chunk boundaries are chosen on the highest-priority separator present
var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

type ChunkMetadata struct {
	Source     string `json:"source"`
	ChunkIndex int    `json:"chunk_index"`
	ChunkID    int    `json:"chunk_id"`
}

type Chunk struct {
	Content  string
	Metadata ChunkMetadata
}

// Chunker splits UTF-8 text into overlapping windows of at most Size
// runes. Splitting recurses through the separator priority list; a piece
// is only cut mid-word when no separator applies.
type Chunker struct {
	Size    int
	Overlap int

	separators []string
}

func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
		if overlap >= size {
			overlap = size / 4
		}
	}
	return &Chunker{Size: size, Overlap: overlap, separators: defaultSeparators}
}

// Split returns the chunks of text with stable metadata: identical input
// always yields identical chunk indices and content.
func (c *Chunker) Split(text, source string) []Chunk {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	pieces := c.splitRecursive(trimmed, c.separators)

	chunks := make([]Chunk, 0, len(pieces))
	for _, piece := range pieces {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		idx := len(chunks)
		chunks = append(chunks, Chunk{
			Content: piece,
			Metadata: ChunkMetadata{
				Source:     source,
				ChunkIndex: idx,
				ChunkID:    idx,
			},
		})
	}
	return chunks
}

func (c *Chunker) splitRecursive(text string, separators []string) []string {
	runes := []rune(text)
	if len(runes) <= c.Size {
		return []string{text}
	}

	sep := ""
	sepIdx := len(separators) - 1
	for i, s := range separators {
		if s == "" {
			sepIdx = i
			break
		}
		if strings.Contains(text, s) {
			sep = s
			sepIdx = i
			break
		}
	}

	if sep == "" {
		return c.hardCut(runes)
	}

	parts := splitKeepSeparator(text, sep)
	var fitted []string
	for _, part := range parts {
		if len([]rune(part)) <= c.Size {
			fitted = append(fitted, part)
			continue
		}
		fitted = append(fitted, c.splitRecursive(part, separators[sepIdx+1:])...)
	}
	return c.mergeWithOverlap(fitted)
}

// hardCut windows raw runes when no separator can break the text.
func (c *Chunker) hardCut(runes []rune) []string {
	step := c.Size - c.Overlap
	if step <= 0 {
		step = c.Size
	}
	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + c.Size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}

// mergeWithOverlap greedily packs pieces into Size-bounded chunks and
// carries an Overlap-rune tail into the next chunk.
func (c *Chunker) mergeWithOverlap(pieces []string) []string {
	var out []string
	var cur strings.Builder
	curLen := 0

	flush := func() {
		if curLen == 0 {
			return
		}
		chunk := cur.String()
		out = append(out, chunk)
		cur.Reset()
		curLen = 0
		if c.Overlap > 0 {
			tail := overlapTail(chunk, c.Overlap)
			cur.WriteString(tail)
			curLen = len([]rune(tail))
		}
	}

	for _, piece := range pieces {
		pieceLen := len([]rune(piece))
		if curLen > 0 && curLen+pieceLen > c.Size {
			flush()
			// A large piece can overflow even the fresh overlap carry;
			// trim the carry so the chunk stays within Size.
			if curLen+pieceLen > c.Size {
				keep := c.Size - pieceLen
				if keep < 0 {
					keep = 0
				}
				tail := overlapTail(cur.String(), keep)
				cur.Reset()
				cur.WriteString(tail)
				curLen = len([]rune(tail))
			}
		}
		cur.WriteString(piece)
		curLen += pieceLen
	}
	if curLen > 0 {
		chunk := cur.String()
		// Drop a trailing chunk that is nothing but the overlap carry.
		if len(out) == 0 || !strings.HasSuffix(out[len(out)-1], chunk) {
			out = append(out, chunk)
		}
	}
	return out
}

func overlapTail(s string, overlap int) string {
	runes := []rune(s)
	if len(runes) <= overlap {
		return s
	}
	return string(runes[len(runes)-overlap:])
}

func splitKeepSeparator(text, sep string) []string {
	raw := strings.Split(text, sep)
	out := make([]string, 0, len(raw))
	for i, part := range raw {
		if i < len(raw)-1 {
			part += sep
		}
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
