package study

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/doctalk/doctalk-backend/internal/types"
)

var (
	fenceOpenRe  = regexp.MustCompile("```(?:json)?\\s*")
	fenceCloseRe = regexp.MustCompile("\\s*```")

	arrayRe = regexp.MustCompile(`\[[\s\S]*?\]`)

	bulletLineRe = regexp.MustCompile(`^[\-\*\d\.\)]+\s*(.+)`)
	labelFieldRe = regexp.MustCompile(`"label"\s*:\s*"([^"]+)"`)

	qLineRe = regexp.MustCompile(`(?i)^(?:q|front|question)\d?[:.]\s*(.+)$`)
	aLineRe = regexp.MustCompile(`(?i)^(?:a|back|answer)\d?[:.]\s*(.+)$`)
)

// ParseFlashcards extracts cards from model output, falling back from
// strict JSON through array extraction down to Q:/A: lines. Cards
// missing a front or back are dropped.
func ParseFlashcards(text string) []Card {
	cleaned := stripFences(text)
	if cards := decodeCardList(cleaned); cards != nil {
		return cards
	}
	if i := strings.Index(cleaned, "["); i > 0 {
		cleaned = cleaned[i:]
	}
	if cards := decodeCardList(cleaned); cards != nil {
		return cards
	}

	// balanced-bracket extraction tolerates prose after the array and
	// trailing commas inside it
	if body := matchBalanced(cleaned, '[', ']'); body != "" {
		if cards := decodeCardList(removeTrailingCommas(body)); cards != nil {
			return cards
		}
	}

	for _, m := range arrayRe.FindAllString(text, -1) {
		if cards := decodeCardList(removeTrailingCommas(m)); cards != nil {
			return cards
		}
	}

	return parseCardLines(text)
}

func decodeCardList(s string) []Card {
	var list []Card
	if err := json.Unmarshal([]byte(s), &list); err == nil {
		return filterCards(list)
	}
	var wrapped struct {
		Flashcards []Card `json:"flashcards"`
	}
	if err := json.Unmarshal([]byte(s), &wrapped); err == nil && len(wrapped.Flashcards) > 0 {
		return filterCards(wrapped.Flashcards)
	}
	return nil
}

func filterCards(list []Card) []Card {
	if len(list) == 0 {
		return nil
	}
	out := make([]Card, 0, len(list))
	for _, c := range list {
		if strings.TrimSpace(c.Front) != "" && strings.TrimSpace(c.Back) != "" {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func parseCardLines(text string) []Card {
	var cards []Card
	var front string
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := qLineRe.FindStringSubmatch(line); m != nil {
			front = strings.TrimSpace(m[1])
			continue
		}
		if m := aLineRe.FindStringSubmatch(line); m != nil && front != "" {
			cards = append(cards, Card{Front: front, Back: strings.TrimSpace(m[1])})
			front = ""
		}
	}
	return cards
}

// ParseMindmap extracts a mind map document from model output. Returns
// nil when nothing usable can be recovered.
func ParseMindmap(text string) *MindmapDoc {
	cleaned := stripFences(text)
	if i := strings.Index(cleaned, "{"); i > 0 {
		cleaned = cleaned[i:]
	}
	cleaned = strings.TrimSpace(cleaned)

	if doc := decodeMindmap(cleaned); doc != nil {
		return doc
	}

	if body := matchBalanced(cleaned, '{', '}'); body != "" {
		if doc := decodeMindmap(removeTrailingCommas(body)); doc != nil {
			return doc
		}
	}

	// last resort: mine bullet lines or stray "label" fields for a
	// flat top-level structure
	var nodes []types.MindmapNode
	id := 1
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "{") || strings.HasPrefix(line, "[") {
			continue
		}
		label := ""
		if m := bulletLineRe.FindStringSubmatch(line); m != nil {
			label = strings.TrimSpace(m[1])
		} else if m := labelFieldRe.FindStringSubmatch(line); m != nil {
			label = strings.TrimSpace(m[1])
		}
		if label == "" {
			continue
		}
		if len(label) > 50 {
			label = label[:50]
		}
		if len(label) <= 2 {
			continue
		}
		nodes = append(nodes, types.MindmapNode{ID: strconv.Itoa(id), Label: label})
		id++
		if id > 8 {
			break
		}
	}
	if len(nodes) > 0 {
		return &MindmapDoc{Title: "Document Overview", Nodes: nodes}
	}
	return nil
}

func decodeMindmap(s string) *MindmapDoc {
	var wire struct {
		Title string               `json:"title"`
		Nodes *[]types.MindmapNode `json:"nodes"`
	}
	if err := json.Unmarshal([]byte(s), &wire); err != nil || wire.Nodes == nil {
		return nil
	}
	return &MindmapDoc{Title: wire.Title, Nodes: *wire.Nodes}
}

// ValidateAndFixNodes fills in missing ids and labels, assigning
// dotted ids derived from the parent ("1", "1.2", "1.2.3").
func ValidateAndFixNodes(nodes []types.MindmapNode, prefix string) []types.MindmapNode {
	fixed := make([]types.MindmapNode, 0, len(nodes))
	for i, n := range nodes {
		id := n.ID
		if id == "" {
			id = fmt.Sprintf("%s%d", prefix, i+1)
		}
		label := n.Label
		if label == "" {
			label = "Untitled"
		}
		out := types.MindmapNode{ID: id, Label: label}
		if len(n.Children) > 0 {
			out.Children = ValidateAndFixNodes(n.Children, id+".")
		}
		fixed = append(fixed, out)
	}
	return fixed
}

// MergeMindmaps flattens partial maps into one, keeping the first
// title and renumbering top-level nodes sequentially with their
// children renumbered beneath them.
func MergeMindmaps(parts []*MindmapDoc) *MindmapDoc {
	if len(parts) == 0 {
		return &MindmapDoc{Title: "Document Overview", Nodes: []types.MindmapNode{}}
	}
	title := parts[0].Title
	if title == "" {
		title = "Document Overview"
	}

	var merged []types.MindmapNode
	counter := 1
	for _, part := range parts {
		for _, n := range part.Nodes {
			node := types.MindmapNode{ID: strconv.Itoa(counter), Label: n.Label}
			for j, c := range n.Children {
				child := types.MindmapNode{
					ID:       fmt.Sprintf("%d.%d", counter, j+1),
					Label:    c.Label,
					Children: c.Children,
				}
				node.Children = append(node.Children, child)
			}
			merged = append(merged, node)
			counter++
		}
	}
	return &MindmapDoc{Title: title, Nodes: merged}
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = fenceOpenRe.ReplaceAllString(s, "")
	s = fenceCloseRe.ReplaceAllString(s, "")
	return s
}

// matchBalanced returns the first balanced open..close span, tracking
// string literals and escapes so braces inside values don't count.
func matchBalanced(s string, open, close byte) string {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// removeTrailingCommas drops commas that directly precede ] or },
// skipping commas inside string literals.
func removeTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			b.WriteByte(c)
			escaped = false
			continue
		}
		if c == '\\' && inString {
			b.WriteByte(c)
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			b.WriteByte(c)
			continue
		}
		if c == ',' && !inString {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == ']' || s[j] == '}') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
