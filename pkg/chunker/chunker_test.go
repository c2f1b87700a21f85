package chunker

import (
	"reflect"
	"strings"
	"testing"
)

func mustChunker(t *testing.T, cfg Config) *Chunker {
	t.Helper()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return c
}

func TestSplitEmptyText(t *testing.T) {
	c := mustChunker(t, Config{})
	chunks, err := c.Split(1, "   \n\n  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chunks != nil {
		t.Errorf("got %d chunks, want none", len(chunks))
	}
}

func TestSplitSequentialIndices(t *testing.T) {
	c := mustChunker(t, Config{MaxChunkSize: 100, MinChunkSize: 10, OverlapChars: 20})

	var b strings.Builder
	for i := 0; i < 20; i++ {
		b.WriteString("The quick brown fox jumps over the lazy dog near the riverbank today.\n\n")
	}

	chunks, err := c.Split(7, b.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(chunks))
	}
	for i, ch := range chunks {
		if ch.Index != i {
			t.Errorf("chunk %d has index %d", i, ch.Index)
		}
		if ch.DocumentID != 7 {
			t.Errorf("chunk %d has document id %d", i, ch.DocumentID)
		}
		if ch.PublicID == "" {
			t.Errorf("chunk %d has empty public id", i)
		}
		if ch.TokenCount <= 0 {
			t.Errorf("chunk %d has token count %d", i, ch.TokenCount)
		}
	}
}

func TestSplitOverlap(t *testing.T) {
	c := mustChunker(t, Config{MaxChunkSize: 120, MinChunkSize: 10, OverlapChars: 30})

	text := strings.Repeat("Alpha beta gamma delta epsilon zeta eta theta iota kappa.\n\n", 6)
	chunks, err := c.Split(1, text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(chunks))
	}

	// Each chunk after the first must start with text from the end of its
	// predecessor.
	for i := 1; i < len(chunks); i++ {
		firstLine := strings.SplitN(chunks[i].Content, "\n", 2)[0]
		firstWord := strings.Fields(firstLine)[0]
		if !strings.Contains(chunks[i-1].Content, firstWord) {
			t.Errorf("chunk %d does not overlap its predecessor: starts with %q", i, firstWord)
		}
	}
}

func TestSplitHeadings(t *testing.T) {
	text := `# Flight Records

Intro paragraph about the records.

## January 1997

Flights in January.

## February 1997

Flights in February.

# Appendix

Supporting exhibits.`

	c := mustChunker(t, Config{MaxChunkSize: 500, MinChunkSize: 5, OverlapChars: 10})
	chunks, err := c.Split(1, text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 4 {
		t.Fatalf("got %d chunks, want 4", len(chunks))
	}

	tests := []struct {
		title     string
		hierarchy []string
	}{
		{"Flight Records", []string{"Flight Records"}},
		{"January 1997", []string{"Flight Records", "January 1997"}},
		{"February 1997", []string{"Flight Records", "February 1997"}},
		{"Appendix", []string{"Appendix"}},
	}
	for i, tt := range tests {
		if chunks[i].SectionTitle != tt.title {
			t.Errorf("chunk %d title = %q, want %q", i, chunks[i].SectionTitle, tt.title)
		}
		if !reflect.DeepEqual(chunks[i].HierarchyPath, tt.hierarchy) {
			t.Errorf("chunk %d hierarchy = %v, want %v", i, chunks[i].HierarchyPath, tt.hierarchy)
		}
	}
}

func TestSplitPageBreaks(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []int
	}{
		{
			name: "form feed increments",
			text: "Page one text.\n\f\nPage two text.",
			want: []int{1, 2},
		},
		{
			name: "explicit page marker",
			text: "First part.\n--- Page 12 ---\nLater part.",
			want: []int{1, 12},
		},
		{
			name: "bracket marker",
			text: "Opening.\n[Page 3]\nClosing.",
			want: []int{1, 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := mustChunker(t, Config{MaxChunkSize: 500, MinChunkSize: 1, OverlapChars: 5})
			chunks, err := c.Split(1, tt.text)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(chunks) != len(tt.want) {
				t.Fatalf("got %d chunks, want %d", len(chunks), len(tt.want))
			}
			for i, page := range tt.want {
				if chunks[i].PageNumber != page {
					t.Errorf("chunk %d page = %d, want %d", i, chunks[i].PageNumber, page)
				}
			}
		})
	}
}

func TestSplitMergesUndersizedTail(t *testing.T) {
	c := mustChunker(t, Config{MaxChunkSize: 100, MinChunkSize: 40, OverlapChars: 10})

	// Two full paragraphs then a tiny one that must not stand alone.
	text := strings.Repeat("Words fill this paragraph up to a reasonable size here.\n\n", 3) + "Tiny tail."
	chunks, err := c.Split(1, text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, ch := range chunks {
		if len([]rune(ch.Content)) < 40 {
			t.Errorf("chunk %d is undersized: %d chars", i, len([]rune(ch.Content)))
		}
	}
	last := chunks[len(chunks)-1]
	if !strings.Contains(last.Content, "Tiny tail.") {
		t.Error("tail text missing from final chunk")
	}
}

func TestSplitDeterministicContent(t *testing.T) {
	c := mustChunker(t, Config{MaxChunkSize: 150, MinChunkSize: 20, OverlapChars: 25})
	text := strings.Repeat("Deterministic content splits the same way every run.\n\n", 10)

	first, err := c.Split(1, text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := c.Split(1, text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Content != second[i].Content {
			t.Errorf("chunk %d content differs between runs", i)
		}
	}
}

func TestSplitBoundsUnpunctuatedParagraph(t *testing.T) {
	c := mustChunker(t, Config{MaxChunkSize: 200, MinChunkSize: 50, OverlapChars: 20})

	// One long OCR-style run with no sentence terminators anywhere.
	text := strings.TrimSpace(strings.Repeat("ledger entry without terminators ", 19))
	chunks, err := c.Split(1, text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 3 {
		t.Fatalf("got %d chunks, want at least 3", len(chunks))
	}
	for i, ch := range chunks {
		if ch.CharCount > 200 {
			t.Errorf("chunk %d has %d chars, exceeds the maximum of 200", i, ch.CharCount)
		}
	}
}

func TestSplitOversizedParagraph(t *testing.T) {
	c := mustChunker(t, Config{MaxChunkSize: 80, MinChunkSize: 10, OverlapChars: 15})

	// One paragraph, many sentences, no blank lines.
	text := strings.TrimSpace(strings.Repeat("This sentence runs on for a while before it ends. ", 10))
	chunks, err := c.Split(1, text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(chunks))
	}
}
