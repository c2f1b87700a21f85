package chunker

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/caselight/backend/pkg/common"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pkoukk/tiktoken-go"
)

const (
	defaultMaxChunkSize = 2000
	defaultMinChunkSize = 200
	defaultOverlapChars = 200
	defaultEncoder      = "o200k_base"
)

// Config controls how document text is split into chunks. All sizes are
// in characters.
type Config struct {
	MaxChunkSize int
	MinChunkSize int
	OverlapChars int
	Encoder      string
}

// Chunker splits document text into overlapping, section-aware chunks
// ready for embedding and extraction.
//
// A Chunker should be created using New.
//
// Example:
//
//	c, err := chunker.New(chunker.Config{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	chunks, err := c.Split(doc.ID, doc.Text)
type Chunker struct {
	cfg Config
	enc *tiktoken.Tiktoken
}

// New creates a Chunker with the given configuration. Zero values fall
// back to defaults; MinChunkSize is clamped below MaxChunkSize.
func New(cfg Config) (*Chunker, error) {
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = defaultMaxChunkSize
	}
	if cfg.MinChunkSize <= 0 {
		cfg.MinChunkSize = defaultMinChunkSize
	}
	if cfg.MinChunkSize >= cfg.MaxChunkSize {
		cfg.MinChunkSize = cfg.MaxChunkSize / 4
	}
	if cfg.OverlapChars < 0 {
		cfg.OverlapChars = 0
	}
	if cfg.OverlapChars == 0 {
		cfg.OverlapChars = defaultOverlapChars
	}
	if cfg.OverlapChars >= cfg.MaxChunkSize {
		cfg.OverlapChars = cfg.MaxChunkSize / 4
	}
	if cfg.Encoder == "" {
		cfg.Encoder = defaultEncoder
	}

	enc, err := tiktoken.GetEncoding(cfg.Encoder)
	if err != nil {
		return nil, fmt.Errorf("get encoding %q: %w", cfg.Encoder, err)
	}

	return &Chunker{cfg: cfg, enc: enc}, nil
}

// section is a contiguous run of text under one heading on one page.
type section struct {
	title     string
	hierarchy []string
	page      int
	text      string
}

var (
	headingRe   = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*$`)
	pageBreakRe = regexp.MustCompile(`(?i)^(?:\f|-{3,}\s*page\s+(\d+)\s*-{3,}|\[page\s+(\d+)\])\s*$`)
	paragraphRe = regexp.MustCompile(`\n\s*\n`)
)

// Split divides text into chunks for the given document. Chunks carry
// their section title, hierarchy path, page number, and token count.
// Indices are sequential from zero, so re-running Split replaces a
// document's chunks wholesale.
func (c *Chunker) Split(documentID int64, text string) ([]common.Chunk, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	sections := parseSections(text)

	var chunks []common.Chunk
	for _, sec := range sections {
		parts := c.splitSection(sec.text)
		for _, part := range parts {
			publicID, err := gonanoid.New()
			if err != nil {
				return nil, err
			}
			chunks = append(chunks, common.Chunk{
				PublicID:      publicID,
				DocumentID:    documentID,
				Index:         len(chunks),
				Content:       part,
				PageNumber:    sec.page,
				SectionTitle:  sec.title,
				HierarchyPath: sec.hierarchy,
				CharCount:     len([]rune(part)),
				TokenCount:    len(c.enc.Encode(part, nil, nil)),
			})
		}
	}

	return chunks, nil
}

// parseSections walks the text line by line, tracking the heading stack
// and page counter. A heading at level n closes every open heading at
// level >= n.
func parseSections(text string) []section {
	lines := strings.Split(text, "\n")

	type stackEntry struct {
		level int
		title string
	}

	var (
		sections []section
		stack    []stackEntry
		current  strings.Builder
		page     = 1
	)

	hierarchy := func() []string {
		path := make([]string, 0, len(stack))
		for _, e := range stack {
			path = append(path, e.title)
		}
		return path
	}

	flush := func() {
		body := strings.TrimSpace(current.String())
		current.Reset()
		if body == "" {
			return
		}
		title := ""
		if len(stack) > 0 {
			title = stack[len(stack)-1].title
		}
		sections = append(sections, section{
			title:     title,
			hierarchy: hierarchy(),
			page:      page,
			text:      body,
		})
	}

	for _, line := range lines {
		// TrimSpace would eat a bare form feed before the regex sees it.
		if m := pageBreakRe.FindStringSubmatch(strings.Trim(line, " \t\r")); m != nil {
			flush()
			if n := firstNonEmpty(m[1:]); n != "" {
				if parsed, err := strconv.Atoi(n); err == nil {
					page = parsed
					continue
				}
			}
			page++
			continue
		}

		if m := headingRe.FindStringSubmatch(line); m != nil {
			flush()
			level := len(m[1])
			for len(stack) > 0 && stack[len(stack)-1].level >= level {
				stack = stack[:len(stack)-1]
			}
			stack = append(stack, stackEntry{level: level, title: m[2]})
			continue
		}

		current.WriteString(line)
		current.WriteString("\n")
	}
	flush()

	return sections
}

func firstNonEmpty(values []string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// splitSection packs paragraphs into chunks of at most MaxChunkSize
// characters, seeding each new chunk with the overlap tail of the
// previous one. Oversized paragraphs are broken at sentence boundaries,
// and a trailing chunk below MinChunkSize merges into its predecessor.
func (c *Chunker) splitSection(text string) []string {
	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil
	}

	var (
		chunks  []string
		current strings.Builder
		seed    string
	)

	flush := func() {
		body := strings.TrimSpace(current.String())
		current.Reset()
		if body == "" || body == seed {
			return
		}
		chunks = append(chunks, body)
		if c.cfg.OverlapChars > 0 {
			seed = overlapTail(body, c.cfg.OverlapChars)
			current.WriteString(seed)
		}
	}

	appendPiece := func(piece string) {
		pieceLen := len([]rune(piece))
		if current.Len() > 0 {
			pieceLen += 2
		}
		if current.Len() > 0 && currentLen(&current)+pieceLen > c.cfg.MaxChunkSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(piece)
	}

	// Window size for text with no usable sentence boundaries, leaving
	// room for the overlap seed and separator.
	window := c.cfg.MaxChunkSize - c.cfg.OverlapChars - 2
	if window < 1 {
		window = c.cfg.MaxChunkSize
	}

	for _, para := range paragraphs {
		if len([]rune(para)) <= c.cfg.MaxChunkSize {
			appendPiece(para)
			continue
		}

		// Paragraph alone exceeds the limit; fall back to sentences.
		for _, sentence := range splitSentences(para) {
			if len([]rune(sentence)) <= c.cfg.MaxChunkSize {
				appendPiece(sentence)
				continue
			}
			// Unpunctuated OCR runs come back as one oversized
			// "sentence" and need a hard character-window split.
			for _, piece := range splitWindow(sentence, window) {
				appendPiece(piece)
			}
		}
	}

	if body := strings.TrimSpace(current.String()); body != "" && body != seed {
		chunks = append(chunks, body)
	}

	// Merge an undersized tail into the previous chunk so no fragment
	// falls below the minimum.
	if len(chunks) >= 2 {
		last := chunks[len(chunks)-1]
		if len([]rune(last)) < c.cfg.MinChunkSize {
			chunks[len(chunks)-2] = chunks[len(chunks)-2] + "\n\n" + last
			chunks = chunks[:len(chunks)-1]
		}
	}

	return chunks
}

func currentLen(b *strings.Builder) int {
	return len([]rune(b.String()))
}

// overlapTail returns the last n runes of text, extended backwards to the
// nearest word boundary so the overlap never starts mid-word.
func overlapTail(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	start := len(runes) - n
	for start > 0 && !isSpace(runes[start-1]) {
		start--
	}
	return strings.TrimSpace(string(runes[start:]))
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}

func splitParagraphs(text string) []string {
	raw := paragraphRe.Split(text, -1)
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitWindow breaks text into pieces of at most size runes. Pieces are
// balanced so the tail never becomes a runt, and each break backs up to
// the nearest space when one exists within the window.
func splitWindow(text string, size int) []string {
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	count := (len(runes) + size - 1) / size
	target := (len(runes) + count - 1) / count

	var pieces []string
	for start := 0; start < len(runes); {
		end := start + target
		if end >= len(runes) {
			if piece := strings.TrimSpace(string(runes[start:])); piece != "" {
				pieces = append(pieces, piece)
			}
			break
		}

		cut := end
		for cut > start+1 && !isSpace(runes[cut]) {
			cut--
		}
		if cut == start+1 {
			cut = end
		}

		if piece := strings.TrimSpace(string(runes[start:cut])); piece != "" {
			pieces = append(pieces, piece)
		}
		start = cut
	}
	return pieces
}

func splitSentences(text string) []string {
	var (
		sentences []string
		current   strings.Builder
	)

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		current.WriteRune(runes[i])

		if runes[i] == '.' || runes[i] == '!' || runes[i] == '?' {
			// Abbreviation-ish endings like "1." in listings stay attached.
			if i+1 < len(runes) && runes[i+1] != ' ' && runes[i+1] != '\n' {
				continue
			}
			sentence := strings.TrimSpace(current.String())
			if sentence != "" {
				sentences = append(sentences, sentence)
			}
			current.Reset()
		}
	}

	if remaining := strings.TrimSpace(current.String()); remaining != "" {
		sentences = append(sentences, remaining)
	}

	return sentences
}
