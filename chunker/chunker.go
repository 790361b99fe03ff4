package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMaxChars is the chunk budget used when Config.MaxChars is zero.
const DefaultMaxChars = 100000

// paragraphSep joins packed paragraphs inside a chunk.
const paragraphSep = "\n\n"

// paragraphBreak matches a newline, any whitespace-only lines, and the
// closing newline. Indentation of the following paragraph is preserved.
var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

// Config controls the chunking behaviour.
type Config struct {
	MaxChars int // Maximum characters per chunk.
}

// Chunker splits document text into model-sized pieces.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration.
// Zero-value fields are replaced with sensible defaults.
func New(cfg Config) *Chunker {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	return &Chunker{cfg: cfg}
}

// MaxChars returns the effective chunk budget.
func (c *Chunker) MaxChars() int {
	return c.cfg.MaxChars
}

// Split breaks text into ordered chunks no longer than the budget, counted
// in characters.
//
// Text within the budget is returned unchanged as a single chunk. Longer
// text is split on paragraph boundaries and paragraphs are packed greedily,
// joined by a blank line. A paragraph that alone exceeds the budget becomes
// its own chunk; it is never cut mid-sentence. Whitespace-only input yields
// no chunks.
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= c.cfg.MaxChars {
		return []string{text}
	}

	var (
		chunks   []string
		cur      strings.Builder
		curChars int
	)
	sepChars := utf8.RuneCountInString(paragraphSep)
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curChars = 0
		}
	}

	for _, para := range paragraphBreak.Split(text, -1) {
		if strings.TrimSpace(para) == "" {
			continue
		}

		paraChars := utf8.RuneCountInString(para)
		if paraChars > c.cfg.MaxChars {
			flush()
			chunks = append(chunks, para)
			continue
		}

		if cur.Len() > 0 && curChars+sepChars+paraChars > c.cfg.MaxChars {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString(paragraphSep)
			curChars += sepChars
		}
		cur.WriteString(para)
		curChars += paraChars
	}
	flush()

	return chunks
}

// Split is a convenience wrapper using the default budget.
func Split(text string) []string {
	return New(Config{}).Split(text)
}
