// Package chunk splits extracted text into token-bounded pieces for
// embedding. Splits respect paragraph and sentence boundaries where
// possible; only pathological single sentences are cut mid-stream.
package chunk

import (
	"fmt"
	"strings"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"
	"github.com/pkoukk/tiktoken-go"
)

const encodingName = "cl100k_base"

// Piece is one chunk of text with its measured token count.
type Piece struct {
	Text       string
	TokenCount int
}

// encoder abstracts the BPE tokenizer so tests can substitute a cheap one.
type encoder interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

type tiktokenEncoder struct {
	enc *tiktoken.Tiktoken
}

func (e tiktokenEncoder) Encode(text string) []int   { return e.enc.Encode(text, nil, nil) }
func (e tiktokenEncoder) Decode(tokens []int) string { return e.enc.Decode(tokens) }

type Chunker struct {
	size      int
	overlap   int
	encoder   encoder
	sentencer *sentences.DefaultSentenceTokenizer
}

// New builds a Chunker producing pieces of at most size tokens, with up to
// overlap tokens of trailing context repeated at the start of the next piece.
func New(size, overlap int) (*Chunker, error) {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("chunk.New: %w", err)
	}
	return newWithEncoder(size, overlap, tiktokenEncoder{enc: enc})
}

func newWithEncoder(size, overlap int, enc encoder) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk.New: size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk.New: overlap %d out of range for size %d", overlap, size)
	}
	sentencer, err := english.NewSentenceTokenizer(nil)
	if err != nil {
		return nil, fmt.Errorf("chunk.New: %w", err)
	}
	return &Chunker{size: size, overlap: overlap, encoder: enc, sentencer: sentencer}, nil
}

// CountTokens measures text with the embedding encoder.
func (c *Chunker) CountTokens(text string) int {
	return len(c.encoder.Encode(text))
}

// Split chunks the text. Empty or whitespace-only input yields no pieces.
func (c *Chunker) Split(text string) []Piece {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var pieces []Piece
	var current []string
	currentTokens := 0
	newSinceFlush := false

	flush := func() {
		joined := strings.TrimSpace(strings.Join(current, " "))
		if joined != "" {
			pieces = append(pieces, Piece{Text: joined, TokenCount: c.CountTokens(joined)})
		}
		// Carry the tail sentences forward as overlap.
		current, currentTokens = c.overlapTail(current)
		newSinceFlush = false
	}

	for _, paragraph := range strings.Split(text, "\n\n") {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}
		for _, sentence := range c.sentenceSplit(paragraph) {
			for _, span := range c.hardSplit(sentence) {
				tokens := c.CountTokens(span)
				if currentTokens+tokens > c.size && newSinceFlush {
					flush()
				}
				if currentTokens+tokens > c.size {
					// The carried overlap leaves no room; start clean.
					current, currentTokens = nil, 0
				}
				current = append(current, span)
				currentTokens += tokens
				newSinceFlush = true
			}
		}
	}
	if newSinceFlush {
		joined := strings.TrimSpace(strings.Join(current, " "))
		if joined != "" {
			pieces = append(pieces, Piece{Text: joined, TokenCount: c.CountTokens(joined)})
		}
	}
	return pieces
}

func (c *Chunker) sentenceSplit(paragraph string) []string {
	raw := c.sentencer.Tokenize(paragraph)
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if t := strings.TrimSpace(s.Text); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// hardSplit cuts a single sentence that exceeds the chunk size into
// size-bounded spans at token boundaries.
func (c *Chunker) hardSplit(sentence string) []string {
	tokens := c.encoder.Encode(sentence)
	if len(tokens) <= c.size {
		return []string{sentence}
	}
	var out []string
	for start := 0; start < len(tokens); start += c.size {
		end := min(start+c.size, len(tokens))
		if span := strings.TrimSpace(c.encoder.Decode(tokens[start:end])); span != "" {
			out = append(out, span)
		}
	}
	return out
}

// overlapTail returns the suffix of the flushed sentences worth up to the
// configured overlap tokens.
func (c *Chunker) overlapTail(flushed []string) ([]string, int) {
	if c.overlap == 0 {
		return nil, 0
	}
	var tail []string
	total := 0
	for i := len(flushed) - 1; i >= 0; i-- {
		tokens := c.CountTokens(flushed[i])
		if total+tokens > c.overlap {
			break
		}
		tail = append([]string{flushed[i]}, tail...)
		total += tokens
	}
	return tail, total
}
