// Package segment splits extracted document text into ordered, overlapping
// chunks built from whole sentences.
package segment

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// DefaultMinLength is the smallest trimmed chunk length kept by default.
const DefaultMinLength = 2

// Span is one produced chunk. Text begins with the overlap carried over from
// the previous chunk; Overlap is that prefix's length in bytes, including the
// separating space.
type Span struct {
	Text    string
	Overlap int
}

// Segmenter accumulates sentences into chunks of at most ChunkSize characters
// of fresh content. Sizes are soft: a sentence longer than ChunkSize becomes a
// chunk of its own rather than being cut.
type Segmenter struct {
	ChunkSize int
	Overlap   int
	MinLength int
}

// New validates the sizes and returns a Segmenter. A minLength of 0 selects
// DefaultMinLength.
func New(chunkSize, overlap, minLength int) (*Segmenter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("overlap must be in [0, %d), got %d", chunkSize, overlap)
	}
	if minLength < 0 {
		return nil, fmt.Errorf("min length must not be negative, got %d", minLength)
	}
	if minLength == 0 {
		minLength = DefaultMinLength
	}
	return &Segmenter{ChunkSize: chunkSize, Overlap: overlap, MinLength: minLength}, nil
}

// Segment splits text into chunks. Empty or whitespace-only input yields no chunks.
func (s *Segmenter) Segment(text string) []Span {
	sentences := Sentences(Clean(text))
	if len(sentences) == 0 {
		return nil
	}

	var (
		out      []Span
		seed     string
		fresh    []string
		freshLen int
	)
	emit := func() {
		body := strings.Join(fresh, " ")
		sp := Span{Text: body}
		if seed != "" {
			sp = Span{Text: seed + " " + body, Overlap: len(seed) + 1}
		}
		out = append(out, sp)
		seed = tail(sp.Text, s.Overlap)
		fresh = fresh[:0]
		freshLen = 0
	}

	for _, sent := range sentences {
		n := utf8.RuneCountInString(sent)
		add := n
		if freshLen > 0 {
			add++
		}
		if freshLen > 0 && freshLen+add > s.ChunkSize {
			emit()
			add = n
		}
		fresh = append(fresh, sent)
		freshLen += add
	}
	if freshLen > 0 {
		emit()
	}

	kept := out[:0]
	for _, sp := range out {
		if utf8.RuneCountInString(strings.TrimSpace(sp.Text)) < s.MinLength {
			continue
		}
		kept = append(kept, sp)
	}
	return kept
}

// Texts returns the chunk texts in order.
func Texts(spans []Span) []string {
	out := make([]string, len(spans))
	for i, sp := range spans {
		out[i] = sp.Text
	}
	return out
}

// Clean normalizes text to NFC, collapses runs of whitespace to one space and
// trims the ends.
func Clean(text string) string {
	return strings.Join(strings.Fields(norm.NFC.String(text)), " ")
}

// Sentences splits cleaned text into sentence units. A sentence ends at '.',
// '!', '?' or '…' (plus any closing quotes or brackets) followed by whitespace
// or the end of input. A trailing unterminated remainder is kept as a sentence.
func Sentences(text string) []string {
	var out []string
	start := 0
	rs := []rune(text)
	for i := 0; i < len(rs); i++ {
		if !isTerminal(rs[i]) {
			continue
		}
		j := i + 1
		for j < len(rs) && (isTerminal(rs[j]) || isCloser(rs[j])) {
			j++
		}
		if j < len(rs) && !unicode.IsSpace(rs[j]) {
			i = j - 1
			continue
		}
		if s := strings.TrimSpace(string(rs[start:j])); s != "" {
			out = append(out, s)
		}
		start = j
		i = j - 1
	}
	if start < len(rs) {
		if s := strings.TrimSpace(string(rs[start:])); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// tail returns the longest suffix of whole words of text whose length, with
// single-space separators, is at most limit characters.
func tail(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	words := strings.Fields(text)
	size := 0
	i := len(words)
	for i > 0 {
		n := utf8.RuneCountInString(words[i-1])
		if size > 0 {
			n++
		}
		if size+n > limit {
			break
		}
		size += n
		i--
	}
	return strings.Join(words[i:], " ")
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '…'
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '}', '»', '”', '’':
		return true
	}
	return false
}
