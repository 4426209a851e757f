package embeddings

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// TokenizerWords selects the built-in lower-cased word tokenizer.
const TokenizerWords = "words"

// Tokenizer maps text to a sequence of token ids.
type Tokenizer interface {
	Encode(text string) []int
	Name() string
}

// NewTokenizer returns the word tokenizer for "" or "words"; any other name is
// treated as a tiktoken encoding such as "cl100k_base".
func NewTokenizer(name string) (Tokenizer, error) {
	if name == "" || name == TokenizerWords {
		return NewWordTokenizer(), nil
	}

	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %s: %w", name, err)
	}
	return &bpeTokenizer{name: name, enc: enc}, nil
}

type wordTokenizer struct {
	pattern *regexp.Regexp
}

func NewWordTokenizer() Tokenizer {
	return &wordTokenizer{pattern: regexp.MustCompile(`\p{L}+|\p{N}+`)}
}

func (t *wordTokenizer) Name() string { return TokenizerWords }

func (t *wordTokenizer) Encode(text string) []int {
	words := t.pattern.FindAllString(strings.ToLower(text), -1)
	ids := make([]int, len(words))
	for i, word := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		ids[i] = int(h.Sum32())
	}
	return ids
}

type bpeTokenizer struct {
	name string
	enc  *tiktoken.Tiktoken
}

func (t *bpeTokenizer) Name() string { return t.name }

func (t *bpeTokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}
