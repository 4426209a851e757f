package ingestion

import (
	"strings"
)

// DefaultBlockLength is the window size, in words, used when none is given.
const DefaultBlockLength = 64

// SplitBlocks splits text on whitespace into windows of at most maxWords words.
// Each window starts maxWords/2 words after the previous one, so consecutive
// windows share half their words. Trailing windows may be shorter.
func SplitBlocks(text string, maxWords int) []string {
	if maxWords <= 0 {
		maxWords = DefaultBlockLength
	}
	stride := maxWords / 2
	if stride < 1 {
		stride = 1
	}

	words := strings.Fields(text)
	blocks := make([]string, 0, len(words)/stride+1)
	for start := 0; start < len(words); start += stride {
		end := start + maxWords
		if end > len(words) {
			end = len(words)
		}
		block := strings.Join(words[start:end], " ")
		if block == "" {
			continue
		}
		blocks = append(blocks, block)
	}

	return blocks
}

// ContextBlocks chunks every non-empty paragraph of doc, prefixed with its
// section title, and concatenates the windows in document order.
func ContextBlocks(doc Document, maxWords int) []string {
	blocks := make([]string, 0, doc.ParagraphCount())
	for _, section := range doc.Sections {
		for _, paragraph := range section.Paragraphs {
			if paragraph == "" {
				continue
			}
			blocks = append(blocks, SplitBlocks(section.Title+": "+paragraph, maxWords)...)
		}
	}
	return blocks
}
