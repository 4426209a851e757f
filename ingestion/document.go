// Package ingestion loads question bundles and splits their context into overlapping word windows.
package ingestion

// Document is one question's bundle: the question, its evaluation answer and
// the titled context sections retrieval searches.
type Document struct {
	ID       string    `json:"id"`
	Question string    `json:"question,omitempty"`
	Answer   string    `json:"answer,omitempty"`
	Sections []Section `json:"sections"`
}

// Section groups the paragraphs that share a title.
type Section struct {
	Title      string   `json:"title"`
	Paragraphs []string `json:"paragraphs"`
}

// ParagraphCount returns the number of paragraphs across all sections.
func (d Document) ParagraphCount() int {
	total := 0
	for _, section := range d.Sections {
		total += len(section.Paragraphs)
	}
	return total
}
