package ingestion

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// DocumentPayload is a raw file read from disk.
type DocumentPayload struct {
	Path string
	Data []byte
}

// DocumentParser turns a payload into one or more question bundles.
type DocumentParser interface {
	Parse(payload DocumentPayload) ([]Document, error)
}

func parserFor(format DocumentFormat) (DocumentParser, error) {
	switch format {
	case FormatJSON:
		return jsonParser{}, nil
	case FormatJSONL:
		return jsonlParser{}, nil
	case FormatMarkdown:
		return markdownParser{}, nil
	case FormatPDF:
		return pdfParser{}, nil
	case FormatCSV:
		return csvParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported document format")
	}
}

// hotpotRecord accepts both the raw HotpotQA layout, where context is a list
// of [title, sentences] pairs, and the columnar layout with parallel
// title and sentences arrays.
type hotpotRecord struct {
	ID       string          `json:"id"`
	LegacyID string          `json:"_id"`
	Question string          `json:"question"`
	Answer   string          `json:"answer"`
	Context  json.RawMessage `json:"context"`
}

type columnarContext struct {
	Title     []string   `json:"title"`
	Sentences [][]string `json:"sentences"`
}

func (r hotpotRecord) document(fallbackID string) (Document, error) {
	sections, err := decodeContext(r.Context)
	if err != nil {
		return Document{}, err
	}

	id := r.ID
	if id == "" {
		id = r.LegacyID
	}
	if id == "" {
		id = fallbackID
	}

	return Document{
		ID:       id,
		Question: strings.TrimSpace(r.Question),
		Answer:   strings.TrimSpace(r.Answer),
		Sections: sections,
	}, nil
}

func decodeContext(raw json.RawMessage) ([]Section, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	switch trimmed[0] {
	case '{':
		var columns columnarContext
		if err := json.Unmarshal(trimmed, &columns); err != nil {
			return nil, fmt.Errorf("decode context columns: %w", err)
		}
		if len(columns.Title) != len(columns.Sentences) {
			return nil, fmt.Errorf("context has %d titles but %d sentence lists", len(columns.Title), len(columns.Sentences))
		}
		sections := make([]Section, 0, len(columns.Title))
		for i, title := range columns.Title {
			sections = append(sections, Section{Title: title, Paragraphs: columns.Sentences[i]})
		}
		return sections, nil
	case '[':
		var pairs [][]json.RawMessage
		if err := json.Unmarshal(trimmed, &pairs); err != nil {
			return nil, fmt.Errorf("decode context pairs: %w", err)
		}
		sections := make([]Section, 0, len(pairs))
		for i, pair := range pairs {
			if len(pair) != 2 {
				return nil, fmt.Errorf("context entry %d: expected [title, sentences]", i)
			}
			var section Section
			if err := json.Unmarshal(pair[0], &section.Title); err != nil {
				return nil, fmt.Errorf("context entry %d title: %w", i, err)
			}
			if err := json.Unmarshal(pair[1], &section.Paragraphs); err != nil {
				return nil, fmt.Errorf("context entry %d sentences: %w", i, err)
			}
			sections = append(sections, section)
		}
		return sections, nil
	default:
		return nil, fmt.Errorf("unexpected context value")
	}
}

type jsonParser struct{}

func (jsonParser) Parse(payload DocumentPayload) ([]Document, error) {
	trimmed := bytes.TrimSpace(payload.Data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var records []hotpotRecord
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("parse json dataset: %w", err)
		}
	} else {
		var record hotpotRecord
		if err := json.Unmarshal(trimmed, &record); err != nil {
			return nil, fmt.Errorf("parse json record: %w", err)
		}
		records = []hotpotRecord{record}
	}

	return recordsToDocuments(records, baseName(payload.Path))
}

type jsonlParser struct{}

func (jsonlParser) Parse(payload DocumentPayload) ([]Document, error) {
	scanner := bufio.NewScanner(bytes.NewReader(payload.Data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	records := make([]hotpotRecord, 0)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var record hotpotRecord
		if err := json.Unmarshal(text, &record); err != nil {
			return nil, fmt.Errorf("parse jsonl line %d: %w", line, err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read jsonl: %w", err)
	}

	return recordsToDocuments(records, baseName(payload.Path))
}

func recordsToDocuments(records []hotpotRecord, base string) ([]Document, error) {
	docs := make([]Document, 0, len(records))
	for idx, record := range records {
		doc, err := record.document(fmt.Sprintf("%s#%d", base, idx))
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", idx, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

type markdownParser struct{}

func (markdownParser) Parse(payload DocumentPayload) ([]Document, error) {
	content := normalizePlainText(string(payload.Data))
	title := ExtractTitle(content, baseName(payload.Path))

	sections := make([]Section, 0)
	current := Section{Title: title}
	flush := func() {
		if len(current.Paragraphs) > 0 {
			sections = append(sections, current)
		}
	}

	for _, block := range splitParagraphs(content) {
		if strings.HasPrefix(block, "#") {
			heading, rest, _ := strings.Cut(block, "\n")
			flush()
			current = Section{Title: strings.TrimSpace(strings.TrimLeft(heading, "#"))}
			block = strings.TrimSpace(rest)
			if block == "" {
				continue
			}
		}
		current.Paragraphs = append(current.Paragraphs, block)
	}
	flush()

	return []Document{{ID: baseName(payload.Path), Sections: sections}}, nil
}

type pdfParser struct{}

func (pdfParser) Parse(payload DocumentPayload) ([]Document, error) {
	reader := bytes.NewReader(payload.Data)
	doc, err := pdf.NewReader(reader, int64(len(payload.Data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	plain, err := doc.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("extract pdf text: %w", err)
	}

	buf := &bytes.Buffer{}
	if _, err := io.Copy(buf, plain); err != nil {
		return nil, fmt.Errorf("read pdf text: %w", err)
	}

	content := normalizePlainText(buf.String())
	title := firstNonEmptyLine(content)
	if title == "" {
		title = baseName(payload.Path)
	}

	section := Section{Title: title, Paragraphs: splitParagraphs(content)}
	return []Document{{ID: baseName(payload.Path), Sections: []Section{section}}}, nil
}

// csvParser reads title/text rows into sections when those columns exist and
// otherwise renders every row as a "header: value" paragraph.
type csvParser struct{}

func (csvParser) Parse(payload DocumentPayload) ([]Document, error) {
	reader := csv.NewReader(bytes.NewReader(payload.Data))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	doc := Document{ID: baseName(payload.Path)}
	if len(records) == 0 {
		return []Document{doc}, nil
	}

	headers := records[0]
	rows := records[1:]

	titleCol, textCol := columnIndex(headers, "title"), columnIndex(headers, "text")
	if titleCol >= 0 && textCol >= 0 {
		order := make([]string, 0)
		grouped := make(map[string][]string)
		for _, row := range rows {
			if titleCol >= len(row) || textCol >= len(row) {
				continue
			}
			title := strings.TrimSpace(row[titleCol])
			if _, ok := grouped[title]; !ok {
				order = append(order, title)
			}
			grouped[title] = append(grouped[title], strings.TrimSpace(row[textCol]))
		}
		for _, title := range order {
			doc.Sections = append(doc.Sections, Section{Title: title, Paragraphs: grouped[title]})
		}
		return []Document{doc}, nil
	}

	section := Section{Title: doc.ID, Paragraphs: make([]string, 0, len(rows))}
	for idx, row := range rows {
		section.Paragraphs = append(section.Paragraphs, formatCSVRow(headers, row, idx))
	}
	doc.Sections = []Section{section}
	return []Document{doc}, nil
}

func columnIndex(headers []string, name string) int {
	for i, header := range headers {
		if strings.EqualFold(strings.TrimSpace(header), name) {
			return i
		}
	}
	return -1
}

// ExtractTitle returns the first Markdown heading in content, or fallback.
func ExtractTitle(content, fallback string) string {
	lines := strings.Split(content, "\n")
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
	}
	return fallback
}

func splitParagraphs(content string) []string {
	parts := strings.Split(content, "\n\n")
	paragraphs := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := strings.TrimSpace(part); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

func baseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

func normalizePlainText(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

func firstNonEmptyLine(content string) string {
	lines := strings.Split(content, "\n")
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func formatCSVRow(headers, row []string, idx int) string {
	builder := &strings.Builder{}
	builder.WriteString(fmt.Sprintf("Row %d", idx+1))

	limit := len(headers)
	if len(row) < limit {
		limit = len(row)
	}

	for i := 0; i < limit; i++ {
		header := strings.TrimSpace(headers[i])
		if header == "" {
			header = fmt.Sprintf("Column %d", i+1)
		}
		builder.WriteString("\n")
		builder.WriteString(header)
		builder.WriteString(": ")
		builder.WriteString(strings.TrimSpace(row[i]))
	}

	for i := len(headers); i < len(row); i++ {
		builder.WriteString(fmt.Sprintf("\nExtra %d: %s", i+1, strings.TrimSpace(row[i])))
	}

	return builder.String()
}
