package reasoning

import (
	"regexp"
	"strings"
)

// minQueryLength is the shortest extracted query kept instead of the question.
const minQueryLength = 4

var (
	intentPattern = regexp.MustCompile(`(?s)Intent:\s*(.+?)(?:\nQuery:|\n\n|$)`)
	queryPattern  = regexp.MustCompile(`(?s)Query:\s*(.+?)(?:\n|$)`)

	// disallowedRune finds the first rune outside letters, comma, space and hyphen.
	disallowedRune = regexp.MustCompile(`[^a-zA-Z, \-]`)

	verdictPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)"Final Answer"\s*:\s*["']*(YES|NO)["']*`),
		regexp.MustCompile(`(?i)Final Answer:\s*(YES|NO)\b`),
		regexp.MustCompile(`(?i)Final Answer\s*[—–-]\s*(YES|NO)\b`),
		regexp.MustCompile("(?i)```(?:json)?\\s*\\{\\s*\"Final Answer\"\\s*:\\s*\"(YES|NO)\"\\s*\\}"),
	}

	wordPattern = regexp.MustCompile(`[a-z]+`)

	yesKeywords = map[string]bool{"sufficient": true, "adequate": true, "complete": true, "yes": true}
	noKeywords  = map[string]bool{"insufficient": true, "inadequate": true, "missing": true, "no": true}

	newIntentPattern      = regexp.MustCompile(`(?s)New Intent:\s*(.*?)(?:\nNew Search Description:|\n|$)`)
	newDescriptionPattern = regexp.MustCompile(`(?s)New Search Description:\s*(.*?)(?:\n|$)`)
)

// ParsedAnalysis is the result of parsing a decomposition response.
// OK is false when either labelled field was absent; Analysis then holds the degraded value.
type ParsedAnalysis struct {
	Analysis Analysis
	OK       bool
}

// ParseAnalysis extracts the Intent and Query lines from raw.
func ParseAnalysis(raw, question string) ParsedAnalysis {
	raw = strings.TrimSpace(raw)
	intentMatch := intentPattern.FindStringSubmatch(raw)
	queryMatch := queryPattern.FindStringSubmatch(raw)
	if intentMatch == nil || queryMatch == nil {
		return ParsedAnalysis{Analysis: Analysis{Query: question}}
	}

	intent := strings.TrimRight(cleanField(intentMatch[1]), ".")
	query := cleanField(queryMatch[1])
	if len(query) < minQueryLength {
		query = question
	}

	return ParsedAnalysis{Analysis: Analysis{Intent: intent, Query: query}, OK: true}
}

// cleanField drops everything from the first disallowed rune onward and trims.
func cleanField(value string) string {
	if loc := disallowedRune.FindStringIndex(value); loc != nil {
		value = value[:loc[0]]
	}
	return strings.TrimSpace(value)
}

// VerdictSource records which parsing layer produced a verdict.
type VerdictSource string

const (
	VerdictPattern VerdictSource = "pattern"
	VerdictKeyword VerdictSource = "keyword"
	VerdictNone    VerdictSource = "none"
)

type ParsedVerdict struct {
	Sufficient bool
	Source     VerdictSource
}

// ParseVerdict reads a sufficiency verdict from raw. The Final Answer patterns
// are tried in order and the first match wins. Otherwise whole-word keywords
// decide: only sufficiency words give true; anything else gives false.
func ParseVerdict(raw string) ParsedVerdict {
	for _, pattern := range verdictPatterns {
		if match := pattern.FindStringSubmatch(raw); match != nil {
			return ParsedVerdict{Sufficient: strings.EqualFold(match[1], "YES"), Source: VerdictPattern}
		}
	}

	var sawYes, sawNo bool
	for _, word := range wordPattern.FindAllString(strings.ToLower(raw), -1) {
		sawYes = sawYes || yesKeywords[word]
		sawNo = sawNo || noKeywords[word]
	}

	switch {
	case sawYes && !sawNo:
		return ParsedVerdict{Sufficient: true, Source: VerdictKeyword}
	case sawNo:
		return ParsedVerdict{Sufficient: false, Source: VerdictKeyword}
	default:
		return ParsedVerdict{Sufficient: false, Source: VerdictNone}
	}
}

// ParsedRefinement reports which refinement fields were present.
type ParsedRefinement struct {
	Refinement     Refinement
	HasIntent      bool
	HasDescription bool
}

// ParseRefinement extracts the New Intent and New Search Description lines.
// A missing field is left empty.
func ParseRefinement(raw string) ParsedRefinement {
	var parsed ParsedRefinement
	if match := newIntentPattern.FindStringSubmatch(raw); match != nil {
		parsed.Refinement.Intent = strings.TrimSpace(match[1])
		parsed.HasIntent = true
	}
	if match := newDescriptionPattern.FindStringSubmatch(raw); match != nil {
		parsed.Refinement.Description = strings.TrimSpace(match[1])
		parsed.HasDescription = true
	}
	return parsed
}
