package topic

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// MaxCharsPerSource caps each provider's contribution to the merged raw
	// source, to stay inside classifier token limits.
	MaxCharsPerSource = 15000

	// MinSummaryLength is the shortest summary the quality gate accepts.
	MinSummaryLength = 80

	// MinSourceLength is the shortest merged source worth extracting from.
	MinSourceLength = 200

	// sourceDelimiter separates provider sections in the merged raw source.
	sourceDelimiter = "\n---\n"
)

// BuildMergedRawSource merges per-provider evidence into one canonical source
// blob: an optional context line listing group labels, then each provider's
// text under a [SourceName] header, in input order.
func BuildMergedRawSource(sources []RawTopicData) string {
	parts := make([]string, 0, len(sources)+1)

	if groups := collectGroups(sources); len(groups) > 0 {
		parts = append(parts, fmt.Sprintf("[Index Groups: %s]", strings.Join(groups, ", ")))
	}

	for _, s := range sources {
		parts = append(parts, fmt.Sprintf("[%s]\n%s", s.SourceName, truncateAtWord(s.RawText, MaxCharsPerSource)))
	}

	return strings.Join(parts, sourceDelimiter)
}

// AppendRawSource appends newSource to existing with the standard delimiter.
func AppendRawSource(existing, newSource string) string {
	if existing == "" {
		return newSource
	}
	return existing + sourceDelimiter + newSource
}

// collectGroups returns the deduplicated (case-insensitive) group labels
// contributed by any source, in first-seen order.
func collectGroups(sources []RawTopicData) []string {
	var groups []string
	seen := make(map[string]bool)
	for _, s := range sources {
		for _, g := range s.Groups {
			key := strings.ToLower(g)
			if seen[key] {
				continue
			}
			seen[key] = true
			groups = append(groups, g)
		}
	}
	return groups
}

// truncateAtWord cuts text at the last whitespace boundary at or before max,
// never mid-word.
func truncateAtWord(text string, max int) string {
	if len(text) <= max {
		return text
	}
	cut := strings.LastIndexFunc(text[:max+1], unicode.IsSpace)
	if cut <= 0 {
		return text[:max]
	}
	return strings.TrimRight(text[:cut], " \t\n")
}

// CheckQuality evaluates whether a topic is fit to serve. It returns a
// human-readable reason when the topic needs reprocessing, or "" if it
// passes.
func CheckQuality(t *Topic) string {
	summary := strings.TrimSpace(t.Summary)
	if len(summary) < MinSummaryLength {
		return fmt.Sprintf("summary too short (%d chars, minimum %d)", len(summary), MinSummaryLength)
	}

	if strings.EqualFold(summary, strings.TrimSpace(t.Name)) {
		return "summary just restates the topic name"
	}

	if len(t.Observations) == 0 && len(t.Factors) == 0 && len(t.Actions) == 0 {
		return "no observations, factors, or actions populated"
	}

	return ""
}

var titleCaser = cases.Title(language.AmericanEnglish)

// ToTitleCase title-cases a topic name while preserving acronyms and
// handling parenthesized, slashed, hyphenated, and possessive words.
func ToTitleCase(text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}

	words := strings.Fields(text)
	for i, w := range words {
		words[i] = titleWord(w)
	}
	return strings.Join(words, " ")
}

func titleWord(word string) string {
	if isAcronym(word) {
		return word
	}

	if strings.ContainsAny(word, "()") {
		var out strings.Builder
		var part strings.Builder
		for _, ch := range word {
			if ch == '(' || ch == ')' {
				if part.Len() > 0 {
					out.WriteString(titleSimpleWord(part.String()))
					part.Reset()
				}
				out.WriteRune(ch)
				continue
			}
			part.WriteRune(ch)
		}
		if part.Len() > 0 {
			out.WriteString(titleSimpleWord(part.String()))
		}
		return out.String()
	}

	if strings.Contains(word, "/") {
		parts := strings.Split(word, "/")
		for i, p := range parts {
			parts[i] = titleWord(p)
		}
		return strings.Join(parts, "/")
	}

	if strings.Contains(word, "-") {
		parts := strings.Split(word, "-")
		for i, p := range parts {
			parts[i] = titleSimpleWord(p)
		}
		return strings.Join(parts, "-")
	}

	return titleSimpleWord(word)
}

func titleSimpleWord(word string) string {
	if word == "" || isAcronym(word) {
		return word
	}

	// "Alzheimer's", "Crohn's": title the base, keep the possessive marker.
	lower := strings.ToLower(word)
	if strings.HasSuffix(lower, "'s") && len(word) > 2 {
		return titleCaser.String(strings.ToLower(word[:len(word)-2])) + "'s"
	}

	return titleCaser.String(lower)
}

// isAcronym reports whether a word is all-caps (ignoring non-letters), e.g.
// "COPD", "HIV", "X-Ray" parts like "X".
func isAcronym(word string) bool {
	if len(word) < 2 {
		return false
	}
	for _, ch := range word {
		if unicode.IsLetter(ch) && !unicode.IsUpper(ch) {
			return false
		}
	}
	return true
}

// ToSentenceCase upper-cases the first rune of trimmed text.
func ToSentenceCase(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return trimmed
	}
	runes := []rune(trimmed)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// NormalizeList trims, transforms, and case-insensitively deduplicates list
// items, dropping blanks.
func NormalizeList(items []string, transform func(string) string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		item = transform(item)
		key := strings.ToLower(item)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}

// TruncateToSentence shortens text to at most max chars, preferring to cut
// at a sentence boundary, then at a word boundary.
func TruncateToSentence(text string, max int) string {
	text = strings.TrimSpace(text)
	if len(text) <= max {
		return text
	}

	region := text[:max]
	if i := strings.LastIndexAny(region, ".!?"); i > 0 {
		return strings.TrimSpace(region[:i+1])
	}
	if i := strings.LastIndex(region, " "); i > 0 {
		return strings.TrimSpace(region[:i])
	}
	return strings.TrimSpace(region)
}
