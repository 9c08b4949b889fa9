package classifier

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vitalhub/topicsync/internal/topic"
)

const snippetLimit = 300

// typeSystemPrompt instructs the model to triage discovered names into the
// closed type taxonomy. Omission is the reject signal for anything the model
// cannot place.
func typeSystemPrompt() string {
	return fmt.Sprintf(`You classify health-related subject names into exactly one type.

Valid types: %s.
Use %q for subjects outside the medical domain and %q when you cannot tell.

Respond with a single JSON object mapping each input name (verbatim, as given)
to its type. Do not add names that were not in the input. No prose, no
markdown fences.`, strings.Join(sortedTypes(), ", "), topic.TypeNonMedical, topic.TypeOther)
}

func buildTypePrompt(inputs []NameInput) string {
	var sb strings.Builder
	sb.WriteString("Classify these subjects:\n\n")
	for _, in := range inputs {
		sb.WriteString("- ")
		sb.WriteString(in.Name)
		if snip := clip(in.Snippet, snippetLimit); snip != "" {
			sb.WriteString(": ")
			sb.WriteString(snip)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func categorySystemPrompt() string {
	return fmt.Sprintf(`You file medical topics into exactly one category.

Valid categories: %s.

Respond with a single JSON object mapping each input name (verbatim) to its
category. Do not add names that were not in the input. No prose, no markdown
fences.`, strings.Join(sortedCategories(), "; "))
}

func buildCategoryPrompt(inputs []CategoryInput) string {
	var sb strings.Builder
	sb.WriteString("Categorize these topics:\n\n")
	for _, in := range inputs {
		sb.WriteString("- ")
		sb.WriteString(in.Name)
		if in.TopicType != "" {
			sb.WriteString(" (type: ")
			sb.WriteString(in.TopicType)
			sb.WriteString(")")
		}
		if snip := clip(in.Snippet, snippetLimit); snip != "" {
			sb.WriteString(": ")
			sb.WriteString(snip)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// extractionSystemPrompt is shared across every extraction call in a run, so
// it carries the cache breakpoint.
func extractionSystemPrompt() string {
	return `You extract structured medical topic records from source text.

Rules:
- Use ONLY information present in the source text. Never add outside
  knowledge, even when you know more about the subject.
- "name" is the canonical display name for the subject. Prefer the most
  widely used clinical name (e.g. "Hypertension" over "High Blood Pressure").
- "summary" is 2-4 sentences in plain language.
- The three lists depend on the subject type:
  * disease/disorder/syndrome: observations = symptoms and signs,
    factors = risk factors and causes, actions = treatments and management.
  * symptom: observations = related symptoms, factors = causes,
    actions = management and when to seek care.
  * mental health: observations = signs, factors = contributing factors,
    actions = therapies and coping strategies.
- "citations" are source references mentioned in the text, "tags" are a few
  short lowercase keywords.

Respond with a single JSON object:
{"name": "...", "summary": "...", "observations": [...], "factors": [...],
 "actions": [...], "citations": [...], "tags": [...]}
No prose, no markdown fences.`
}

func buildExtractionPrompt(rawText, topicType, discoveredName string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Subject: %s\n", discoveredName)
	if topicType != "" {
		fmt.Fprintf(&sb, "Type: %s\n", topicType)
	}
	sb.WriteString("\nSource text:\n")
	sb.WriteString(rawText)
	return sb.String()
}

func compareSystemPrompt() string {
	return `You judge whether two health-topic names denote the exact same
real-world subject (not merely related subjects), and if so, which name is
the better canonical display name.

Respond with a single JSON object:
{"same_subject": true|false, "preferred_name": "..."}
"preferred_name" must be one of the two input names and is ignored when
"same_subject" is false. No prose, no markdown fences.`
}

func buildComparePrompt(candidate string, existing *topic.Topic) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Name A (newly discovered): %s\n", candidate)
	fmt.Fprintf(&sb, "Name B (existing record): %s\n", existing.Name)
	if summary := clip(existing.Summary, snippetLimit); summary != "" {
		fmt.Fprintf(&sb, "\nExisting record summary: %s\n", summary)
	}
	return sb.String()
}

func matchSystemPrompt() string {
	return `You match canonicalized medical topic names back to the raw
provider names they were most likely derived from. Only match when you are
confident the two names denote the same subject; omit everything else.

Respond with a single JSON object mapping canonical names (verbatim) to one
candidate name each (verbatim). No prose, no markdown fences.`
}

func buildMatchPrompt(normalized, candidates []string) string {
	var sb strings.Builder
	sb.WriteString("Canonical names:\n")
	for _, n := range normalized {
		sb.WriteString("- ")
		sb.WriteString(n)
		sb.WriteString("\n")
	}
	sb.WriteString("\nCandidate provider names:\n")
	for _, c := range candidates {
		sb.WriteString("- ")
		sb.WriteString(c)
		sb.WriteString("\n")
	}
	return sb.String()
}

func sortedTypes() []string {
	types := make([]string, 0, len(topic.ValidTypes))
	for t := range topic.ValidTypes {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func sortedCategories() []string {
	cats := make([]string, 0, len(topic.ValidCategories))
	for c := range topic.ValidCategories {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	return cats
}

func clip(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max]
}
