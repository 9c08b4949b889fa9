package classifier

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vitalhub/topicsync/internal/topic"
	"github.com/vitalhub/topicsync/pkg/anthropic"
)

// batchSize is the number of names sent per classification request.
const batchSize = 50

// Options configures the Anthropic-backed classifier.
type Options struct {
	Model     string
	MaxTokens int64
	// RequestInterval is the courtesy delay between classifier calls.
	RequestInterval time.Duration
}

// Anthropic implements Classifier on top of the message API. Batch failures
// are isolated: a failed batch contributes nothing and the run continues.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	limiter   *rate.Limiter
}

// New creates the Anthropic-backed classifier.
func New(client anthropic.Client, opts Options) *Anthropic {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	interval := opts.RequestInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &Anthropic{
		client:    client,
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
		limiter:   rate.NewLimiter(rate.Every(interval), 1),
	}
}

var _ Classifier = (*Anthropic)(nil)

// ShouldProcess delegates to the static type policy table.
func (a *Anthropic) ShouldProcess(topicType string) bool {
	return topic.ShouldProcess(topicType)
}

// ClassifyNames triages names into the type taxonomy in batches. Keys not
// present in the input batch and types outside the taxonomy are discarded.
func (a *Anthropic) ClassifyNames(ctx context.Context, inputs []NameInput) (map[string]string, error) {
	out := make(map[string]string, len(inputs))
	system := anthropic.BuildCachedSystemBlocks(typeSystemPrompt())

	for _, batch := range chunk(inputs, batchSize) {
		raw, err := a.callMap(ctx, system, buildTypePrompt(batch), "classify types")
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			zap.L().Warn("type classification batch failed",
				zap.Int("batch_size", len(batch)),
				zap.Error(err))
			continue
		}

		echo := echoSet(batch, func(in NameInput) string { return in.Name })
		for name, typ := range raw {
			input, ok := echo[strings.ToLower(name)]
			if !ok {
				zap.L().Warn("classifier echoed unknown name", zap.String("name", name))
				continue
			}
			if !validType(typ) {
				zap.L().Warn("classifier returned invalid type",
					zap.String("name", name),
					zap.String("type", typ))
				continue
			}
			out[input] = typ
		}
	}
	return out, nil
}

// ClassifyCategories files topics into the category taxonomy. Types with a
// mandatory category are assigned directly; the rest go to the model, whose
// answers are checked against the whitelist and the mandatory table.
func (a *Anthropic) ClassifyCategories(ctx context.Context, inputs []CategoryInput) (map[string]string, error) {
	out := make(map[string]string, len(inputs))

	var ask []CategoryInput
	for _, in := range inputs {
		if cat, ok := topic.MandatoryCategories[in.TopicType]; ok {
			out[in.Name] = cat
			continue
		}
		ask = append(ask, in)
	}

	system := anthropic.BuildCachedSystemBlocks(categorySystemPrompt())
	for _, batch := range chunk(ask, batchSize) {
		raw, err := a.callMap(ctx, system, buildCategoryPrompt(batch), "classify categories")
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			zap.L().Warn("category classification batch failed",
				zap.Int("batch_size", len(batch)),
				zap.Error(err))
			continue
		}

		echo := echoSet(batch, func(in CategoryInput) string { return in.Name })
		types := make(map[string]string, len(batch))
		for _, in := range batch {
			types[in.Name] = in.TopicType
		}

		for name, cat := range raw {
			input, ok := echo[strings.ToLower(name)]
			if !ok {
				zap.L().Warn("classifier echoed unknown name", zap.String("name", name))
				continue
			}
			if !topic.ValidCategories[cat] || !topic.ValidCategoryForType(types[input], cat) {
				zap.L().Warn("classifier returned invalid category",
					zap.String("name", name),
					zap.String("category", cat))
				continue
			}
			out[input] = cat
		}
	}
	return out, nil
}

// extractResult mirrors the JSON shape the extraction prompt demands.
type extractResult struct {
	Name         string   `json:"name"`
	Summary      string   `json:"summary"`
	Observations []string `json:"observations"`
	Factors      []string `json:"factors"`
	Actions      []string `json:"actions"`
	Citations    []string `json:"citations"`
	Tags         []string `json:"tags"`
}

// Extract derives a structured topic from merged source text. Returns
// (nil, nil) for filtered types and for unusable model output.
func (a *Anthropic) Extract(ctx context.Context, rawText, topicType, discoveredName string) (*topic.Topic, error) {
	if !topic.ShouldProcess(topicType) {
		return nil, nil
	}

	resp, err := a.call(ctx, anthropic.BuildCachedSystemBlocks(extractionSystemPrompt()),
		buildExtractionPrompt(rawText, topicType, discoveredName), "extract")
	if err != nil {
		return nil, eris.Wrapf(err, "classifier: extract %q", discoveredName)
	}

	var res extractResult
	if err := json.Unmarshal([]byte(cleanJSON(resp.FirstText())), &res); err != nil {
		zap.L().Warn("extraction returned unparseable JSON",
			zap.String("name", discoveredName),
			zap.Error(err))
		return nil, nil
	}

	if strings.TrimSpace(res.Name) == "" || strings.TrimSpace(res.Summary) == "" {
		zap.L().Warn("extraction missing name or summary", zap.String("name", discoveredName))
		return nil, nil
	}

	t := &topic.Topic{
		Name:         topic.ToTitleCase(res.Name),
		Summary:      topic.ToSentenceCase(res.Summary),
		Observations: topic.NormalizeList(res.Observations, topic.ToSentenceCase),
		Factors:      topic.NormalizeList(res.Factors, topic.ToSentenceCase),
		Actions:      topic.NormalizeList(res.Actions, topic.ToSentenceCase),
		Citations:    topic.NormalizeList(res.Citations, func(s string) string { return s }),
		Tags:         topic.NormalizeList(res.Tags, strings.ToLower),
	}
	return t, nil
}

// CompareNames asks whether two names denote the same subject and which is
// canonical. A preferred name that is neither input is treated as keeping
// the existing name.
func (a *Anthropic) CompareNames(ctx context.Context, candidate string, existing *topic.Topic) (NameComparison, error) {
	resp, err := a.call(ctx, anthropic.BuildCachedSystemBlocks(compareSystemPrompt()),
		buildComparePrompt(candidate, existing), "compare names")
	if err != nil {
		return NameComparison{}, eris.Wrapf(err, "classifier: compare %q vs %q", candidate, existing.Name)
	}

	var res struct {
		SameSubject   bool   `json:"same_subject"`
		PreferredName string `json:"preferred_name"`
	}
	if err := json.Unmarshal([]byte(cleanJSON(resp.FirstText())), &res); err != nil {
		return NameComparison{}, eris.Wrap(err, "classifier: parse comparison")
	}

	if !res.SameSubject {
		return NameComparison{Outcome: CompareDistinct}, nil
	}

	preferred := strings.TrimSpace(res.PreferredName)
	switch {
	case strings.EqualFold(preferred, existing.Name) || preferred == "":
		return NameComparison{Outcome: CompareMerge, Preferred: existing.Name}, nil
	case strings.EqualFold(preferred, candidate):
		return NameComparison{Outcome: CompareReplace, Preferred: topic.ToTitleCase(preferred)}, nil
	default:
		zap.L().Warn("comparison preferred a name that was not offered",
			zap.String("preferred", preferred))
		return NameComparison{Outcome: CompareMerge, Preferred: existing.Name}, nil
	}
}

// MatchLegacyNames maps canonical names back to raw provider names.
// Fabricated keys and out-of-set candidates are discarded.
func (a *Anthropic) MatchLegacyNames(ctx context.Context, normalized, candidates []string) (map[string]string, error) {
	out := make(map[string]string)
	if len(normalized) == 0 || len(candidates) == 0 {
		return out, nil
	}

	candidateSet := make(map[string]string, len(candidates))
	for _, c := range candidates {
		candidateSet[strings.ToLower(c)] = c
	}
	normalizedSet := make(map[string]string, len(normalized))
	for _, n := range normalized {
		normalizedSet[strings.ToLower(n)] = n
	}

	system := anthropic.BuildCachedSystemBlocks(matchSystemPrompt())
	for _, batch := range chunk(normalized, batchSize) {
		raw, err := a.callMap(ctx, system, buildMatchPrompt(batch, candidates), "match legacy names")
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			zap.L().Warn("legacy name matching batch failed",
				zap.Int("batch_size", len(batch)),
				zap.Error(err))
			continue
		}

		for name, match := range raw {
			key, okKey := normalizedSet[strings.ToLower(name)]
			val, okVal := candidateSet[strings.ToLower(match)]
			if !okKey || !okVal {
				continue
			}
			out[key] = val
		}
	}
	return out, nil
}

// call sends one message through the rate limiter and logs its cost.
func (a *Anthropic) call(ctx context.Context, system []anthropic.SystemBlock, prompt, phase string) (*anthropic.MessageResponse, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "classifier: rate limit wait")
	}

	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    system,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, err
	}

	resp.Usage.LogCost(a.model, phase)
	return resp, nil
}

// callMap sends one message and decodes a string-to-string JSON object.
func (a *Anthropic) callMap(ctx context.Context, system []anthropic.SystemBlock, prompt, phase string) (map[string]string, error) {
	resp, err := a.call(ctx, system, prompt, phase)
	if err != nil {
		return nil, err
	}

	var raw map[string]string
	if err := json.Unmarshal([]byte(cleanJSON(resp.FirstText())), &raw); err != nil {
		return nil, eris.Wrap(err, "classifier: parse response map")
	}
	return raw, nil
}

func validType(typ string) bool {
	if topic.ValidTypes[typ] {
		return true
	}
	return typ == topic.TypeNonMedical || typ == topic.TypeOther
}

// echoSet indexes a batch by lowercased key so echoed names resolve back to
// the exact input spelling.
func echoSet[T any](batch []T, key func(T) string) map[string]string {
	set := make(map[string]string, len(batch))
	for _, item := range batch {
		k := key(item)
		set[strings.ToLower(k)] = k
	}
	return set
}

func chunk[T any](items []T, size int) [][]T {
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}

// cleanJSON strips markdown fences and isolates the JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
