package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strconv"
	"strings"
	"text/template"

	"github.com/ashureev/catalyze/internal/domain"
	"github.com/ashureev/catalyze/internal/llm"
	"golang.org/x/sync/singleflight"
)

const classifySystemPrompt = "You are an expert chemistry query classifier. Respond with a single JSON object and nothing else."

var classifyPromptTemplate = template.Must(template.New("classify").Parse(`Classify the query into exactly one of these categories:

1. research: chemical properties, mechanisms, explanations, compound lookups.
   Examples: "What is the molecular weight of caffeine?", "Explain PCR mechanism"
2. protocol: lab procedures, synthesis methods, experimental protocols.
   Examples: "How do I synthesize aspirin?", "Create a protein extraction protocol"
3. automate: lab automation scripts, robotic liquid handlers, equipment control code.
   Examples: "Generate Opentrons protocol for liquid handling", "Automate 96-well plate filling"
4. safety: safety questions, hazard assessments, PPE recommendations.
   Examples: "Is this chemical combination safe?", "What PPE for this experiment?"
5. unknown: none of the above.
{{if .History}}
Recent conversation:
{{range .History}}- {{.Role}}: {{.Content}}
{{end}}{{end}}
Query: {{.Query}}

Return strict JSON with these fields:
{"intent": "research|protocol|automate|safety|unknown", "confidence": 0.0-1.0, "reasoning": "short explanation", "entities": ["..."]}`))

const maxHistoryTurns = 3

// llmVerdict is the lenient wire shape of the model's answer.
type llmVerdict struct {
	Intent     string        `json:"intent"`
	Confidence lenientFloat  `json:"confidence"`
	Reasoning  string        `json:"reasoning"`
	Entities   lenientString `json:"entities"`
}

// lenientFloat accepts a JSON number or a numeric string.
type lenientFloat float64

func (f *lenientFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("confidence %q: %w", s, err)
	}
	*f = lenientFloat(v)
	return nil
}

// lenientString accepts a list of strings or a single comma-separated string.
type lenientString []string

func (l *lenientString) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*l = list
		return nil
	}
	var single string
	if err := json.Unmarshal(b, &single); err != nil {
		// Entities are advisory; drop anything unparseable.
		*l = nil
		return nil //nolint:nilerr // lenient by contract
	}
	for _, part := range strings.Split(single, ",") {
		if p := strings.TrimSpace(part); p != "" {
			*l = append(*l, p)
		}
	}
	return nil
}

// LLMClassifier asks the completion capability for a JSON classification.
type LLMClassifier struct {
	completer llm.Completer
	inflight  singleflight.Group
	logger    *slog.Logger
}

// NewLLMClassifier creates an LLM-backed classifier.
func NewLLMClassifier(completer llm.Completer, logger *slog.Logger) *LLMClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMClassifier{completer: completer, logger: logger}
}

// Classify never fails: any transport, parse, or format problem yields
// IntentUnknown with confidence 0.
func (c *LLMClassifier) Classify(ctx context.Context, query string, history []domain.Message) domain.ClassificationResult {
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}

	// The shared call outlives any single caller; the completer's own
	// timeout bounds it.
	detached := context.WithoutCancel(ctx)
	ch := c.inflight.DoChan(cacheKey(query, history), func() (any, error) {
		return c.classify(detached, query, history)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			c.logger.Warn("LLM classification failed", "error", res.Err, "shared", res.Shared)
			return unknownResult("llm: " + res.Err.Error())
		}
		return res.Val.(domain.ClassificationResult)
	case <-ctx.Done():
		return unknownResult("llm: " + ctx.Err().Error())
	}
}

func (c *LLMClassifier) classify(ctx context.Context, query string, history []domain.Message) (domain.ClassificationResult, error) {
	var buf bytes.Buffer
	if err := classifyPromptTemplate.Execute(&buf, struct {
		Query   string
		History []domain.Message
	}{query, history}); err != nil {
		return domain.ClassificationResult{}, fmt.Errorf("render prompt: %w", err)
	}

	raw, err := c.completer.Complete(ctx, buf.String(), classifySystemPrompt)
	if err != nil {
		return domain.ClassificationResult{}, fmt.Errorf("completion: %w", err)
	}
	return ParseLLMResponse(raw)
}

// ParseLLMResponse extracts and validates the model's JSON verdict.
func ParseLLMResponse(raw string) (domain.ClassificationResult, error) {
	obj, err := ExtractJSON(raw)
	if err != nil {
		return domain.ClassificationResult{}, err
	}
	var v llmVerdict
	if err := json.Unmarshal([]byte(obj), &v); err != nil {
		return domain.ClassificationResult{}, fmt.Errorf("decode verdict: %w", err)
	}
	intent := domain.ParseIntent(v.Intent)
	if intent == domain.IntentUnknown && !strings.EqualFold(strings.TrimSpace(v.Intent), string(domain.IntentUnknown)) {
		return domain.ClassificationResult{}, fmt.Errorf("invalid intent %q", v.Intent)
	}
	entities := []string(v.Entities)
	if entities == nil {
		entities = []string{}
	}
	reasoning := strings.TrimSpace(v.Reasoning)
	if reasoning == "" {
		reasoning = "no reasoning given"
	}
	return domain.ClassificationResult{
		Intent:     intent,
		Confidence: domain.ClampConfidence(float64(v.Confidence)),
		Entities:   entities,
		Reasoning:  "llm: " + reasoning,
	}, nil
}

func unknownResult(reason string) domain.ClassificationResult {
	return domain.ClassificationResult{
		Intent:     domain.IntentUnknown,
		Confidence: 0,
		Entities:   []string{},
		Reasoning:  reason,
	}
}

func cacheKey(query string, history []domain.Message) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(query))
	for _, m := range history {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(m.Role))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(m.Content))
	}
	return strconv.FormatUint(h.Sum64(), 16)
}
