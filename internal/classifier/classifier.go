// Package classifier implements the hybrid intent classifier: deterministic
// rule scoring with a language-model fallback for low-confidence queries.
package classifier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/catalyze/internal/domain"
	"github.com/ashureev/catalyze/internal/guardrail"
	"github.com/ashureev/catalyze/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultLLMThreshold is the rule confidence below which the LLM is consulted.
const DefaultLLMThreshold = 0.7

// RejectedReasoning is the reasoning attached to guardrail rejections.
const RejectedReasoning = "not domain-relevant"

// Config configures a Classifier.
type Config struct {
	// LLMThreshold defaults to DefaultLLMThreshold when zero.
	LLMThreshold float64
}

// Classifier combines the guardrail, rule scoring, and the LLM fallback into
// one decision. It holds no per-query state and is safe for concurrent use.
type Classifier struct {
	guard     *guardrail.Guardrail
	rules     *RuleClassifier
	llm       *LLMClassifier
	threshold float64
	logger    *slog.Logger
}

// New creates a Classifier. llmClassifier may be nil to disable the fallback.
func New(guard *guardrail.Guardrail, rules *RuleClassifier, llmClassifier *LLMClassifier, cfg Config, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LLMThreshold <= 0 {
		cfg.LLMThreshold = DefaultLLMThreshold
	}
	return &Classifier{
		guard:     guard,
		rules:     rules,
		llm:       llmClassifier,
		threshold: cfg.LLMThreshold,
		logger:    logger,
	}
}

// Classify returns the final decision for q.
func (c *Classifier) Classify(ctx context.Context, q domain.Query) domain.ClassificationResult {
	ctx, span := otel.Tracer("classifier").Start(ctx, "classifier.Classify",
		trace.WithAttributes(attribute.Int("query_length", len(q.Text))),
	)
	defer span.End()

	entities := ExtractEntities(q.Text)

	if !c.guard.IsInDomain(q.Text) {
		metrics.GuardrailRejections.Inc()
		c.logger.Info("Query rejected by guardrail", "query", truncate(q.Text, 100))
		span.SetAttributes(attribute.Bool("rejected", true))
		return domain.ClassificationResult{
			Intent:     domain.IntentUnknown,
			Confidence: 1.0,
			Entities:   entities,
			Reasoning:  RejectedReasoning,
			Rejected:   true,
		}
	}

	ruleResult := c.rules.Classify(q.Text)
	source := "rules"
	final := ruleResult

	if ruleResult.Confidence < c.threshold && c.llm != nil {
		llmResult := c.llm.Classify(ctx, q.Text, q.Context.ConversationHistory)
		final, source = Combine(ruleResult, llmResult)
		c.logger.Debug("LLM fallback consulted",
			"rule_intent", ruleResult.Intent,
			"rule_confidence", ruleResult.Confidence,
			"llm_intent", llmResult.Intent,
			"llm_confidence", llmResult.Confidence,
			"winner", source,
		)
	}

	final.Entities = mergeEntities(entities, final.Entities)
	final.Confidence = domain.ClampConfidence(final.Confidence)

	metrics.Classifications.WithLabelValues(string(final.Intent), source).Inc()
	span.SetAttributes(
		attribute.String("intent", string(final.Intent)),
		attribute.Float64("confidence", final.Confidence),
		attribute.String("source", source),
	)
	c.logger.Info("Classification result",
		"intent", final.Intent,
		"confidence", final.Confidence,
		"source", source,
		"reasoning", final.Reasoning,
	)
	return final
}

// Combine merges the rule and LLM decisions. Agreement keeps the intent with
// the larger confidence. Disagreement picks the more confident result; ties
// go to the rules. The returned source names the winner.
func Combine(rules, model domain.ClassificationResult) (domain.ClassificationResult, string) {
	if rules.Intent == model.Intent {
		out := rules
		if model.Confidence > rules.Confidence {
			out.Confidence = model.Confidence
		}
		out.Reasoning = fmt.Sprintf("%s; %s (agreement)", rules.Reasoning, model.Reasoning)
		return out, "agreement"
	}

	if model.Confidence > rules.Confidence {
		out := model
		out.SecondaryIntents = withoutIntent(rules.SecondaryIntents, model.Intent)
		out.Reasoning = fmt.Sprintf("%s; overrides %s", model.Reasoning, rules.Reasoning)
		return out, "llm"
	}
	out := rules
	out.Reasoning = fmt.Sprintf("%s; kept over %s", rules.Reasoning, model.Reasoning)
	return out, "rules"
}

func withoutIntent(in []domain.ScoredIntent, intent domain.Intent) []domain.ScoredIntent {
	var out []domain.ScoredIntent
	for _, s := range in {
		if s.Intent != intent {
			out = append(out, s)
		}
	}
	return out
}

func mergeEntities(lists ...[]string) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, list := range lists {
		for _, e := range list {
			if _, dup := seen[e]; dup {
				continue
			}
			seen[e] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
