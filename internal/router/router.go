// Package router turns a query into a response: it classifies the query,
// applies the confidence policy, and dispatches to one handler per intent.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/ashureev/catalyze/internal/domain"
	"github.com/ashureev/catalyze/internal/metrics"
	"github.com/ashureev/catalyze/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Confidence thresholds applied after classification.
const (
	ClarifyBelow      = 0.3
	DisambiguateBelow = 0.8
)

// Fixed responses.
const (
	RefusalResponse = "I specialize in chemistry and laboratory work. Please ask me about chemical compounds, lab protocols, automation, or safety procedures."

	ClarificationResponse = "I'm not quite sure what you need. Could you say whether you want research information, a lab protocol, automation code, or a safety review?"

	CapabilitiesResponse = "Sorry, I can help you with chemistry and lab-related questions! I can assist with:\n\n" +
		"• **Research questions** - Chemical compounds, reactions, properties\n" +
		"• **Protocol generation** - Lab procedures and experimental methods\n" +
		"• **Lab automation** - Opentrons protocols and automation scripts\n" +
		"• **Safety analysis** - Chemical hazards and safety procedures\n\n" +
		"Please ask me something related to chemistry or laboratory work!"
)

// ErrMissingHandler is returned by New when a routable intent has no handler.
var ErrMissingHandler = errors.New("missing handler")

// Classifier decides the intent of a query.
type Classifier interface {
	Classify(ctx context.Context, q domain.Query) domain.ClassificationResult
}

// Memory is the per-thread conversation store.
type Memory interface {
	Record(ctx context.Context, threadID, role, content string) error
	Context(ctx context.Context, threadID string) (store.ThreadContext, error)
}

// Router dispatches classified queries. The handler map is built once by New
// and never modified, so a Router is safe for concurrent use.
type Router struct {
	classifier Classifier
	handlers   map[domain.Intent]Handler
	memory     Memory
	logger     *slog.Logger
}

// New creates a Router. Every intent in domain.Intents must have a handler.
// memory may be nil.
func New(classifier Classifier, handlers map[domain.Intent]Handler, memory Memory, logger *slog.Logger) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, intent := range domain.Intents {
		if handlers[intent] == nil {
			return nil, fmt.Errorf("%w for intent %q", ErrMissingHandler, intent)
		}
	}
	return &Router{
		classifier: classifier,
		handlers:   maps.Clone(handlers),
		memory:     memory,
		logger:     logger,
	}, nil
}

// Process answers q. It never fails: infrastructure problems are reported in
// the response text.
func (r *Router) Process(ctx context.Context, q domain.Query) domain.RouterResult {
	ctx, span := otel.Tracer("router").Start(ctx, "router.Process",
		trace.WithAttributes(attribute.String("thread_id", q.Context.ThreadID)),
	)
	defer span.End()

	q = r.withMemory(ctx, q)
	c := r.classifier.Classify(ctx, q)

	res, outcome := r.decide(ctx, q, c)
	res.Intent = string(c.Intent)
	res.Confidence = c.Confidence
	res.ThreadID = q.Context.ThreadID

	metrics.RouterOutcomes.WithLabelValues(outcome).Inc()
	span.SetAttributes(
		attribute.String("intent", string(c.Intent)),
		attribute.String("outcome", outcome),
	)
	r.logger.Info("Query routed",
		"intent", c.Intent,
		"confidence", c.Confidence,
		"outcome", outcome,
		"thread_id", q.Context.ThreadID,
	)

	r.remember(ctx, q, res)
	return res
}

func (r *Router) decide(ctx context.Context, q domain.Query, c domain.ClassificationResult) (domain.RouterResult, string) {
	switch {
	case c.Rejected:
		return domain.RouterResult{Success: false, Response: RefusalResponse}, "refused"
	case c.Confidence < ClarifyBelow:
		return domain.RouterResult{Success: true, Response: ClarificationResponse}, "clarify"
	case c.Intent == domain.IntentUnknown:
		return domain.RouterResult{Success: true, Response: CapabilitiesResponse}, "capabilities"
	}

	h := r.handlers[c.Intent]
	res, err := h.Handle(ctx, q, c)
	if err != nil {
		r.logger.Error("Handler failed", "intent", c.Intent, "error", err)
		return domain.RouterResult{
			Success:  false,
			Response: fmt.Sprintf("I encountered an issue while processing your %s request: %v", c.Intent, err),
		}, "handler_error"
	}
	if c.Confidence < DisambiguateBelow {
		res.Response += disambiguationNote(c)
	}
	return res, "dispatched"
}

func disambiguationNote(c domain.ClassificationResult) string {
	return fmt.Sprintf("\n\n_Note: I treated this as a %s request (%s, confidence %.0f%%). If you meant something else, please rephrase._",
		c.Intent, c.Intent.Description(), c.Confidence*100)
}

// withMemory fills the query context from the thread store. Caller-supplied
// history wins over stored history.
func (r *Router) withMemory(ctx context.Context, q domain.Query) domain.Query {
	if r.memory == nil || q.Context.ThreadID == "" {
		return q
	}
	tc, err := r.memory.Context(ctx, q.Context.ThreadID)
	if err != nil {
		r.logger.Warn("Failed to load thread context", "thread_id", q.Context.ThreadID, "error", err)
		return q
	}
	if len(q.Context.ConversationHistory) == 0 {
		q.Context.ConversationHistory = tc.History
	}
	q.Context.Memory = tc.Summary
	return q
}

func (r *Router) remember(ctx context.Context, q domain.Query, res domain.RouterResult) {
	if r.memory == nil || q.Context.ThreadID == "" {
		return
	}
	// Record even when the request was cancelled mid-flight.
	ctx = context.WithoutCancel(ctx)
	if err := r.memory.Record(ctx, q.Context.ThreadID, "user", q.Text); err != nil {
		r.logger.Warn("Failed to record user message", "thread_id", q.Context.ThreadID, "error", err)
		return
	}
	if err := r.memory.Record(ctx, q.Context.ThreadID, "assistant", res.Response); err != nil {
		r.logger.Warn("Failed to record assistant message", "thread_id", q.Context.ThreadID, "error", err)
	}
}

// Status describes the router and its handlers.
type Status struct {
	Router           string            `json:"router"`
	IntentClassifier string            `json:"intent_classifier"`
	Handlers         map[string]string `json:"specialized_agents"`
}

// Status reports every registered handler as available.
func (r *Router) Status() Status {
	st := Status{
		Router:           "active",
		IntentClassifier: "active",
		Handlers:         make(map[string]string, len(r.handlers)),
	}
	for intent := range r.handlers {
		st.Handlers[string(intent)] = "available"
	}
	return st
}
