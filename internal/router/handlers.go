package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/catalyze/internal/domain"
	"github.com/ashureev/catalyze/internal/generation"
	"github.com/ashureev/catalyze/internal/llm"
)

// Handler answers queries of one intent. Implementations are shared across
// requests and must not keep per-query state.
type Handler interface {
	Handle(ctx context.Context, q domain.Query, c domain.ClassificationResult) (domain.RouterResult, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, q domain.Query, c domain.ClassificationResult) (domain.RouterResult, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, q domain.Query, c domain.ClassificationResult) (domain.RouterResult, error) {
	return f(ctx, q, c)
}

const maxPromptHistory = 6

// PromptHandler answers with a single completion built from a domain prompt.
type PromptHandler struct {
	name      string
	system    string
	prompt    func(query string) string
	completer llm.Completer
	logger    *slog.Logger
}

// NewResearchHandler answers property, mechanism, and explanation questions.
func NewResearchHandler(completer llm.Completer, logger *slog.Logger) *PromptHandler {
	return newPromptHandler("research", researchSystem, researchPrompt, completer, logger)
}

// NewProtocolHandler writes step-by-step lab procedures.
func NewProtocolHandler(completer llm.Completer, logger *slog.Logger) *PromptHandler {
	return newPromptHandler("protocol", protocolSystem, protocolPrompt, completer, logger)
}

// NewSafetyHandler produces hazard assessments.
func NewSafetyHandler(completer llm.Completer, logger *slog.Logger) *PromptHandler {
	return newPromptHandler("safety", safetySystem, safetyPrompt, completer, logger)
}

func newPromptHandler(name, system string, prompt func(string) string, completer llm.Completer, logger *slog.Logger) *PromptHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PromptHandler{
		name:      name,
		system:    system,
		prompt:    prompt,
		completer: completer,
		logger:    logger.With("handler", name),
	}
}

// Handle implements Handler.
func (h *PromptHandler) Handle(ctx context.Context, q domain.Query, _ domain.ClassificationResult) (domain.RouterResult, error) {
	prompt := withConversation(q.Context, h.prompt(q.Text))
	out, err := h.completer.Complete(ctx, prompt, h.system)
	if err != nil {
		return domain.RouterResult{}, fmt.Errorf("%s completion: %w", h.name, err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return domain.RouterResult{}, fmt.Errorf("%s completion: %w", h.name, llm.ErrEmptyCompletion)
	}
	h.logger.Info("Generated response", "chars", len(out))
	return domain.RouterResult{Success: true, Response: out}, nil
}

func withConversation(qc domain.QueryContext, prompt string) string {
	var b strings.Builder
	if qc.Memory != "" {
		b.WriteString(qc.Memory)
		b.WriteString("\n\n")
	}
	history := qc.ConversationHistory
	if len(history) > maxPromptHistory {
		history = history[len(history)-maxPromptHistory:]
	}
	if len(history) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, m := range history {
			fmt.Fprintf(&b, "- %s: %s\n", m.Role, m.Content)
		}
		b.WriteString("\n")
	}
	b.WriteString(prompt)
	return b.String()
}

const researchSystem = "You are a chemistry research assistant. Answer questions about chemical properties, structures, reactions, and mechanisms accurately and concisely. Say so when you are unsure."

func researchPrompt(query string) string {
	return "Research question: " + query + `

Explain the relevant chemical properties, mechanisms, or background. Include formulas, molecular weights, or reaction equations where they help.`
}

const protocolSystem = "You are a laboratory protocol specialist. Generate detailed, step-by-step lab procedures for synthesis, analysis, and experiments. Always include safety precautions, materials, quantities, temperatures, and timing."

func protocolPrompt(query string) string {
	return "Generate a detailed lab protocol for: " + query + `

Include:
1. Objective/Purpose
2. Materials and Equipment
3. Safety Precautions
4. Step-by-step Procedure (numbered)
5. Expected Results
6. Troubleshooting Tips

Make it detailed, safe, and reproducible for laboratory use.`
}

const safetySystem = "You are a chemical safety specialist. Analyze hazards, recommend PPE and safe handling procedures, and give clear, actionable guidance. Prioritize human safety and environmental protection."

func safetyPrompt(query string) string {
	return "Provide a comprehensive safety analysis for: " + query + `

Include:
1. Hazard Identification
2. Risk Assessment (High/Medium/Low)
3. Safety Precautions and PPE Requirements
4. Emergency Procedures
5. Storage and Handling Guidelines
6. Disposal Considerations
7. Regulatory Information (if applicable)`
}

// Pipeline runs validated generation sessions.
type Pipeline interface {
	Run(ctx context.Context, req generation.Request, observe generation.Observer) (*domain.GenerationSession, error)
}

// AutomateHandler answers automation requests with simulator-validated code.
type AutomateHandler struct {
	pipeline        Pipeline
	defaultPlatform domain.Platform
	logger          *slog.Logger
}

// NewAutomateHandler creates an AutomateHandler. Requests that name no
// platform target defaultPlatform.
func NewAutomateHandler(pipeline Pipeline, defaultPlatform domain.Platform, logger *slog.Logger) *AutomateHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultPlatform == "" {
		defaultPlatform = domain.PlatformOT2
	}
	return &AutomateHandler{pipeline: pipeline, defaultPlatform: defaultPlatform, logger: logger.With("handler", "automate")}
}

// Handle implements Handler.
func (h *AutomateHandler) Handle(ctx context.Context, q domain.Query, _ domain.ClassificationResult) (domain.RouterResult, error) {
	platform := domain.DetectPlatform(q.Context.PlatformHint, q.Text, h.defaultPlatform)
	s, err := h.pipeline.Run(ctx, generation.Request{
		Instructions: q.Text,
		Platform:     platform,
		MaxRetries:   -1,
		Context:      q.Context,
	}, nil)
	if err != nil {
		return domain.RouterResult{}, fmt.Errorf("generate protocol: %w", err)
	}
	h.logger.Info("Generation finished", "session_id", s.ID, "status", s.Status, "attempts", len(s.Attempts))
	return SessionResult(s), nil
}

// SessionResult formats a finished generation session as a response. The
// last attempt's verdict is carried over unchanged.
func SessionResult(s *domain.GenerationSession) domain.RouterResult {
	res := domain.RouterResult{
		Platform:  string(s.Platform),
		Attempts:  len(s.Attempts),
		SessionID: s.ID,
	}
	last, ok := s.Last()
	if !ok {
		res.Response = "I could not generate a protocol: " + s.FailureReason
		return res
	}
	last.Validation.ApplyTo(&res)
	res.Code = last.Code

	var b strings.Builder
	if s.Status == domain.StatusSuccess {
		fmt.Fprintf(&b, "Here is an Opentrons protocol for the %s that passed simulation on attempt %d of %d.\n\n",
			platformLabel(s.Platform), len(s.Attempts), s.MaxAttempts())
		fmt.Fprintf(&b, "```python\n%s\n```", strings.TrimRight(last.Code, "\n"))
		writeList(&b, "Warnings", last.Validation.Warnings)
	} else {
		fmt.Fprintf(&b, "I could not generate a protocol for the %s that passes simulation after %d attempts.",
			platformLabel(s.Platform), len(s.Attempts))
		writeList(&b, "Errors", last.Validation.Errors)
		writeList(&b, "Suggestions", last.Validation.Suggestions)
		if last.Code != "" {
			fmt.Fprintf(&b, "\n\nLast attempt:\n\n```python\n%s\n```", strings.TrimRight(last.Code, "\n"))
		}
	}
	res.Response = b.String()
	return res
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n\n**%s:**", title)
	for _, it := range items {
		b.WriteString("\n- ")
		b.WriteString(it)
	}
}

func platformLabel(p domain.Platform) string {
	switch p {
	case domain.PlatformOT2:
		return "OT-2"
	case domain.PlatformFlex:
		return "Flex"
	default:
		return "robot"
	}
}

// DefaultHandlers builds the handler registry used by the service.
func DefaultHandlers(completer llm.Completer, pipeline Pipeline, defaultPlatform domain.Platform, logger *slog.Logger) map[domain.Intent]Handler {
	return map[domain.Intent]Handler{
		domain.IntentResearch: NewResearchHandler(completer, logger),
		domain.IntentProtocol: NewProtocolHandler(completer, logger),
		domain.IntentSafety:   NewSafetyHandler(completer, logger),
		domain.IntentAutomate: NewAutomateHandler(pipeline, defaultPlatform, logger),
	}
}
