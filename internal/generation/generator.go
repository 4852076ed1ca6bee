package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/catalyze/internal/domain"
	"github.com/ashureev/catalyze/internal/llm"
)

// ErrNoCode is returned when a completion contains no protocol code.
var ErrNoCode = errors.New("completion contained no code")

const generateSystemPrompt = "You are an expert Opentrons protocol developer. Generate complete, valid Opentrons Python protocols that follow the API specifications exactly."

// Generator produces one candidate protocol per attempt.
type Generator interface {
	Generate(ctx context.Context, instructions string, qctx domain.QueryContext, attempt int, platform domain.Platform) (string, error)
}

// LLMGenerator asks the completion capability for code and falls back to a
// template protocol when the completion fails or contains no code.
type LLMGenerator struct {
	completer llm.Completer
	docs      DocSource
	logger    *slog.Logger
}

// NewLLMGenerator creates a generator. docs may be nil.
func NewLLMGenerator(completer llm.Completer, docs DocSource, logger *slog.Logger) *LLMGenerator {
	if completer == nil {
		completer = llm.Disabled{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMGenerator{completer: completer, docs: docs, logger: logger}
}

// Generate implements Generator.
func (g *LLMGenerator) Generate(ctx context.Context, instructions string, qctx domain.QueryContext, attempt int, platform domain.Platform) (string, error) {
	core := coreInstruction(instructions)
	docs := g.lookupDocs(ctx, core)

	raw, err := g.completer.Complete(ctx, buildGeneratePrompt(instructions, docs, qctx.Memory, platform), generateSystemPrompt)
	if err == nil {
		code, codeErr := ExtractCode(raw)
		if codeErr == nil {
			g.logger.Info("Generated protocol with LLM", "attempt", attempt+1, "platform", platform)
			return code, nil
		}
		err = codeErr
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	g.logger.Warn("LLM generation failed, falling back to template", "attempt", attempt+1, "error", err)
	return TemplateProtocol(instructions, platform, attempt)
}

func (g *LLMGenerator) lookupDocs(ctx context.Context, instructions string) string {
	if g.docs == nil {
		return "Opentrons documentation not available"
	}
	docs, err := g.docs.Lookup(ctx, instructions)
	if err != nil {
		g.logger.Warn("Documentation lookup failed", "error", err)
		return "Opentrons documentation temporarily unavailable"
	}
	return docs
}

func buildGeneratePrompt(instructions, docs, memory string, platform domain.Platform) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate a complete Opentrons protocol based on these instructions: %s\n\n", instructions)
	if memory != "" {
		fmt.Fprintf(&b, "Conversation context:\n%s\n\n", memory)
	}
	fmt.Fprintf(&b, "Use this Opentrons documentation as reference:\n%s\n\n", docs)
	b.WriteString("Requirements:\n")
	b.WriteString("1. Create a complete, functional Opentrons protocol\n")
	switch platform {
	case domain.PlatformFlex:
		b.WriteString("2. Include metadata with protocolName, author, and description, and requirements = {'robotType': 'Flex', 'apiLevel': '2.15'}\n")
		fmt.Fprintf(&b, "3. Target the Flex deck; valid deck slots are %s\n", strings.Join(flexSlots, ", "))
	default:
		b.WriteString("2. Include proper metadata with protocolName, author, description, and apiLevel '2.13'\n")
		fmt.Fprintf(&b, "3. Target the OT-2 deck; valid deck slots are %s\n", strings.Join(ot2Slots, ", "))
	}
	b.WriteString("4. Use appropriate labware and pipettes based on the protocol needs\n")
	b.WriteString("5. Make the code ready to simulate and follow Opentrons API best practices\n")
	b.WriteString("6. Only include Python code, no explanations\n\n")
	b.WriteString("Generate the complete Python code for the protocol (ONLY code, starting with imports):")
	return b.String()
}

// ExtractCode strips a surrounding ```python or ``` fence from a completion.
func ExtractCode(raw string) (string, error) {
	code := raw
	if _, after, ok := strings.Cut(code, "```python"); ok {
		code, _, _ = strings.Cut(after, "```")
	} else if _, after, ok := strings.Cut(code, "```"); ok {
		// Drop a language tag on the opening fence line.
		if nl := strings.IndexByte(after, '\n'); nl >= 0 && !strings.ContainsAny(after[:nl], " \t(=") {
			after = after[nl+1:]
		}
		code, _, _ = strings.Cut(after, "```")
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return "", ErrNoCode
	}
	return code, nil
}
