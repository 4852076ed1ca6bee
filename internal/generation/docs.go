package generation

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/ashureev/catalyze/internal/domain"
)

//go:embed docs/*.md
var docsFS embed.FS

// DocSource supplies reference documentation for a generation request.
type DocSource interface {
	Lookup(ctx context.Context, instructions string) (string, error)
}

// EmbeddedDocs serves the platform notes compiled into the binary.
type EmbeddedDocs struct{}

// Lookup selects notes by the platform words in instructions: "flex" selects
// the Flex notes, "ot-2", "ot2", or "protocol" the OT-2 notes, and neither
// selects both. The API essentials are always included.
func (EmbeddedDocs) Lookup(_ context.Context, instructions string) (string, error) {
	lower := strings.ToLower(instructions)
	var names []string
	if domain.MentionsPlatform(instructions, domain.PlatformFlex) {
		names = append(names, "flex")
	}
	if domain.MentionsPlatform(instructions, domain.PlatformOT2) || strings.Contains(lower, "protocol") {
		names = append(names, "ot2")
	}
	if len(names) == 0 {
		names = []string{"ot2", "flex"}
	}
	names = append(names, "api")

	parts := make([]string, 0, len(names))
	for _, name := range names {
		data, err := docsFS.ReadFile("docs/" + name + ".md")
		if err != nil {
			return "", fmt.Errorf("read %s notes: %w", name, err)
		}
		parts = append(parts, strings.TrimSpace(string(data)))
	}
	return strings.Join(parts, "\n\n"), nil
}
