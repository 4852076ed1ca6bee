package generation

import "strings"

// ImproveInstructions derives retry instructions from the original request
// and the previous attempt's diagnostics. It always starts from original so
// instructions do not grow across retries.
func ImproveInstructions(original string, errs, suggestions []string) string {
	var b strings.Builder
	b.WriteString(original)
	b.WriteString("\n\nPrevious attempt had the following issues:\n")
	b.WriteString(bulletList(errs))
	b.WriteString("\n\nPlease address these issues:\n")
	b.WriteString(bulletList(suggestions))
	b.WriteString("\n\nGenerate a corrected Opentrons protocol that fixes these problems.")
	return b.String()
}

func bulletList(items []string) string {
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = "- " + it
	}
	return strings.Join(lines, "\n")
}

// coreInstruction returns the user's request without any retry feedback.
func coreInstruction(instructions string) string {
	core, _, _ := strings.Cut(instructions, "\n\nPrevious attempt had the following issues:")
	return strings.TrimSpace(core)
}
