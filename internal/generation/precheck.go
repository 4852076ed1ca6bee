package generation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ashureev/catalyze/internal/domain"
)

var (
	ot2Slots  = []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11"}
	flexSlots = []string{
		"A1", "A2", "A3",
		"B1", "B2", "B3",
		"C1", "C2", "C3",
		"D1", "D2", "D3",
	}

	placementCall = regexp.MustCompile(`\.load_(?:labware|module)\(`)
	keywordArg    = regexp.MustCompile(`(?s)^([A-Za-z_]\w*)\s*=([^=].*)$`)
	slotLiteral   = regexp.MustCompile(`^(?:'([^']*)'|"([^"]*)"|(\d+))$`)

	flexSlotSyntax = regexp.MustCompile(`^[A-Da-d][1-4]$`)
	ot2SlotSyntax  = regexp.MustCompile(`^\d+$`)
)

// ValidSlots returns the deck slot vocabulary of p, or nil when the platform
// has no known deck.
func ValidSlots(p domain.Platform) []string {
	switch p {
	case domain.PlatformOT2:
		return ot2Slots
	case domain.PlatformFlex:
		return flexSlots
	default:
		return nil
	}
}

// PlacementSlots returns every literal slot passed to a placement call in
// code, in source order. The slot is the location= keyword wherever it
// appears, else the positional argument after the load name.
func PlacementSlots(code string) []string {
	var out []string
	for _, loc := range placementCall.FindAllStringIndex(code, -1) {
		if slot, ok := slotArg(callArgs(code, loc[1])); ok {
			out = append(out, slot)
		}
	}
	return out
}

// callArgs splits the argument list that begins at start, just past the
// opening parenthesis, into top-level arguments. Nested brackets and quoted
// strings are skipped.
func callArgs(code string, start int) []string {
	var (
		args  []string
		quote byte
		depth int
	)
	begin := start
	for i := start; i < len(code); i++ {
		c := code[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			if depth == 0 {
				return appendArg(args, code[begin:i])
			}
			depth--
		case ',':
			if depth == 0 {
				args = appendArg(args, code[begin:i])
				begin = i + 1
			}
		}
	}
	return appendArg(args, code[begin:])
}

func appendArg(args []string, arg string) []string {
	if arg = strings.TrimSpace(arg); arg != "" {
		args = append(args, arg)
	}
	return args
}

func slotArg(args []string) (string, bool) {
	var positional []string
	nameByKeyword := false
	for _, a := range args {
		m := keywordArg.FindStringSubmatch(a)
		if m == nil {
			positional = append(positional, a)
			continue
		}
		switch m[1] {
		case "location":
			return literalSlot(m[2])
		case "load_name", "module_name":
			nameByKeyword = true
		}
	}
	idx := 1
	if nameByKeyword {
		idx = 0
	}
	if idx < len(positional) {
		return literalSlot(positional[idx])
	}
	return "", false
}

func literalSlot(arg string) (string, bool) {
	m := slotLiteral.FindStringSubmatch(strings.TrimSpace(arg))
	if m == nil {
		return "", false
	}
	for _, g := range m[1:] {
		if g != "" {
			return g, true
		}
	}
	return "", false
}

// PrecheckDeckSlots checks every placement slot in code against the deck of
// platform. It returns one error per distinct invalid slot and never runs
// the protocol. Platforms without a known deck are not checked.
func PrecheckDeckSlots(code string, platform domain.Platform) []string {
	valid := ValidSlots(platform)
	if valid == nil {
		return nil
	}
	allowed := make(map[string]struct{}, len(valid))
	for _, s := range valid {
		allowed[s] = struct{}{}
	}

	var errs []string
	seen := make(map[string]struct{})
	for _, slot := range PlacementSlots(code) {
		if _, ok := allowed[slot]; ok {
			continue
		}
		if _, dup := seen[slot]; dup {
			continue
		}
		seen[slot] = struct{}{}
		errs = append(errs, slotError(slot, platform, valid))
	}
	return errs
}

func slotError(slot string, platform domain.Platform, valid []string) string {
	msg := fmt.Sprintf("Invalid deck slot '%s' for %s. Valid slots: %s", slot, platformName(platform), strings.Join(valid, ", "))
	switch {
	case platform == domain.PlatformOT2 && flexSlotSyntax.MatchString(slot):
		msg += ". Coordinate slots like 'A1' belong to the Flex deck; the OT-2 deck uses numbered slots"
	case platform == domain.PlatformFlex && ot2SlotSyntax.MatchString(slot):
		msg += ". Numbered slots belong to the OT-2 deck; the Flex deck uses coordinate slots like 'D1'"
	}
	return msg
}

func platformName(p domain.Platform) string {
	switch p {
	case domain.PlatformOT2:
		return "OT-2"
	case domain.PlatformFlex:
		return "Flex"
	default:
		return string(p)
	}
}
