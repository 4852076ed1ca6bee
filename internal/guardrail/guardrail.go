// Package guardrail implements the domain-relevance gate applied to every
// query before classification.
package guardrail

import (
	"regexp"
	"strings"
)

// Lists holds the vocabularies the guardrail scores against.
type Lists struct {
	OffDomain     []string `yaml:"off_domain"`
	Domain        []string `yaml:"domain"`
	Interrogative []string `yaml:"interrogative"`
}

// DefaultLists returns the built-in vocabularies.
func DefaultLists() Lists {
	return Lists{
		OffDomain: []string{
			"depression", "anxiety", "mental health", "therapy", "counseling",
			"weather", "sports", "politics", "religion", "philosophy",
			"cooking", "recipe", "food", "restaurant", "travel", "vacation",
			"entertainment", "movie", "music", "book", "game", "hobby",
			"car", "vehicle", "repair", "fix", "maintenance",
		},
		Domain: []string{
			"chemical", "compound", "molecule", "element", "formula", "structure",
			"reaction", "synthesis", "catalyst", "solvent", "reagent", "product",
			"laboratory", "lab", "experiment", "protocol", "procedure", "method",
			"pipette", "beaker", "flask", "centrifuge", "spectrometer",
			"chromatography", "distillation", "extraction", "purification",
			"opentrons", "automation", "liquid handling", "ph", "concentration",
			"molarity", "molar", "mass", "volume", "density", "temperature",
			"pressure", "enzyme", "protein", "dna", "rna", "pcr", "polymerase",
			"safety", "hazard", "toxic", "flammable", "corrosive", "ppe",
			"what is", "how to", "explain", "tell me", "create", "generate",
			"make", "prepare", "analyze", "test", "measure", "calculate",
			"code", "script", "program", "automate", "robot", "robotic", "ot-2", "ot2", "flex",
			"96-well", "plate", "transfer", "dispense", "aspirate", "well", "wells",
		},
		Interrogative: []string{"what", "how", "explain", "tell", "create", "make", "generate"},
	}
}

var (
	formulaPattern = regexp.MustCompile(`\b[A-Z][a-z]?\d*\b`)
	unitPattern    = regexp.MustCompile(`\b\d+(?:\.\d+)?\s*(?:mg|g|kg|ml|l|ul|µl|μl|molar|m|mm|nm|pm|°c|°f|k|bar|psi|torr|atm)\b`)
	phPattern      = regexp.MustCompile(`\bph\s*[=:]?\s*\d+\.?\d*\b`)
)

// Verdict explains a guardrail decision.
type Verdict struct {
	InDomain     bool
	Score        int
	KeywordHits  int
	FormulaHits  int
	UnitHits     int
	PHHits       int
	OffDomainHit string
	Fallback     bool
}

// Guardrail is a pure function of the query text and safe for concurrent use.
type Guardrail struct {
	offDomain     []term
	domain        []term
	interrogative []term
}

type term struct {
	word string
	re   *regexp.Regexp
}

// New compiles the given vocabularies.
func New(lists Lists) *Guardrail {
	return &Guardrail{
		offDomain:     compileTerms(lists.OffDomain),
		domain:        compileTerms(lists.Domain),
		interrogative: compileTerms(lists.Interrogative),
	}
}

// Default returns a guardrail over DefaultLists.
func Default() *Guardrail {
	return New(DefaultLists())
}

func compileTerms(words []string) []term {
	out := make([]term, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		out = append(out, term{word: w, re: regexp.MustCompile(`\b` + regexp.QuoteMeta(w) + `\b`)})
	}
	return out
}

// IsInDomain reports whether the query is chemistry or lab related.
func (g *Guardrail) IsInDomain(query string) bool {
	return g.Evaluate(query).InDomain
}

// Evaluate scores the query and returns the full verdict.
func (g *Guardrail) Evaluate(query string) Verdict {
	lower := strings.ToLower(query)

	for _, t := range g.offDomain {
		if t.re.MatchString(lower) {
			return Verdict{InDomain: false, OffDomainHit: t.word}
		}
	}

	v := Verdict{}
	for _, t := range g.domain {
		if t.re.MatchString(lower) {
			v.KeywordHits++
		}
	}
	v.FormulaHits = len(formulaPattern.FindAllString(query, -1))
	v.UnitHits = len(unitPattern.FindAllString(lower, -1))
	v.PHHits = len(phPattern.FindAllString(lower, -1))
	v.Score = v.KeywordHits + 2*v.FormulaHits + v.UnitHits + v.PHHits

	if v.Score >= 1 {
		v.InDomain = true
		return v
	}
	for _, t := range g.interrogative {
		if t.re.MatchString(lower) {
			v.InDomain = true
			v.Fallback = true
			return v
		}
	}
	return v
}
