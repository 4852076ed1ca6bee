package classifier

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/ashureev/catalyze/internal/domain"
	"github.com/ashureev/catalyze/internal/guardrail"
	"gopkg.in/yaml.v3"
)

// Rule weights.
const (
	PatternWeight         = 5
	KeywordWeight         = 1
	PriorityKeywordWeight = 3
)

//go:embed rules.yaml
var defaultRulesYAML []byte

// IntentRules is the scoring vocabulary of one intent.
type IntentRules struct {
	Patterns         []string `yaml:"patterns"`
	Keywords         []string `yaml:"keywords"`
	PriorityKeywords []string `yaml:"priority_keywords"`
}

// RuleSet is the full rule file. A zero Guardrail section means the
// built-in guardrail vocabularies.
type RuleSet struct {
	Guardrail *guardrail.Lists              `yaml:"guardrail,omitempty"`
	Intents   map[domain.Intent]IntentRules `yaml:"intents"`
}

// DefaultRuleSet parses the embedded rules.
func DefaultRuleSet() (RuleSet, error) {
	return ParseRuleSet(defaultRulesYAML)
}

// LoadRuleSet reads a YAML rule file from disk.
func LoadRuleSet(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("read rules %s: %w", path, err)
	}
	return ParseRuleSet(data)
}

// ParseRuleSet decodes and validates YAML rules.
func ParseRuleSet(data []byte) (RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return RuleSet{}, fmt.Errorf("decode rules: %w", err)
	}
	for intent := range rs.Intents {
		if intent == domain.IntentUnknown || domain.ParseIntent(string(intent)) != intent {
			return RuleSet{}, fmt.Errorf("rules: unsupported intent %q", intent)
		}
	}
	if len(rs.Intents) == 0 {
		return RuleSet{}, fmt.Errorf("rules: no intents defined")
	}
	return rs, nil
}

// GuardrailLists returns the rule file's guardrail section, or the defaults.
func (rs RuleSet) GuardrailLists() guardrail.Lists {
	if rs.Guardrail == nil {
		return guardrail.DefaultLists()
	}
	return *rs.Guardrail
}

type compiledIntent struct {
	intent   domain.Intent
	patterns []*regexp.Regexp
	keywords []keyword
	priority []keyword
}

type keyword struct {
	text string
	re   *regexp.Regexp
}

func (k keyword) match(lower string) bool {
	if strings.Contains(k.text, " ") && strings.Contains(lower, k.text) {
		return true
	}
	return k.re.MatchString(lower)
}

// compileKeyword builds a matcher. Multi-word keywords also match with other
// words in between, in order.
func compileKeyword(text string) (keyword, error) {
	text = strings.ToLower(strings.TrimSpace(text))
	words := strings.Fields(text)
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	re, err := regexp.Compile(`\b` + strings.Join(quoted, `\b.*\b`) + `\b`)
	if err != nil {
		return keyword{}, err
	}
	return keyword{text: text, re: re}, nil
}

// RuleScores holds the raw per-intent scores for one query.
type RuleScores struct {
	Scores    map[domain.Intent]int
	WordCount int
	Matched   map[domain.Intent][]string
}

// RuleClassifier is the deterministic scorer. It is immutable after
// construction and safe for concurrent use.
type RuleClassifier struct {
	intents []compiledIntent
}

// NewRuleClassifier compiles rs.
func NewRuleClassifier(rs RuleSet) (*RuleClassifier, error) {
	rc := &RuleClassifier{}
	for _, intent := range domain.Intents {
		rules, ok := rs.Intents[intent]
		if !ok {
			continue
		}
		ci := compiledIntent{intent: intent}
		for _, p := range rules.Patterns {
			re, err := regexp.Compile(`(?i)` + p)
			if err != nil {
				return nil, fmt.Errorf("compile %s pattern %q: %w", intent, p, err)
			}
			ci.patterns = append(ci.patterns, re)
		}
		for _, k := range rules.Keywords {
			kw, err := compileKeyword(k)
			if err != nil {
				return nil, fmt.Errorf("compile %s keyword %q: %w", intent, k, err)
			}
			ci.keywords = append(ci.keywords, kw)
		}
		for _, k := range rules.PriorityKeywords {
			kw, err := compileKeyword(k)
			if err != nil {
				return nil, fmt.Errorf("compile %s priority keyword %q: %w", intent, k, err)
			}
			ci.priority = append(ci.priority, kw)
		}
		rc.intents = append(rc.intents, ci)
	}
	return rc, nil
}

// Score computes raw per-intent scores.
func (rc *RuleClassifier) Score(query string) RuleScores {
	lower := strings.ToLower(query)
	out := RuleScores{
		Scores:    make(map[domain.Intent]int, len(rc.intents)),
		Matched:   make(map[domain.Intent][]string, len(rc.intents)),
		WordCount: len(strings.Fields(query)),
	}
	for _, ci := range rc.intents {
		score := 0
		for _, re := range ci.patterns {
			if re.MatchString(query) {
				score += PatternWeight
				out.Matched[ci.intent] = append(out.Matched[ci.intent], "pattern:"+re.String())
			}
		}
		for _, kw := range ci.priority {
			if kw.match(lower) {
				score += PriorityKeywordWeight
				out.Matched[ci.intent] = append(out.Matched[ci.intent], kw.text)
			}
		}
		for _, kw := range ci.keywords {
			if kw.match(lower) {
				score += KeywordWeight
				out.Matched[ci.intent] = append(out.Matched[ci.intent], kw.text)
			}
		}
		out.Scores[ci.intent] = score
	}
	return out
}

// Classify returns the rule-based decision. Entities are left empty.
func (rc *RuleClassifier) Classify(query string) domain.ClassificationResult {
	rs := rc.Score(query)

	ranked := make([]domain.Intent, 0, len(rs.Scores))
	for _, intent := range domain.Intents {
		if rs.Scores[intent] > 0 {
			ranked = append(ranked, intent)
		}
	}
	// Stable sort keeps domain.Intents order on ties.
	sort.SliceStable(ranked, func(i, j int) bool {
		return rs.Scores[ranked[i]] > rs.Scores[ranked[j]]
	})

	if len(ranked) == 0 || rs.WordCount == 0 {
		return domain.ClassificationResult{
			Intent:     domain.IntentUnknown,
			Confidence: 0,
			Entities:   []string{},
			Reasoning:  "rules: no intent patterns or keywords matched",
		}
	}

	best := ranked[0]
	bestScore := float64(rs.Scores[best])
	confidence := math.Min(bestScore/(float64(rs.WordCount)*0.5), 1.0)

	var secondary []domain.ScoredIntent
	for _, intent := range ranked[1:] {
		if len(secondary) == 2 {
			break
		}
		secondary = append(secondary, domain.ScoredIntent{
			Intent: intent,
			Score:  float64(rs.Scores[intent]) / bestScore,
		})
	}

	return domain.ClassificationResult{
		Intent:           best,
		Confidence:       domain.ClampConfidence(confidence),
		Entities:         []string{},
		Reasoning:        fmt.Sprintf("rules: %s scored %d over %d words (matched %s)", best, rs.Scores[best], rs.WordCount, strings.Join(rs.Matched[best], ", ")),
		SecondaryIntents: secondary,
	}
}
