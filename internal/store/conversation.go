package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ashureev/catalyze/internal/domain"
)

// Per-kind limits applied when summarizing a thread.
const (
	maxSummaryCompounds = 3
	maxSummaryProtocols = 2
	maxSummaryEquipment = 3

	defaultHistoryLimit = 6
)

var (
	compoundSuffixPattern = regexp.MustCompile(`(?i)\b[a-z][a-z-]{3,}(?:acid|ine|ane|ene|yne|ol|one|ide|ate)\b`)
	acidPattern           = regexp.MustCompile(`(?i)\b[a-z]+(?:ic|ous) acid\b`)
	formulaEntityPattern  = regexp.MustCompile(`\b(?:[A-Z][a-z]?\d*){2,}\b`)
	protocolForPattern    = regexp.MustCompile(`(?i)\bprotocol for ([^.!?\n]+)`)
	synthesisOfPattern    = regexp.MustCompile(`(?i)\bsynthesis of ([^.!?\n]+)`)
)

var commonCompounds = []string{
	"aspirin", "aspartame", "caffeine", "glucose", "sucrose", "ethanol", "methanol",
	"acetone", "benzene", "toluene", "sodium chloride", "water", "ammonia", "dmso",
}

var equipmentKeywords = []string{
	"opentrons", "ot-2", "ot2", "flex", "robot", "pipette", "p20", "p300", "p1000",
	"well plate", "plate", "tube rack", "reservoir", "tip rack", "tiprack",
	"spectrophotometer", "centrifuge", "incubator", "shaker", "thermocycler",
	"heater-shaker", "magnetic module", "temperature module",
}

// English words that carry a compound-like suffix.
var compoundStopwords = map[string]struct{}{
	"generate": {}, "create": {}, "separate": {}, "accurate": {}, "appropriate": {},
	"immediate": {}, "estimate": {}, "calculate": {}, "indicate": {}, "update": {},
	"determine": {}, "examine": {}, "combine": {}, "define": {}, "routine": {},
	"pipeline": {}, "machine": {}, "online": {}, "someone": {}, "anyone": {},
	"everyone": {}, "alone": {}, "control": {}, "protocol": {}, "simulate": {},
	"automate": {}, "translate": {}, "concentrate": {}, "guide": {}, "provide": {},
	"decide": {}, "inside": {}, "outside": {}, "aside": {}, "beside": {}, "side": {},
	"state": {}, "plate": {}, "template": {}, "complete": {}, "delete": {},
	"medicine": {}, "engine": {}, "imagine": {}, "done": {}, "none": {},
}

// ExtractThreadEntities pulls compounds, protocols, and equipment out of text.
func ExtractThreadEntities(text string) []Entity {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	lower := strings.ToLower(text)

	var out []Entity
	seen := make(map[Entity]struct{})
	add := func(kind, value string) {
		value = strings.TrimSpace(value)
		if len(value) < 3 {
			return
		}
		e := Entity{Kind: kind, Value: value}
		if _, dup := seen[e]; dup {
			return
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}

	for _, m := range acidPattern.FindAllString(lower, -1) {
		add(EntityCompound, m)
	}
	for _, c := range commonCompounds {
		if containsWord(lower, c) {
			add(EntityCompound, c)
		}
	}
	for _, m := range compoundSuffixPattern.FindAllString(lower, -1) {
		if _, stop := compoundStopwords[m]; stop {
			continue
		}
		if strings.Contains(lower, m+" acid") {
			continue
		}
		add(EntityCompound, m)
	}
	for _, m := range formulaEntityPattern.FindAllString(text, -1) {
		add(EntityCompound, m)
	}

	if m := protocolForPattern.FindStringSubmatch(lower); m != nil {
		add(EntityProtocol, m[1])
	}
	if m := synthesisOfPattern.FindStringSubmatch(lower); m != nil {
		add(EntityProtocol, "synthesis of "+strings.TrimSpace(m[1]))
	}

	for _, k := range equipmentKeywords {
		if containsWord(lower, k) {
			add(EntityEquipment, k)
		}
	}
	return out
}

func containsWord(lower, word string) bool {
	idx := 0
	for {
		i := strings.Index(lower[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		if (start == 0 || !isWordByte(lower[start-1])) && (end == len(lower) || !isWordByte(lower[end])) {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}

// ThreadContext is what a handler sees of a thread's past.
type ThreadContext struct {
	History []domain.Message
	// Summary names the thread's key entities, or is empty.
	Summary string
}

// ConversationStore is the per-thread conversation memory. Threads are
// created on their first message and removed by Clear or the retention
// worker.
type ConversationStore struct {
	repo         Repository
	historyLimit int
}

// NewConversationStore wraps repo. historyLimit defaults to six messages.
func NewConversationStore(repo Repository, historyLimit int) *ConversationStore {
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	return &ConversationStore{repo: repo, historyLimit: historyLimit}
}

// Record appends a message and its extracted entities to a thread.
func (c *ConversationStore) Record(ctx context.Context, threadID, role, content string) error {
	if threadID == "" || strings.TrimSpace(content) == "" {
		return nil
	}
	if _, err := c.repo.AppendMessage(ctx, threadID, StoredMessage{Role: role, Content: content}, ExtractThreadEntities(content)); err != nil {
		return fmt.Errorf("record %s message: %w", role, err)
	}
	return nil
}

// Context returns the recent history and entity summary of a thread. An
// unknown thread yields an empty context.
func (c *ConversationStore) Context(ctx context.Context, threadID string) (ThreadContext, error) {
	if threadID == "" {
		return ThreadContext{}, nil
	}
	msgs, err := c.repo.RecentMessages(ctx, threadID, c.historyLimit)
	if err != nil {
		return ThreadContext{}, fmt.Errorf("load history: %w", err)
	}
	entities, err := c.repo.ThreadEntities(ctx, threadID)
	if err != nil {
		return ThreadContext{}, fmt.Errorf("load entities: %w", err)
	}

	tc := ThreadContext{Summary: Summarize(entities)}
	for _, m := range msgs {
		tc.History = append(tc.History, domain.Message{Role: m.Role, Content: m.Content})
	}
	return tc, nil
}

// Clear removes a thread.
func (c *ConversationStore) Clear(ctx context.Context, threadID string) error {
	return c.repo.ClearThread(ctx, threadID)
}

// Summarize formats up to three compounds, two protocols, and three pieces
// of equipment into one line.
func Summarize(entities []Entity) string {
	groups := map[string][]string{}
	for _, e := range entities {
		groups[e.Kind] = append(groups[e.Kind], e.Value)
	}

	var parts []string
	for _, g := range []struct {
		kind, label string
		limit       int
	}{
		{EntityCompound, "Compounds", maxSummaryCompounds},
		{EntityProtocol, "Protocols", maxSummaryProtocols},
		{EntityEquipment, "Equipment", maxSummaryEquipment},
	} {
		values := groups[g.kind]
		if len(values) == 0 {
			continue
		}
		if len(values) > g.limit {
			values = values[:g.limit]
		}
		parts = append(parts, g.label+": "+strings.Join(values, ", "))
	}
	if len(parts) == 0 {
		return ""
	}
	return "Key entities from conversation: " + strings.Join(parts, "; ")
}
