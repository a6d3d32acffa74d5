package classifier

import (
	"strings"

	dragonscale "github.com/ZanzyTHEbar/dragonscale-orchestrator"
)

const keywordWeight = 0.3

// IntentKeywords lists the keywords that vote for one intent.
type IntentKeywords struct {
	Intent   dragonscale.IntentType
	Keywords []string
}

// DefaultKeywordTable is the fallback table, in tie-break priority order.
func DefaultKeywordTable() []IntentKeywords {
	return []IntentKeywords{
		{Intent: dragonscale.IntentMemberInquiry, Keywords: []string{"member", "membership", "account", "profile"}},
		{Intent: dragonscale.IntentBooking, Keywords: []string{"book", "reserve", "appointment", "class", "schedule"}},
		{Intent: dragonscale.IntentAnalysis, Keywords: []string{"analyze", "report", "trend", "statistics", "revenue"}},
		{Intent: dragonscale.IntentSearch, Keywords: []string{"find", "search", "look up", "lookup"}},
		{Intent: dragonscale.IntentDocumentGeneration, Keywords: []string{"draft", "document", "write", "contract"}},
	}
}

// KeywordMatcher is the deterministic classifier used when the backend is unavailable.
type KeywordMatcher struct {
	table []IntentKeywords
}

// NewKeywordMatcher creates a matcher over table, or the default table when none is given.
func NewKeywordMatcher(table ...IntentKeywords) *KeywordMatcher {
	if len(table) == 0 {
		table = DefaultKeywordTable()
	}
	copied := make([]IntentKeywords, len(table))
	for i, entry := range table {
		keywords := make([]string, len(entry.Keywords))
		for j, kw := range entry.Keywords {
			keywords[j] = strings.ToLower(kw)
		}
		copied[i] = IntentKeywords{Intent: entry.Intent, Keywords: keywords}
	}
	return &KeywordMatcher{table: copied}
}

// Match scores every intent by its distinct keywords found in query. The
// highest score wins and ties go to the entry listed first.
func (m *KeywordMatcher) Match(query string) dragonscale.IntentResult {
	lowered := strings.ToLower(query)

	best := -1
	var bestMatched []string
	for i, entry := range m.table {
		var matched []string
		seen := make(map[string]bool, len(entry.Keywords))
		for _, kw := range entry.Keywords {
			if kw == "" || seen[kw] {
				continue
			}
			seen[kw] = true
			if strings.Contains(lowered, kw) {
				matched = append(matched, kw)
			}
		}
		if len(matched) > len(bestMatched) {
			best = i
			bestMatched = matched
		}
	}

	if best < 0 {
		return dragonscale.IntentResult{
			IntentType:   dragonscale.IntentUnclear,
			Confidence:   0,
			Keywords:     []string{},
			Entities:     map[string]string{},
			UsedFallback: true,
		}
	}

	confidence := float64(len(bestMatched)) * keywordWeight
	if confidence > 1.0 {
		confidence = 1.0
	}
	return dragonscale.IntentResult{
		IntentType:   m.table[best].Intent,
		Confidence:   confidence,
		Keywords:     bestMatched,
		Entities:     map[string]string{},
		UsedFallback: true,
	}
}
