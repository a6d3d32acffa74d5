package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	dragonscale "github.com/ZanzyTHEbar/dragonscale-orchestrator"
)

func TestKeywordMatcher_Match(t *testing.T) {
	t.Parallel()
	m := NewKeywordMatcher()
	tests := []struct {
		name       string
		query      string
		intent     dragonscale.IntentType
		confidence float64
		keywords   []string
	}{
		{"no match", "what's the weather", dragonscale.IntentUnclear, 0, []string{}},
		{"single keyword", "show my profile", dragonscale.IntentMemberInquiry, 0.3, []string{"profile"}},
		{"case insensitive", "BOOK a CLASS", dragonscale.IntentBooking, 0.6, []string{"book", "class"}},
		{"confidence capped", "analyze the revenue trend report with statistics", dragonscale.IntentAnalysis, 1.0,
			[]string{"analyze", "report", "trend", "statistics", "revenue"}},
		{"tie goes to earlier intent", "account schedule", dragonscale.IntentMemberInquiry, 0.3, []string{"account"}},
		{"distinct keywords only", "draft draft draft", dragonscale.IntentDocumentGeneration, 0.3, []string{"draft"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := m.Match(tt.query)
			assert.Equal(t, tt.intent, got.IntentType)
			assert.InDelta(t, tt.confidence, got.Confidence, 1e-9)
			assert.Equal(t, tt.keywords, got.Keywords)
			assert.True(t, got.UsedFallback)
		})
	}
}

func TestKeywordMatcher_Deterministic(t *testing.T) {
	t.Parallel()
	m := NewKeywordMatcher()
	first := m.Match("write a contract and book a room")
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, m.Match("write a contract and book a room"))
	}
	assert.Equal(t, first, NewKeywordMatcher().Match("write a contract and book a room"))
}

func TestKeywordMatcher_CustomTable(t *testing.T) {
	t.Parallel()
	m := NewKeywordMatcher(IntentKeywords{Intent: dragonscale.IntentSearch, Keywords: []string{"Locker"}})
	got := m.Match("where is my locker")
	assert.Equal(t, dragonscale.IntentSearch, got.IntentType)
	assert.Equal(t, []string{"locker"}, got.Keywords)
}
