package synthesizer

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dragonscale "github.com/ZanzyTHEbar/dragonscale-orchestrator"
)

func answerRequest() dragonscale.SynthesisRequest {
	return dragonscale.SynthesisRequest{
		Query:  "show my membership",
		Intent: dragonscale.IntentResult{IntentType: dragonscale.IntentMemberInquiry, Confidence: 0.9},
		Aggregated: dragonscale.AggregatedResult{
			ByUnit: map[string]any{
				"lookup":  map[string]any{"status": "active"},
				"history": "3 visits this week",
			},
			SuccessCount: 2,
		},
	}
}

func TestSynthesize_RedirectOnEarlyExit(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	s := New(WithBackend(BackendFunc(func(context.Context, Request) (string, error) {
		calls.Add(1)
		return `{"summary":"never"}`, nil
	})))

	irrelevant := s.Synthesize(context.Background(), dragonscale.SynthesisRequest{
		Intent: dragonscale.IntentResult{IntentType: dragonscale.IntentIrrelevant, Confidence: 0.95},
	})
	assert.Equal(t, dragonscale.ResponseRedirect, irrelevant.Kind)
	require.Len(t, irrelevant.Sections, 1)
	assert.Equal(t, "What I can help with", irrelevant.Sections[0].Title)
	assert.Contains(t, irrelevant.Summary, "outside")

	unclear := s.Synthesize(context.Background(), dragonscale.SynthesisRequest{
		Intent: dragonscale.IntentResult{IntentType: dragonscale.IntentUnclear, Confidence: 0.1, Keywords: []string{"locker"}},
	})
	assert.Equal(t, dragonscale.ResponseRedirect, unclear.Kind)
	assert.Contains(t, unclear.Summary, "locker")
	assert.NotEqual(t, irrelevant.Summary, unclear.Summary)

	assert.Equal(t, int32(0), calls.Load())
}

func TestSynthesize_AllFailedIsError(t *testing.T) {
	t.Parallel()
	resp := New().Synthesize(context.Background(), dragonscale.SynthesisRequest{
		Intent: dragonscale.IntentResult{IntentType: dragonscale.IntentSearch, Confidence: 0.8},
		Aggregated: dragonscale.AggregatedResult{
			ByUnit:       map[string]any{},
			FailureCount: 1,
			SkippedCount: 1,
			FailedUnits:  []string{"search"},
			SkippedUnits: []string{"analytics"},
		},
	})
	assert.Equal(t, dragonscale.ResponseError, resp.Kind)
	assert.Empty(t, resp.Sections)
	assert.Contains(t, resp.Summary, "could not retrieve any data")
}

func TestSynthesize_BackendSuccess(t *testing.T) {
	t.Parallel()
	var seen Request
	s := New(WithBackend(BackendFunc(func(_ context.Context, req Request) (string, error) {
		seen = req
		return "```json\n" + `{"sections":[{"title":"Membership","content":"Active until May","priority":"HIGH"},{"title":"Visits","content":"3","priority":"urgent"}],"summary":"You're all set."}` + "\n```", nil
	})))

	req := answerRequest()
	req.Memories = []dragonscale.MemoryRecord{{SessionID: "old", Summary: "asked about pricing"}}
	resp := s.Synthesize(context.Background(), req)

	assert.Equal(t, dragonscale.ResponseAnswer, resp.Kind)
	require.Len(t, resp.Sections, 2)
	assert.Equal(t, dragonscale.PriorityHigh, resp.Sections[0].Priority)
	assert.Equal(t, dragonscale.PriorityMedium, resp.Sections[1].Priority)
	assert.Equal(t, "You're all set.", resp.Summary)

	assert.Equal(t, "member_inquiry", seen.Intent)
	assert.Equal(t, []string{"asked about pricing"}, seen.Memories)
	assert.Contains(t, seen.Data, "active")
}

func TestSynthesize_BackendRetriedOnceThenTemplate(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	s := New(WithBackend(BackendFunc(func(context.Context, Request) (string, error) {
		if calls.Add(1) == 1 {
			return "", errors.New("503")
		}
		return `{"sections":[],"summary":""}`, nil
	})))

	resp := s.Synthesize(context.Background(), answerRequest())
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, dragonscale.ResponseAnswer, resp.Kind)
	require.Len(t, resp.Sections, 2)
	assert.Equal(t, "Results from history", resp.Sections[0].Title)
	assert.Equal(t, "3 visits this week", resp.Sections[0].Content)
	assert.Equal(t, dragonscale.PriorityHigh, resp.Sections[0].Priority)
	assert.Equal(t, "Results from lookup", resp.Sections[1].Title)
	assert.Contains(t, resp.Sections[1].Content, `"status": "active"`)
	assert.Equal(t, dragonscale.PriorityMedium, resp.Sections[1].Priority)
	assert.Equal(t, "Here is what I found for your request.", resp.Summary)
}

func TestSynthesize_DegradedNote(t *testing.T) {
	t.Parallel()
	req := answerRequest()
	req.Aggregated.FailureCount = 1
	req.Aggregated.FailedUnits = []string{"scheduling"}
	req.Aggregated.SkippedCount = 1
	req.Aggregated.SkippedUnits = []string{"document"}

	resp := New().Synthesize(context.Background(), req)
	assert.True(t, strings.HasSuffix(resp.Summary, "Some data could not be retrieved: document, scheduling."), resp.Summary)

	withBackend := New(WithBackend(BackendFunc(func(context.Context, Request) (string, error) {
		return `{"summary":"Partial answer."}`, nil
	}))).Synthesize(context.Background(), req)
	assert.Equal(t, "Partial answer. Some data could not be retrieved: document, scheduling.", withBackend.Summary)
}

func TestSynthesize_TemplateIsDeterministic(t *testing.T) {
	t.Parallel()
	s := New()
	first := s.Synthesize(context.Background(), answerRequest())
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, s.Synthesize(context.Background(), answerRequest()))
	}
}

func TestErrorResponse(t *testing.T) {
	t.Parallel()
	s := New()
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"plan validation", dragonscale.NewPlanValidationError("cycle", nil), "plan"},
		{"cancelled", dragonscale.NewCancelledError("execution", context.Canceled), "cancelled"},
		{"validation", dragonscale.NewValidationError("classification", "empty", nil), "empty"},
		{"internal", errors.New("boom"), "Something went wrong"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp := s.ErrorResponse(tt.err)
			assert.Equal(t, dragonscale.ResponseError, resp.Kind)
			assert.Empty(t, resp.Sections)
			assert.Contains(t, resp.Summary, tt.want)
		})
	}
}

func TestTruncatedData(t *testing.T) {
	t.Parallel()
	big := map[string]any{"notes": strings.Repeat("회원", 3000)}
	data := TruncatedData(big)
	assert.LessOrEqual(t, len(data), MaxDataBytes)
	assert.True(t, utf8.ValidString(data))

	small := TruncatedData(map[string]any{"a": 1})
	assert.Equal(t, `{"a":1}`, small)
}

func TestParsePayload(t *testing.T) {
	t.Parallel()
	_, err := ParsePayload("no json here")
	assert.True(t, dragonscale.IsCode(err, dragonscale.ErrCodeSynthesisFault))

	_, err = ParsePayload(`{"sections":[{"title":"","content":""}]}`)
	assert.Error(t, err)

	p, err := ParsePayload(`{"summary":"only summary"}`)
	require.NoError(t, err)
	assert.Empty(t, p.Sections)
	assert.Equal(t, "only summary", p.Summary)
}
