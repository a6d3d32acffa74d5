package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dragonscale "github.com/ZanzyTHEbar/dragonscale-orchestrator"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/classifier"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/synthesizer"
)

func messagesServer(t *testing.T, status int, body string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, seen)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const okMessage = `{
  "id": "msg_1",
  "type": "message",
  "role": "assistant",
  "model": "claude-sonnet-4-20250514",
  "content": [{"type": "text", "text": "{\"intent\":\"search\","}, {"type": "text", "text": "\"confidence\":0.7}"}],
  "stop_reason": "end_turn",
  "usage": {"input_tokens": 12, "output_tokens": 7}
}`

func TestAnthropicGenerator_Generate(t *testing.T) {
	var seen map[string]any
	srv := messagesServer(t, http.StatusOK, okMessage, &seen)

	g, err := NewAnthropicGenerator(Config{APIKey: "test-key", BaseURL: srv.URL, MaxTokens: 256}, option.WithMaxRetries(0))
	require.NoError(t, err)
	assert.Equal(t, string(anthropic.ModelClaudeSonnet4_20250514), g.Model())

	out, err := g.Generate(context.Background(), "system text", "user text")
	require.NoError(t, err)
	assert.Equal(t, `{"intent":"search","confidence":0.7}`, out)

	in, outTok, calls := g.Usage()
	assert.Equal(t, int64(12), in)
	assert.Equal(t, int64(7), outTok)
	assert.Equal(t, 1, calls)

	assert.Equal(t, float64(256), seen["max_tokens"])
	assert.NotNil(t, seen["system"])
}

func TestAnthropicGenerator_ServerError(t *testing.T) {
	srv := messagesServer(t, http.StatusInternalServerError, `{"type":"error","error":{"type":"api_error","message":"boom"}}`, nil)
	g, err := NewAnthropicGenerator(Config{APIKey: "test-key", BaseURL: srv.URL}, option.WithMaxRetries(0))
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), "", "hi")
	assert.Error(t, err)
}

func TestAnthropicGenerator_RequiresKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewAnthropicGenerator(Config{})
	assert.Error(t, err)
}

func TestBedrockModel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, anthropic.Model("us.anthropic.claude-sonnet-4-20250514-v1:0"), bedrockModel(anthropic.ModelClaudeSonnet4_20250514))
	assert.Equal(t, anthropic.Model("custom"), bedrockModel("custom"))
}

func TestPrompts(t *testing.T) {
	t.Parallel()
	system := ClassificationSystemPrompt()
	for _, intent := range dragonscale.KnownIntents() {
		assert.Contains(t, system, string(intent))
	}

	prompt := ClassificationPrompt(classifier.Request{
		Query: "book yoga",
		Prior: []dragonscale.Turn{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}},
	})
	assert.Contains(t, prompt, "user: hi")
	assert.Contains(t, prompt, "Request: book yoga")

	synth := SynthesisPrompt(synthesizer.Request{
		Query:       "status",
		Intent:      "member_inquiry",
		Confidence:  0.9,
		Data:        `{"lookup":{"status":"active"}}`,
		FailedUnits: []string{"history"},
		Memories:    []string{"asked about pricing"},
	})
	assert.Contains(t, synth, "Intent: member_inquiry (confidence 0.90)")
	assert.Contains(t, synth, "Unavailable sources: history")
	assert.Contains(t, synth, "- asked about pricing")
	assert.Contains(t, synth, `"status":"active"`)
}
