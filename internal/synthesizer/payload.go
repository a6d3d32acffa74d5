package synthesizer

import (
	"strings"

	"github.com/tidwall/gjson"

	dragonscale "github.com/ZanzyTHEbar/dragonscale-orchestrator"
)

// Payload is the decoded shape of a generation backend response.
type Payload struct {
	Sections []dragonscale.Section
	Summary  string
}

// ParsePayload reads `sections[].title|content|priority` and `summary`,
// tolerating prose or code fences around the JSON object. A payload with
// neither sections nor a summary is a synthesis fault.
func ParsePayload(raw string) (Payload, error) {
	body, ok := extractObject(raw)
	if !ok {
		return Payload{}, dragonscale.NewSynthesisFault("payload is not a JSON object", nil)
	}

	var payload Payload
	gjson.Get(body, "sections").ForEach(func(_, section gjson.Result) bool {
		title := strings.TrimSpace(section.Get("title").String())
		content := strings.TrimSpace(section.Get("content").String())
		if title == "" && content == "" {
			return true
		}
		payload.Sections = append(payload.Sections, dragonscale.Section{
			Title:    title,
			Content:  content,
			Priority: dragonscale.ParsePriority(section.Get("priority").String()),
		})
		return true
	})
	payload.Summary = strings.TrimSpace(gjson.Get(body, "summary").String())

	if len(payload.Sections) == 0 && payload.Summary == "" {
		return Payload{}, dragonscale.NewSynthesisFault("payload has no sections and no summary", nil)
	}
	return payload, nil
}

func extractObject(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return "", false
	}
	candidate := trimmed[start : end+1]
	return candidate, gjson.Valid(candidate)
}
