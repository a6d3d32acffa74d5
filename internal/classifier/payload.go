package classifier

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	dragonscale "github.com/ZanzyTHEbar/dragonscale-orchestrator"
)

// ExtractJSONObject returns the first JSON object embedded in raw, tolerating
// surrounding prose and markdown code fences.
func ExtractJSONObject(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if gjson.Valid(trimmed) && strings.HasPrefix(trimmed, "{") {
		return trimmed, true
	}
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return "", false
	}
	candidate := trimmed[start : end+1]
	if !gjson.Valid(candidate) {
		return "", false
	}
	return candidate, true
}

// ParsePayload decodes a backend classification payload.
func ParsePayload(raw string) (dragonscale.IntentResult, error) {
	body, ok := ExtractJSONObject(raw)
	if !ok {
		return dragonscale.IntentResult{}, dragonscale.NewClassificationFault("payload is not a JSON object", nil)
	}

	intentField := gjson.Get(body, "intent_type")
	if !intentField.Exists() {
		intentField = gjson.Get(body, "intent")
	}
	if intentField.Type != gjson.String {
		return dragonscale.IntentResult{}, dragonscale.NewClassificationFault("payload has no intent type", nil)
	}
	intentType, ok := dragonscale.ParseIntentType(intentField.String())
	if !ok {
		return dragonscale.IntentResult{}, dragonscale.NewClassificationFault(fmt.Sprintf("unknown intent type '%s'", intentField.String()), nil)
	}

	confidenceField := gjson.Get(body, "confidence")
	if confidenceField.Type != gjson.Number {
		return dragonscale.IntentResult{}, dragonscale.NewClassificationFault("payload has no numeric confidence", nil)
	}

	result := dragonscale.IntentResult{
		IntentType: intentType,
		Confidence: confidenceField.Float(),
		Keywords:   []string{},
		Entities:   map[string]string{},
	}

	if keywords := gjson.Get(body, "keywords"); keywords.Exists() {
		if !keywords.IsArray() {
			return dragonscale.IntentResult{}, dragonscale.NewClassificationFault("keywords is not an array", nil)
		}
		for _, kw := range keywords.Array() {
			if kw.Type != gjson.String {
				return dragonscale.IntentResult{}, dragonscale.NewClassificationFault("keywords must be strings", nil)
			}
			result.Keywords = append(result.Keywords, kw.String())
		}
	}

	if entities := gjson.Get(body, "entities"); entities.Exists() && entities.Type != gjson.Null {
		if !entities.IsObject() {
			return dragonscale.IntentResult{}, dragonscale.NewClassificationFault("entities is not an object", nil)
		}
		entities.ForEach(func(key, value gjson.Result) bool {
			result.Entities[key.String()] = value.String()
			return true
		})
	}

	if err := result.Validate(); err != nil {
		return dragonscale.IntentResult{}, dragonscale.NewClassificationFault("payload failed validation", err)
	}
	return result, nil
}
