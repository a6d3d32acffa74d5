// Package synthesizer turns aggregated results into the final response.
package synthesizer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	dragonscale "github.com/ZanzyTHEbar/dragonscale-orchestrator"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/eventbus"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/logging"
)

const (
	// MaxDataBytes bounds the aggregated JSON handed to the backend.
	MaxDataBytes = 4000

	maxAttempts = 2

	helpTitle       = "What I can help with"
	templateSummary = "Here is what I found for your request."
	noDataSummary   = "I could not retrieve any data for your request. Please try again later."
)

// Request is what the generation backend receives.
type Request struct {
	Query       string            `json:"query"`
	Intent      string            `json:"intent"`
	Confidence  float64           `json:"confidence"`
	Keywords    []string          `json:"keywords,omitempty"`
	Entities    map[string]string `json:"entities,omitempty"`
	Data        string            `json:"data"`
	FailedUnits []string          `json:"failed_units,omitempty"`
	Memories    []string          `json:"memories,omitempty"`
}

// Backend returns the raw generation payload for a request.
type Backend interface {
	Synthesize(ctx context.Context, req Request) (string, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, req Request) (string, error)

func (f BackendFunc) Synthesize(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Capability is one line of the help section shown on redirects.
type Capability struct {
	Intent      dragonscale.IntentType
	Description string
}

// DefaultCapabilities describes the supported intents.
func DefaultCapabilities() []Capability {
	return []Capability{
		{dragonscale.IntentMemberInquiry, "Member information such as membership status and visit history"},
		{dragonscale.IntentBooking, "Booking classes, sessions and appointments"},
		{dragonscale.IntentAnalysis, "Reports and trend analysis"},
		{dragonscale.IntentSearch, "Searching programs, facilities and documents"},
		{dragonscale.IntentDocumentGeneration, "Drafting documents and contracts"},
	}
}

// Synthesizer implements dragonscale.Synthesizer.
type Synthesizer struct {
	backend      Backend
	capabilities []Capability
	logger       logging.Logger
	eventBus     eventbus.EventBus
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithBackend sets the generation backend.
func WithBackend(backend Backend) Option {
	return func(s *Synthesizer) {
		s.backend = backend
	}
}

// WithCapabilities overrides the help section contents.
func WithCapabilities(capabilities []Capability) Option {
	return func(s *Synthesizer) {
		s.capabilities = capabilities
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Synthesizer) {
		s.logger = logger
	}
}

// WithEventBus publishes synthesis events.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(s *Synthesizer) {
		s.eventBus = bus
	}
}

// New creates a synthesizer. Without a backend it always uses the template.
func New(options ...Option) *Synthesizer {
	s := &Synthesizer{capabilities: DefaultCapabilities()}
	for _, option := range options {
		option(s)
	}
	s.logger = logging.OrNop(s.logger)
	return s
}

// Synthesize always returns a response; backend failures fall back to the template.
func (s *Synthesizer) Synthesize(ctx context.Context, req dragonscale.SynthesisRequest) dragonscale.FinalResponse {
	agg := req.Aggregated
	intentType := req.Intent.IntentType

	if agg.Total() == 0 {
		return s.Redirect(req.Intent)
	}
	if agg.SuccessCount == 0 {
		s.logger.Warn("No unit produced data", map[string]interface{}{"failed_units": agg.UnsuccessfulUnits()})
		return dragonscale.FinalResponse{
			Kind:     dragonscale.ResponseError,
			Intent:   intentType,
			Sections: []dragonscale.Section{},
			Summary:  noDataSummary,
		}
	}

	s.emit(ctx, eventbus.EventSynthesisStarted, intentType, nil)

	if s.backend != nil {
		payload, err := s.callBackend(ctx, req)
		if err == nil {
			s.emit(ctx, eventbus.EventSynthesisSuccess, intentType, nil)
			return dragonscale.FinalResponse{
				Kind:     dragonscale.ResponseAnswer,
				Intent:   intentType,
				Sections: payload.Sections,
				Summary:  withDegradedNote(payload.Summary, agg),
			}
		}
		s.logger.Warn("Synthesis backend failed, using template", map[string]interface{}{"error": err})
		s.emit(context.WithoutCancel(ctx), eventbus.EventSynthesisFallback, intentType, map[string]interface{}{"reason": err.Error()})
	}

	return s.Template(req)
}

func (s *Synthesizer) callBackend(ctx context.Context, req dragonscale.SynthesisRequest) (Payload, error) {
	backendReq := BuildRequest(req)
	var lastFault error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Payload{}, dragonscale.NewSynthesisFault("synthesis interrupted", err)
		}
		raw, err := s.backend.Synthesize(ctx, backendReq)
		if err != nil {
			lastFault = dragonscale.NewSynthesisFault("synthesis backend call failed", err)
		} else {
			payload, parseErr := ParsePayload(raw)
			if parseErr == nil {
				return payload, nil
			}
			lastFault = parseErr
		}
		s.logger.Debug("Synthesis attempt failed", map[string]interface{}{"attempt": attempt, "error": lastFault})
	}
	return Payload{}, lastFault
}

// BuildRequest assembles the backend request from the synthesis inputs.
func BuildRequest(req dragonscale.SynthesisRequest) Request {
	memories := make([]string, 0, len(req.Memories))
	for _, m := range req.Memories {
		memories = append(memories, m.Summary)
	}
	return Request{
		Query:       req.Query,
		Intent:      string(req.Intent.IntentType),
		Confidence:  req.Intent.Confidence,
		Keywords:    req.Intent.Keywords,
		Entities:    req.Intent.Entities,
		Data:        TruncatedData(req.Aggregated.ByUnit),
		FailedUnits: req.Aggregated.UnsuccessfulUnits(),
		Memories:    memories,
	}
}

// TruncatedData renders byUnit as JSON cut to MaxDataBytes on a rune boundary.
func TruncatedData(byUnit map[string]any) string {
	data, err := json.Marshal(byUnit)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", byUnit))
	}
	if len(data) <= MaxDataBytes {
		return string(data)
	}
	cut := MaxDataBytes
	for cut > 0 && !utf8.RuneStart(data[cut]) {
		cut--
	}
	return string(data[:cut])
}

// Template builds the deterministic answer used when no backend is available.
func (s *Synthesizer) Template(req dragonscale.SynthesisRequest) dragonscale.FinalResponse {
	agg := req.Aggregated
	units := make([]string, 0, len(agg.ByUnit))
	for unit := range agg.ByUnit {
		units = append(units, unit)
	}
	sort.Strings(units)

	sections := make([]dragonscale.Section, 0, len(units))
	for _, unit := range units {
		content := renderResult(agg.ByUnit[unit])
		if content == "" {
			continue
		}
		priority := dragonscale.PriorityMedium
		if len(sections) == 0 {
			priority = dragonscale.PriorityHigh
		}
		sections = append(sections, dragonscale.Section{
			Title:    "Results from " + unit,
			Content:  content,
			Priority: priority,
		})
	}

	return dragonscale.FinalResponse{
		Kind:     dragonscale.ResponseAnswer,
		Intent:   req.Intent.IntentType,
		Sections: sections,
		Summary:  withDegradedNote(templateSummary, agg),
	}
}

func renderResult(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		if string(data) == "null" || string(data) == "{}" || string(data) == "[]" {
			return ""
		}
		return string(data)
	}
}

// DegradedNote is appended to summaries when some units did not complete.
func DegradedNote(agg dragonscale.AggregatedResult) string {
	if !agg.Degraded() {
		return ""
	}
	return fmt.Sprintf("Some data could not be retrieved: %s.", strings.Join(agg.UnsuccessfulUnits(), ", "))
}

func withDegradedNote(summary string, agg dragonscale.AggregatedResult) string {
	note := DegradedNote(agg)
	if note == "" || strings.Contains(summary, note) {
		return summary
	}
	if summary == "" {
		return note
	}
	return summary + " " + note
}

// Redirect builds the early-exit response for intent.
func (s *Synthesizer) Redirect(intent dragonscale.IntentResult) dragonscale.FinalResponse {
	var summary string
	if intent.IntentType == dragonscale.IntentIrrelevant {
		summary = "Your request appears to be outside what I can help with here. Please ask about one of the topics below."
	} else {
		summary = "I'm not sure what you need yet. Could you tell me a bit more about your request?"
		if len(intent.Keywords) > 0 {
			summary += fmt.Sprintf(" I picked up on: %s.", strings.Join(intent.Keywords, ", "))
		}
	}

	lines := make([]string, 0, len(s.capabilities))
	for _, c := range s.capabilities {
		lines = append(lines, "- "+c.Description)
	}
	return dragonscale.FinalResponse{
		Kind:   dragonscale.ResponseRedirect,
		Intent: intent.IntentType,
		Sections: []dragonscale.Section{{
			Title:    helpTitle,
			Content:  strings.Join(lines, "\n"),
			Priority: dragonscale.PriorityHigh,
		}},
		Summary: summary,
	}
}

// ErrorResponse renders a request-fatal error for the caller.
func (s *Synthesizer) ErrorResponse(err error) dragonscale.FinalResponse {
	var summary string
	switch dragonscale.ErrorCode(err) {
	case dragonscale.ErrCodePlanValidation:
		summary = "I could not put together a plan for this request because of a configuration problem. Please try again later."
	case dragonscale.ErrCodeCancelled, dragonscale.ErrCodeTimeout:
		summary = "The request was cancelled or took too long before any results were available."
	case dragonscale.ErrCodeValidation:
		summary = "The request could not be processed because it was empty or malformed."
	case dragonscale.ErrCodeConfiguration:
		summary = "The service is not configured correctly."
	default:
		summary = "Something went wrong while processing your request."
	}
	return dragonscale.FinalResponse{
		Kind:     dragonscale.ResponseError,
		Sections: []dragonscale.Section{},
		Summary:  summary,
	}
}

func (s *Synthesizer) emit(ctx context.Context, eventType eventbus.EventType, payload interface{}, metadata map[string]interface{}) {
	eventbus.Emit(ctx, s.eventBus, eventType, payload, "Synthesizer", metadata)
}
