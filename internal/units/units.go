// Package units provides the reference execution units the CLI registers:
// member lookup, visit history, class scheduling, search, analytics and
// document drafting over a small in-memory fitness center dataset.
package units

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	dragonscale "github.com/ZanzyTHEbar/dragonscale-orchestrator"
	"github.com/ZanzyTHEbar/dragonscale-orchestrator/internal/adapters"
)

const (
	Lookup     = "lookup"
	History    = "history"
	Scheduling = "scheduling"
	Search     = "search"
	Analytics  = "analytics"
	Document   = "document"
)

// Member is a member profile.
type Member struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Membership string `json:"membership"`
	Status     string `json:"status"`
}

// Visit is one recorded check-in.
type Visit struct {
	Date  string `json:"date"`
	Class string `json:"class"`
}

// Class is a scheduled class offering.
type Class struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Trainer  string `json:"trainer"`
	Day      string `json:"day"`
	Slots    int    `json:"slots"`
}

// Dataset is the data the reference units read.
type Dataset struct {
	Members map[int]Member
	Visits  map[int][]Visit
	Classes []Class
}

// DefaultDataset returns the built-in demo data.
func DefaultDataset() Dataset {
	return Dataset{
		Members: map[int]Member{
			1: {ID: 1, Name: "Avery Stone", Membership: "gold", Status: "active"},
			2: {ID: 2, Name: "Jordan Reyes", Membership: "basic", Status: "paused"},
		},
		Visits: map[int][]Visit{
			1: {
				{Date: "2026-09-28", Class: "yoga"},
				{Date: "2026-10-02", Class: "spin"},
				{Date: "2026-10-09", Class: "yoga"},
			},
		},
		Classes: []Class{
			{Name: "yoga", Category: "mind-body", Trainer: "Sam", Day: "friday", Slots: 4},
			{Name: "pilates", Category: "mind-body", Trainer: "Lee", Day: "monday", Slots: 0},
			{Name: "spin", Category: "cardio", Trainer: "Kai", Day: "wednesday", Slots: 10},
			{Name: "boxing", Category: "strength", Trainer: "Kai", Day: "saturday", Slots: 6},
		},
	}
}

// Option configures the reference units.
type Option func(*settings)

type settings struct {
	dataset Dataset
	latency time.Duration
}

// WithDataset replaces the demo data.
func WithDataset(d Dataset) Option {
	return func(s *settings) {
		s.dataset = d
	}
}

// WithLatency makes every unit wait before answering, honoring cancellation.
func WithLatency(d time.Duration) Option {
	return func(s *settings) {
		s.latency = d
	}
}

// Register adds the reference units and their dependencies to registry.
func Register(registry *dragonscale.Registry, options ...Option) error {
	s := &settings{dataset: DefaultDataset()}
	for _, option := range options {
		option(s)
	}

	entries := []struct {
		unit *adapters.GoUnitAdapter
		opts []dragonscale.UnitOption
	}{
		{unit: s.lookupUnit()},
		{unit: s.historyUnit(), opts: []dragonscale.UnitOption{dragonscale.WithDependsOn(Lookup)}},
		{unit: s.schedulingUnit(), opts: []dragonscale.UnitOption{dragonscale.WithDependsOn(Lookup)}},
		{unit: s.searchUnit()},
		{unit: s.analyticsUnit(), opts: []dragonscale.UnitOption{dragonscale.WithDependsOn(Search)}},
		{unit: s.documentUnit(), opts: []dragonscale.UnitOption{dragonscale.WithDependsOn(Search), dragonscale.WithOptionalDependencies()}},
	}
	for _, entry := range entries {
		if err := registry.Register(entry.unit, entry.opts...); err != nil {
			return err
		}
	}
	return nil
}

func (s *settings) wait(ctx context.Context) error {
	if s.latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func requireActor(sc dragonscale.SharedContext, _ dragonscale.StepInput) error {
	if _, ok := sc.ActorID(); !ok {
		return fmt.Errorf("request has no actor")
	}
	return nil
}

func (s *settings) lookupUnit() *adapters.GoUnitAdapter {
	return adapters.NewGoUnitAdapter(Lookup,
		func(ctx context.Context, sc dragonscale.SharedContext, _ dragonscale.StepInput) (any, error) {
			if err := s.wait(ctx); err != nil {
				return nil, err
			}
			actorID, _ := sc.ActorID()
			member, ok := s.dataset.Members[actorID]
			if !ok {
				return nil, fmt.Errorf("member %d not found", actorID)
			}
			return map[string]any{
				"member_id":  member.ID,
				"name":       member.Name,
				"membership": member.Membership,
				"status":     member.Status,
			}, nil
		},
		adapters.WithCapabilities("member"),
		adapters.WithDescription("Looks up the requesting member's profile."),
		adapters.WithReturns("member_id, name, membership, status"),
		adapters.WithValidator(requireActor),
	)
}

func (s *settings) historyUnit() *adapters.GoUnitAdapter {
	return adapters.NewGoUnitAdapter(History,
		func(ctx context.Context, sc dragonscale.SharedContext, _ dragonscale.StepInput) (any, error) {
			if err := s.wait(ctx); err != nil {
				return nil, err
			}
			actorID, _ := sc.ActorID()
			visits := s.dataset.Visits[actorID]
			out := make([]map[string]any, 0, len(visits))
			for _, v := range visits {
				out = append(out, map[string]any{"date": v.Date, "class": v.Class})
			}
			result := map[string]any{"visits": out, "visit_count": len(visits)}
			if len(visits) > 0 {
				result["last_visit"] = visits[len(visits)-1].Date
			}
			return result, nil
		},
		adapters.WithCapabilities("history"),
		adapters.WithDescription("Lists the member's recent visits."),
		adapters.WithReturns("visits, visit_count, last_visit"),
		adapters.WithValidator(requireActor),
	)
}

func (s *settings) schedulingUnit() *adapters.GoUnitAdapter {
	return adapters.NewGoUnitAdapter(Scheduling,
		func(ctx context.Context, sc dragonscale.SharedContext, input dragonscale.StepInput) (any, error) {
			if err := s.wait(ctx); err != nil {
				return nil, err
			}
			if profile, ok := input.Dependencies[Lookup].(map[string]any); ok && profile["status"] != "active" {
				return nil, fmt.Errorf("membership is %v", profile["status"])
			}
			wanted := matchClasses(s.dataset.Classes, sc.Query(), input.Intent)
			available := make([]map[string]any, 0, len(wanted))
			for _, c := range wanted {
				if c.Slots > 0 {
					available = append(available, map[string]any{"class": c.Name, "day": c.Day, "trainer": c.Trainer, "slots": c.Slots})
				}
			}
			return map[string]any{"available_classes": available}, nil
		},
		adapters.WithCapabilities("scheduling"),
		adapters.WithDescription("Finds open class slots for an active member."),
		adapters.WithReturns("available_classes"),
	)
}

func (s *settings) searchUnit() *adapters.GoUnitAdapter {
	return adapters.NewGoUnitAdapter(Search,
		func(ctx context.Context, sc dragonscale.SharedContext, input dragonscale.StepInput) (any, error) {
			if err := s.wait(ctx); err != nil {
				return nil, err
			}
			matches := matchClasses(s.dataset.Classes, sc.Query(), input.Intent)
			out := make([]map[string]any, 0, len(matches))
			for _, c := range matches {
				out = append(out, map[string]any{"class": c.Name, "category": c.Category, "trainer": c.Trainer, "day": c.Day})
			}
			return map[string]any{"matches": out}, nil
		},
		adapters.WithCapabilities("search"),
		adapters.WithDescription("Searches the class catalog by query terms."),
		adapters.WithReturns("matches"),
	)
}

func (s *settings) analyticsUnit() *adapters.GoUnitAdapter {
	return adapters.NewGoUnitAdapter(Analytics,
		func(ctx context.Context, _ dragonscale.SharedContext, input dragonscale.StepInput) (any, error) {
			if err := s.wait(ctx); err != nil {
				return nil, err
			}
			byCategory := map[string]int{}
			totalSlots := 0
			for _, c := range s.dataset.Classes {
				byCategory[c.Category]++
				totalSlots += c.Slots
			}
			result := map[string]any{
				"class_count":  len(s.dataset.Classes),
				"open_slots":   totalSlots,
				"by_category":  byCategory,
				"member_count": len(s.dataset.Members),
			}
			if found, ok := input.Dependencies[Search].(map[string]any); ok {
				if matches, ok := found["matches"].([]map[string]any); ok {
					result["match_count"] = len(matches)
				}
			}
			return result, nil
		},
		adapters.WithCapabilities("analytics"),
		adapters.WithDescription("Summarizes class and membership statistics."),
		adapters.WithReturns("class_count, open_slots, by_category, member_count, match_count"),
	)
}

func (s *settings) documentUnit() *adapters.GoUnitAdapter {
	return adapters.NewGoUnitAdapter(Document,
		func(ctx context.Context, sc dragonscale.SharedContext, input dragonscale.StepInput) (any, error) {
			if err := s.wait(ctx); err != nil {
				return nil, err
			}
			var b strings.Builder
			fmt.Fprintf(&b, "Draft: %s\n", sc.Query())
			if found, ok := input.Dependencies[Search].(map[string]any); ok {
				if matches, ok := found["matches"].([]map[string]any); ok && len(matches) > 0 {
					b.WriteString("Referenced classes:\n")
					for _, m := range matches {
						fmt.Fprintf(&b, "- %v with %v on %v\n", m["class"], m["trainer"], m["day"])
					}
				}
			}
			return map[string]any{"document": b.String()}, nil
		},
		adapters.WithCapabilities("document"),
		adapters.WithDescription("Drafts a document, citing search results when available."),
		adapters.WithReturns("document"),
	)
}

// matchClasses returns classes named, categorized or taught as the query or
// intent keywords mention, sorted by name. No mention matches every class.
func matchClasses(classes []Class, query string, intent dragonscale.IntentResult) []Class {
	terms := strings.ToLower(query + " " + strings.Join(intent.Keywords, " "))
	var matched []Class
	for _, c := range classes {
		if strings.Contains(terms, c.Name) || strings.Contains(terms, c.Category) || strings.Contains(terms, strings.ToLower(c.Trainer)) {
			matched = append(matched, c)
		}
	}
	if len(matched) == 0 {
		matched = append(matched, classes...)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })
	return matched
}
