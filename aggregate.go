package dragonscale

import "sort"

// Aggregate merges a terminal plan's step results. It performs no I/O and
// returns structurally identical output for the same plan.
//
// Results are merged in plan order (batch order, then step id within a batch),
// so a later writer wins both in ByUnit and in Fields.
func Aggregate(plan *ExecutionPlan) AggregatedResult {
	agg := AggregatedResult{ByUnit: map[string]any{}}
	if plan == nil {
		return agg
	}

	writers := map[string]string{}
	conflicts := map[string]struct{}{}

	for _, step := range plan.OrderedSteps() {
		switch step.Status() {
		case StepCompleted:
			agg.SuccessCount++
			result := step.Result()
			agg.ByUnit[step.UnitName] = result
			fields, ok := result.(map[string]any)
			if !ok {
				continue
			}
			if agg.Fields == nil {
				agg.Fields = map[string]any{}
			}
			for key, value := range fields {
				if prev, seen := writers[key]; seen && prev != step.UnitName {
					conflicts[key] = struct{}{}
				}
				writers[key] = step.UnitName
				agg.Fields[key] = value
			}
		case StepFailed:
			agg.FailureCount++
			agg.FailedUnits = append(agg.FailedUnits, step.UnitName)
		case StepSkipped:
			agg.SkippedCount++
			agg.SkippedUnits = append(agg.SkippedUnits, step.UnitName)
		}
	}

	sort.Strings(agg.FailedUnits)
	sort.Strings(agg.SkippedUnits)
	for key := range conflicts {
		agg.Conflicts = append(agg.Conflicts, key)
	}
	sort.Strings(agg.Conflicts)
	return agg
}
