// Package execution holds the data model the Execution Engine operates
// over: batch-scoped data-fetch context and the aggregated result of
// running a rule pipeline across a dataset. The orchestration itself
// (the three execution modes) lives in internal/service/engine, which
// depends on this package plus ruleset.
package execution

import (
	"time"

	"github.com/decisiongrid/rulecore/internal/domain/ruleset"
)

// Mode selects how the Engine schedules item × rule work.
type Mode string

const (
	// ModeParallel processes items concurrently; within an item, validations
	// fan out concurrently but transforms still run in priority order.
	ModeParallel Mode = "parallel"
	// ModeSequential processes items strictly in order, all phases sequential.
	ModeSequential Mode = "sequential"
	// ModeExecuteAllParallel runs every (item, rule) pair concurrently; the
	// last transform to complete wins per item on conflicting writes.
	ModeExecuteAllParallel Mode = "executeAllParallel"
)

// BatchDataContext lives for the duration of one batch execution and scopes
// the Batch Data Provider's single-flight memoization.
type BatchDataContext struct {
	BatchID  string
	AllItems []any
	Metadata map[string]any
}

// Result aggregates the outcome of running a rule pipeline across a dataset.
type Result struct {
	Data          []any
	Errors        []ruleset.ValidationError
	Warnings      []ruleset.ValidationError
	IsValid       bool
	ExecutionTime time.Duration
	RulesExecuted int
}

// Partition splits errs by severity into (errors, warnings).
func Partition(errs []ruleset.ValidationError) (errors, warnings []ruleset.ValidationError) {
	for _, e := range errs {
		if e.Severity == ruleset.SeverityWarning {
			warnings = append(warnings, e)
		} else {
			errors = append(errors, e)
		}
	}
	return errors, warnings
}
