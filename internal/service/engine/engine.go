// Package engine implements the Execution Engine: it applies an ordered
// rule pipeline to a dataset under one of three scheduling modes and
// aggregates the outcome into one execution.Result.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/decisiongrid/rulecore/internal/domain/execution"
	"github.com/decisiongrid/rulecore/internal/domain/ruleset"
)

const systemErrorField = "_system"

// Options configures one Execute call.
type Options struct {
	Mode     execution.Mode
	Metadata map[string]any
	// ContinueOnError controls how a Transform/Validate function's own
	// returned error is handled: true folds it into a per-item "_system"
	// ValidationError and continues with the other items; false aborts
	// the whole Execute call and surfaces the error to the caller.
	ContinueOnError bool
}

// BatchOptions additionally chunks item processing by MaxConcurrency.
type BatchOptions struct {
	Options
	MaxConcurrency int
}

// Engine is stateless; its methods simply schedule rule invocations over
// the argument slices.
type Engine struct{}

// New creates an Engine.
func New() *Engine {
	return &Engine{}
}

// Execute applies rules to items under opts.Mode.
func (e *Engine) Execute(ctx context.Context, items []any, rules []ruleset.Rule, opts Options) (*execution.Result, error) {
	return e.executeConcurrency(ctx, items, rules, opts.Mode, opts.Metadata, opts.ContinueOnError, len(items))
}

// ExecuteBatch applies rules to items chunked to at most opts.MaxConcurrency
// concurrent items at a time.
func (e *Engine) ExecuteBatch(ctx context.Context, items []any, rules []ruleset.Rule, opts BatchOptions) (*execution.Result, error) {
	maxConcurrency := opts.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return e.executeConcurrency(ctx, items, rules, opts.Mode, opts.Metadata, opts.ContinueOnError, maxConcurrency)
}

func (e *Engine) executeConcurrency(ctx context.Context, items []any, rules []ruleset.Rule, mode execution.Mode, meta map[string]any, continueOnError bool, maxGoroutines int) (*execution.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	result := &execution.Result{Data: make([]any, len(items))}

	var mu sync.Mutex
	var firstErr error
	recordItem := func(i int, final any, errs []ruleset.ValidationError, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			if continueOnError {
				errs = append(errs, systemError(i, "", err))
			} else if firstErr == nil {
				firstErr = err
			}
		}
		result.Data[i] = final
		result.Errors = append(result.Errors, errs...)
	}

	if mode == execution.ModeSequential {
		for i, item := range items {
			final, errs, err := e.runItem(item, items, i, meta, rules, mode)
			recordItem(i, final, errs, err)
			if firstErr != nil {
				return nil, firstErr
			}
		}
	} else {
		if maxGoroutines <= 0 {
			maxGoroutines = 1
		}
		grp := pool.New().WithMaxGoroutines(maxGoroutines)
		for i, item := range items {
			i, item := i, item
			grp.Go(func() {
				final, errs, err := e.runItem(item, items, i, meta, rules, mode)
				recordItem(i, final, errs, err)
			})
		}
		grp.Wait()
		if firstErr != nil {
			return nil, firstErr
		}
	}

	result.RulesExecuted = len(rules)
	errs, warnings := execution.Partition(result.Errors)
	result.Errors = errs
	result.Warnings = warnings
	result.IsValid = len(result.Errors) == 0
	result.ExecutionTime = time.Since(start)
	return result, nil
}

// runItem dispatches one item through the pipeline for the given mode.
func (e *Engine) runItem(item any, allItems []any, index int, meta map[string]any, rules []ruleset.Rule, mode execution.Mode) (any, []ruleset.ValidationError, error) {
	if mode == execution.ModeExecuteAllParallel {
		return e.runItemAllParallel(item, allItems, index, meta, rules)
	}
	return e.runItemPhased(item, allItems, index, meta, rules, mode == execution.ModeParallel)
}

// runItemPhased runs the two ordered phases of §4.11: transforms strictly
// in ascending priority (always sequential, order-dependent regardless of
// mode), then validates against the final transformed item. Under
// parallel mode validates fan out concurrently; the per-rule slots keep
// results in rule order regardless of goroutine completion order.
func (e *Engine) runItemPhased(item any, allItems []any, index int, meta map[string]any, rules []ruleset.Rule, concurrentValidate bool) (any, []ruleset.ValidationError, error) {
	current := item
	for _, r := range rules {
		if r.Transform == nil {
			continue
		}
		next, err := r.Transform(ruleset.RuleContext{Item: current, AllItems: allItems, Index: index, Metadata: meta})
		if err != nil {
			return current, nil, err
		}
		current = next
	}

	perRule := make([][]ruleset.ValidationError, len(rules))
	validateOne := func(i int, r ruleset.Rule) error {
		if r.Validate == nil {
			return nil
		}
		errs, err := r.Validate(ruleset.RuleContext{Item: current, AllItems: allItems, Index: index, Metadata: meta})
		if err != nil {
			return err
		}
		perRule[i] = errs
		return nil
	}

	var firstErr error
	if concurrentValidate {
		var mu sync.Mutex
		grp := pool.New()
		for i, r := range rules {
			i, r := i, r
			grp.Go(func() {
				if err := validateOne(i, r); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
			})
		}
		grp.Wait()
	} else {
		for i, r := range rules {
			if err := validateOne(i, r); err != nil {
				firstErr = err
				break
			}
		}
	}
	if firstErr != nil {
		return current, nil, firstErr
	}

	var out []ruleset.ValidationError
	for _, errs := range perRule {
		out = append(out, errs...)
	}
	return current, out, nil
}

// runItemAllParallel runs every rule's transform concurrently against a
// shared, mutex-guarded item slot (last write wins on conflicting writes,
// per §4.11), then validates every rule concurrently against the final
// item so each validate observes the fully-transformed state (P5).
func (e *Engine) runItemAllParallel(item any, allItems []any, index int, meta map[string]any, rules []ruleset.Rule) (any, []ruleset.ValidationError, error) {
	var itemMu sync.Mutex
	current := item

	var errMu sync.Mutex
	var firstErr error

	transformGrp := pool.New()
	for _, r := range rules {
		if r.Transform == nil {
			continue
		}
		r := r
		transformGrp.Go(func() {
			itemMu.Lock()
			snapshot := current
			itemMu.Unlock()

			next, err := r.Transform(ruleset.RuleContext{Item: snapshot, AllItems: allItems, Index: index, Metadata: meta})
			if err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
				return
			}

			itemMu.Lock()
			current = next
			itemMu.Unlock()
		})
	}
	transformGrp.Wait()
	if firstErr != nil {
		return current, nil, firstErr
	}

	final := current
	perRule := make([][]ruleset.ValidationError, len(rules))
	validateGrp := pool.New()
	for i, r := range rules {
		if r.Validate == nil {
			continue
		}
		i, r := i, r
		validateGrp.Go(func() {
			errs, err := r.Validate(ruleset.RuleContext{Item: final, AllItems: allItems, Index: index, Metadata: meta})
			if err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
				return
			}
			perRule[i] = errs
		})
	}
	validateGrp.Wait()
	if firstErr != nil {
		return final, nil, firstErr
	}

	var out []ruleset.ValidationError
	for _, errs := range perRule {
		out = append(out, errs...)
	}
	return final, out, nil
}

func systemError(index int, ruleName string, err error) ruleset.ValidationError {
	msg := err.Error()
	if ruleName != "" {
		msg = ruleName + ": " + msg
	}
	return ruleset.ValidationError{
		Field:    systemErrorField,
		Message:  msg,
		Severity: ruleset.SeverityError,
	}
}
