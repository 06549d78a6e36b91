// Package cel is the Execution Engine's embedded decision evaluator: it
// compiles a rule artifact's decision-graph node expressions with CEL and
// turns them into ruleset.TransformFunc / ruleset.ValidateFunc closures
// that evaluate against a ruleset.RuleContext.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/decisiongrid/rulecore/internal/domain/ruleset"
)

// maxExpressionLength bounds one node's CEL source, guarding against a
// pathological artifact blowing up compile time.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit enforced per evaluation.
const maxCostBudget = 100_000

// maxNestingDepth bounds parenthesis/bracket/brace nesting in an expression.
const maxNestingDepth = 50

// evalTimeout bounds a single node evaluation.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context
// cancellation is checked during evaluation.
const interruptCheckFreq = 100

// Evaluator compiles and evaluates CEL expressions against a RuleContext.
type Evaluator struct {
	env *cel.Env
}

// NewEvaluator creates an Evaluator over the rule environment (item,
// allItems, index, metadata).
func NewEvaluator() (*Evaluator, error) {
	env, err := NewRuleEnvironment()
	if err != nil {
		return nil, fmt.Errorf("create rule environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Compile parses and type-checks expression, returning a compiled program.
func (e *Evaluator) Compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}

	return prg, nil
}

func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// ValidateExpression checks that expr is syntactically valid and within
// the evaluator's safety limits (length, nesting), then attempts to
// compile it.
func (e *Evaluator) ValidateExpression(expr string) error {
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if expr == "" {
		return errors.New("expression is empty")
	}
	if err := validateNesting(expr); err != nil {
		return err
	}
	_, err := e.Compile(expr)
	if err != nil {
		return fmt.Errorf("invalid CEL expression: %w", err)
	}
	return nil
}

// Eval runs a compiled program against ctx, bounded by evalTimeout, and
// returns the raw CEL result converted to a Go value.
func (e *Evaluator) Eval(prg cel.Program, ctx ruleset.RuleContext) (any, error) {
	activation := BuildActivation(ctx)

	evalCtx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(evalCtx, activation)
	if err != nil {
		return nil, fmt.Errorf("evaluation failed: %w", err)
	}
	return result.Value(), nil
}
