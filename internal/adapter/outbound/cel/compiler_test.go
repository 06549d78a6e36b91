package cel

import (
	"testing"

	"github.com/decisiongrid/rulecore/internal/domain/artifact"
	"github.com/decisiongrid/rulecore/internal/domain/ruleset"
)

func newCompiler(t *testing.T) *Compiler {
	t.Helper()
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	return NewCompiler(eval)
}

func TestCompileRuleTransformWritesField(t *testing.T) {
	art := artifact.Artifact(`{
		"nodes": [
			{"type": "transform", "expression": "item.amount * 2", "field": "doubled"}
		]
	}`)

	rule, err := newCompiler(t).CompileRule("double-amount", 1, []string{"billing"}, art)
	if err != nil {
		t.Fatalf("CompileRule: %v", err)
	}
	if rule.Transform == nil {
		t.Fatal("expected a Transform closure")
	}

	out, err := rule.Transform(ruleset.RuleContext{Item: map[string]any{"amount": int64(5)}})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("Transform output = %T, want map[string]any", out)
	}
	if m["doubled"] != int64(10) {
		t.Errorf("doubled = %v, want 10", m["doubled"])
	}
	if m["amount"] != int64(5) {
		t.Errorf("original field amount = %v, want preserved 5", m["amount"])
	}
}

func TestCompileRuleTransformFullReplace(t *testing.T) {
	art := artifact.Artifact(`{"nodes": [{"type": "transform", "expression": "item + \"-tagged\""}]}`)

	rule, err := newCompiler(t).CompileRule("tag", 1, nil, art)
	if err != nil {
		t.Fatalf("CompileRule: %v", err)
	}
	out, err := rule.Transform(ruleset.RuleContext{Item: "a"})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if out != "a-tagged" {
		t.Errorf("out = %v, want a-tagged", out)
	}
}

func TestCompileRuleValidateProducesErrorOnFalse(t *testing.T) {
	art := artifact.Artifact(`{
		"nodes": [
			{"type": "validate", "expression": "item.amount < 1000", "field": "amount", "message": "amount too large", "severity": "error"}
		]
	}`)

	rule, err := newCompiler(t).CompileRule("cap-amount", 1, nil, art)
	if err != nil {
		t.Fatalf("CompileRule: %v", err)
	}
	if rule.Validate == nil {
		t.Fatal("expected a Validate closure")
	}

	errs, err := rule.Validate(ruleset.RuleContext{Item: map[string]any{"amount": int64(5000)}})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(errs) != 1 || errs[0].Message != "amount too large" || errs[0].Severity != ruleset.SeverityError {
		t.Fatalf("errs = %+v, want one amount-too-large error", errs)
	}

	errs, err = rule.Validate(ruleset.RuleContext{Item: map[string]any{"amount": int64(5)}})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(errs) != 0 {
		t.Fatalf("errs = %+v, want none for a passing amount", errs)
	}
}

func TestCompileRuleSequencesMultipleTransformNodes(t *testing.T) {
	art := artifact.Artifact(`{
		"nodes": [
			{"type": "transform", "expression": "item.n + 1", "field": "n"},
			{"type": "transform", "expression": "item.n * 10", "field": "n"}
		]
	}`)

	rule, err := newCompiler(t).CompileRule("chain", 1, nil, art)
	if err != nil {
		t.Fatalf("CompileRule: %v", err)
	}
	out, err := rule.Transform(ruleset.RuleContext{Item: map[string]any{"n": int64(1)}})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if out.(map[string]any)["n"] != int64(20) {
		t.Errorf("n = %v, want 20 ((1+1)*10)", out.(map[string]any)["n"])
	}
}

func TestCompileRuleRejectsMalformedGraph(t *testing.T) {
	_, err := newCompiler(t).CompileRule("bad", 1, nil, artifact.Artifact(`not json`))
	if err == nil {
		t.Fatal("expected error for malformed decision graph")
	}
}

func TestCompileRuleRejectsInvalidExpression(t *testing.T) {
	art := artifact.Artifact(`{"nodes": [{"type": "validate", "expression": "not ( valid cel"}]}`)
	_, err := newCompiler(t).CompileRule("bad-expr", 1, nil, art)
	if err == nil {
		t.Fatal("expected error for invalid node expression")
	}
}
