package cel

import (
	"encoding/json"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/decisiongrid/rulecore/internal/domain/artifact"
	"github.com/decisiongrid/rulecore/internal/domain/ruleset"
	"github.com/decisiongrid/rulecore/internal/rerr"
)

// NodeType classifies a decision graph node's role in a rule's pipeline.
type NodeType string

const (
	NodeTransform NodeType = "transform"
	NodeValidate  NodeType = "validate"
)

// node is one entry of a rule artifact's "nodes" array.
type node struct {
	Type       NodeType `json:"type"`
	Expression string   `json:"expression"`
	// Field is, for a transform node, the item map key its result is
	// written to (empty replaces the whole item); for a validate node,
	// the ValidationError.Field reported on failure.
	Field    string `json:"field,omitempty"`
	Message  string `json:"message,omitempty"`
	Severity string `json:"severity,omitempty"`
}

type graph struct {
	Nodes []node `json:"nodes"`
}

// Decider turns a rule artifact into a runnable ruleset.Rule for the
// Execution Engine. The in-process Compiler below is one
// implementation; a registry-hosted evaluator reached over HTTP (the
// Open Questions' second decision-evaluator entry point) would satisfy
// the same interface without the Engine knowing the difference.
type Decider interface {
	CompileRule(ruleID string, priority int, tags []string, art artifact.Artifact) (ruleset.Rule, error)
}

var _ Decider = (*Compiler)(nil)

type compiledNode struct {
	node
	program cel.Program
}

// Compiler turns rule artifacts into ruleset.Rule closures, sharing one
// Evaluator so every node's CEL program is compiled exactly once.
type Compiler struct {
	evaluator *Evaluator
}

// NewCompiler builds a Compiler over evaluator.
func NewCompiler(evaluator *Evaluator) *Compiler {
	return &Compiler{evaluator: evaluator}
}

// CompileRule parses art as a decision graph and produces a ruleset.Rule
// named ruleID whose Transform/Validate closures run the graph's nodes in
// artifact order: transform nodes feed each other sequentially, validate
// nodes all see the same final item.
func (c *Compiler) CompileRule(ruleID string, priority int, tags []string, art artifact.Artifact) (ruleset.Rule, error) {
	var g graph
	if err := json.Unmarshal(art, &g); err != nil {
		return ruleset.Rule{}, rerr.New(rerr.KindParseError, fmt.Errorf("decode decision graph for rule %q: %w", ruleID, err))
	}

	var transforms, validates []compiledNode
	for i, n := range g.Nodes {
		if n.Expression == "" {
			continue
		}
		if err := c.evaluator.ValidateExpression(n.Expression); err != nil {
			return ruleset.Rule{}, rerr.New(rerr.KindParseError, fmt.Errorf("rule %q node %d: %w", ruleID, i, err))
		}
		prg, err := c.evaluator.Compile(n.Expression)
		if err != nil {
			return ruleset.Rule{}, rerr.New(rerr.KindParseError, fmt.Errorf("rule %q node %d: %w", ruleID, i, err))
		}
		cn := compiledNode{node: n, program: prg}
		if n.Type == NodeValidate {
			validates = append(validates, cn)
		} else {
			transforms = append(transforms, cn)
		}
	}

	rule := ruleset.Rule{Name: ruleID, Priority: priority, Tags: tags, Enabled: true}
	if len(transforms) > 0 {
		rule.Transform = c.buildTransform(transforms)
	}
	if len(validates) > 0 {
		rule.Validate = c.buildValidate(validates)
	}
	return rule, nil
}

func (c *Compiler) buildTransform(nodes []compiledNode) ruleset.TransformFunc {
	return func(rc ruleset.RuleContext) (any, error) {
		current := rc.Item
		for _, n := range nodes {
			val, err := c.evaluator.Eval(n.program, ruleset.RuleContext{
				Item: current, AllItems: rc.AllItems, Index: rc.Index, Metadata: rc.Metadata,
			})
			if err != nil {
				return nil, fmt.Errorf("transform node: %w", err)
			}

			if n.Field == "" {
				current = val
				continue
			}

			m, ok := current.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("transform node targets field %q but item is %T, not map[string]any", n.Field, current)
			}
			next := make(map[string]any, len(m)+1)
			for k, v := range m {
				next[k] = v
			}
			next[n.Field] = val
			current = next
		}
		return current, nil
	}
}

func (c *Compiler) buildValidate(nodes []compiledNode) ruleset.ValidateFunc {
	return func(rc ruleset.RuleContext) ([]ruleset.ValidationError, error) {
		var errs []ruleset.ValidationError
		for _, n := range nodes {
			val, err := c.evaluator.Eval(n.program, rc)
			if err != nil {
				return nil, fmt.Errorf("validate node: %w", err)
			}
			ok, isBool := val.(bool)
			if !isBool {
				return nil, fmt.Errorf("validate node expression must return bool, got %T", val)
			}
			if !ok {
				sev := ruleset.Severity(n.Severity)
				if sev == "" {
					sev = ruleset.SeverityError
				}
				errs = append(errs, ruleset.ValidationError{Field: n.Field, Message: n.Message, Severity: sev})
			}
		}
		return errs, nil
	}
}
