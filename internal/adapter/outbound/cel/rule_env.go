package cel

import (
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"

	"github.com/decisiongrid/rulecore/internal/domain/ruleset"
)

// NewRuleEnvironment creates the CEL environment every decision-graph node
// evaluates in: the four fields of ruleset.RuleContext, plus the string
// and set extensions the teacher's policy environment also carried.
func NewRuleEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("item", cel.DynType),
		cel.Variable("allItems", cel.ListType(cel.DynType)),
		cel.Variable("index", cel.IntType),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.DynType)),
	)
}

// BuildActivation converts a RuleContext into the CEL activation map,
// substituting empty containers for nil fields so node expressions can
// freely index allItems/metadata without a null check.
func BuildActivation(ctx ruleset.RuleContext) map[string]any {
	allItems := ctx.AllItems
	if allItems == nil {
		allItems = []any{}
	}
	metadata := ctx.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return map[string]any{
		"item":     ctx.Item,
		"allItems": allItems,
		"index":    int64(ctx.Index),
		"metadata": metadata,
	}
}
