package ruleset

import "testing"

func rule(name string, priority int, enabled bool, tags ...string) Rule {
	return Rule{Name: name, Priority: priority, Enabled: enabled, Tags: tags}
}

func namesOf(rules []Rule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.Name
	}
	return out
}

func TestAddRemoveRuleUpdatesTagIndex(t *testing.T) {
	m := NewManager()
	m.AddRule(rule("r1", 10, true, "pii", "security"))
	m.AddRule(rule("r2", 5, true, "pii"))

	if got := namesOf(m.GetRulesByTags([]string{"pii"})); len(got) != 2 {
		t.Fatalf("GetRulesByTags(pii) = %v, want 2 entries", got)
	}

	m.RemoveRule("r1")
	got := namesOf(m.GetRulesByTags([]string{"security"}))
	if len(got) != 0 {
		t.Errorf("security tag should be gone after removing r1, got %v", got)
	}
}

func TestGetEnabledRulesSortedByPriority(t *testing.T) {
	m := NewManager()
	m.AddRule(rule("high-number-low-prio", 20, true))
	m.AddRule(rule("low-number-high-prio", 1, true))
	m.AddRule(rule("disabled", 0, false))

	got := namesOf(m.GetEnabledRules())
	want := []string{"low-number-high-prio", "high-number-low-prio"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("GetEnabledRules() = %v, want %v", got, want)
	}
}

func TestSetRuleEnabled(t *testing.T) {
	m := NewManager()
	m.AddRule(rule("r1", 1, false))
	m.SetRuleEnabled("r1", true)
	if got := namesOf(m.GetEnabledRules()); len(got) != 1 {
		t.Fatalf("expected r1 enabled, got %v", got)
	}
	m.SetRuleEnabled("r1", false)
	if got := namesOf(m.GetEnabledRules()); len(got) != 0 {
		t.Errorf("expected no enabled rules, got %v", got)
	}
}

func TestResolveSelectorPrecedence(t *testing.T) {
	m := NewManager()
	m.AddRule(rule("by-name", 5, true, "a"))
	m.AddRule(rule("by-tag", 1, true, "b"))
	m.AddRule(rule("fallback", 3, true))

	// Names takes precedence over tags.
	got := namesOf(m.ResolveSelector(Selector{Names: []string{"by-name"}, Tags: []string{"b"}}))
	if len(got) != 1 || got[0] != "by-name" {
		t.Errorf("names should win over tags, got %v", got)
	}

	// No names: tags apply.
	got = namesOf(m.ResolveSelector(Selector{Tags: []string{"b"}}))
	if len(got) != 1 || got[0] != "by-tag" {
		t.Errorf("tag selection = %v, want [by-tag]", got)
	}

	// No names, no tags: all enabled, by priority.
	got = namesOf(m.ResolveSelector(Selector{}))
	want := []string{"by-tag", "fallback", "by-name"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("all-enabled fallback = %v, want %v", got, want)
			break
		}
	}
}

func TestResolveSelectorModeAll(t *testing.T) {
	m := NewManager()
	m.AddRule(rule("both", 1, true, "a", "b"))
	m.AddRule(rule("only-a", 2, true, "a"))

	got := namesOf(m.ResolveSelector(Selector{Tags: []string{"a", "b"}, Mode: ModeAll}))
	if len(got) != 1 || got[0] != "both" {
		t.Errorf("ModeAll selection = %v, want [both]", got)
	}
}
