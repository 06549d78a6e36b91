package ruleset

import "sort"

// SelectorMode controls how Selector.Tags combine when Selector.Names is
// empty. ModeAny (the default) unions rules across tags; ModeAll requires
// every tag to be present on a rule.
type SelectorMode string

const (
	ModeAny SelectorMode = "any"
	ModeAll SelectorMode = "all"
)

// Selector is the criterion set that picks which rules to run: names first
// if given, otherwise tags if given, otherwise all enabled rules. The
// result is always filtered to enabled rules and sorted by priority.
type Selector struct {
	Names []string
	Tags  []string
	Mode  SelectorMode
}

// Manager is the in-process rule catalog. name keys the table; the tag
// index is kept synchronized with it on every mutation (mirrors
// upstream.ToolCache's name/upstream dual index, generalized to
// name/tag).
type Manager struct {
	byName map[string]*Rule
	byTag  map[string]map[string]struct{} // tag -> set of rule names
}

// NewManager creates an empty rule catalog.
func NewManager() *Manager {
	return &Manager{
		byName: make(map[string]*Rule),
		byTag:  make(map[string]map[string]struct{}),
	}
}

// AddRule stores r by name, replacing any prior rule of the same name and
// updating the tag index accordingly.
func (m *Manager) AddRule(r Rule) {
	if old, ok := m.byName[r.Name]; ok {
		m.unlinkTags(r.Name, old.Tags)
	}
	stored := r
	m.byName[r.Name] = &stored
	m.linkTags(r.Name, r.Tags)
}

// RemoveRule deletes the named rule and prunes the tag index.
func (m *Manager) RemoveRule(name string) {
	r, ok := m.byName[name]
	if !ok {
		return
	}
	m.unlinkTags(name, r.Tags)
	delete(m.byName, name)
}

// SetRuleEnabled toggles a rule's enabled flag. No-op if the rule is unknown.
func (m *Manager) SetRuleEnabled(name string, enabled bool) {
	if r, ok := m.byName[name]; ok {
		r.Enabled = enabled
	}
}

// GetAllRules returns every registered rule, sorted by ascending priority.
func (m *Manager) GetAllRules() []Rule {
	out := make([]Rule, 0, len(m.byName))
	for _, r := range m.byName {
		out = append(out, *r)
	}
	sortByPriority(out)
	return out
}

// GetEnabledRules returns enabled rules, sorted by ascending priority.
func (m *Manager) GetEnabledRules() []Rule {
	out := make([]Rule, 0, len(m.byName))
	for _, r := range m.byName {
		if r.Enabled {
			out = append(out, *r)
		}
	}
	sortByPriority(out)
	return out
}

// GetRulesByTags returns the union of enabled rules carrying any of tags,
// sorted by priority. This is deliberately a union, unlike the Cache's
// tag-intersection semantics in §4.1 — the two components answer different
// questions (Cache: "which artifact has ALL these tags"; Manager: "which
// rules apply given ANY of these tags").
func (m *Manager) GetRulesByTags(tags []string) []Rule {
	seen := make(map[string]struct{})
	var out []Rule
	for _, t := range tags {
		for name := range m.byTag[t] {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			if r := m.byName[name]; r != nil && r.Enabled {
				out = append(out, *r)
			}
		}
	}
	sortByPriority(out)
	return out
}

// ResolveSelector applies sel: names first if given, else tags (ModeAny
// union or ModeAll intersection) if given, else all enabled rules. Always
// filtered to enabled and sorted by priority.
func (m *Manager) ResolveSelector(sel Selector) []Rule {
	if len(sel.Names) > 0 {
		var out []Rule
		for _, name := range sel.Names {
			if r, ok := m.byName[name]; ok && r.Enabled {
				out = append(out, *r)
			}
		}
		sortByPriority(out)
		return out
	}

	if len(sel.Tags) > 0 {
		if sel.Mode == ModeAll {
			return m.rulesWithAllTags(sel.Tags)
		}
		return m.GetRulesByTags(sel.Tags)
	}

	return m.GetEnabledRules()
}

func (m *Manager) rulesWithAllTags(tags []string) []Rule {
	var out []Rule
	for _, r := range m.byName {
		if !r.Enabled {
			continue
		}
		if hasAllTags(r.Tags, tags) {
			out = append(out, *r)
		}
	}
	sortByPriority(out)
	return out
}

func hasAllTags(ruleTags, want []string) bool {
	set := make(map[string]struct{}, len(ruleTags))
	for _, t := range ruleTags {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

func (m *Manager) linkTags(name string, tags []string) {
	for _, t := range tags {
		s, ok := m.byTag[t]
		if !ok {
			s = make(map[string]struct{})
			m.byTag[t] = s
		}
		s[name] = struct{}{}
	}
}

func (m *Manager) unlinkTags(name string, tags []string) {
	for _, t := range tags {
		if s, ok := m.byTag[t]; ok {
			delete(s, name)
			if len(s) == 0 {
				delete(m.byTag, t)
			}
		}
	}
}

func sortByPriority(rules []Rule) {
	sort.Slice(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })
}
