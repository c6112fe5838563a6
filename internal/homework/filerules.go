// Package homework holds graded assignment definitions: homework metadata,
// per-language code packages and the file rule sets that govern which files
// may be seen, copied or extracted.
package homework

import (
	"fmt"
	"regexp"
	"strings"
)

// Action is the verdict a file rule assigns to a matching path.
type Action int

const (
	ActionAccept Action = iota
	ActionLock
	ActionHide
	ActionDeny
)

func (a Action) String() string {
	switch a {
	case ActionAccept:
		return "accept"
	case ActionLock:
		return "lock"
	case ActionHide:
		return "hide"
	case ActionDeny:
		return "deny"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// ParseAction converts a rule action name into an Action.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "accept":
		return ActionAccept, nil
	case "lock":
		return ActionLock, nil
	case "hide":
		return ActionHide, nil
	case "deny":
		return ActionDeny, nil
	}
	return 0, fmt.Errorf("unknown action %q in file rule", s)
}

// Rule pairs an action with the path pattern it applies to.
type Rule struct {
	Action  Action
	Pattern *regexp.Regexp
}

// RuleSet is an ordered collection of file rules. The first matching rule
// wins, so insertion order is significant: Prepend inserts at index 0,
// giving the most recently prepended rule top priority.
type RuleSet struct {
	rules []Rule
}

// defaultHideRules are prepended to every rule set loaded from a homework
// definition, so authors cannot expose OS junk or runner internals.
var defaultHideRules = []string{
	`Thumbs\.db$`,
	`\.DS_Store$`,
	`__MACOSX`,
	`^\._.*$|/\._.*$`,
	`\.directory$`,
	`\.py[cdo]$`,
	`^(py|java)host.*`,
}

func compileRule(action Action, pattern string) (Rule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("bad file rule pattern %q: %w", pattern, err)
	}
	return Rule{Action: action, Pattern: re}, nil
}

// Append adds a rule after all existing ones.
func (rs *RuleSet) Append(action Action, pattern string) error {
	r, err := compileRule(action, pattern)
	if err != nil {
		return err
	}
	rs.rules = append(rs.rules, r)
	return nil
}

// Prepend inserts a rule at index 0 so it wins over every existing rule for
// overlapping patterns.
func (rs *RuleSet) Prepend(action Action, pattern string) error {
	r, err := compileRule(action, pattern)
	if err != nil {
		return err
	}
	rs.rules = append([]Rule{r}, rs.rules...)
	return nil
}

// Match returns the action of the first rule matching path, or false if no
// rule matches.
func (rs *RuleSet) Match(path string) (Action, bool) {
	for _, r := range rs.rules {
		if r.Pattern.MatchString(path) {
			return r.Action, true
		}
	}
	return 0, false
}

// GetAction returns the action of the first matching rule, or def when no
// rule matches.
func (rs *RuleSet) GetAction(path string, def Action) Action {
	if a, ok := rs.Match(path); ok {
		return a
	}
	return def
}

// Filter keeps only the paths whose action is in allowed. Paths matching no
// rule take ActionAccept, the default posture for generic listing.
func (rs *RuleSet) Filter(paths []string, allowed ...Action) []string {
	var out []string
	for _, p := range paths {
		a := rs.GetAction(p, ActionAccept)
		for _, want := range allowed {
			if a == want {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// Len reports the number of rules in the set.
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}

// prependDefaults installs the hard-coded hide rules plus any extra patterns
// ahead of the author's rules. Later prepends win, so extras end up first.
func (rs *RuleSet) prependDefaults(extra ...string) error {
	for _, p := range defaultHideRules {
		if err := rs.Prepend(ActionHide, p); err != nil {
			return err
		}
	}
	for _, p := range extra {
		if err := rs.Prepend(ActionHide, p); err != nil {
			return err
		}
	}
	return nil
}
