// Package botfilter recognizes pushes produced by the pipeline itself so they
// never trigger another build.
package botfilter

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Field names a commit attribute a rule inspects.
type Field string

const (
	FieldAuthor    Field = "author"
	FieldCommitter Field = "committer"
	FieldMessage   Field = "message"
)

// Rule matches when the named field contains Pattern, ignoring case.
type Rule struct {
	Field   Field  `yaml:"field"`
	Pattern string `yaml:"pattern"`
}

func (r Rule) String() string {
	return fmt.Sprintf("%s~%s", r.Field, r.Pattern)
}

// Validate rejects unknown fields and empty patterns.
func (r Rule) Validate() error {
	switch r.Field {
	case FieldAuthor, FieldCommitter, FieldMessage:
	default:
		return fmt.Errorf("unknown bot filter field %q", r.Field)
	}
	if strings.TrimSpace(r.Pattern) == "" {
		return fmt.Errorf("bot filter rule for %s has an empty pattern", r.Field)
	}
	return nil
}

// Commit is the head commit metadata a push carries.
type Commit struct {
	AuthorName    string
	CommitterName string
	Message       string
}

func (c Commit) value(f Field) string {
	switch f {
	case FieldAuthor:
		return c.AuthorName
	case FieldCommitter:
		return c.CommitterName
	case FieldMessage:
		return c.Message
	}
	return ""
}

// DefaultRules covers GitHub App bot identities and the commit, title and branch
// markers the publisher writes.
func DefaultRules() []Rule {
	return []Rule{
		{Field: FieldAuthor, Pattern: "[bot]"},
		{Field: FieldAuthor, Pattern: "polydocs"},
		{Field: FieldCommitter, Pattern: "[bot]"},
		{Field: FieldCommitter, Pattern: "polydocs"},
		{Field: FieldMessage, Pattern: "auto-generate POLYDOCS.md"},
		{Field: FieldMessage, Pattern: "Automated Documentation Update"},
		{Field: FieldMessage, Pattern: "polydocs-update-"},
	}
}

// Filter classifies commits against a rule set that can be swapped at runtime.
type Filter struct {
	rules atomic.Pointer[[]Rule]
}

// New returns a Filter over rules. A nil slice selects DefaultRules.
func New(rules []Rule) *Filter {
	f := &Filter{}
	f.SetRules(rules)
	return f
}

// SetRules replaces the active rule set.
func (f *Filter) SetRules(rules []Rule) {
	if rules == nil {
		rules = DefaultRules()
	}
	cp := make([]Rule, len(rules))
	copy(cp, rules)
	f.rules.Store(&cp)
}

// Rules returns a copy of the active rule set.
func (f *Filter) Rules() []Rule {
	rules := *f.rules.Load()
	cp := make([]Rule, len(rules))
	copy(cp, rules)
	return cp
}

// Classify returns the first rule matching c, if any.
func (f *Filter) Classify(c Commit) (Rule, bool) {
	for _, r := range *f.rules.Load() {
		if containsFold(c.value(r.Field), r.Pattern) {
			return r, true
		}
	}
	return Rule{}, false
}

// IsBot reports whether any rule matches c.
func (f *Filter) IsBot(c Commit) bool {
	_, ok := f.Classify(c)
	return ok
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
