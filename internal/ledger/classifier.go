// Package ledger is the append-only audit ledger: the event classifier that
// derives category, outcome, severity and action from an event name, and the
// Writer that turns an Entry into a persisted, enriched AuditEvent.
package ledger

import (
	"strings"
	"unicode"
)

// Category groups events for filtering and readiness
type Category string

const (
	CategoryGovernance Category = "governance"
	CategoryOperations Category = "operations"
	CategoryAccess     Category = "access"
)

// Outcome records whether the attempted action went through
type Outcome string

const (
	OutcomeAllowed Outcome = "allowed"
	OutcomeBlocked Outcome = "blocked"
)

// Severity ranks events for readiness scoring and cache invalidation
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityMaterial Severity = "material"
	SeverityCritical Severity = "critical"
)

// ParseCategory returns the category named by s
func ParseCategory(s string) (Category, bool) {
	switch c := Category(s); c {
	case CategoryGovernance, CategoryOperations, CategoryAccess:
		return c, true
	}
	return "", false
}

// ParseSeverity returns the severity named by s
func ParseSeverity(s string) (Severity, bool) {
	switch v := Severity(s); v {
	case SeverityInfo, SeverityMaterial, SeverityCritical:
		return v, true
	}
	return "", false
}

// rule matches an event name when it contains any of the listed substrings
type rule[T any] struct {
	contains []string
	result   T
}

func (r rule[T]) matches(name string) bool {
	for _, sub := range r.contains {
		if strings.Contains(name, sub) {
			return true
		}
	}
	return false
}

// firstMatch evaluates rules top to bottom. Event names can match several
// rules, so table order is part of the contract.
func firstMatch[T any](rules []rule[T], name string, fallback T) T {
	for _, r := range rules {
		if r.matches(name) {
			return r.result
		}
	}
	return fallback
}

var categoryRules = []rule[Category]{
	{contains: []string{"auth.", "violation", "policy."}, result: CategoryGovernance},
	{contains: []string{"user_role_changed"}, result: CategoryGovernance},
	{contains: []string{"access.", "security.", "login", "team.", "account."}, result: CategoryAccess},
	{contains: []string{"review.", "incident.", "corrective_action", "attestation.", "export.", "system."}, result: CategoryOperations},
}

var outcomeRules = []rule[Outcome]{
	{contains: []string{"violation", "blocked", "denied"}, result: OutcomeBlocked},
}

var severityRules = []rule[Severity]{
	{contains: []string{"violation", "critical"}, result: SeverityCritical},
	{contains: []string{"flag", "change", "remove"}, result: SeverityMaterial},
}

// materialNames invalidate cached aggregates even at info severity
var materialNames = []string{"violation", "flag", "signoff", "risk_score_changed"}

// actionSuffixes maps past-tense suffixes to verbs. unflagged precedes
// flagged because it ends with it.
var actionSuffixes = []struct{ suffix, verb string }{
	{"unflagged", "unflag"},
	{"flagged", "flag"},
	{"created", "create"},
	{"updated", "update"},
	{"deleted", "delete"},
}

// EventCategory derives the category of an event name
func EventCategory(name string) Category {
	return firstMatch(categoryRules, name, CategoryOperations)
}

// EventOutcome derives whether the event records a blocked attempt
func EventOutcome(name string) Outcome {
	return firstMatch(outcomeRules, name, OutcomeAllowed)
}

// EventSeverity derives the severity of an event name
func EventSeverity(name string) Severity {
	return firstMatch(severityRules, name, SeverityInfo)
}

// IsMaterial reports whether an event must invalidate cached aggregates
func IsMaterial(name string, severity Severity) bool {
	if severity == SeverityCritical || severity == SeverityMaterial {
		return true
	}
	for _, sub := range materialNames {
		if strings.Contains(name, sub) {
			return true
		}
	}
	return false
}

// EventAction derives the verb from the final dotted segment of name.
// Unrecognized segments pass through unchanged.
func EventAction(name string) string {
	segment := name
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		segment = name[i+1:]
	}
	for _, s := range actionSuffixes {
		if strings.HasSuffix(segment, s.suffix) {
			return s.verb
		}
	}
	return segment
}

// Classification bundles every derived field for one event name
type Classification struct {
	Category Category
	Outcome  Outcome
	Severity Severity
	Action   string
	Material bool
}

// Classify runs every classifier over name
func Classify(name string) Classification {
	sev := EventSeverity(name)
	return Classification{
		Category: EventCategory(name),
		Outcome:  EventOutcome(name),
		Severity: sev,
		Action:   EventAction(name),
		Material: IsMaterial(name, sev),
	}
}

// IsViolation reports whether name records a policy violation
func IsViolation(name string) bool {
	return strings.Contains(name, "violation")
}

var policyStatements = []rule[string]{
	{contains: []string{"role_violation"}, result: "Read-only roles cannot modify records"},
	{contains: []string{"scope_violation"}, result: "Safety leads must scope audit queries to a job, date range or category"},
}

// PolicyStatement returns the fixed statement attached to violation events,
// or "" for every other event.
func PolicyStatement(name string) string {
	if !IsViolation(name) {
		return ""
	}
	return firstMatch(policyStatements, name, "This action is not permitted by organization policy")
}

// Humanize renders an event name as a one-line summary:
// "job.flagged" becomes "Job flagged".
func Humanize(name string) string {
	s := strings.TrimSpace(strings.NewReplacer(".", " ", "_", " ", "-", " ").Replace(name))
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
