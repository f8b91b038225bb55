package engine

import (
	"errors"
	"fmt"
)

// Kind classifies a rejected operation.
type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
	KindFrozen     Kind = "frozen"
	KindDependency Kind = "dependency"
)

// Rule names the check that fired.
type Rule string

const (
	RuleInvalidField            Rule = "invalid_field"
	RuleInvalidBreed            Rule = "invalid_breed"
	RuleFieldNotEditable        Rule = "field_not_editable"
	RuleInvalidTargetCount      Rule = "invalid_target_count"
	RuleMissionAssigned         Rule = "mission_assigned"
	RuleMissionAlreadyAssigned  Rule = "mission_already_assigned"
	RuleCatAlreadyAssigned      Rule = "cat_already_assigned"
	RuleCatNotFound             Rule = "cat_not_found"
	RuleMissionNotFound         Rule = "mission_not_found"
	RuleTargetNotFound          Rule = "target_not_found"
	RuleTargetFrozen            Rule = "target_frozen"
	RuleNotesFrozen             Rule = "notes_frozen"
	RuleMissionFrozen           Rule = "mission_frozen"
	RuleBreedCatalogUnavailable Rule = "breed_catalog_unavailable"
)

var ruleKinds = map[Rule]Kind{
	RuleInvalidField:            KindValidation,
	RuleInvalidBreed:            KindValidation,
	RuleFieldNotEditable:        KindValidation,
	RuleInvalidTargetCount:      KindValidation,
	RuleMissionAssigned:         KindConflict,
	RuleMissionAlreadyAssigned:  KindConflict,
	RuleCatAlreadyAssigned:      KindConflict,
	RuleCatNotFound:             KindNotFound,
	RuleMissionNotFound:         KindNotFound,
	RuleTargetNotFound:          KindNotFound,
	RuleTargetFrozen:            KindFrozen,
	RuleNotesFrozen:             KindFrozen,
	RuleMissionFrozen:           KindFrozen,
	RuleBreedCatalogUnavailable: KindDependency,
}

// Error is a rejected operation. The operation had no effect.
type Error struct {
	Kind    Kind
	Rule    Rule
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(rule Rule, format string, args ...any) *Error {
	return &Error{Kind: ruleKinds[rule], Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// AsError extracts an engine error.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRule reports whether err is an engine error for rule.
func IsRule(err error, rule Rule) bool {
	e, ok := AsError(err)
	return ok && e.Rule == rule
}
