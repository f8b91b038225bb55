package engine

import (
	"sort"
	"strings"

	"spycats/internal/breeds"
	"spycats/internal/domain"
)

// Guards are pure predicates over state read inside the operation's
// transaction. They never touch storage.

// CheckBreed accepts a breed present in the catalog, case-insensitively.
func CheckBreed(valid breeds.Set, breed string) error {
	if !valid.Contains(breed) {
		e := newError(RuleInvalidBreed, "invalid cat breed %q", breed)
		e.Field = "breed"
		return e
	}
	return nil
}

// CheckCatUpdateFields accepts only a request touching exactly salary.
func CheckCatUpdateFields(fields []string) error {
	if len(fields) == 1 && fields[0] == "salary" {
		return nil
	}
	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)
	return newError(RuleFieldNotEditable, "only salary can be updated (got %s)", fieldList(sorted))
}

func fieldList(fields []string) string {
	if len(fields) == 0 {
		return "no fields"
	}
	return strings.Join(fields, ", ")
}

// CheckTargetCount accepts between MinTargets and MaxTargets targets.
func CheckTargetCount(n int) error {
	if n < domain.MinTargets || n > domain.MaxTargets {
		return newError(RuleInvalidTargetCount, "mission must have %d to %d targets, got %d", domain.MinTargets, domain.MaxTargets, n)
	}
	return nil
}

// CheckMissionDeletable rejects missions with an assigned cat.
func CheckMissionDeletable(m domain.Mission) error {
	if m.CatID != nil {
		return newError(RuleMissionAssigned, "cannot delete mission %s: cat %s is assigned", m.ID, *m.CatID)
	}
	return nil
}

// CheckAssignable requires both sides of the link to be free.
func CheckAssignable(m domain.Mission, c domain.Cat) error {
	if m.CatID != nil {
		return newError(RuleMissionAlreadyAssigned, "mission %s already assigned to cat %s", m.ID, *m.CatID)
	}
	if c.MissionID != nil {
		return newError(RuleCatAlreadyAssigned, "cat %s already has mission %s", c.ID, *c.MissionID)
	}
	return nil
}

// TargetPatch is a partial target update; nil fields are left untouched.
type TargetPatch struct {
	Name        *string
	Country     *string
	Notes       *string
	IsCompleted *bool
}

// Changes lists the fields whose submitted value differs from stored.
func (p TargetPatch) Changes(stored domain.Target) []string {
	var changed []string
	if p.Name != nil && *p.Name != stored.Name {
		changed = append(changed, "name")
	}
	if p.Country != nil && *p.Country != stored.Country {
		changed = append(changed, "country")
	}
	if p.Notes != nil && *p.Notes != stored.Notes {
		changed = append(changed, "notes")
	}
	if p.IsCompleted != nil && *p.IsCompleted != stored.IsCompleted {
		changed = append(changed, "is_completed")
	}
	return changed
}

// Apply returns stored with the patch applied.
func (p TargetPatch) Apply(stored domain.Target) domain.Target {
	out := stored
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Country != nil {
		out.Country = *p.Country
	}
	if p.Notes != nil {
		out.Notes = *p.Notes
	}
	if p.IsCompleted != nil {
		out.IsCompleted = *p.IsCompleted
	}
	return out
}

// CheckTargetUpdate enforces the completion freezes. An update that changes
// nothing is always accepted.
func CheckTargetUpdate(missionCompleted bool, stored domain.Target, patch TargetPatch) error {
	changed := patch.Changes(stored)
	if len(changed) == 0 {
		return nil
	}
	if missionCompleted {
		return newError(RuleMissionFrozen, "cannot modify target %s: mission %s is completed", stored.ID, stored.MissionID)
	}
	if !stored.IsCompleted {
		return nil
	}
	for _, f := range changed {
		if f == "notes" {
			e := newError(RuleNotesFrozen, "cannot update notes of completed target %s", stored.ID)
			e.Field = "notes"
			return e
		}
	}
	return newError(RuleTargetFrozen, "target %s is completed; %s frozen", stored.ID, fieldList(changed))
}
