package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"spycats/internal/breeds"
	"spycats/internal/domain"
)

func ptr[T any](v T) *T { return &v }

func ruleOf(t *testing.T, err error) Rule {
	t.Helper()
	e, ok := AsError(err)
	require.True(t, ok, "expected engine error, got %v", err)
	return e.Rule
}

func TestCheckBreed(t *testing.T) {
	valid := breeds.NewSet("Siamese", " Maine Coon ")
	require.NoError(t, CheckBreed(valid, "siamese"))
	require.NoError(t, CheckBreed(valid, "MAINE COON"))
	require.Equal(t, RuleInvalidBreed, ruleOf(t, CheckBreed(valid, "Dragon")))
	require.Equal(t, RuleInvalidBreed, ruleOf(t, CheckBreed(breeds.Set{}, "Siamese")))
}

func TestCheckCatUpdateFields(t *testing.T) {
	require.NoError(t, CheckCatUpdateFields([]string{"salary"}))
	for _, fields := range [][]string{nil, {}, {"name"}, {"salary", "breed"}, {"salary", "salary"}} {
		err := CheckCatUpdateFields(fields)
		require.Equal(t, RuleFieldNotEditable, ruleOf(t, err), "fields %v", fields)
	}
}

func TestCheckTargetCount(t *testing.T) {
	for n := 1; n <= 3; n++ {
		require.NoError(t, CheckTargetCount(n))
	}
	require.Equal(t, RuleInvalidTargetCount, ruleOf(t, CheckTargetCount(0)))
	require.Equal(t, RuleInvalidTargetCount, ruleOf(t, CheckTargetCount(4)))
}

func TestCheckAssignable(t *testing.T) {
	free := domain.Mission{ID: "m1"}
	taken := domain.Mission{ID: "m2", CatID: ptr("c9")}
	cat := domain.Cat{ID: "c1"}
	busy := domain.Cat{ID: "c2", MissionID: ptr("m3")}

	require.NoError(t, CheckAssignable(free, cat))
	require.Equal(t, RuleMissionAlreadyAssigned, ruleOf(t, CheckAssignable(taken, cat)))
	require.Equal(t, RuleCatAlreadyAssigned, ruleOf(t, CheckAssignable(free, busy)))
	require.Equal(t, RuleMissionAssigned, ruleOf(t, CheckMissionDeletable(taken)))
	require.NoError(t, CheckMissionDeletable(free))
}

func TestCheckTargetUpdate(t *testing.T) {
	open := domain.Target{ID: "t1", MissionID: "m1", Name: "Ivan", Country: "RU", Notes: "n"}
	done := open
	done.IsCompleted = true

	cases := []struct {
		name             string
		missionCompleted bool
		stored           domain.Target
		patch            TargetPatch
		want             Rule
	}{
		{name: "open target any change", stored: open, patch: TargetPatch{Notes: ptr("x"), Name: ptr("y")}},
		{name: "unchanged on completed mission", missionCompleted: true, stored: done, patch: TargetPatch{Notes: ptr("n"), IsCompleted: ptr(true)}},
		{name: "completed mission", missionCompleted: true, stored: done, patch: TargetPatch{Notes: ptr("x")}, want: RuleMissionFrozen},
		{name: "notes on completed target", stored: done, patch: TargetPatch{Notes: ptr("x"), Name: ptr("y")}, want: RuleNotesFrozen},
		{name: "name on completed target", stored: done, patch: TargetPatch{Name: ptr("y")}, want: RuleTargetFrozen},
		{name: "reopen completed target", stored: done, patch: TargetPatch{IsCompleted: ptr(false)}, want: RuleTargetFrozen},
		{name: "complete open target", stored: open, patch: TargetPatch{IsCompleted: ptr(true)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckTargetUpdate(tc.missionCompleted, tc.stored, tc.patch)
			if tc.want == "" {
				require.NoError(t, err)
				return
			}
			require.Equal(t, tc.want, ruleOf(t, err))
			require.Equal(t, ruleKinds[tc.want], KindFrozen)
		})
	}
}

func TestTargetPatchChangesAndApply(t *testing.T) {
	stored := domain.Target{Name: "a", Country: "b", Notes: "c"}
	p := TargetPatch{Name: ptr("a"), Country: ptr("z"), IsCompleted: ptr(true)}
	require.Equal(t, []string{"country", "is_completed"}, p.Changes(stored))
	out := p.Apply(stored)
	require.Equal(t, "z", out.Country)
	require.Equal(t, "c", out.Notes)
	require.True(t, out.IsCompleted)
	require.Empty(t, TargetPatch{}.Changes(stored))
}

func TestRuleKindsCoverEveryRule(t *testing.T) {
	for rule, kind := range ruleKinds {
		require.NotEmpty(t, kind, "rule %s", rule)
		require.Equal(t, kind, newError(rule, "x").Kind)
	}
}
