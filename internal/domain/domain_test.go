package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestParseSalary(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "1500", want: "1500.00"},
		{in: "1500.5", want: "1500.50"},
		{in: " 99999999.99 ", want: "99999999.99"},
		{in: "0", want: "0.00"},
		{in: "100000000", wantErr: true},
		{in: "10.001", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseSalary(tc.in)
		if tc.wantErr {
			var fe *FieldError
			require.True(t, errors.As(err, &fe), "input %q", tc.in)
			require.Equal(t, "salary", fe.Field)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		require.Equal(t, tc.want, FormatSalary(got))
	}
}

func TestValidateCat(t *testing.T) {
	ok := Cat{Name: "Tom", ExperienceYears: 3, Breed: "Siamese", Salary: decimal.NewFromInt(1000)}
	require.NoError(t, ValidateCat(ok))

	bad := ok
	bad.ExperienceYears = -1
	require.ErrorContains(t, ValidateCat(bad), "experience_years")

	bad = ok
	bad.Name = "  "
	require.ErrorContains(t, ValidateCat(bad), "name")

	bad = ok
	bad.Breed = strings.Repeat("x", MaxNameLength+1)
	require.ErrorContains(t, ValidateCat(bad), "breed")
}

func TestValidateTarget(t *testing.T) {
	require.NoError(t, ValidateTarget(Target{Name: "Boris", Country: "UK"}))
	require.ErrorContains(t, ValidateTarget(Target{Name: "Boris"}), "country")
	require.ErrorContains(t, ValidateTarget(Target{Country: "UK"}), "name")
}

func TestAllTargetsCompleted(t *testing.T) {
	require.False(t, AllTargetsCompleted(nil))
	require.False(t, AllTargetsCompleted([]Target{{IsCompleted: true}, {}}))
	require.True(t, AllTargetsCompleted([]Target{{IsCompleted: true}, {IsCompleted: true}}))
}
