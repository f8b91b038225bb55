package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	MaxNameLength   = 100
	MinTargets      = 1
	MaxTargets      = 3
	SalaryMaxDigits = 10
	SalaryPlaces    = 2
)

// salaryLimit is the first value that no longer fits SalaryMaxDigits with
// SalaryPlaces fractional digits.
var salaryLimit = decimal.New(1, SalaryMaxDigits-SalaryPlaces)

// FieldError reports a field-level constraint violation.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func fieldErr(field, format string, args ...any) *FieldError {
	return &FieldError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func validateText(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return fieldErr(field, "is required")
	}
	if utf8.RuneCountInString(value) > MaxNameLength {
		return fieldErr(field, "must be at most %d characters", MaxNameLength)
	}
	return nil
}

// ValidateSalary checks sign and precision of a salary.
func ValidateSalary(salary decimal.Decimal) error {
	if salary.IsNegative() {
		return fieldErr("salary", "must not be negative")
	}
	if !salary.Equal(salary.Truncate(SalaryPlaces)) {
		return fieldErr("salary", "must have at most %d decimal places", SalaryPlaces)
	}
	if salary.GreaterThanOrEqual(salaryLimit) {
		return fieldErr("salary", "must have at most %d digits", SalaryMaxDigits)
	}
	return nil
}

// ParseSalary parses a decimal string and validates it.
func ParseSalary(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, fieldErr("salary", "must be a decimal number")
	}
	if err := ValidateSalary(d); err != nil {
		return decimal.Decimal{}, err
	}
	return d, nil
}

// FormatSalary renders a salary with fixed precision.
func FormatSalary(d decimal.Decimal) string {
	return d.StringFixed(SalaryPlaces)
}

// ValidateCat checks field constraints of a new cat.
func ValidateCat(c Cat) error {
	if err := validateText("name", c.Name); err != nil {
		return err
	}
	if c.ExperienceYears < 0 {
		return fieldErr("experience_years", "must not be negative")
	}
	if err := validateText("breed", c.Breed); err != nil {
		return err
	}
	return ValidateSalary(c.Salary)
}

// ValidateTarget checks field constraints of a target.
func ValidateTarget(t Target) error {
	if err := validateText("name", t.Name); err != nil {
		return err
	}
	return validateText("country", t.Country)
}
