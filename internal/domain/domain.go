package domain

import (
	"github.com/shopspring/decimal"
)

type Cat struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	ExperienceYears int             `json:"experience_years"`
	Breed           string          `json:"breed"`
	Salary          decimal.Decimal `json:"salary"`
	MissionID       *string         `json:"mission_id,omitempty"`
	CreatedAt       string          `json:"created_at" format:"date-time"`
}

type Mission struct {
	ID          string   `json:"id"`
	CatID       *string  `json:"cat_id,omitempty"`
	IsCompleted bool     `json:"is_completed"`
	Targets     []Target `json:"targets"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	CompletedAt *string  `json:"completed_at,omitempty" format:"date-time"`
}

type Target struct {
	ID          string `json:"id"`
	MissionID   string `json:"mission_id"`
	Position    int    `json:"position"`
	Name        string `json:"name"`
	Country     string `json:"country"`
	Notes       string `json:"notes"`
	IsCompleted bool   `json:"is_completed"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

// AllTargetsCompleted reports whether a non-empty target list is fully done.
func AllTargetsCompleted(targets []Target) bool {
	if len(targets) == 0 {
		return false
	}
	for _, t := range targets {
		if !t.IsCompleted {
			return false
		}
	}
	return true
}

// TimeFormat is RFC 3339 with fixed microsecond precision so stored
// timestamps sort lexicographically.
const TimeFormat = "2006-01-02T15:04:05.000000Z07:00"
