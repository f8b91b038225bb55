package server

import (
	"encoding/json"

	"spycats/internal/domain"
)

// Request payloads

type CreateCatRequest struct {
	Name            string `json:"name" example:"Tom"`
	ExperienceYears int    `json:"experience_years" example:"3"`
	Breed           string `json:"breed" example:"Siamese"`
	Salary          string `json:"salary" example:"1500.00" doc:"Decimal with at most two fractional digits"`
}

// UpdateCatRequest accepts any keys so that forbidden fields are reported
// as field_not_editable instead of a schema error.
type UpdateCatRequest struct {
	_      struct{} `json:"-" additionalProperties:"true"`
	Salary *string  `json:"salary,omitempty" example:"2000.00"`
}

type CreateTargetRequest struct {
	Name    string `json:"name" example:"Ivan Petrov"`
	Country string `json:"country" example:"UA"`
	Notes   string `json:"notes,omitempty"`
}

type CreateMissionRequest struct {
	Targets []CreateTargetRequest `json:"targets" doc:"Between one and three targets"`
}

type UpdateTargetRequest struct {
	Name        *string `json:"name,omitempty"`
	Country     *string `json:"country,omitempty"`
	Notes       *string `json:"notes,omitempty"`
	IsCompleted *bool   `json:"is_completed,omitempty"`
}

// Response payloads

type CatResponse struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	ExperienceYears int     `json:"experience_years"`
	Breed           string  `json:"breed"`
	Salary          string  `json:"salary" example:"1500.00"`
	MissionID       *string `json:"mission_id"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
}

type TargetResponse struct {
	ID          string `json:"id"`
	MissionID   string `json:"mission_id"`
	Position    int    `json:"position"`
	Name        string `json:"name"`
	Country     string `json:"country"`
	Notes       string `json:"notes"`
	IsCompleted bool   `json:"is_completed"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type MissionResponse struct {
	ID          string           `json:"id"`
	CatID       *string          `json:"cat_id"`
	IsCompleted bool             `json:"is_completed"`
	Targets     []TargetResponse `json:"targets"`
	CreatedAt   string           `json:"created_at" format:"date-time"`
	CompletedAt *string          `json:"completed_at,omitempty" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}

type BreedsResponse struct {
	Breeds []string `json:"breeds"`
}

func catResponse(c domain.Cat) CatResponse {
	return CatResponse{
		ID:              c.ID,
		Name:            c.Name,
		ExperienceYears: c.ExperienceYears,
		Breed:           c.Breed,
		Salary:          domain.FormatSalary(c.Salary),
		MissionID:       c.MissionID,
		CreatedAt:       c.CreatedAt,
	}
}

func targetResponse(t domain.Target) TargetResponse {
	return TargetResponse{
		ID:          t.ID,
		MissionID:   t.MissionID,
		Position:    t.Position,
		Name:        t.Name,
		Country:     t.Country,
		Notes:       t.Notes,
		IsCompleted: t.IsCompleted,
		UpdatedAt:   t.UpdatedAt,
	}
}

func missionResponse(m domain.Mission) MissionResponse {
	res := MissionResponse{
		ID:          m.ID,
		CatID:       m.CatID,
		IsCompleted: m.IsCompleted,
		Targets:     make([]TargetResponse, 0, len(m.Targets)),
		CreatedAt:   m.CreatedAt,
		CompletedAt: m.CompletedAt,
	}
	for _, t := range m.Targets {
		res.Targets = append(res.Targets, targetResponse(t))
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	payload := decodeJSONMap(e.Payload)
	if payload == nil {
		payload = map[string]any{}
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		Payload:    payload,
	}
}

func mapCats(items []domain.Cat) []CatResponse {
	res := make([]CatResponse, 0, len(items))
	for _, c := range items {
		res = append(res, catResponse(c))
	}
	return res
}

func mapMissions(items []domain.Mission) []MissionResponse {
	res := make([]MissionResponse, 0, len(items))
	for _, m := range items {
		res = append(res, missionResponse(m))
	}
	return res
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	return obj
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
