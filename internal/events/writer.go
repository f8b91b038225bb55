package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"spycats/internal/db"
	"spycats/internal/domain"
	"spycats/internal/repo"
)

// Event types appended by the engine.
const (
	CatCreated        = "cat.created"
	CatSalaryUpdated  = "cat.salary_updated"
	CatDeleted        = "cat.deleted"
	MissionCreated    = "mission.created"
	MissionDeleted    = "mission.deleted"
	MissionAssigned   = "mission.assigned"
	MissionUnassigned = "mission.unassigned"
	MissionCompleted  = "mission.completed"
	TargetUpdated     = "target.updated"
	TargetCompleted   = "target.completed"
)

type Writer struct {
	Dialect db.Dialect
	Now     func() time.Time
}

type EventPayload map[string]any

// Append records an event inside the caller's transaction so it commits or
// rolls back with the mutation it describes.
func (w Writer) Append(ctx context.Context, q repo.DBTX, evtType, entityKind, entityID string, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(domain.TimeFormat)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = q.ExecContext(ctx, w.Dialect.Rebind(`INSERT INTO events(ts,type,entity_kind,entity_id,payload_json) VALUES (?,?,?,?,?)`),
		ts, evtType, entityKind, nullable(entityID), string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
