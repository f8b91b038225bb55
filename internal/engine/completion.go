package engine

import (
	"context"
	"fmt"

	"spycats/internal/domain"
	"spycats/internal/events"
	"spycats/internal/repo"
)

// RecomputeMissionCompletion marks the mission completed once every target
// is completed. It never reopens a mission and is a no-op when nothing
// changes, so it is safe to run after any target write. It reports whether
// this call completed the mission; errors are storage failures only.
func (e Engine) RecomputeMissionCompletion(ctx context.Context, q repo.DBTX, missionID string) (bool, error) {
	m, err := e.Repo.GetMission(ctx, q, missionID, false)
	if err != nil {
		return false, fmt.Errorf("load mission %s: %w", missionID, err)
	}
	if m.IsCompleted || !domain.AllTargetsCompleted(m.Targets) {
		return false, nil
	}
	now := e.timestamp()
	if err := e.Repo.MarkMissionCompleted(ctx, q, missionID, now); err != nil {
		return false, fmt.Errorf("complete mission %s: %w", missionID, err)
	}
	payload := events.EventPayload{"targets": len(m.Targets)}
	if m.CatID != nil {
		payload["cat_id"] = *m.CatID
	}
	if err := e.Events.Append(ctx, q, events.MissionCompleted, "mission", missionID, payload); err != nil {
		return false, err
	}
	return true, nil
}
