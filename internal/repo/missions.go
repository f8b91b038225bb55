package repo

import (
	"context"
	"database/sql"

	"spycats/internal/domain"
)

func (r Repo) InsertMission(ctx context.Context, q DBTX, m domain.Mission) error {
	_, err := r.exec(ctx, q, `INSERT INTO missions(id,cat_id,is_completed,created_at,completed_at) VALUES (?,?,?,?,?)`,
		m.ID, nullableStringPtr(m.CatID), m.IsCompleted, m.CreatedAt, nullableStringPtr(m.CompletedAt))
	return err
}

func scanMission(row rowScanner) (domain.Mission, error) {
	var m domain.Mission
	var catID, completedAt sql.NullString
	if err := row.Scan(&m.ID, &catID, &m.IsCompleted, &m.CreatedAt, &completedAt); err != nil {
		return m, err
	}
	m.CatID = stringPtr(catID)
	m.CompletedAt = stringPtr(completedAt)
	return m, nil
}

// GetMission loads a mission and its targets.
func (r Repo) GetMission(ctx context.Context, q DBTX, id string, forUpdate bool) (domain.Mission, error) {
	m, err := scanMission(r.queryRow(ctx, q, `SELECT id,cat_id,is_completed,created_at,completed_at FROM missions WHERE id=?`+r.lock(forUpdate), id))
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	targets, err := r.ListTargets(ctx, q, id)
	if err != nil {
		return m, err
	}
	m.Targets = targets
	return m, nil
}

func (r Repo) ListMissions(ctx context.Context, q DBTX) ([]domain.Mission, error) {
	rows, err := r.query(ctx, q, `SELECT id,cat_id,is_completed,created_at,completed_at FROM missions ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	res := []domain.Mission{}
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, m)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return res, nil
	}
	// Targets are grouped in a second pass so no query runs while the
	// missions cursor holds the connection.
	byMission, err := r.targetsByMission(ctx, q)
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Targets = append([]domain.Target{}, byMission[res[i].ID]...)
	}
	return res, nil
}

// MissionIDForCat returns the id of the mission the cat is assigned to.
func (r Repo) MissionIDForCat(ctx context.Context, q DBTX, catID string) (*string, error) {
	var id string
	err := r.queryRow(ctx, q, `SELECT id FROM missions WHERE cat_id=?`, catID).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// SetMissionCat links or, with a nil catID, unlinks a cat.
func (r Repo) SetMissionCat(ctx context.Context, q DBTX, missionID string, catID *string) error {
	res, err := r.exec(ctx, q, `UPDATE missions SET cat_id=? WHERE id=?`, nullableStringPtr(catID), missionID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (r Repo) MarkMissionCompleted(ctx context.Context, q DBTX, missionID, completedAt string) error {
	res, err := r.exec(ctx, q, `UPDATE missions SET is_completed=?, completed_at=? WHERE id=?`, true, completedAt, missionID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// DeleteMission removes a mission; its targets cascade.
func (r Repo) DeleteMission(ctx context.Context, q DBTX, id string) error {
	res, err := r.exec(ctx, q, `DELETE FROM missions WHERE id=?`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}
