package repo

import (
	"context"
	"database/sql"

	"spycats/internal/domain"
)

const targetColumns = `id,mission_id,position,name,country,notes,is_completed,updated_at`

func scanTarget(row rowScanner) (domain.Target, error) {
	var t domain.Target
	err := row.Scan(&t.ID, &t.MissionID, &t.Position, &t.Name, &t.Country, &t.Notes, &t.IsCompleted, &t.UpdatedAt)
	return t, err
}

func (r Repo) InsertTarget(ctx context.Context, q DBTX, t domain.Target) error {
	_, err := r.exec(ctx, q, `INSERT INTO targets(`+targetColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		t.ID, t.MissionID, t.Position, t.Name, t.Country, t.Notes, t.IsCompleted, t.UpdatedAt)
	return err
}

func (r Repo) GetTarget(ctx context.Context, q DBTX, id string, forUpdate bool) (domain.Target, error) {
	t, err := scanTarget(r.queryRow(ctx, q, `SELECT `+targetColumns+` FROM targets WHERE id=?`+r.lock(forUpdate), id))
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) ListTargets(ctx context.Context, q DBTX, missionID string) ([]domain.Target, error) {
	rows, err := r.query(ctx, q, `SELECT `+targetColumns+` FROM targets WHERE mission_id=? ORDER BY position`, missionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Target{}
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) targetsByMission(ctx context.Context, q DBTX) (map[string][]domain.Target, error) {
	rows, err := r.query(ctx, q, `SELECT `+targetColumns+` FROM targets ORDER BY mission_id, position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string][]domain.Target{}
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		res[t.MissionID] = append(res[t.MissionID], t)
	}
	return res, rows.Err()
}

// UpdateTarget persists the mutable target fields.
func (r Repo) UpdateTarget(ctx context.Context, q DBTX, t domain.Target) error {
	res, err := r.exec(ctx, q, `UPDATE targets SET name=?, country=?, notes=?, is_completed=?, updated_at=? WHERE id=?`,
		t.Name, t.Country, t.Notes, t.IsCompleted, t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// CountTargets counts targets of a mission; used to verify cascades.
func (r Repo) CountTargets(ctx context.Context, q DBTX, missionID string) (int, error) {
	var n int
	err := r.queryRow(ctx, q, `SELECT COUNT(*) FROM targets WHERE mission_id=?`, missionID).Scan(&n)
	return n, err
}
