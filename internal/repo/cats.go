package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"spycats/internal/domain"
)

const catColumns = `c.id,c.name,c.experience_years,c.breed,c.salary,c.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCat(row rowScanner, extra ...any) (domain.Cat, error) {
	var c domain.Cat
	var salary string
	dest := append([]any{&c.ID, &c.Name, &c.ExperienceYears, &c.Breed, &salary, &c.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return c, err
	}
	d, err := decimal.NewFromString(salary)
	if err != nil {
		return c, fmt.Errorf("cat %s salary %q: %w", c.ID, salary, err)
	}
	c.Salary = d
	return c, nil
}

func (r Repo) InsertCat(ctx context.Context, q DBTX, c domain.Cat) error {
	_, err := r.exec(ctx, q, `INSERT INTO cats(id,name,experience_years,breed,salary,created_at) VALUES (?,?,?,?,?,?)`,
		c.ID, c.Name, c.ExperienceYears, c.Breed, domain.FormatSalary(c.Salary), c.CreatedAt)
	return err
}

// GetCat loads a cat with its current mission link. forUpdate locks the cat
// row on dialects that support it.
func (r Repo) GetCat(ctx context.Context, q DBTX, id string, forUpdate bool) (domain.Cat, error) {
	c, err := scanCat(r.queryRow(ctx, q, `SELECT `+catColumns+` FROM cats c WHERE c.id=?`+r.lock(forUpdate), id))
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	missionID, err := r.MissionIDForCat(ctx, q, id)
	if err != nil {
		return c, err
	}
	c.MissionID = missionID
	return c, nil
}

func (r Repo) ListCats(ctx context.Context, q DBTX) ([]domain.Cat, error) {
	rows, err := r.query(ctx, q, `SELECT `+catColumns+`,m.id FROM cats c LEFT JOIN missions m ON m.cat_id=c.id ORDER BY c.created_at, c.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Cat
	for rows.Next() {
		var missionID sql.NullString
		c, err := scanCat(rows, &missionID)
		if err != nil {
			return nil, err
		}
		c.MissionID = stringPtr(missionID)
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) UpdateCatSalary(ctx context.Context, q DBTX, id string, salary decimal.Decimal) error {
	res, err := r.exec(ctx, q, `UPDATE cats SET salary=? WHERE id=?`, domain.FormatSalary(salary), id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

// DeleteCat removes a cat; its mission, if any, is released by the
// ON DELETE SET NULL reference.
func (r Repo) DeleteCat(ctx context.Context, q DBTX, id string) error {
	res, err := r.exec(ctx, q, `DELETE FROM cats WHERE id=?`, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}
