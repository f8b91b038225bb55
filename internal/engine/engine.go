package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"spycats/internal/breeds"
	"spycats/internal/db"
	"spycats/internal/domain"
	"spycats/internal/events"
	"spycats/internal/metrics"
	"spycats/internal/repo"
)

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Breeds  breeds.Catalog
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
	NewID   func() string
}

func New(conn *sql.DB, dialect db.Dialect, catalog breeds.Catalog) Engine {
	return Engine{
		DB:     conn,
		Repo:   repo.New(conn, dialect),
		Events: events.Writer{Dialect: dialect},
		Breeds: catalog,
		Logger: zap.NewNop(),
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(domain.TimeFormat)
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) log() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

// withTx runs fn in a transaction that commits only when fn succeeds, then
// records the outcome of op.
func (e Engine) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	err := func() error {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	}()
	e.record(op, err)
	return err
}

func (e Engine) record(op string, err error) {
	if err == nil {
		e.Metrics.Operation(op, "ok")
		return
	}
	if ee, ok := AsError(err); ok {
		e.Metrics.Operation(op, "rejected")
		e.Metrics.GuardRejection(string(ee.Rule))
		e.log().Debug("operation rejected",
			zap.String("operation", op),
			zap.String("rule", string(ee.Rule)),
			zap.String("kind", string(ee.Kind)),
			zap.String("message", ee.Message))
		return
	}
	e.Metrics.Operation(op, "error")
	e.log().Error("operation failed", zap.String("operation", op), zap.Error(err))
}

func fieldError(err error) error {
	var fe *domain.FieldError
	if errors.As(err, &fe) {
		return &Error{Kind: KindValidation, Rule: RuleInvalidField, Field: fe.Field, Message: fe.Message, Err: err}
	}
	return err
}

func notFound(err error, rule Rule, kind, id string) error {
	if errors.Is(err, repo.ErrNotFound) {
		return &Error{Kind: KindNotFound, Rule: rule, Message: fmt.Sprintf("%s %s not found", kind, id), Err: err}
	}
	return err
}

// --- cats ---

// CatCreateOptions are parameters for creating a cat.
type CatCreateOptions struct {
	Name            string
	ExperienceYears int
	Breed           string
	Salary          string
}

// CreateCat validates fields and breed, then inserts the cat. The catalog
// lookup happens before the transaction so no lock is held across it.
func (e Engine) CreateCat(ctx context.Context, opts CatCreateOptions) (domain.Cat, error) {
	c, err := e.prepareCat(ctx, opts)
	if err != nil {
		e.record("create_cat", err)
		return domain.Cat{}, err
	}
	err = e.withTx(ctx, "create_cat", func(tx *sql.Tx) error {
		if err := e.Repo.InsertCat(ctx, tx, c); err != nil {
			return fmt.Errorf("insert cat: %w", err)
		}
		return e.Events.Append(ctx, tx, events.CatCreated, "cat", c.ID, events.EventPayload{
			"name":   c.Name,
			"breed":  c.Breed,
			"salary": domain.FormatSalary(c.Salary),
		})
	})
	if err != nil {
		return domain.Cat{}, err
	}
	e.log().Info("cat created", zap.String("cat_id", c.ID), zap.String("breed", c.Breed))
	return c, nil
}

func (e Engine) prepareCat(ctx context.Context, opts CatCreateOptions) (domain.Cat, error) {
	salary, err := domain.ParseSalary(opts.Salary)
	if err != nil {
		return domain.Cat{}, fieldError(err)
	}
	c := domain.Cat{
		ID:              e.newID(),
		Name:            opts.Name,
		ExperienceYears: opts.ExperienceYears,
		Breed:           opts.Breed,
		Salary:          salary,
		CreatedAt:       e.timestamp(),
	}
	if err := domain.ValidateCat(c); err != nil {
		return domain.Cat{}, fieldError(err)
	}
	valid, err := e.validBreeds(ctx)
	if err != nil {
		return domain.Cat{}, err
	}
	if err := CheckBreed(valid, c.Breed); err != nil {
		return domain.Cat{}, err
	}
	return c, nil
}

func (e Engine) validBreeds(ctx context.Context) (breeds.Set, error) {
	if e.Breeds == nil {
		return nil, &Error{Kind: KindDependency, Rule: RuleBreedCatalogUnavailable, Message: "breed catalog not configured"}
	}
	valid, err := e.Breeds.ValidBreeds(ctx)
	if err != nil {
		return nil, &Error{Kind: KindDependency, Rule: RuleBreedCatalogUnavailable, Message: err.Error(), Err: err}
	}
	return valid, nil
}

// ListBreeds returns the catalog's breed names, sorted.
func (e Engine) ListBreeds(ctx context.Context) ([]string, error) {
	valid, err := e.validBreeds(ctx)
	if err != nil {
		return nil, err
	}
	return valid.Names(), nil
}

func (e Engine) GetCat(ctx context.Context, id string) (domain.Cat, error) {
	c, err := e.Repo.GetCat(ctx, e.DB, id, false)
	if err != nil {
		return c, notFound(err, RuleCatNotFound, "cat", id)
	}
	return c, nil
}

func (e Engine) ListCats(ctx context.Context) ([]domain.Cat, error) {
	cats, err := e.Repo.ListCats(ctx, e.DB)
	if err != nil {
		return nil, err
	}
	if cats == nil {
		cats = []domain.Cat{}
	}
	return cats, nil
}

// CatSalaryUpdate carries the fields a client submitted. Fields must be
// exactly ["salary"].
type CatSalaryUpdate struct {
	ID     string
	Fields []string
	Salary string
}

func (e Engine) UpdateCatSalary(ctx context.Context, upd CatSalaryUpdate) (domain.Cat, error) {
	if err := CheckCatUpdateFields(upd.Fields); err != nil {
		e.record("update_cat_salary", err)
		return domain.Cat{}, err
	}
	salary, err := domain.ParseSalary(upd.Salary)
	if err != nil {
		err = fieldError(err)
		e.record("update_cat_salary", err)
		return domain.Cat{}, err
	}
	var c domain.Cat
	err = e.withTx(ctx, "update_cat_salary", func(tx *sql.Tx) error {
		old, err := e.Repo.GetCat(ctx, tx, upd.ID, true)
		if err != nil {
			return notFound(err, RuleCatNotFound, "cat", upd.ID)
		}
		if err := e.Repo.UpdateCatSalary(ctx, tx, upd.ID, salary); err != nil {
			return fmt.Errorf("update salary: %w", err)
		}
		c = old
		c.Salary = salary
		return e.Events.Append(ctx, tx, events.CatSalaryUpdated, "cat", c.ID, events.EventPayload{
			"from": domain.FormatSalary(old.Salary),
			"to":   domain.FormatSalary(salary),
		})
	})
	if err != nil {
		return domain.Cat{}, err
	}
	e.log().Info("cat salary updated", zap.String("cat_id", c.ID), zap.String("salary", domain.FormatSalary(c.Salary)))
	return c, nil
}

// DeleteCat removes a cat and releases its mission, if any.
func (e Engine) DeleteCat(ctx context.Context, id string) error {
	err := e.withTx(ctx, "delete_cat", func(tx *sql.Tx) error {
		c, err := e.Repo.GetCat(ctx, tx, id, true)
		if err != nil {
			return notFound(err, RuleCatNotFound, "cat", id)
		}
		if err := e.Repo.DeleteCat(ctx, tx, id); err != nil {
			return notFound(err, RuleCatNotFound, "cat", id)
		}
		payload := events.EventPayload{"name": c.Name}
		if c.MissionID != nil {
			payload["released_mission_id"] = *c.MissionID
			if err := e.Events.Append(ctx, tx, events.MissionUnassigned, "mission", *c.MissionID, events.EventPayload{"cat_id": id}); err != nil {
				return err
			}
		}
		return e.Events.Append(ctx, tx, events.CatDeleted, "cat", id, payload)
	})
	if err != nil {
		return err
	}
	e.log().Info("cat deleted", zap.String("cat_id", id))
	return nil
}

// --- missions ---

// TargetInput describes a target submitted with a new mission.
type TargetInput struct {
	Name    string
	Country string
	Notes   string
}

// CreateMission inserts a mission and its targets atomically.
func (e Engine) CreateMission(ctx context.Context, targets []TargetInput) (domain.Mission, error) {
	if err := CheckTargetCount(len(targets)); err != nil {
		e.record("create_mission", err)
		return domain.Mission{}, err
	}
	now := e.timestamp()
	m := domain.Mission{ID: e.newID(), CreatedAt: now}
	for i, in := range targets {
		t := domain.Target{
			ID:        e.newID(),
			MissionID: m.ID,
			Position:  i + 1,
			Name:      in.Name,
			Country:   in.Country,
			Notes:     in.Notes,
			UpdatedAt: now,
		}
		if err := domain.ValidateTarget(t); err != nil {
			ee := fieldError(err)
			if v, ok := AsError(ee); ok {
				v.Field = fmt.Sprintf("targets[%d].%s", i, v.Field)
			}
			e.record("create_mission", ee)
			return domain.Mission{}, ee
		}
		m.Targets = append(m.Targets, t)
	}
	err := e.withTx(ctx, "create_mission", func(tx *sql.Tx) error {
		if err := e.Repo.InsertMission(ctx, tx, m); err != nil {
			return fmt.Errorf("insert mission: %w", err)
		}
		for _, t := range m.Targets {
			if err := e.Repo.InsertTarget(ctx, tx, t); err != nil {
				return fmt.Errorf("insert target: %w", err)
			}
		}
		if err := e.Events.Append(ctx, tx, events.MissionCreated, "mission", m.ID, events.EventPayload{"targets": len(m.Targets)}); err != nil {
			return err
		}
		if _, err := e.RecomputeMissionCompletion(ctx, tx, m.ID); err != nil {
			return err
		}
		created, err := e.Repo.GetMission(ctx, tx, m.ID, false)
		if err != nil {
			return err
		}
		m = created
		return nil
	})
	if err != nil {
		return domain.Mission{}, err
	}
	e.log().Info("mission created", zap.String("mission_id", m.ID), zap.Int("targets", len(m.Targets)))
	return m, nil
}

func (e Engine) GetMission(ctx context.Context, id string) (domain.Mission, error) {
	m, err := e.Repo.GetMission(ctx, e.DB, id, false)
	if err != nil {
		return m, notFound(err, RuleMissionNotFound, "mission", id)
	}
	return m, nil
}

func (e Engine) ListMissions(ctx context.Context) ([]domain.Mission, error) {
	return e.Repo.ListMissions(ctx, e.DB)
}

// DeleteMission removes an unassigned mission together with its targets.
func (e Engine) DeleteMission(ctx context.Context, id string) error {
	err := e.withTx(ctx, "delete_mission", func(tx *sql.Tx) error {
		m, err := e.Repo.GetMission(ctx, tx, id, true)
		if err != nil {
			return notFound(err, RuleMissionNotFound, "mission", id)
		}
		if err := CheckMissionDeletable(m); err != nil {
			return err
		}
		if err := e.Repo.DeleteMission(ctx, tx, id); err != nil {
			return notFound(err, RuleMissionNotFound, "mission", id)
		}
		return e.Events.Append(ctx, tx, events.MissionDeleted, "mission", id, events.EventPayload{"targets": len(m.Targets)})
	})
	if err != nil {
		return err
	}
	e.log().Info("mission deleted", zap.String("mission_id", id))
	return nil
}

// AssignCat links a free cat to a free mission.
func (e Engine) AssignCat(ctx context.Context, missionID, catID string) (domain.Mission, error) {
	var m domain.Mission
	err := e.withTx(ctx, "assign_cat", func(tx *sql.Tx) error {
		var err error
		m, err = e.Repo.GetMission(ctx, tx, missionID, true)
		if err != nil {
			return notFound(err, RuleMissionNotFound, "mission", missionID)
		}
		c, err := e.Repo.GetCat(ctx, tx, catID, true)
		if err != nil {
			return notFound(err, RuleCatNotFound, "cat", catID)
		}
		if err := CheckAssignable(m, c); err != nil {
			return err
		}
		if err := e.Repo.SetMissionCat(ctx, tx, missionID, &catID); err != nil {
			if e.Repo.Dialect.IsUniqueViolation(err) {
				return &Error{Kind: KindConflict, Rule: RuleCatAlreadyAssigned, Message: fmt.Sprintf("cat %s already has a mission", catID), Err: err}
			}
			return fmt.Errorf("assign cat: %w", err)
		}
		m.CatID = &catID
		return e.Events.Append(ctx, tx, events.MissionAssigned, "mission", missionID, events.EventPayload{"cat_id": catID})
	})
	if err != nil {
		return domain.Mission{}, err
	}
	e.log().Info("cat assigned", zap.String("mission_id", missionID), zap.String("cat_id", catID))
	return m, nil
}

// UnassignCat releases the mission's cat. Unassigning a free mission is a no-op.
func (e Engine) UnassignCat(ctx context.Context, missionID string) (domain.Mission, error) {
	var m domain.Mission
	err := e.withTx(ctx, "unassign_cat", func(tx *sql.Tx) error {
		var err error
		m, err = e.Repo.GetMission(ctx, tx, missionID, true)
		if err != nil {
			return notFound(err, RuleMissionNotFound, "mission", missionID)
		}
		if m.CatID == nil {
			return nil
		}
		catID := *m.CatID
		if err := e.Repo.SetMissionCat(ctx, tx, missionID, nil); err != nil {
			return fmt.Errorf("unassign cat: %w", err)
		}
		m.CatID = nil
		return e.Events.Append(ctx, tx, events.MissionUnassigned, "mission", missionID, events.EventPayload{"cat_id": catID})
	})
	if err != nil {
		return domain.Mission{}, err
	}
	return m, nil
}

// --- targets ---

func (e Engine) GetTarget(ctx context.Context, id string) (domain.Target, error) {
	t, err := e.Repo.GetTarget(ctx, e.DB, id, false)
	if err != nil {
		return t, notFound(err, RuleTargetNotFound, "target", id)
	}
	return t, nil
}

// UpdateTarget applies a partial update subject to the completion freezes,
// then recomputes the owning mission's completion.
func (e Engine) UpdateTarget(ctx context.Context, id string, patch TargetPatch) (domain.Target, error) {
	var (
		t                domain.Target
		missionCompleted bool
	)
	err := e.withTx(ctx, "update_target", func(tx *sql.Tx) error {
		stored, err := e.Repo.GetTarget(ctx, tx, id, true)
		if err != nil {
			return notFound(err, RuleTargetNotFound, "target", id)
		}
		m, err := e.Repo.GetMission(ctx, tx, stored.MissionID, true)
		if err != nil {
			return fmt.Errorf("load mission %s: %w", stored.MissionID, err)
		}
		if err := CheckTargetUpdate(m.IsCompleted, stored, patch); err != nil {
			return err
		}
		changed := patch.Changes(stored)
		if len(changed) == 0 {
			t = stored
			return nil
		}
		t = patch.Apply(stored)
		if err := domain.ValidateTarget(t); err != nil {
			return fieldError(err)
		}
		t.UpdatedAt = e.timestamp()
		if err := e.Repo.UpdateTarget(ctx, tx, t); err != nil {
			return fmt.Errorf("update target: %w", err)
		}
		if err := e.Events.Append(ctx, tx, events.TargetUpdated, "target", t.ID, events.EventPayload{
			"mission_id": t.MissionID,
			"fields":     changed,
		}); err != nil {
			return err
		}
		if t.IsCompleted && !stored.IsCompleted {
			if err := e.Events.Append(ctx, tx, events.TargetCompleted, "target", t.ID, events.EventPayload{"mission_id": t.MissionID}); err != nil {
				return err
			}
		}
		missionCompleted, err = e.RecomputeMissionCompletion(ctx, tx, t.MissionID)
		return err
	})
	if err != nil {
		return domain.Target{}, err
	}
	if missionCompleted {
		e.Metrics.MissionCompleted()
		e.log().Info("mission completed", zap.String("mission_id", t.MissionID))
	}
	return t, nil
}

// --- events ---

func (e Engine) ListEvents(ctx context.Context, f repo.EventFilter) ([]domain.Event, error) {
	return e.Repo.ListEvents(ctx, e.DB, f)
}
