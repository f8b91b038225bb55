package spycatssdk_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"spycats/internal/breeds"
	"spycats/internal/db"
	"spycats/internal/engine"
	"spycats/internal/migrate"
	"spycats/internal/server"
	spycatssdk "spycats/sdk/go"
)

func newClient(t *testing.T) *spycatssdk.Client {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	dialect := db.DialectFor(db.DriverSQLite)
	_, err = migrate.Migrate(context.Background(), conn, dialect)
	require.NoError(t, err)
	e := engine.New(conn, dialect, breeds.NewStatic("siamese", "persian"))
	e.Logger = zaptest.NewLogger(t)
	handler, err := server.New(server.Config{Engine: e, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := spycatssdk.New(srv.URL)
	c.HTTPClient = srv.Client()
	return c
}

func TestClientMissionLifecycle(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	cat, err := c.CreateCat(ctx, spycatssdk.NewCat{Name: "Tom", ExperienceYears: 3, Breed: "Siamese", Salary: "1500"})
	require.NoError(t, err)
	assert.Equal(t, "1500.00", cat.Salary)
	assert.Nil(t, cat.MissionID)

	cat, err = c.UpdateCatSalary(ctx, cat.ID, "1750.5")
	require.NoError(t, err)
	assert.Equal(t, "1750.50", cat.Salary)

	m, err := c.CreateMission(ctx, []spycatssdk.NewTarget{
		{Name: "Ivan", Country: "UA"},
		{Name: "Anna", Country: "DE", Notes: "berlin"},
	})
	require.NoError(t, err)
	require.Len(t, m.Targets, 2)

	m, err = c.AssignCat(ctx, m.ID, cat.ID)
	require.NoError(t, err)
	require.NotNil(t, m.CatID)
	assert.Equal(t, cat.ID, *m.CatID)

	err = c.DeleteMission(ctx, m.ID)
	require.Error(t, err)
	assert.True(t, spycatssdk.IsCode(err, "mission_assigned"))

	done := true
	for _, target := range m.Targets {
		_, err := c.UpdateTarget(ctx, target.ID, spycatssdk.TargetUpdate{IsCompleted: &done})
		require.NoError(t, err)
	}
	m, err = c.GetMission(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, m.IsCompleted)

	notes := "too late"
	_, err = c.UpdateTarget(ctx, m.Targets[0].ID, spycatssdk.TargetUpdate{Notes: &notes})
	var apiErr *spycatssdk.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "mission_frozen", apiErr.Code)
	assert.Equal(t, "frozen", apiErr.Kind)

	evts, err := c.Events(ctx, spycatssdk.EventQuery{EntityKind: "mission", EntityID: m.ID, Limit: 1})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "mission.completed", evts[0].Type)
}

func TestClientErrors(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	_, err := c.CreateCat(ctx, spycatssdk.NewCat{Name: "Tom", ExperienceYears: 1, Breed: "Sphinx", Salary: "10"})
	var apiErr *spycatssdk.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "invalid_breed", apiErr.Code)
	assert.Equal(t, "validation", apiErr.Kind)

	_, err = c.GetCat(ctx, "missing")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "cat_not_found", apiErr.Code)

	_, err = c.CreateMission(ctx, []spycatssdk.NewTarget{})
	assert.True(t, spycatssdk.IsCode(err, "invalid_target_count"))

	names, err := c.Breeds(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"persian", "siamese"}, names)

	cats, err := c.ListCats(ctx)
	require.NoError(t, err)
	assert.Empty(t, cats)
}
