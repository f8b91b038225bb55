package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"spycats/internal/breeds"
	"spycats/internal/config"
	"spycats/internal/engine"
)

func TestOpenWithStaticCatalog(t *testing.T) {
	cfg, err := config.FromYAML([]byte("breeds:\n  static: [Siamese]\nlog:\n  level: warn\n  format: console\n"))
	require.NoError(t, err)
	a, err := Open(context.Background(), t.TempDir(), cfg)
	require.NoError(t, err)
	defer a.Close()

	_, ok := a.Engine.Breeds.(breeds.Static)
	require.True(t, ok)

	c, err := a.Engine.CreateCat(context.Background(), engine.CatCreateOptions{Name: "Tom", Breed: "siamese", Salary: "1"})
	require.NoError(t, err)
	require.NotEmpty(t, c.ID)
	require.False(t, a.Webhooks().Enabled())
}

func TestNewCatalogDefaultsToHTTP(t *testing.T) {
	cfg := config.Default()
	cat := NewCatalog(cfg.Breeds, nil, nil)
	hc, ok := cat.(*breeds.HTTPCatalog)
	require.True(t, ok)
	require.Equal(t, config.DefaultBreedsURL, hc.URL)
	require.Equal(t, config.DefaultBreedsTimeout, hc.Timeout)
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger("debug", "json")
	require.NoError(t, err)
	require.True(t, l.Core().Enabled(zapcore.DebugLevel))

	_, err = NewLogger("loud", "json")
	require.Error(t, err)
}
