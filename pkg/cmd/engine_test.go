package cmd

import (
	"context"
	"testing"

	"github.com/dukex/flowpatch/pkg/cache"
	"github.com/dukex/flowpatch/pkg/capability"
	"github.com/dukex/flowpatch/pkg/config"
	"github.com/dukex/flowpatch/pkg/log"
	"github.com/dukex/flowpatch/pkg/persistence/file"
	"github.com/dukex/flowpatch/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePersistenceProvider(t *testing.T) {
	assert.Equal(t, "postgres", parsePersistenceProvider("postgres://u@localhost/db"))
	assert.Equal(t, "file", parsePersistenceProvider("file://./data"))
	assert.Equal(t, "file", parsePersistenceProvider("./data"))
	assert.Equal(t, "file", parsePersistenceProvider("mongodb://x"))
}

func TestNewPersistence_File(t *testing.T) {
	store, err := NewPersistence(context.Background(), log.Discard(), "file://"+t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.HealthCheck(context.Background()))
}

func TestNewEventBus(t *testing.T) {
	bus, err := NewEventBus(config.EventBus{Provider: "gochannel"}, log.Discard())
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = NewEventBus(config.EventBus{Provider: "kafka"}, log.Discard())
	assert.Error(t, err)

	_, err = NewEventBus(config.EventBus{Provider: "nats"}, log.Discard())
	assert.Error(t, err)
}

func TestNewEngine_InvalidConfig(t *testing.T) {
	_, err := NewEngine(context.Background(), config.Default(), log.Discard(), nil)
	assert.Error(t, err)
}

func TestNewEngine(t *testing.T) {
	cfg := config.Default()
	cfg.Instance = config.Instance{URL: "https://dev.service-now.com", Token: "t"}
	cfg.Persistence.URL = "file://" + t.TempDir()

	e, err := NewEngine(context.Background(), cfg, log.Discard(), nil)
	require.NoError(t, err)

	assert.NotNil(t, e.Editor)
	assert.NotNil(t, e.Flows)
	assert.NoError(t, e.Close(context.Background()))
	assert.NoError(t, e.Close(context.Background()))
}

func TestEngine_Wire(t *testing.T) {
	ctx := context.Background()
	platform := testutil.NewFakePlatform()

	e := &Engine{Config: config.Default()}
	e.Wire(platform, cache.NewMemory(), file.NewPersistence(t.TempDir()), nil, capability.DefaultTables(), log.Discard(), nil)

	res, err := e.Capabilities.Resolve(ctx, "trigger", "record_updated")
	require.NoError(t, err)
	assert.Equal(t, "record_update", res.Definition.InternalName)

	sess, err := e.Sessions.Open(ctx, "f1")
	require.NoError(t, err)
	require.NoError(t, sess.Close(ctx))
}
