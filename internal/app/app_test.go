package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnirelay/internal/broker"
	"omnirelay/internal/config"
	"omnirelay/internal/model"
	"omnirelay/internal/service"
)

func sqliteConfig(t *testing.T) *config.Config {
	return &config.Config{
		Store:      config.StoreSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "omnirelay.db"),
		Broker:     config.BrokerMemory,
		Lifecycle:  config.LifecycleSession,
	}
}

func TestNewSQLite(t *testing.T) {
	ctx := context.Background()
	cfg := sqliteConfig(t)

	a, err := New(ctx, cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &service.SessionLifecycle{}, a.Lifecycle)
	require.NoError(t, a.ConnectBroker(ctx, cfg))
	assert.IsType(t, &broker.Memory{}, a.Broker)

	svc, err := a.Identity.CreateService(ctx, &model.ServiceRequest{Title: "Exhibit"})
	require.NoError(t, err)
	_, role, err := a.Identity.ResolveToken(ctx, svc.ClientToken)
	require.NoError(t, err)
	assert.Equal(t, model.RoleClient, role)
}

func TestCodeLifecycle(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Lifecycle = config.LifecycleCode

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()
	assert.IsType(t, &service.CodeLifecycle{}, a.Lifecycle)
}

func TestRedisBroker(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := sqliteConfig(t)
	cfg.Broker = config.BrokerRedis
	cfg.RedisAddr = mr.Addr()

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.ConnectBroker(context.Background(), cfg))
	assert.IsType(t, &broker.Redis{}, a.Broker)
}

func TestUnknownBackends(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Store = "postgres"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)

	cfg = sqliteConfig(t)
	cfg.Lifecycle = "forever"
	_, err = New(context.Background(), cfg)
	assert.Error(t, err)

	cfg = sqliteConfig(t)
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()
	cfg.Broker = "kafka"
	assert.Error(t, a.ConnectBroker(context.Background(), cfg))
}
