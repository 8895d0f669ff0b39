package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/BaSui01/agentgraph/config"
	"github.com/BaSui01/agentgraph/workflow/checkpoint"
	"github.com/BaSui01/agentgraph/workflow/wire"
)

// =============================================================================
// 🧪 PoolManager 测试
// =============================================================================

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *gorm.DB) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	// gorm.Open 会先 ping 一次
	mock.ExpectPing()
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{})
	require.NoError(t, err)

	return mockDB, mock, gormDB
}

func testPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}
}

func TestNewPoolManager(t *testing.T) {
	mockDB, _, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, testPoolConfig(), zap.NewNop())
	require.NoError(t, err)

	assert.Same(t, gormDB, manager.DB())
	assert.Equal(t, testPoolConfig(), manager.config)
	assert.Equal(t, 10, manager.Stats().MaxOpenConnections)
}

func TestNewPoolManager_Invalid(t *testing.T) {
	_, err := NewPoolManager(nil, testPoolConfig(), nil)
	assert.ErrorContains(t, err, "db cannot be nil")

	mockDB, _, gormDB := setupTestDB(t)
	defer mockDB.Close()

	_, err = NewPoolManager(gormDB, PoolConfig{MaxOpenConns: 1, MaxIdleConns: 2}, nil)
	assert.ErrorContains(t, err, "invalid pool config")
}

func TestPoolManager_Ping(t *testing.T) {
	mockDB, mock, gormDB := setupTestDB(t)
	defer mockDB.Close()

	manager, err := NewPoolManager(gormDB, testPoolConfig(), nil)
	require.NoError(t, err)

	mock.ExpectPing()
	assert.NoError(t, manager.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	assert.ErrorIs(t, manager.Ping(context.Background()), sql.ErrConnDone)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_Close(t *testing.T) {
	_, mock, gormDB := setupTestDB(t)

	manager, err := NewPoolManager(gormDB, testPoolConfig(), nil)
	require.NoError(t, err)

	mock.ExpectClose()
	require.NoError(t, manager.Close())
	assert.NoError(t, manager.Close(), "second close is a no-op")
	assert.ErrorIs(t, manager.Ping(context.Background()), ErrPoolClosed)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_HealthCheckStopsOnClose(t *testing.T) {
	_, mock, gormDB := setupTestDB(t)

	cfg := testPoolConfig()
	cfg.HealthCheckInterval = 20 * time.Millisecond
	manager, err := NewPoolManager(gormDB, cfg, zap.NewNop())
	require.NoError(t, err)

	mock.ExpectPing()
	time.Sleep(50 * time.Millisecond)

	// Close 等待健康检查 goroutine 退出后再关闭连接
	mock.ExpectClose()
	require.NoError(t, manager.Close())
	select {
	case <-manager.done:
	default:
		t.Fatal("health check loop still running after Close")
	}
}

func TestPoolManager_HealthTracksPing(t *testing.T) {
	_, mock, gormDB := setupTestDB(t)

	cfg := testPoolConfig()
	cfg.HealthCheckInterval = 10 * time.Millisecond
	manager, err := NewPoolManager(gormDB, cfg, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, manager.Healthy())

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	assert.Eventually(t, func() bool { return !manager.Healthy() }, time.Second, 5*time.Millisecond)

	mock.ExpectClose()
	require.NoError(t, manager.Close())
}

func TestPoolConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  PoolConfig
		wantErr bool
	}{
		{name: "valid config", config: testPoolConfig()},
		{name: "default config", config: DefaultPoolConfig()},
		{name: "invalid max open conns", config: PoolConfig{MaxOpenConns: 0, MaxIdleConns: 5}, wantErr: true},
		{name: "invalid max idle conns", config: PoolConfig{MaxOpenConns: 10, MaxIdleConns: 0}, wantErr: true},
		{name: "idle > open", config: PoolConfig{MaxOpenConns: 5, MaxIdleConns: 10}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// =============================================================================
// 🔌 Open 测试
// =============================================================================

func TestDialector(t *testing.T) {
	for _, driver := range []string{"postgres", "mysql", "sqlite"} {
		d, err := Dialector(config.DatabaseConfig{Driver: driver, Name: "x"})
		require.NoError(t, err, driver)
		assert.NotNil(t, d)
	}

	_, err := Dialector(config.DatabaseConfig{Driver: "oracle"})
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestOpen_SQLiteBacksGormStore(t *testing.T) {
	pm, err := Open(config.DatabaseConfig{
		Driver: "sqlite",
		Name:   filepath.Join(t.TempDir(), "checkpoints.db"),
	}, zap.NewNop())
	require.NoError(t, err)
	defer pm.Close()

	assert.Equal(t, 1, pm.Stats().MaxOpenConnections)
	require.NoError(t, pm.Ping(context.Background()))

	ctx := context.Background()
	store := checkpoint.NewGormStore(pm.DB(), zap.NewNop())
	require.NoError(t, store.AutoMigrate(ctx))

	root, err := store.Commit(ctx, "run-1", wire.Value{TypeID: "string", Data: []byte(`"a"`)}, nil)
	require.NoError(t, err)
	child, err := store.Commit(ctx, "run-1", wire.Value{TypeID: "string", Data: []byte(`"b"`)}, &root)
	require.NoError(t, err)

	lineage, err := checkpoint.Lineage(ctx, store, "run-1", child)
	require.NoError(t, err)
	assert.Equal(t, []checkpoint.Info{root, child}, lineage)
}
