package bootstrap

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/subhub/internal/config"
	"github.com/smallbiznis/subhub/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestSchemaGateAcceptsMigratedDatabase(t *testing.T) {
	gate, err := NewSchemaGate(testutil.NewDB(t))
	require.NoError(t, err)
	assert.NoError(t, gate.MustBeActive(context.Background()))
}

func TestSchemaGateRejectsEmptyDatabase(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:bootstrap_empty?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	gate, err := NewSchemaGate(conn)
	require.NoError(t, err)
	assert.ErrorIs(t, gate.MustBeActive(context.Background()), ErrSchemaNotReady)
}

func TestNewSchemaGateRequiresDB(t *testing.T) {
	_, err := NewSchemaGate(nil)
	assert.Error(t, err)
}

func TestNewSnowflakeNode(t *testing.T) {
	node, err := NewSnowflakeNode(config.Config{SnowflakeNode: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(3), node.Generate().Node())

	_, err = NewSnowflakeNode(config.Config{SnowflakeNode: 5000})
	assert.Error(t, err)
}
