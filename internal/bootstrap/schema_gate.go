package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/subhub/internal/migration"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var (
	ErrSchemaNotReady        = errors.New("schema not migrated")
	ErrSchemaVersionMismatch = errors.New("schema version mismatch")
	ErrSchemaDirty           = errors.New("schema migrations dirty")
)

// SchemaGate refuses to start workers against a database that `migrate` has not brought up to date.
type SchemaGate interface {
	MustBeActive(ctx context.Context) error
}

type schemaGate struct {
	db              *gorm.DB
	expectedVersion uint
}

func NewSchemaGate(db *gorm.DB) (SchemaGate, error) {
	if db == nil {
		return nil, errors.New("schema gate requires database handle")
	}
	latest, err := migration.LatestMigrationVersion()
	if err != nil {
		return nil, err
	}
	return &schemaGate{db: db, expectedVersion: latest}, nil
}

func (g *schemaGate) MustBeActive(ctx context.Context) error {
	if g.db.Dialector.Name() == "postgres" {
		return g.checkVersion(ctx)
	}
	return g.checkTables(ctx)
}

func (g *schemaGate) checkVersion(ctx context.Context) error {
	var row struct {
		Version uint
		Dirty   bool
	}
	err := g.db.WithContext(ctx).Raw(`SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&row).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaNotReady, err)
	}
	if row.Dirty {
		return fmt.Errorf("%w: version=%d", ErrSchemaDirty, row.Version)
	}
	if row.Version != g.expectedVersion {
		return fmt.Errorf("%w: state=%d expected=%d", ErrSchemaVersionMismatch, row.Version, g.expectedVersion)
	}
	return nil
}

// sqlite and mysql are migrated with AutoMigrate and carry no version table.
func (g *schemaGate) checkTables(ctx context.Context) error {
	migrator := g.db.WithContext(ctx).Migrator()
	for _, model := range migration.Models() {
		if !migrator.HasTable(model) {
			return fmt.Errorf("%w: missing table for %T", ErrSchemaNotReady, model)
		}
	}
	return nil
}

// EnforceSchemaGate fails fast during application startup when the schema is not active.
func EnforceSchemaGate(lc fx.Lifecycle, gate SchemaGate) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return gate.MustBeActive(ctx)
		},
	})
}
