package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/subhub/internal/audit/domain"
	cashbackdomain "github.com/smallbiznis/subhub/internal/cashback/domain"
	catalogdomain "github.com/smallbiznis/subhub/internal/catalog/domain"
	favoritedomain "github.com/smallbiznis/subhub/internal/favorite/domain"
	ledgerdomain "github.com/smallbiznis/subhub/internal/ledger/domain"
	orderdomain "github.com/smallbiznis/subhub/internal/order/domain"
	userdomain "github.com/smallbiznis/subhub/internal/user/domain"
	"gorm.io/gorm"
)

// Models lists every table owned by the service, parents first.
func Models() []any {
	return []any{
		&userdomain.User{},
		&catalogdomain.Subscription{},
		&catalogdomain.Tariff{},
		&orderdomain.Order{},
		&ledgerdomain.Transaction{},
		&favoritedomain.Favorite{},
		&auditdomain.AuditLog{},
		&cashbackdomain.SettlementRun{},
	}
}

// Migrate brings the schema up to date. Postgres runs the embedded SQL under
// an advisory lock; sqlite and mysql use gorm AutoMigrate.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if conn.Dialector.Name() == "postgres" {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}
	return AutoMigrate(conn)
}

// AutoMigrate creates the tables from the gorm models.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if conn.Dialector.Name() != "sqlite" {
		// mysql has no partial indexes; the order row lock keeps one pending debit per order
		return nil
	}
	stmts := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS ux_transactions_pending_debit
		 ON transactions (order_id) WHERE transaction_type = 'DEBIT' AND status = 'PENDING'`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_pending_cashback
		 ON transactions (user_id) WHERE transaction_type = 'CASHBACK' AND status = 'PENDING'`,
	}
	for _, stmt := range stmts {
		if err := conn.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create partial index: %w", err)
		}
	}
	return nil
}

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	unlock, err := acquireAdvisoryLock(ctx, db)
	if err != nil {
		return err
	}
	defer func() {
		_ = unlock(context.Background())
	}()

	latestVersion, err := LatestMigrationVersion()
	if err != nil {
		return err
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if _, err := ensureNotDirty(migrator); err != nil {
		return err
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// migrator.Close would close the shared *sql.DB

	currentVersion, err := ensureNotDirty(migrator)
	if err != nil {
		return err
	}
	if currentVersion != latestVersion {
		return fmt.Errorf("schema version mismatch after migrate: got %d want %d", currentVersion, latestVersion)
	}
	return nil
}

func ensureNotDirty(migrator *migrate.Migrate) (uint, error) {
	version, dirty, err := migrator.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, nil
		}
		return 0, fmt.Errorf("read migration version: %w", err)
	}
	if dirty {
		return 0, fmt.Errorf("database migrations are dirty at version %d", version)
	}
	return version, nil
}
