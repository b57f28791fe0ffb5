package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/smallbiznis/subhub/internal/audit"
	"github.com/smallbiznis/subhub/internal/billing"
	"github.com/smallbiznis/subhub/internal/bootstrap"
	"github.com/smallbiznis/subhub/internal/cashback"
	cashbackdomain "github.com/smallbiznis/subhub/internal/cashback/domain"
	"github.com/smallbiznis/subhub/internal/catalog"
	"github.com/smallbiznis/subhub/internal/clock"
	"github.com/smallbiznis/subhub/internal/config"
	"github.com/smallbiznis/subhub/internal/favorite"
	"github.com/smallbiznis/subhub/internal/jobqueue"
	"github.com/smallbiznis/subhub/internal/ledger"
	"github.com/smallbiznis/subhub/internal/lock"
	"github.com/smallbiznis/subhub/internal/migration"
	"github.com/smallbiznis/subhub/internal/observability"
	"github.com/smallbiznis/subhub/internal/order"
	"github.com/smallbiznis/subhub/internal/ratelimit"
	"github.com/smallbiznis/subhub/internal/redis"
	"github.com/smallbiznis/subhub/internal/scheduler"
	"github.com/smallbiznis/subhub/internal/server"
	"github.com/smallbiznis/subhub/internal/user"
	"github.com/smallbiznis/subhub/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "subhub",
		Short:   "Subscription billing and cashback ledger",
		Version: readVersionFromEnv(),
	}
	root.AddCommand(
		newMigrateCmd(),
		newServeCmd(),
		newSchedulerCmd(),
		newSettleCashbackCmd(),
		newAllCmd(),
	)
	return root
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the embedded migration version and checksum",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := migration.EmbeddedStatus()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version=%d checksum=%s\n", status.LatestVersion, status.Checksum)
			return nil
		},
	})
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			fx.New(infraModules(), domainModules(), apiModules()).Run()
			return nil
		},
	}
}

func newSchedulerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduler",
		Short: "Run billing cycle and cashback settlement workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			fx.New(infraModules(), domainModules(), scheduler.Module).Run()
			return nil
		},
	}
}

func newAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run migrations, then start the API and the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := runMigrate(); err != nil {
				return err
			}
			fx.New(infraModules(), domainModules(), apiModules(), scheduler.Module).Run()
			return nil
		},
	}
}

func newSettleCashbackCmd() *cobra.Command {
	var period string
	cmd := &cobra.Command{
		Use:   "settle-cashback",
		Short: "Credit every pending cashback entry now",
		Long: "Runs the cashback settlement batch once. Without --period the run is keyed " +
			"manual-<timestamp>, so it never collides with the monthly cutoff run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSettleCashback(cmd, period)
		},
	}
	cmd.Flags().StringVar(&period, "period", "", "settlement period key, e.g. 2026-10")
	return cmd
}

func runMigrate() error {
	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
		migration.Module,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("migrate failed: %w", err)
	}
	return app.Stop(context.Background())
}

func runSettleCashback(cmd *cobra.Command, period string) error {
	var svc cashbackdomain.Service
	app := fx.New(infraModules(), domainModules(), fx.Populate(&svc))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = app.Stop(context.Background()) }()

	period = strings.TrimSpace(period)
	if period == "" {
		period = cashbackdomain.ManualPeriodKey(time.Now().UTC())
	}
	result, err := svc.Settle(ctx, period)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "period=%s users_settled=%d users_failed=%d amount_credited=%d\n",
		result.PeriodKey, result.UsersSettled, result.UsersFailed, result.AmountCredited)
	return nil
}

func infraModules() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		bootstrap.Module,
		db.Module,
		fx.Invoke(bootstrap.EnforceSchemaGate),
		clock.Module,
		redis.Module,
		lock.Module,
		jobqueue.Module,
	)
}

func domainModules() fx.Option {
	return fx.Options(
		user.Module,
		catalog.Module,
		ledger.Module,
		billing.Module,
		order.Module,
		favorite.Module,
		audit.Module,
		cashback.Module,
	)
}

func apiModules() fx.Option {
	return fx.Options(
		ratelimit.Module,
		server.Module,
	)
}

func readVersionFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("APP_VERSION")); v != "" {
		return v
	}
	return "dev"
}
