package main

import (
	"github.com/smallbiznis/subhub/internal/audit"
	"github.com/smallbiznis/subhub/internal/billing"
	"github.com/smallbiznis/subhub/internal/bootstrap"
	"github.com/smallbiznis/subhub/internal/cashback"
	"github.com/smallbiznis/subhub/internal/catalog"
	"github.com/smallbiznis/subhub/internal/clock"
	"github.com/smallbiznis/subhub/internal/config"
	"github.com/smallbiznis/subhub/internal/jobqueue"
	"github.com/smallbiznis/subhub/internal/ledger"
	"github.com/smallbiznis/subhub/internal/lock"
	"github.com/smallbiznis/subhub/internal/observability"
	"github.com/smallbiznis/subhub/internal/order"
	"github.com/smallbiznis/subhub/internal/redis"
	"github.com/smallbiznis/subhub/internal/scheduler"
	"github.com/smallbiznis/subhub/internal/user"
	"github.com/smallbiznis/subhub/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		bootstrap.Module,
		db.Module,
		fx.Invoke(bootstrap.EnforceSchemaGate),
		clock.Module,
		redis.Module,
		lock.Module,
		jobqueue.Module,

		user.Module,
		catalog.Module,
		ledger.Module,
		billing.Module,
		order.Module,
		audit.Module,
		cashback.Module,

		scheduler.Module,
	)
	app.Run()
}
