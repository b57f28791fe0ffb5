package main

import (
	"github.com/smallbiznis/subhub/internal/audit"
	"github.com/smallbiznis/subhub/internal/billing"
	"github.com/smallbiznis/subhub/internal/bootstrap"
	"github.com/smallbiznis/subhub/internal/catalog"
	"github.com/smallbiznis/subhub/internal/clock"
	"github.com/smallbiznis/subhub/internal/config"
	"github.com/smallbiznis/subhub/internal/favorite"
	"github.com/smallbiznis/subhub/internal/jobqueue"
	"github.com/smallbiznis/subhub/internal/ledger"
	"github.com/smallbiznis/subhub/internal/observability"
	"github.com/smallbiznis/subhub/internal/order"
	"github.com/smallbiznis/subhub/internal/ratelimit"
	"github.com/smallbiznis/subhub/internal/redis"
	"github.com/smallbiznis/subhub/internal/server"
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
		jobqueue.Module,

		// order mutations run the first billing cycle inline
		user.Module,
		catalog.Module,
		ledger.Module,
		billing.Module,
		order.Module,
		favorite.Module,
		audit.Module,

		ratelimit.Module,
		server.Module,
	)
	app.Run()
}
