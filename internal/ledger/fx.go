package ledger

import (
	"github.com/smallbiznis/subhub/internal/ledger/repository"
	"github.com/smallbiznis/subhub/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewLedger),
	fx.Provide(service.NewService),
)
