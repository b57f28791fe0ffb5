package user

import (
	"github.com/smallbiznis/subhub/internal/user/repository"
	"github.com/smallbiznis/subhub/internal/user/service"
	"go.uber.org/fx"
)

var Module = fx.Module("user.service",
	fx.Provide(repository.Provide),
	fx.Provide(repository.ProvideBalanceStore),
	fx.Provide(service.New),
)
