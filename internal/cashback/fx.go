package cashback

import (
	"github.com/smallbiznis/subhub/internal/cashback/repository"
	"github.com/smallbiznis/subhub/internal/cashback/service"
	"go.uber.org/fx"
)

var Module = fx.Module("cashback.settlement",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
