package favorite

import (
	"github.com/smallbiznis/subhub/internal/favorite/repository"
	"github.com/smallbiznis/subhub/internal/favorite/service"
	"go.uber.org/fx"
)

var Module = fx.Module("favorite.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
