package billing

import (
	"github.com/smallbiznis/subhub/internal/billing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.engine",
	fx.Provide(service.New),
)
