package pricing

import (
	"github.com/smallbiznis/billingledger/internal/pricing/repository"
	"github.com/smallbiznis/billingledger/internal/pricing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("pricing.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
