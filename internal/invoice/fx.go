package invoice

import (
	"github.com/smallbiznis/billingledger/internal/invoice/repository"
	"github.com/smallbiznis/billingledger/internal/invoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
