package recurring

import (
	"github.com/smallbiznis/billingledger/internal/recurring/repository"
	"github.com/smallbiznis/billingledger/internal/recurring/service"
	"go.uber.org/fx"
)

var Module = fx.Module("recurring.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
