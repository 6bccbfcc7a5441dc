package creditnote

import (
	"github.com/smallbiznis/billingledger/internal/creditnote/repository"
	"github.com/smallbiznis/billingledger/internal/creditnote/service"
	"go.uber.org/fx"
)

var Module = fx.Module("creditnote.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
