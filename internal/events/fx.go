package events

import (
	"github.com/smallbiznis/billingledger/internal/money"
	"go.uber.org/fx"
)

var Module = fx.Module("events",
	fx.Provide(
		NewOutbox,
		money.NewFormatter,
		NewLogNotifier,
		NewDispatcher,
	),
)
