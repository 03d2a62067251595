package wallet

import (
	"github.com/ngtluan2k/NextMarket-sub001/internal/wallet/service"
	"go.uber.org/fx"
)

var Module = fx.Module("wallet.service",
	fx.Provide(service.NewService),
)
