package referral

import (
	"github.com/ngtluan2k/NextMarket-sub001/internal/referral/service"
	"go.uber.org/fx"
)

var Module = fx.Module("referral.service",
	fx.Provide(service.NewService),
)
