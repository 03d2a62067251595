package attribution

import (
	"github.com/ngtluan2k/NextMarket-sub001/internal/attribution/service"
	"go.uber.org/fx"
)

var Module = fx.Module("attribution.service",
	fx.Provide(service.NewService),
)
