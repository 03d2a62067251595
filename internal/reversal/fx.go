package reversal

import (
	"github.com/ngtluan2k/NextMarket-sub001/internal/reversal/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reversal.engine",
	fx.Provide(service.NewEngine),
)
