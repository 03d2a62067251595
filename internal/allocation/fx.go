package allocation

import (
	"github.com/ngtluan2k/NextMarket-sub001/internal/allocation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("allocation.engine",
	fx.Provide(service.NewEngine),
)
