package order

import (
	"github.com/ngtluan2k/NextMarket-sub001/internal/order/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("order.repository",
	fx.Provide(repository.Provide),
)
