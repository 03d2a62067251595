package rule

import (
	"github.com/ngtluan2k/NextMarket-sub001/internal/rule/service"
	"go.uber.org/fx"
)

var Module = fx.Module("rule.service",
	fx.Provide(service.NewService),
)
