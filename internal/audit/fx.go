package audit

import (
	"github.com/ngtluan2k/NextMarket-sub001/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(service.NewService),
)
