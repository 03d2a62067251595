package program

import (
	"github.com/ngtluan2k/NextMarket-sub001/internal/program/service"
	"go.uber.org/fx"
)

var Module = fx.Module("program.budget",
	fx.Provide(service.NewService),
)
