package fraud

import (
	"github.com/ngtluan2k/NextMarket-sub001/internal/fraud/service"
	"go.uber.org/fx"
)

var Module = fx.Module("fraud.gate",
	fx.Provide(service.NewGate),
)
