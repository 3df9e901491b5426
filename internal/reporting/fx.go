package reporting

import (
	"github.com/carepayhq/carepay/internal/reporting/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reporting",
	fx.Provide(service.New),
)
