package recurring

import (
	"github.com/carepayhq/carepay/internal/recurring/service"
	"go.uber.org/fx"
)

var Module = fx.Module("recurring",
	fx.Provide(service.New),
)
