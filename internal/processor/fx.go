package processor

import (
	"github.com/carepayhq/carepay/internal/processor/httpclient"
	"go.uber.org/fx"
)

var Module = fx.Module("processor",
	fx.Provide(httpclient.New),
)
