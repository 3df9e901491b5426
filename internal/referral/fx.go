package referral

import (
	"github.com/carepayhq/carepay/internal/referral/repository"
	"github.com/carepayhq/carepay/internal/referral/service"
	"go.uber.org/fx"
)

var Module = fx.Module("referral",
	fx.Provide(
		repository.Provide,
		service.New,
	),
)
