package timesheet

import (
	"github.com/carepayhq/carepay/internal/timesheet/repository"
	"github.com/carepayhq/carepay/internal/timesheet/service"
	"go.uber.org/fx"
)

var Module = fx.Module("timesheet",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
