package payout

import (
	"context"
	"time"

	"github.com/carepayhq/carepay/internal/payout/repository"
	"github.com/carepayhq/carepay/internal/payout/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payout",
	fx.Provide(
		repository.Provide,
		service.New,
	),
	fx.Invoke(startScheduler),
)

func startScheduler(lc fx.Lifecycle, svc *service.Service) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go svc.RunForever(ctx, time.Hour)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
			return nil
		},
	})
}
