package webhook

import (
	"context"

	"github.com/carepayhq/carepay/internal/webhook/repository"
	"github.com/carepayhq/carepay/internal/webhook/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook",
	fx.Provide(
		repository.Provide,
		service.New,
	),
	fx.Invoke(startRetryWorker),
)

func startRetryWorker(lc fx.Lifecycle, svc *service.Service) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go svc.RetryForever(ctx, 0)

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
