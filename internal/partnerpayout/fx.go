package partnerpayout

import (
	"github.com/smallbiznis/leasepay/internal/partnerpayout/repository"
	partnerpayoutservice "github.com/smallbiznis/leasepay/internal/partnerpayout/service"
	"go.uber.org/fx"
)

var Module = fx.Module("partnerpayout.service",
	fx.Provide(repository.Provide),
	fx.Provide(partnerpayoutservice.NewService),
)
