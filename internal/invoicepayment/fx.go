package invoicepayment

import (
	"github.com/smallbiznis/leasepay/internal/invoicepayment/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("invoicepayment",
	fx.Provide(repository.Provide),
)
