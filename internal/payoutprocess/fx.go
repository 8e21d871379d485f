package payoutprocess

import (
	invoicepaymentdomain "github.com/smallbiznis/leasepay/internal/invoicepayment/domain"
	payoutdomain "github.com/smallbiznis/leasepay/internal/payout/domain"
	"github.com/smallbiznis/leasepay/internal/payoutprocess/repository"
	payoutprocessservice "github.com/smallbiznis/leasepay/internal/payoutprocess/service"
	"github.com/smallbiznis/leasepay/internal/payoutprocess/strategy"
	"go.uber.org/fx"
)

var Module = fx.Module("payoutprocess.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(payouts payoutdomain.Repository, refunds invoicepaymentdomain.Repository) *strategy.Registry {
		return strategy.NewRegistry(
			strategy.NewPayoutStrategy(payouts),
			strategy.NewRefundPaymentStrategy(refunds),
		)
	}),
	fx.Provide(payoutprocessservice.NewService),
)
