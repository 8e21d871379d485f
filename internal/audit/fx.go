package audit

import (
	"github.com/smallbiznis/leasepay/internal/audit/repository"
	auditservice "github.com/smallbiznis/leasepay/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(auditservice.NewService),
)
