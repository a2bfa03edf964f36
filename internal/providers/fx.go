package providers

import (
	"github.com/smallbiznis/scanledger/internal/providers/email"
	"github.com/smallbiznis/scanledger/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
)
