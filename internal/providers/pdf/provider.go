package pdf

import (
	"context"
	"fmt"
	"strings"

	"github.com/gosimple/slug"
)

// Provider renders purchase receipts.
type Provider interface {
	GenerateReceipt(ctx context.Context, receipt Receipt) ([]byte, error)
}

type NoOpProvider struct{}

func (NoOpProvider) GenerateReceipt(context.Context, Receipt) ([]byte, error) {
	return nil, nil
}

// ReceiptFilename returns a stable attachment name for the receipt.
func ReceiptFilename(r Receipt) string {
	name := slug.Make(fmt.Sprintf("receipt %s %s", r.AccountName, r.Number))
	if strings.TrimSpace(name) == "" {
		name = "receipt"
	}
	return name + ".pdf"
}

// FormatMinor renders an amount in minor units, e.g. 2500 usd as "USD 25.00".
func FormatMinor(amount int64, currency string) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s %s%d.%02d", strings.ToUpper(currency), sign, amount/100, amount%100)
}
