package pdf

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateReceipt(t *testing.T) {
	doc, err := New("scanledger").GenerateReceipt(context.Background(), Receipt{
		Number:      "evt_123",
		IssuedAt:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		AccountName: "alice",
		Email:       "alice@example.com",
		Tokens:      25,
		UnitPrice:   100,
		AmountTotal: 2500,
		Currency:    "usd",
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF")))
}

func TestGenerateReceiptRejectsEmptyPurchase(t *testing.T) {
	_, err := New("scanledger").GenerateReceipt(context.Background(), Receipt{Number: "evt_0"})
	assert.Error(t, err)
}

func TestReceiptFilename(t *testing.T) {
	assert.Equal(t, "receipt-alice-smith-evt123.pdf", ReceiptFilename(Receipt{AccountName: "Alice Smith", Number: "evt123"}))
}

func TestFormatMinor(t *testing.T) {
	assert.Equal(t, "USD 25.00", FormatMinor(2500, "usd"))
	assert.Equal(t, "EUR 0.05", FormatMinor(5, "eur"))
	assert.Equal(t, "USD -1.50", FormatMinor(-150, "usd"))
}
