package globelogix

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// TransferResult is the outcome reported by a funds provider. Success false with a nil error is a rejection by
// the provider; a non-nil error means the outcome is unknown or the call never reached it.
type TransferResult struct {
	Success        bool   `json:"success"`
	TransactionRef string `json:"transaction_ref,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Transfer is one leg of a batched payout.
type Transfer struct {
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// The FundsTransferProvider moves funds out of and into the reward custody account.
//
// Implementations must safely handle concurrent calls.
type FundsTransferProvider interface {
	// Transfer pays amount from custody to the address.
	Transfer(ctx context.Context, to string, amount decimal.Decimal) (*TransferResult, error)

	// PullAuthorizedFunds pulls amount into custody using a player's stored spend permission.
	PullAuthorizedFunds(ctx context.Context, permission json.RawMessage, amount decimal.Decimal) (*TransferResult, error)

	// Balance returns the custody account balance.
	Balance(ctx context.Context) (decimal.Decimal, error)
}

// A BatchTransferProvider can pay several recipients in a single transaction.
type BatchTransferProvider interface {
	BatchTransfer(ctx context.Context, transfers []*Transfer) (*TransferResult, error)
}
