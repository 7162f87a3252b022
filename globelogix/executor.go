package globelogix

import (
	"context"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/shopspring/decimal"
)

// RecipientResult is the payout outcome of one allocation. Unknown is set when the provider call errored, so the
// transfer may or may not have landed.
type RecipientResult struct {
	Address        string          `json:"address"`
	Position       int             `json:"position"`
	Amount         decimal.Decimal `json:"amount"`
	Success        bool            `json:"success"`
	Skipped        bool            `json:"skipped,omitempty"`
	Unknown        bool            `json:"unknown,omitempty"`
	TransactionRef string          `json:"transaction_ref,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// DistributionExecution summarizes one payout run.
type DistributionExecution struct {
	RunID        string             `json:"run_id"`
	Batched      bool               `json:"batched"`
	Recipients   []*RecipientResult `json:"recipients"`
	TotalPaid    decimal.Decimal    `json:"total_paid"`
	PaidCount    int                `json:"paid_count"`
	FailedCount  int                `json:"failed_count"`
	UnknownCount int                `json:"unknown_count,omitempty"`
	StartTimeSec int64              `json:"start_time_sec"`
	EndTimeSec   int64              `json:"end_time_sec"`
}

// DistributionExecutor pays out a verified reward distribution through a FundsTransferProvider.
type DistributionExecutor struct {
	provider           FundsTransferProvider
	timeout            time.Duration
	batchMinRecipients int

	now func() time.Time
}

// NewDistributionExecutor creates an executor. Payouts to at least batchMinRecipients recipients use a single
// batched transaction when the provider supports it; a batchMinRecipients below 1 disables batching.
func NewDistributionExecutor(provider FundsTransferProvider, timeout time.Duration, batchMinRecipients int) *DistributionExecutor {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &DistributionExecutor{
		provider:           provider,
		timeout:            timeout,
		batchMinRecipients: batchMinRecipients,
		now:                time.Now,
	}
}

// Execute pays every allocation. A failed transfer is recorded against its recipient and the remaining
// recipients are still paid. A provider error leaves the recipient's outcome unknown rather than failed.
// The returned error is only set when nothing could be attempted.
func (e *DistributionExecutor) Execute(ctx context.Context, logger runtime.Logger, runID string, allocations []*RewardAllocation) (*DistributionExecution, error) {
	if e.provider == nil {
		return nil, ErrSystemNotAvailable
	}

	execution := &DistributionExecution{
		RunID:        runID,
		Recipients:   make([]*RecipientResult, 0, len(allocations)),
		TotalPaid:    decimal.Zero,
		StartTimeSec: e.now().Unix(),
	}

	payable := make([]*RecipientResult, 0, len(allocations))
	for _, allocation := range allocations {
		result := &RecipientResult{
			Address:  allocation.Address,
			Position: allocation.Position,
			Amount:   allocation.Amount,
		}
		execution.Recipients = append(execution.Recipients, result)
		if !allocation.Amount.IsPositive() {
			result.Skipped = true
			continue
		}
		payable = append(payable, result)
	}

	batcher, canBatch := e.provider.(BatchTransferProvider)
	if canBatch && e.batchMinRecipients > 0 && len(payable) >= e.batchMinRecipients && len(payable) > 1 {
		execution.Batched = true
		e.executeBatch(ctx, logger, runID, batcher, payable)
	} else {
		for _, recipient := range payable {
			e.executeTransfer(ctx, logger, runID, recipient)
		}
	}

	for _, recipient := range payable {
		switch {
		case recipient.Success:
			execution.PaidCount++
			execution.TotalPaid = execution.TotalPaid.Add(recipient.Amount)
		case recipient.Unknown:
			execution.UnknownCount++
		default:
			execution.FailedCount++
		}
	}
	execution.EndTimeSec = e.now().Unix()
	return execution, nil
}

func (e *DistributionExecutor) executeBatch(ctx context.Context, logger runtime.Logger, runID string, batcher BatchTransferProvider, recipients []*RecipientResult) {
	transfers := make([]*Transfer, 0, len(recipients))
	for _, recipient := range recipients {
		transfers = append(transfers, &Transfer{To: recipient.Address, Amount: recipient.Amount})
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, err := batcher.BatchTransfer(callCtx, transfers)
	if err != nil {
		logger.Error("Batch transfer for distribution %s to %d recipients has an unknown outcome: %v", runID, len(recipients), err)
		for _, recipient := range recipients {
			recipient.Unknown = true
			recipient.Error = err.Error()
		}
		return
	}
	if result == nil || !result.Success {
		message := "batch transfer rejected"
		if result != nil && result.Error != "" {
			message = result.Error
		}
		logger.Error("Batch transfer for distribution %s to %d recipients rejected: %s", runID, len(recipients), message)
		for _, recipient := range recipients {
			recipient.Error = message
		}
		return
	}

	for _, recipient := range recipients {
		recipient.Success = true
		recipient.TransactionRef = result.TransactionRef
	}
}

func (e *DistributionExecutor) executeTransfer(ctx context.Context, logger runtime.Logger, runID string, recipient *RecipientResult) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, err := e.provider.Transfer(callCtx, recipient.Address, recipient.Amount)
	if err != nil {
		logger.Error("Transfer for distribution %s to %s has an unknown outcome: %v", runID, recipient.Address, err)
		recipient.Unknown = true
		recipient.Error = err.Error()
		return
	}
	if result == nil || !result.Success {
		message := "transfer rejected"
		if result != nil && result.Error != "" {
			message = result.Error
		}
		logger.Error("Transfer for distribution %s to %s rejected: %s", runID, recipient.Address, message)
		recipient.Error = message
		return
	}

	recipient.Success = true
	recipient.TransactionRef = result.TransactionRef
}
