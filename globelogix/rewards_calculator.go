package globelogix

import (
	"fmt"
	"strings"

	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/shopspring/decimal"
)

// AmountPlaces is the number of decimal places reward amounts are rounded to.
const AmountPlaces = 6

var ErrDistributionInvalid = runtime.NewError("reward distribution failed verification", FAILED_PRECONDITION_ERROR_CODE)

// RewardPercentages is the share of the pool, in percent, paid to each finishing position. Positions beyond the
// table receive nothing.
var RewardPercentages = []decimal.Decimal{
	decimal.NewFromInt(20),
	decimal.NewFromInt(15),
	decimal.NewFromInt(10),
	decimal.NewFromInt(8),
	decimal.NewFromInt(8),
	decimal.NewFromInt(8),
	decimal.NewFromInt(6),
	decimal.NewFromInt(6),
	decimal.NewFromInt(4),
	decimal.NewFromInt(4),
	decimal.RequireFromString("2.2"),
	decimal.RequireFromString("2.2"),
	decimal.RequireFromString("2.2"),
	decimal.RequireFromString("2.2"),
	decimal.RequireFromString("2.2"),
}

var (
	hundred         = decimal.NewFromInt(100)
	amountTolerance = decimal.New(1, -AmountPlaces)
	roundingUnit    = decimal.New(5, -AmountPlaces-1)
)

// RankedPlayer is a player in final standing order.
type RankedPlayer struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
	Score   int64  `json:"score"`
}

// RewardAllocation is the payout for one position.
type RewardAllocation struct {
	Address    string          `json:"address"`
	Position   int             `json:"position"`
	Percentage decimal.Decimal `json:"percentage"`
	Amount     decimal.Decimal `json:"amount"`
}

// RewardPercentage returns the table percentage for a 1-based position.
func RewardPercentage(position int) (decimal.Decimal, bool) {
	if position < 1 || position > len(RewardPercentages) {
		return decimal.Zero, false
	}
	return RewardPercentages[position-1], true
}

// ComputeRewardDistribution applies the reward table to players in standing order. Only the first
// len(RewardPercentages) players receive an allocation, so with fewer players part of the pool stays
// undistributed. Each amount is pool * percentage / 100 rounded half away from zero to AmountPlaces.
func ComputeRewardDistribution(ranked []*RankedPlayer, pool decimal.Decimal) []*RewardAllocation {
	if len(ranked) == 0 || !pool.IsPositive() {
		return []*RewardAllocation{}
	}

	count := len(ranked)
	if count > len(RewardPercentages) {
		count = len(RewardPercentages)
	}

	allocations := make([]*RewardAllocation, 0, count)
	for i := 0; i < count; i++ {
		percentage := RewardPercentages[i]
		allocations = append(allocations, &RewardAllocation{
			Address:    ranked[i].Address,
			Position:   i + 1,
			Percentage: percentage,
			Amount:     pool.Mul(percentage).Div(hundred).Round(AmountPlaces),
		})
	}

	return allocations
}

// VerifyRewardDistribution checks a distribution before any funds move: every address present and distinct,
// every amount non-negative and the total within 1e-6 of pool * sum(percentages) / 100, widened by the half unit
// of rounding each amount may carry.
func VerifyRewardDistribution(allocations []*RewardAllocation, pool decimal.Decimal) error {
	seen := make(map[string]int, len(allocations))
	totalPercentage := decimal.Zero
	totalAmount := decimal.Zero
	for _, allocation := range allocations {
		if allocation == nil || allocation.Address == "" {
			return fmt.Errorf("%w: allocation without address", ErrDistributionInvalid)
		}
		address := strings.ToLower(allocation.Address)
		if position, found := seen[address]; found {
			return fmt.Errorf("%w: address %s at positions %d and %d", ErrDistributionInvalid, allocation.Address, position, allocation.Position)
		}
		seen[address] = allocation.Position
		if allocation.Amount.IsNegative() {
			return fmt.Errorf("%w: negative amount at position %d", ErrDistributionInvalid, allocation.Position)
		}
		totalPercentage = totalPercentage.Add(allocation.Percentage)
		totalAmount = totalAmount.Add(allocation.Amount)
	}

	expected := pool.Mul(totalPercentage).Div(hundred)
	tolerance := amountTolerance.Add(roundingUnit.Mul(decimal.NewFromInt(int64(len(allocations)))))
	if drift := totalAmount.Sub(expected).Abs(); drift.GreaterThan(tolerance) {
		return fmt.Errorf("%w: total %s differs from expected %s by %s", ErrDistributionInvalid, totalAmount, expected, drift)
	}
	return nil
}

// TotalAmount sums the allocated amounts.
func TotalAmount(allocations []*RewardAllocation) decimal.Decimal {
	total := decimal.Zero
	for _, allocation := range allocations {
		total = total.Add(allocation.Amount)
	}
	return total
}
