// Package allocation turns a total lot count into a per-account distribution
// using the group's configured policies. It is pure: no store, no network.
package allocation

import (
	"math"
	"sort"

	"fandesk/internal/model"

	"github.com/google/uuid"
)

// Error marks a bad group or account configuration. These abort before any
// broker call and carry no side effects.
type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrInvalidTotal       Error = "total lots must be greater than zero"
	ErrNoAccounts         Error = "execution group has no accounts"
	ErrFixedExceedsTotal  Error = "fixed allocations exceed requested lots"
	ErrNoVariableAccounts Error = "no variable accounts available to allocate remaining lots"
	ErrNonPositiveWeights Error = "allocation weights must be positive"
	ErrZeroAllocation     Error = "allocation resulted in zero lots"
)

// AccountInput is one group-account mapping fed into the engine.
type AccountInput struct {
	AccountID uuid.UUID
	BrokerID  uuid.UUID
	Policy    model.AllocationPolicy
	Weight    *float64
	FixedLots *int
}

// Allocation is one account's share of the fan-out.
type Allocation struct {
	AccountID uuid.UUID              `json:"account_id"`
	BrokerID  uuid.UUID              `json:"broker_id"`
	Lots      int                    `json:"lots"`
	Policy    model.AllocationPolicy `json:"allocation_policy"`
	Weight    *float64               `json:"weight,omitempty"`
	FixedLots *int                   `json:"fixed_lots,omitempty"`
}

// Allocate distributes totalLots across the accounts. Fixed-policy accounts
// reserve their configured lots first; the remainder is split across the
// variable accounts by weight using largest-remainder apportionment, ties
// broken by input order. Zero-lot entries are dropped. For any valid input
// the returned lots sum to exactly totalLots.
func Allocate(accounts []AccountInput, totalLots int) ([]Allocation, error) {
	if totalLots <= 0 {
		return nil, ErrInvalidTotal
	}
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}

	type variableEntry struct {
		input  AccountInput
		weight float64
	}
	var fixed []Allocation
	var variable []variableEntry
	remaining := totalLots

	for _, acct := range accounts {
		if acct.Policy == model.AllocationFixed {
			lots := 0
			if acct.FixedLots != nil {
				lots = *acct.FixedLots
			}
			fixed = append(fixed, Allocation{
				AccountID: acct.AccountID,
				BrokerID:  acct.BrokerID,
				Lots:      lots,
				Policy:    acct.Policy,
				Weight:    acct.Weight,
				FixedLots: acct.FixedLots,
			})
			remaining -= lots
			continue
		}
		weight := 1.0
		if acct.Weight != nil {
			weight = *acct.Weight
		}
		variable = append(variable, variableEntry{input: acct, weight: weight})
	}

	if remaining < 0 {
		return nil, ErrFixedExceedsTotal
	}

	var allocated []Allocation
	if len(variable) > 0 {
		totalWeight := 0.0
		for _, entry := range variable {
			totalWeight += entry.weight
		}
		if totalWeight <= 0 {
			return nil, ErrNonPositiveWeights
		}
		base := make([]int, len(variable))
		type remainder struct {
			index    int
			fraction float64
		}
		remainders := make([]remainder, len(variable))
		assigned := 0
		for i, entry := range variable {
			share := entry.weight / totalWeight * float64(remaining)
			base[i] = int(math.Floor(share))
			remainders[i] = remainder{index: i, fraction: share - float64(base[i])}
			assigned += base[i]
		}
		// Largest remainder wins the leftover lots; stable sort keeps input
		// order on ties.
		sort.SliceStable(remainders, func(a, b int) bool {
			return remainders[a].fraction > remainders[b].fraction
		})
		leftover := remaining - assigned
		for i := 0; leftover > 0 && i < len(remainders); i++ {
			base[remainders[i].index]++
			leftover--
		}
		for i, entry := range variable {
			allocated = append(allocated, Allocation{
				AccountID: entry.input.AccountID,
				BrokerID:  entry.input.BrokerID,
				Lots:      base[i],
				Policy:    entry.input.Policy,
				Weight:    entry.input.Weight,
				FixedLots: entry.input.FixedLots,
			})
		}
	} else if remaining > 0 {
		return nil, ErrNoVariableAccounts
	}

	combined := append(fixed, allocated...)
	result := combined[:0]
	for _, a := range combined {
		if a.Lots > 0 {
			result = append(result, a)
		}
	}
	if len(result) == 0 {
		return nil, ErrZeroAllocation
	}

	// Rounding noise safety valve: fold any residual into the first entry so
	// the grand total always equals totalLots.
	total := 0
	for _, a := range result {
		total += a.Lots
	}
	if total != totalLots {
		result[0].Lots += totalLots - total
	}
	return result, nil
}
