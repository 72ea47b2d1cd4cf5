// Package ledger turns an event's bought items into balances and the transfers
// that settle them.
package ledger

import (
	"cmp"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/mmynk/eventlist/internal/models"
)

// Epsilon is the absolute currency tolerance below which a balance counts as settled.
const Epsilon = 0.01

// Amount is a currency amount rendered with two decimals ("15.00").
type Amount float64

// String formats the amount with two decimals.
func (a Amount) String() string {
	return strconv.FormatFloat(float64(a), 'f', 2, 64)
}

// MarshalJSON encodes the amount as a two-decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts a string or a number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", s, err)
		}
		*a = Amount(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	*a = Amount(f)
	return nil
}

// Transaction is one transfer that settles part of a debt.
type Transaction struct {
	From   string `json:"from"` // Person who owes
	To     string `json:"to"`   // Person who is owed
	Amount Amount `json:"amount"`
}

// Result is the settlement of one event.
type Result struct {
	// Balances per participant. Positive = owed money, negative = owes money.
	Balances map[string]float64 `json:"balances"`
	// Transactions that drive every balance to within Epsilon of zero.
	Transactions []Transaction `json:"transactions"`
	// TotalSpent is the plain sum of all qualifying item prices.
	TotalSpent Amount `json:"totalSpent"`
}

type position struct {
	id     string
	amount float64 // always positive
}

// Settle computes balances and transfers for an event.
//
// Algorithm:
//   - Each qualifying bought item credits its buyer with the price and debits
//     every sharer with an equal share (a buyer who also shares nets out)
//   - Participants beyond ±Epsilon become debtors or creditors
//   - Greedy matching: largest debtor pays largest creditor min(debt, credit),
//     advancing whichever side reaches zero
//
// The matching is a heuristic. It is not guaranteed to produce the fewest
// possible transfers, but it is deterministic: ties are broken by participant id.
func Settle(items []models.Item, participants []string, viewer string) Result {
	members := newRoster(participants)

	balances := make(map[string]float64, len(members.order))
	for _, p := range members.order {
		balances[p] = 0
	}

	var total float64
	for _, item := range items {
		split, ok := splitItem(item, members, viewer)
		if !ok {
			continue
		}
		total += split.Price
		balances[split.Buyer] += split.Price
		for _, person := range split.Sharers {
			balances[person] -= split.Share
		}
	}

	var debtors, creditors []position
	for _, p := range members.order {
		switch bal := balances[p]; {
		case bal < -Epsilon:
			debtors = append(debtors, position{id: p, amount: -bal})
		case bal > Epsilon:
			creditors = append(creditors, position{id: p, amount: bal})
		}
	}
	byAmountDesc := func(a, b position) int {
		if c := cmp.Compare(b.amount, a.amount); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	}
	slices.SortFunc(debtors, byAmountDesc)
	slices.SortFunc(creditors, byAmountDesc)

	// Greedy algorithm: match largest debts with largest credits
	transactions := []Transaction{}
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		amount := math.Min(debtors[i].amount, creditors[j].amount)

		if amount > Epsilon {
			transactions = append(transactions, Transaction{
				From:   debtors[i].id,
				To:     creditors[j].id,
				Amount: Amount(amount),
			})
		}

		debtors[i].amount -= amount
		creditors[j].amount -= amount

		if debtors[i].amount <= Epsilon {
			i++
		}
		if creditors[j].amount <= Epsilon {
			j++
		}
	}

	return Result{
		Balances:     balances,
		Transactions: transactions,
		TotalSpent:   Amount(total),
	}
}
