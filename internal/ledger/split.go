package ledger

import (
	"github.com/mmynk/eventlist/internal/access"
	"github.com/mmynk/eventlist/internal/models"
)

// itemSplit is one qualifying purchase divided among the people sharing it.
type itemSplit struct {
	Buyer   string
	Price   float64
	Sharers []string
	Share   float64
}

// roster maps normalized identities to the participant key used in balances.
type roster struct {
	keys  map[string]string
	order []string
}

func newRoster(participants []string) roster {
	r := roster{keys: make(map[string]string, len(participants))}
	for _, p := range participants {
		n := access.Normalize(p)
		if n == "" {
			continue
		}
		if _, exists := r.keys[n]; exists {
			continue
		}
		r.keys[n] = p
		r.order = append(r.order, p)
	}
	return r
}

func (r roster) lookup(id string) (string, bool) {
	key, ok := r.keys[access.Normalize(id)]
	return key, ok
}

// splitItem divides a bought item equally among its sharers.
// It returns false for items that contribute nothing: not bought, no positive
// price, or a buyer who is no longer a participant.
func splitItem(item models.Item, members roster, viewer string) (itemSplit, bool) {
	if !item.Bought || item.Price == nil || *item.Price <= 0 {
		return itemSplit{}, false
	}

	buyerID := item.ClaimedBy
	if buyerID == "" {
		buyerID = viewer
	}
	buyer, ok := members.lookup(buyerID)
	if !ok {
		return itemSplit{}, false
	}

	seen := make(map[string]bool, len(item.SharedBy))
	var sharers []string
	for _, person := range item.SharedBy {
		key, ok := members.lookup(person)
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		sharers = append(sharers, key)
	}
	if len(sharers) == 0 {
		sharers = []string{buyer}
	}

	price := *item.Price
	return itemSplit{
		Buyer:   buyer,
		Price:   price,
		Sharers: sharers,
		Share:   price / float64(len(sharers)),
	}, true
}
