package service

import (
	"github.com/mmynk/eventlist/internal/access"
	"github.com/mmynk/eventlist/internal/models"
)

// ensureItemInvariants prunes every item's sharer list to the current
// participants and restores "bought implies at least one sharer", falling back
// to the claimer and then to fallback.
func ensureItemInvariants(items []models.Item, participants []string, fallback string) []models.Item {
	out := models.CloneItems(items)
	for i := range out {
		item := &out[i]

		kept := make([]string, 0, len(item.SharedBy))
		for _, person := range item.SharedBy {
			n := access.Normalize(person)
			if access.Contains(participants, n) && !access.Contains(kept, n) {
				kept = append(kept, n)
			}
		}
		item.SharedBy = kept

		if item.Bought && len(item.SharedBy) == 0 {
			if item.ClaimedBy != "" {
				item.SharedBy = []string{access.Normalize(item.ClaimedBy)}
			} else {
				item.SharedBy = []string{access.Normalize(fallback)}
			}
		}
	}
	return out
}
