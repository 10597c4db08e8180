package reconcile

import "github.com/Ramsey-B/clover/pkg/models"

// Compose builds the de-duplicated consolidated view from a full cluster. The
// primary's own email and phone occupy index 0 of their lists; the remaining
// members contribute values in cluster order (creation order), first seen
// wins. Every non-primary member's id is listed as a secondary id.
func Compose(cluster []models.Contact) *models.ConsolidatedContact {
	var primary *models.Contact
	for i := range cluster {
		if cluster[i].IsPrimary() {
			primary = &cluster[i]
			break
		}
	}
	if primary == nil {
		// a cluster fetch always includes its primary; guard anyway
		primary = &cluster[0]
	}

	view := &models.ConsolidatedContact{
		PrimaryContactID:    primary.ID,
		Emails:              []string{},
		PhoneNumbers:        []string{},
		SecondaryContactIDs: []int64{},
	}

	seenEmails := make(map[string]struct{})
	seenPhones := make(map[string]struct{})

	appendEmail := func(c *models.Contact) {
		if c.Email == nil {
			return
		}
		if _, ok := seenEmails[*c.Email]; ok {
			return
		}
		seenEmails[*c.Email] = struct{}{}
		view.Emails = append(view.Emails, *c.Email)
	}
	appendPhone := func(c *models.Contact) {
		if c.PhoneNumber == nil {
			return
		}
		if _, ok := seenPhones[*c.PhoneNumber]; ok {
			return
		}
		seenPhones[*c.PhoneNumber] = struct{}{}
		view.PhoneNumbers = append(view.PhoneNumbers, *c.PhoneNumber)
	}

	appendEmail(primary)
	appendPhone(primary)

	for i := range cluster {
		c := &cluster[i]
		if c.ID == primary.ID {
			continue
		}
		appendEmail(c)
		appendPhone(c)
		view.SecondaryContactIDs = append(view.SecondaryContactIDs, c.ID)
	}

	return view
}
