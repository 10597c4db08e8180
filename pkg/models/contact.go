package models

import "time"

// LinkPrecedence marks a contact as the canonical record of its cluster or a
// subordinate record linked to one.
type LinkPrecedence string

const (
	LinkPrecedencePrimary   LinkPrecedence = "primary"
	LinkPrecedenceSecondary LinkPrecedence = "secondary"
)

// Contact is a single stored contact record. A cluster is one primary plus
// every secondary whose linked_id points at it. Secondaries never point at
// other secondaries.
type Contact struct {
	ID             int64          `json:"id" db:"id"`
	PhoneNumber    *string        `json:"phone_number,omitempty" db:"phone_number"`
	Email          *string        `json:"email,omitempty" db:"email"`
	LinkedID       *int64         `json:"linked_id,omitempty" db:"linked_id"`
	LinkPrecedence LinkPrecedence `json:"link_precedence" db:"link_precedence"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
	DeletedAt      *time.Time     `json:"deleted_at,omitempty" db:"deleted_at"`
}

// IsPrimary reports whether the contact is the canonical record of its cluster.
func (c *Contact) IsPrimary() bool {
	return c.LinkPrecedence == LinkPrecedencePrimary
}

// Root returns the primary id this contact resolves to: its own id when it is
// a primary, otherwise the primary it links to.
func (c *Contact) Root() int64 {
	if c.LinkedID != nil {
		return *c.LinkedID
	}
	return c.ID
}

// IdentifyRequest is the request for reconciling a contact. At least one of
// the two fields must be supplied; the route enforces that before the engine
// runs.
type IdentifyRequest struct {
	Email       *string `json:"email,omitempty" validate:"omitempty,email"`
	PhoneNumber *string `json:"phoneNumber,omitempty" validate:"omitempty,min=1,max=32"`
}

// ConsolidatedContact is the de-duplicated view of one cluster. The primary's
// own email and phone occupy index 0 of their lists; the remaining entries
// follow cluster creation order.
//
// The primaryContatctId spelling is an established external contract and must
// not be corrected.
type ConsolidatedContact struct {
	PrimaryContactID    int64    `json:"primaryContatctId"`
	Emails              []string `json:"emails"`
	PhoneNumbers        []string `json:"phoneNumbers"`
	SecondaryContactIDs []int64  `json:"secondaryContactIds"`
}

// IdentifyResponse wraps the consolidated view in the wire envelope.
type IdentifyResponse struct {
	Contact ConsolidatedContact `json:"contact"`
}
