package domain

import "time"

// SubscriptionStatus is the coarse subscription state stored next to the purchase flag.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionInactive SubscriptionStatus = "inactive"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
)

// OrDefault returns inactive for an empty status.
func (s SubscriptionStatus) OrDefault() SubscriptionStatus {
	if s == "" {
		return SubscriptionInactive
	}
	return s
}

// UserRecord is the entitlement row for one end user, keyed by the identity provider id.
type UserRecord struct {
	ID                 string
	Email              string
	HasPurchased       bool
	SubscriptionStatus SubscriptionStatus
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewDefaultRecord builds the unentitled record created on first authenticated access.
func NewDefaultRecord(identity Identity) UserRecord {
	return UserRecord{
		ID:                 identity.ID,
		Email:              identity.Email,
		HasPurchased:       false,
		SubscriptionStatus: SubscriptionInactive,
	}
}

// Identity is a verified identity-provider user.
type Identity struct {
	ID    string
	Email string
}
