package domain

import "time"

// PendingEntitlement is a purchase that arrived before its buyer signed up.
type PendingEntitlement struct {
	Email      string    `json:"email"`
	Provider   string    `json:"provider"`
	EventName  string    `json:"event_name,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}
