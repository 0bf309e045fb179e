package dto

import "time"

// OTPEvent is the in-memory message produced once per successful extraction
// and fanned out to live sessions. It is never persisted; the account row
// remains the authoritative record.
type OTPEvent struct {
	AccountID string    `json:"accountId"`
	OwnerID   string    `json:"ownerId"`
	Code      string    `json:"code"`
	FetchedAt time.Time `json:"fetchedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}
