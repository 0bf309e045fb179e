package dto

import "github.com/credstack/credstack/internal/enum"

// LinkDeactivated notifies the owning user out-of-band that a mailbox link
// stopped polling and needs re-authorization.
type LinkDeactivated struct {
	LinkID         string                      `json:"linkId"`
	OwnerID        string                      `json:"ownerId"`
	MailboxAddress string                      `json:"mailboxAddress"`
	Reason         enum.LinkDeactivationReason `json:"reason"`
	FailureCount   int                         `json:"failureCount"`
}
