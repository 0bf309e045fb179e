package errors

import "github.com/pkg/errors"

var (
	// store errors
	ErrNotFound       = errors.New("record not found")
	ErrDuplicateEmail = errors.New("another account already uses this mailbox address")

	// access errors
	ErrUnauthorized = errors.New("caller is not authorized for this account")
	ErrNotOwner     = errors.New("only the account owner may perform this operation")
	ErrSelfGrant    = errors.New("owner access is implicit and cannot be granted")

	// cipher errors
	ErrDecryptionFailed = errors.New("decryption failed")

	// mailbox errors
	ErrMailboxAuth    = errors.New("mailbox authentication failed")
	ErrTransientFetch = errors.New("transient mailbox fetch failure")
	ErrLinkInactive   = errors.New("mailbox link is not active")
)
