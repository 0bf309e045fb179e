package interfaces

import (
	"context"
	"time"

	"github.com/credstack/credstack/internal/models"
)

// ListQuery bounds the message set returned by a mailbox listing. All filters
// combine; Since keeps the result window small on busy mailboxes.
type ListQuery struct {
	Since         time.Time
	UnreadOnly    bool
	SenderFilter  string
	SubjectFilter string
}

// MailMessage is one fetched message: its header set and decoded HTML/text body.
type MailMessage struct {
	ID      string
	Headers map[string]string
	Body    string
}

// MailboxClient is the single read-search-mark-read contract against one
// external mailbox. Implementations map provider auth failures to
// ErrMailboxAuth and network/timeout failures to ErrTransientFetch.
type MailboxClient interface {
	List(ctx context.Context, query ListQuery) ([]string, error)
	Get(ctx context.Context, messageID string) (*MailMessage, error)
	MarkRead(ctx context.Context, messageID string) error
	Close() error
}

// MailboxClientFactory builds a client for one mailbox link. The registry
// owns the per-link cache of these clients.
type MailboxClientFactory interface {
	NewClient(ctx context.Context, link *models.MailboxLink) (MailboxClient, error)
}
