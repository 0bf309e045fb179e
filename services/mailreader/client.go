package mailreader

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/jhillyerd/enmime"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/credstack/credstack/interfaces"
	er "github.com/credstack/credstack/internal/errors"
	"github.com/credstack/credstack/internal/logger"
	"github.com/credstack/credstack/internal/models"
	"github.com/credstack/credstack/internal/tracing"
)

const inboxFolder = "INBOX"

// IMAPClient is a mailbox client bound to one linked mailbox. The underlying
// go-imap connection is not safe for concurrent commands, so every operation
// holds the mutex.
type IMAPClient struct {
	conn    *client.Client
	link    *models.MailboxLink
	timeout time.Duration
	mutex   sync.Mutex
}

// IMAPClientFactory dials IMAP connections for mailbox links. The credential
// handle on the link passed to NewClient is already decrypted.
type IMAPClientFactory struct {
	fetchTimeout time.Duration
	log          logger.Logger
}

func NewIMAPClientFactory(fetchTimeout time.Duration, log logger.Logger) *IMAPClientFactory {
	if fetchTimeout <= 0 {
		fetchTimeout = 30 * time.Second
	}
	return &IMAPClientFactory{fetchTimeout: fetchTimeout, log: log}
}

func (f *IMAPClientFactory) NewClient(ctx context.Context, link *models.MailboxLink) (interfaces.MailboxClient, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPClientFactory.NewClient")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("link.id", link.ID)
	span.SetTag("server", link.ImapServer)
	span.SetTag("port", link.ImapPort)
	span.SetTag("tls", link.ImapTLS)

	serverAddr := fmt.Sprintf("%s:%d", link.ImapServer, link.ImapPort)

	dialer := &net.Dialer{
		Timeout:   f.fetchTimeout,
		KeepAlive: 30 * time.Second,
	}

	var c *client.Client
	var err error

	if link.ImapTLS {
		tlsConfig := &tls.Config{
			ServerName: link.ImapServer,
		}
		c, err = client.DialWithDialerTLS(dialer, serverAddr, tlsConfig)
	} else {
		c, err = client.DialWithDialer(dialer, serverAddr)
	}
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(er.ErrTransientFetch, "failed to connect to %s: %v", serverAddr, err)
	}

	c.Timeout = f.fetchTimeout
	if err = c.Login(link.ImapUsername, link.CredentialHandle); err != nil {
		c.Logout()
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(er.ErrMailboxAuth, "failed to login as %s: %v", link.ImapUsername, err)
	}
	c.Timeout = 0

	f.log.Infof("Connected mailbox link %s to %s", link.ID, serverAddr)

	return &IMAPClient{
		conn:    c,
		link:    link,
		timeout: f.fetchTimeout,
	}, nil
}

// List searches the inbox and returns message UIDs matching the query.
func (c *IMAPClient) List(ctx context.Context, query interfaces.ListQuery) ([]string, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "IMAPClient.List")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("link.id", c.link.ID)

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, err := c.conn.Select(inboxFolder, false); err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(er.ErrTransientFetch, "failed to select %s: %v", inboxFolder, err)
	}

	criteria := goimap.NewSearchCriteria()
	if !query.Since.IsZero() {
		criteria.Since = query.Since
	}
	if query.UnreadOnly {
		criteria.WithoutFlags = []string{goimap.SeenFlag}
	}
	if query.SenderFilter != "" {
		criteria.Header.Add("From", query.SenderFilter)
	}
	if query.SubjectFilter != "" {
		criteria.Header.Add("Subject", query.SubjectFilter)
	}

	uids, err := c.conn.UidSearch(criteria)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(er.ErrTransientFetch, "search failed: %v", err)
	}

	ids := make([]string, 0, len(uids))
	for _, uid := range uids {
		ids = append(ids, strconv.FormatUint(uint64(uid), 10))
	}
	span.SetTag("result.count", len(ids))
	return ids, nil
}

// Get fetches one message in full and parses its headers and body.
func (c *IMAPClient) Get(ctx context.Context, messageID string) (*interfaces.MailMessage, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "IMAPClient.Get")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("link.id", c.link.ID)
	span.SetTag("message.id", messageID)

	uid, err := parseUID(messageID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, err := c.conn.Select(inboxFolder, false); err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(er.ErrTransientFetch, "failed to select %s: %v", inboxFolder, err)
	}

	seqSet := new(goimap.SeqSet)
	seqSet.AddNum(uid)

	items := []goimap.FetchItem{
		goimap.FetchEnvelope,
		goimap.FetchFlags,
		goimap.FetchUid,
		goimap.FetchRFC822,
	}

	messages := make(chan *goimap.Message, 1)
	if err := c.conn.UidFetch(seqSet, items, messages); err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrapf(er.ErrTransientFetch, "fetch failed for uid %d: %v", uid, err)
	}

	msg, ok := <-messages
	if !ok || msg == nil {
		err = errors.Wrapf(er.ErrTransientFetch, "message with uid %d not found", uid)
		tracing.TraceErr(span, err)
		return nil, err
	}

	raw := extractFullMessage(msg)
	if len(raw) == 0 {
		err = errors.Wrapf(er.ErrTransientFetch, "empty body for uid %d", uid)
		tracing.TraceErr(span, err)
		return nil, err
	}

	return parseMessage(messageID, raw)
}

// MarkRead flags the message as seen so it is skipped by unread-only searches.
func (c *IMAPClient) MarkRead(ctx context.Context, messageID string) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "IMAPClient.MarkRead")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	span.SetTag("link.id", c.link.ID)
	span.SetTag("message.id", messageID)

	uid, err := parseUID(messageID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, err := c.conn.Select(inboxFolder, false); err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrapf(er.ErrTransientFetch, "failed to select %s: %v", inboxFolder, err)
	}

	seqSet := new(goimap.SeqSet)
	seqSet.AddNum(uid)

	item := goimap.FormatFlagsOp(goimap.AddFlags, true)
	flags := []interface{}{goimap.SeenFlag}
	if err := c.conn.UidStore(seqSet, item, flags, nil); err != nil {
		tracing.TraceErr(span, err)
		return errors.Wrapf(er.ErrTransientFetch, "failed to mark uid %d as read: %v", uid, err)
	}
	return nil
}

func (c *IMAPClient) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.conn.Logout()
}

func parseUID(messageID string) (uint32, error) {
	uid, err := strconv.ParseUint(strings.TrimSpace(messageID), 10, 32)
	if err != nil {
		return 0, errors.Errorf("invalid message id %q", messageID)
	}
	return uint32(uid), nil
}

func extractFullMessage(msg *goimap.Message) []byte {
	var buffer bytes.Buffer

	for section, literal := range msg.Body {
		if section.Peek {
			continue
		}
		if len(section.Path) == 0 && section.Specifier == goimap.EntireSpecifier {
			data, err := io.ReadAll(literal)
			if err == nil {
				buffer.Write(data)
				break
			}
		}
	}

	return buffer.Bytes()
}

// parseMessage decodes the raw RFC822 payload. The HTML part is preferred
// over plain text because verification codes are usually markup-wrapped.
func parseMessage(messageID string, raw []byte) (*interfaces.MailMessage, error) {
	envelope, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrapf(er.ErrTransientFetch, "failed to parse message %s: %v", messageID, err)
	}

	headers := make(map[string]string)
	for _, key := range envelope.GetHeaderKeys() {
		headers[key] = envelope.GetHeader(key)
	}

	body := envelope.HTML
	if body == "" {
		body = envelope.Text
	}

	return &interfaces.MailMessage{
		ID:      messageID,
		Headers: headers,
		Body:    body,
	}, nil
}
