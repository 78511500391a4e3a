package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"activation-assistant/internal/domain"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

const (
	DefaultMaxAge      = 5 * time.Minute
	MaxAgeCeiling      = 10 * time.Minute
	DiagnosticWindow   = 24 * time.Hour
	DefaultMaxMessages = 5
)

// FetchOptions tune a single extraction call.
type FetchOptions struct {
	// MaxAge bounds how old a message may be. Zero means DefaultMaxAge;
	// values above MaxAgeCeiling are clamped.
	MaxAge time.Duration
	// Sender, when set, narrows the search to a FROM substring. An empty
	// filtered result falls back to the unfiltered recent set.
	Sender string
	// MaxMessages caps how many bodies are inspected, newest first.
	MaxMessages int
}

// Extractor reads OTP codes out of a mailbox over IMAP. Connections are
// opened and closed per call.
type Extractor struct {
	logger domain.Logger
}

// NewExtractor creates a new mailbox OTP extractor instance
func NewExtractor(logger domain.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// CheckAuth verifies mailbox connectivity and credentials without
// reading any mail. Used as the fail-fast gate before browser login.
func (e *Extractor) CheckAuth(ctx context.Context, creds domain.MailboxCredentials) error {
	client, err := e.dial(creds)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMailboxAuth, err)
	}
	defer client.Close()

	_ = client.Logout().Wait()
	return nil
}

// FetchCode returns the most recent plausible verification code from the
// mailbox, or a typed error distinguishing "no recent mail" from
// "mail found but no code recognized".
func (e *Extractor) FetchCode(ctx context.Context, creds domain.MailboxCredentials, opts FetchOptions) (string, error) {
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if maxAge > MaxAgeCeiling {
		maxAge = MaxAgeCeiling
	}

	maxMessages := opts.MaxMessages
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}

	client, err := e.dial(creds)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrMailboxAuth, err)
	}
	defer func() {
		_ = client.Logout().Wait()
		client.Close()
	}()

	now := time.Now()
	since := now.Add(-maxAge)

	uids, err := e.searchSince(client, since)
	if err != nil {
		return "", fmt.Errorf("mailbox search failed: %w", err)
	}

	if len(uids) == 0 {
		e.diagnoseEmptyWindow(client, now)
		return "", domain.ErrNoRecentMail
	}

	if opts.Sender != "" {
		uids = e.filterBySender(client, since, opts.Sender, uids)
	}

	// Newest first. SINCE is day-granular, so each message's own Date
	// header is re-checked against the minute-precision window below.
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	if len(uids) > maxMessages {
		uids = uids[:maxMessages]
	}

	inspected := 0
	for _, uid := range uids {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		msg, err := e.fetchMessage(client, uid)
		if err != nil {
			e.logger.WithError(err).WithField("uid", uint32(uid)).Debug("Message fetch failed, skipping")
			continue
		}

		if msg.date.Before(since) || msg.date.After(now.Add(time.Minute)) {
			continue
		}
		inspected++

		if code := extractCode(normalizeBody(msg.body)); code != "" {
			e.logger.WithFields(map[string]any{
				"from":    msg.from,
				"subject": msg.subject,
				"age":     now.Sub(msg.date).Round(time.Second).String(),
			}).Info("Verification code extracted from mailbox")
			return code, nil
		}
	}

	if inspected == 0 {
		return "", domain.ErrNoRecentMail
	}
	return "", domain.ErrNoCodeFound
}

func (e *Extractor) dial(creds domain.MailboxCredentials) (*imapclient.Client, error) {
	port := creds.Port
	if port == 0 {
		port = 993
	}
	addr := net.JoinHostPort(creds.Host, strconv.Itoa(port))

	client, err := imapclient.DialTLS(addr, &imapclient.Options{
		TLSConfig: &tls.Config{ServerName: creds.Host},
	})
	if err != nil {
		return nil, fmt.Errorf("dial imap: %w", err)
	}

	if err := client.Login(creds.Email, creds.Password).Wait(); err != nil {
		client.Close()
		return nil, fmt.Errorf("imap login: %w", err)
	}

	if _, err := client.Select("INBOX", &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		client.Close()
		return nil, fmt.Errorf("select inbox: %w", err)
	}

	return client, nil
}

func (e *Extractor) searchSince(client *imapclient.Client, since time.Time) ([]imap.UID, error) {
	data, err := client.UIDSearch(&imap.SearchCriteria{Since: since}, nil).Wait()
	if err != nil {
		return nil, err
	}
	return data.AllUIDs(), nil
}

// diagnoseEmptyWindow runs a broader search purely so the operator log
// can tell "no recent mail" apart from a mailbox with no mail at all.
func (e *Extractor) diagnoseEmptyWindow(client *imapclient.Client, now time.Time) {
	data, err := client.UIDSearch(&imap.SearchCriteria{Since: now.Add(-DiagnosticWindow)}, nil).Wait()
	if err != nil {
		e.logger.WithError(err).Warn("Diagnostic mailbox search failed")
		return
	}

	count := len(data.AllUIDs())
	if count == 0 {
		e.logger.Warn("Mailbox has no mail in the last 24h; check forwarding and credentials")
		return
	}
	e.logger.WithField("last_24h", count).Info("Mailbox has mail, just none within the OTP window")
}

// filterBySender re-searches with a FROM constraint; an empty result
// falls back to the unfiltered set, logging observed senders instead.
func (e *Extractor) filterBySender(client *imapclient.Client, since time.Time, sender string, unfiltered []imap.UID) []imap.UID {
	data, err := client.UIDSearch(&imap.SearchCriteria{
		Since:  since,
		Header: []imap.SearchCriteriaHeaderField{{Key: "From", Value: sender}},
	}, nil).Wait()
	if err != nil {
		e.logger.WithError(err).Warn("Sender-filtered search failed, using unfiltered set")
		return unfiltered
	}

	if filtered := data.AllUIDs(); len(filtered) > 0 {
		return filtered
	}

	e.logger.WithFields(map[string]any{
		"expected_sender": sender,
		"observed":        e.observedSenders(client, unfiltered),
	}).Warn("No mail from expected sender, falling back to unfiltered set")
	return unfiltered
}

// observedSenders fetches envelope senders of the recent set for diagnostics.
func (e *Extractor) observedSenders(client *imapclient.Client, uids []imap.UID) []string {
	var uidSet imap.UIDSet
	for _, uid := range uids {
		uidSet.AddNum(uid)
	}

	fetchCmd := client.Fetch(uidSet, &imap.FetchOptions{Envelope: true, UID: true})
	defer fetchCmd.Close()

	var senders []string
	for {
		msgData := fetchCmd.Next()
		if msgData == nil {
			break
		}
		buf, err := msgData.Collect()
		if err != nil || buf.Envelope == nil || len(buf.Envelope.From) == 0 {
			continue
		}
		senders = append(senders, buf.Envelope.From[0].Addr())
	}
	return senders
}

type fetchedMessage struct {
	from    string
	subject string
	date    time.Time
	body    string
}

func (e *Extractor) fetchMessage(client *imapclient.Client, uid imap.UID) (*fetchedMessage, error) {
	var uidSet imap.UIDSet
	uidSet.AddNum(uid)

	fetchCmd := client.Fetch(uidSet, &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{{}},
	})
	defer fetchCmd.Close()

	msgData := fetchCmd.Next()
	if msgData == nil {
		return nil, fmt.Errorf("message %d not found", uid)
	}

	buf, err := msgData.Collect()
	if err != nil {
		return nil, err
	}
	if buf.Envelope == nil {
		return nil, fmt.Errorf("message %d has no envelope", uid)
	}

	msg := &fetchedMessage{
		subject: buf.Envelope.Subject,
		date:    buf.Envelope.Date,
	}
	if len(buf.Envelope.From) > 0 {
		msg.from = buf.Envelope.From[0].Addr()
	}
	if len(buf.BodySection) > 0 {
		msg.body = string(buf.BodySection[0].Bytes)
	}

	return msg, nil
}
