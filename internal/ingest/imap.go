package ingest

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"gopkg.in/inconshreveable/log15.v2"
)

const defaultIMAPBatch = 50

type IMAPOptions struct {
	Addr     string
	Username string
	Password string
	Mailbox  string
	Timeout  time.Duration
	TLS      bool
	// BatchSize caps the messages returned by one Fetch.
	BatchSize int
}

// IMAPProducer reads unseen messages from a mailbox. The session opened by
// Fetch is reused by Ack and dropped on any protocol error.
type IMAPProducer struct {
	opts IMAPOptions
	log  log15.Logger

	mu sync.Mutex
	c  *client.Client
}

func NewIMAPProducer(opts IMAPOptions, log log15.Logger) *IMAPProducer {
	if opts.Mailbox == "" {
		opts.Mailbox = "INBOX"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultIMAPBatch
	}
	return &IMAPProducer{opts: opts, log: log.New("producer", SourceIMAP)}
}

func (p *IMAPProducer) Name() string { return SourceIMAP }

func (p *IMAPProducer) connect() (*client.Client, error) {
	if p.c != nil && p.c.State() != imap.LogoutState {
		return p.c, nil
	}
	p.c = nil

	dialer := &net.Dialer{Timeout: p.opts.Timeout}
	var (
		c   *client.Client
		err error
	)
	if p.opts.TLS {
		host, _, _ := net.SplitHostPort(p.opts.Addr)
		c, err = client.DialWithDialerTLS(dialer, p.opts.Addr, &tls.Config{ServerName: host})
	} else {
		c, err = client.DialWithDialer(dialer, p.opts.Addr)
	}
	if err != nil {
		return nil, fmt.Errorf("imap dial %s: %w", p.opts.Addr, err)
	}
	c.Timeout = p.opts.Timeout

	if err := c.Login(p.opts.Username, p.opts.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("imap login: %w", err)
	}
	if _, err := c.Select(p.opts.Mailbox, false); err != nil {
		c.Logout()
		return nil, fmt.Errorf("imap select %s: %w", p.opts.Mailbox, err)
	}
	p.c = c
	return c, nil
}

func (p *IMAPProducer) drop() {
	if p.c != nil {
		p.c.Logout()
		p.c = nil
	}
}

// Fetch returns up to BatchSize unseen messages, oldest uid first. Bodies are
// fetched with PEEK so nothing is marked seen before Ack.
func (p *IMAPProducer) Fetch(ctx context.Context) ([]Email, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	c, err := p.connect()
	if err != nil {
		return nil, err
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		p.drop()
		return nil, fmt.Errorf("imap search: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if len(uids) > p.opts.BatchSize {
		uids = uids[:p.opts.BatchSize]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{section.FetchItem(), imap.FetchUid}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	var out []Email
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			p.log.Warn("message without body", "uid", msg.Uid)
			continue
		}
		e, err := ParseMIME(body, SourceIMAP)
		if err != nil {
			p.log.Warn("unreadable message", "uid", msg.Uid, "err", err)
			continue
		}
		e.Ref = strconv.FormatUint(uint64(msg.Uid), 10)
		out = append(out, e)
	}
	if err := <-done; err != nil {
		p.drop()
		return nil, fmt.Errorf("imap fetch: %w", err)
	}
	return out, nil
}

// Ack flags the message \Seen.
func (p *IMAPProducer) Ack(ctx context.Context, e Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	uid, err := strconv.ParseUint(e.Ref, 10, 32)
	if err != nil {
		return fmt.Errorf("imap ack: bad uid %q", e.Ref)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	c, err := p.connect()
	if err != nil {
		return err
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uint32(uid))
	flags := []interface{}{imap.SeenFlag}
	if err := c.UidStore(seqset, imap.FormatFlagsOp(imap.AddFlags, true), flags, nil); err != nil {
		p.drop()
		return fmt.Errorf("imap store: %w", err)
	}
	return nil
}

func (p *IMAPProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.c == nil {
		return nil
	}
	err := p.c.Logout()
	p.c = nil
	if errors.Is(err, client.ErrAlreadyLoggedOut) {
		return nil
	}
	return err
}
