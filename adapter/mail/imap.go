package mail

import (
	"context"
	"fmt"
	"io"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/pkg/retry"
)

// IMAP ports
const (
	IMAPPort    = 143
	IMAPTLSPort = 993
)

// Header keys set on received messages
const (
	HeaderSubject        = "mail_subject"
	HeaderFrom           = "mail_from"
	HeaderTo             = "mail_to"
	HeaderDate           = "mail_date"
	HeaderMessageID      = "mail_message_id"
	HeaderUID            = "mail_uid"
	HeaderFolder         = "mail_folder"
	HeaderAttachmentName = "mail_attachment_name"
	HeaderAttachments    = "mail_attachment_count"
)

// Query selects messages in a folder
type Query struct {
	Unseen  bool
	Subject string
	From    string
}

func (q Query) criteria() *imap.SearchCriteria {
	c := imap.NewSearchCriteria()
	c.WithoutFlags = []string{imap.DeletedFlag}
	if q.Unseen {
		c.WithoutFlags = append(c.WithoutFlags, imap.SeenFlag)
	}
	if q.Subject != "" {
		c.Header.Add("Subject", q.Subject)
	}
	if q.From != "" {
		c.Header.Add("From", q.From)
	}
	return c
}

// Mailbox is one logged-in IMAP connection. Messages are addressed by UID.
type Mailbox interface {
	Select(folder string) error
	Search(q Query) ([]uint32, error)
	// Fetch returns the full message without setting \Seen
	Fetch(uid uint32) ([]byte, error)
	MarkSeen(uid uint32) error
	Delete(uid uint32) error
	Move(uid uint32, folder string) error
	Noop() error
	Logout() error
}

// MailboxDialer opens a Mailbox
type MailboxDialer func(ctx context.Context) (Mailbox, error)

// ctxDialer lets the IMAP client dial under a context
type ctxDialer struct {
	ctx context.Context
	d   *net.Dialer
}

func (c ctxDialer) Dial(network, addr string) (net.Conn, error) {
	return c.d.DialContext(c.ctx, network, addr)
}

// IMAPDialer connects, upgrades to TLS as configured and logs in. A rejected
// login is not retried.
func IMAPDialer(s Server) MailboxDialer {
	return func(ctx context.Context) (Mailbox, error) {
		timeout := adapter.TimeoutOr(s.Timeout, 30*time.Second)
		addr := s.addr(IMAPPort, IMAPTLSPort)
		dialer := ctxDialer{ctx: ctx, d: &net.Dialer{Timeout: timeout}}

		var c *client.Client
		var err error
		switch s.tlsMode() {
		case TLSImplicit:
			tlsCfg, terr := s.tlsConfig()
			if terr != nil {
				return nil, retry.NonRetryable(terr)
			}
			c, err = client.DialWithDialerTLS(dialer, addr, tlsCfg)
		default:
			c, err = client.DialWithDialer(dialer, addr)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: dial %s: %v", errors.ErrConnectionLost, addr, err)
		}
		c.Timeout = timeout

		if s.tlsMode() == TLSStartTLS {
			tlsCfg, terr := s.tlsConfig()
			if terr != nil {
				_ = c.Logout()
				return nil, retry.NonRetryable(terr)
			}
			if err := c.StartTLS(tlsCfg); err != nil {
				_ = c.Logout()
				return nil, fmt.Errorf("%w: starttls %s: %v", errors.ErrConnectionLost, addr, err)
			}
		}
		if err := c.Login(s.Credentials.Username, s.Credentials.Password); err != nil {
			_ = c.Logout()
			return nil, retry.NonRetryable(fmt.Errorf("%w: login as %s: %v", errors.ErrInvalidConfig, s.Credentials.Username, err))
		}
		return &imapMailbox{c: c}, nil
	}
}

type imapMailbox struct {
	c *client.Client
}

func uidSet(uid uint32) *imap.SeqSet {
	set := new(imap.SeqSet)
	set.AddNum(uid)
	return set
}

func (m *imapMailbox) Select(folder string) error {
	_, err := m.c.Select(folder, false)
	return err
}

func (m *imapMailbox) Search(q Query) ([]uint32, error) {
	return m.c.UidSearch(q.criteria())
}

func (m *imapMailbox) Fetch(uid uint32) ([]byte, error) {
	section := &imap.BodySectionName{Peek: true}
	ch := make(chan *imap.Message, 1)
	if err := m.c.UidFetch(uidSet(uid), []imap.FetchItem{section.FetchItem()}, ch); err != nil {
		return nil, err
	}
	msg := <-ch
	if msg == nil {
		return nil, retry.NonRetryable(fmt.Errorf("%w: uid %d", errors.ErrNotFound, uid))
	}
	body := msg.GetBody(section)
	if body == nil {
		return nil, retry.NonRetryable(fmt.Errorf("%w: uid %d has no body", errors.ErrInvalidData, uid))
	}
	return io.ReadAll(body)
}

func (m *imapMailbox) MarkSeen(uid uint32) error {
	return m.c.UidStore(uidSet(uid), imap.FormatFlagsOp(imap.AddFlags, true), []interface{}{imap.SeenFlag}, nil)
}

func (m *imapMailbox) Delete(uid uint32) error {
	if err := m.c.UidStore(uidSet(uid), imap.FormatFlagsOp(imap.AddFlags, true), []interface{}{imap.DeletedFlag}, nil); err != nil {
		return err
	}
	return m.c.Expunge(nil)
}

func (m *imapMailbox) Move(uid uint32, folder string) error {
	if err := m.c.UidCopy(uidSet(uid), folder); err != nil {
		return err
	}
	return m.Delete(uid)
}

func (m *imapMailbox) Noop() error { return m.c.Noop() }

func (m *imapMailbox) Logout() error { return m.c.Logout() }

// session owns one Mailbox and redials after a failed operation
type session struct {
	dial  MailboxDialer
	retry retry.Config

	mu sync.Mutex
	mb Mailbox
}

func (s *session) do(ctx context.Context, fn func(Mailbox) error) error {
	return retry.Do(ctx, s.retry, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.mb == nil {
			mb, err := s.dial(ctx)
			if err != nil {
				return err
			}
			s.mb = mb
		}
		err := fn(s.mb)
		if err != nil && !retry.IsNonRetryable(err) {
			_ = s.mb.Logout()
			s.mb = nil
		}
		return err
	})
}

func (s *session) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mb == nil {
		return nil
	}
	err := s.mb.Logout()
	s.mb = nil
	return err
}

// Sender polls an IMAP folder and returns one message per Receive
type Sender struct {
	*adapter.Base
	cfg     *SenderConfig
	session *session

	mu       sync.Mutex
	inflight map[uint32]struct{}
	done     map[uint32]struct{}
}

// NewSender creates a mail sender
func NewSender(cfg *SenderConfig, deps adapter.Dependencies) *Sender {
	return newSender(cfg, IMAPDialer(cfg.Server), deps)
}

func newSender(cfg *SenderConfig, dial MailboxDialer, deps adapter.Dependencies) *Sender {
	s := &Sender{
		cfg:      cfg,
		session:  &session{dial: dial, retry: cfg.Retry.RetryConfig()},
		inflight: make(map[uint32]struct{}),
		done:     make(map[uint32]struct{}),
	}
	s.Base = adapter.NewBase(adapter.TypeMAIL, adapter.ModeSender, deps, adapter.Hooks{
		Connect: func(ctx context.Context) error {
			return s.session.do(ctx, func(mb Mailbox) error { return mb.Select(cfg.folder()) })
		},
		Disconnect: func(context.Context) error { return s.session.close() },
		Test: func(ctx context.Context) error {
			return s.session.do(ctx, func(mb Mailbox) error { return mb.Noop() })
		},
	})
	return s
}

// Receive fetches the oldest matching message. Acknowledging it moves,
// deletes or flags it as configured.
func (s *Sender) Receive(ctx context.Context) (*adapter.Message, error) {
	if err := s.ValidateReady("receive"); err != nil {
		return nil, err
	}
	start := time.Now()
	q := Query{Unseen: s.cfg.unreadOnly(), Subject: s.cfg.SubjectFilter, From: s.cfg.FromFilter}

	var uid uint32
	var raw []byte
	err := s.session.do(ctx, func(mb Mailbox) error {
		if err := mb.Select(s.cfg.folder()); err != nil {
			return fmt.Errorf("select %s: %w", s.cfg.folder(), err)
		}
		uids, err := mb.Search(q)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
		if uid = s.pick(uids); uid == 0 {
			return retry.NonRetryable(errors.ErrNoMessage)
		}
		if raw, err = mb.Fetch(uid); err != nil {
			s.release(uid)
			return fmt.Errorf("fetch uid %d: %w", uid, err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errors.ErrNoMessage) {
			err = errors.ErrNoMessage
		}
		return nil, s.Observe("receive", start, 0, err)
	}

	msg, err := s.toMessage(uid, raw)
	if err != nil {
		s.release(uid)
		return nil, s.Observe("receive", start, 0, err)
	}
	msg.WithAck(func(ctx context.Context) error { return s.consume(ctx, uid) })
	s.Logger().Debug("Mail fetched", "folder", s.cfg.folder(), "uid", uid, "subject", msg.Headers[HeaderSubject])
	return msg, s.Observe("receive", start, len(msg.Payload), nil)
}

func (s *Sender) toMessage(uid uint32, raw []byte) (*adapter.Message, error) {
	source := s.cfg.folder() + "/" + strconv.FormatUint(uint64(uid), 10)
	if s.cfg.content() == ContentRaw {
		msg := adapter.NewMessage(raw, "message/rfc822", source)
		s.annotate(msg, uid, nil)
		return msg, nil
	}
	p, err := parseMessage(raw)
	if err != nil {
		return nil, err
	}

	var chosen part
	var ok bool
	if s.cfg.content() == ContentAttachment {
		chosen, ok = p.firstAttachment()
	}
	if !ok {
		chosen, ok = p.body()
	}
	if !ok {
		chosen = part{contentType: "text/plain"}
	}
	msg := adapter.NewMessage(chosen.data, mediaType(chosen.contentType), source)
	s.annotate(msg, uid, p)
	if chosen.attachment {
		msg.Headers[HeaderAttachmentName] = chosen.filename
	}
	return msg, nil
}

func (s *Sender) annotate(msg *adapter.Message, uid uint32, p *parsed) {
	msg.Headers[HeaderUID] = strconv.FormatUint(uint64(uid), 10)
	msg.Headers[HeaderFolder] = s.cfg.folder()
	if p == nil {
		return
	}
	msg.Headers[HeaderSubject] = p.decoded("Subject")
	msg.Headers[HeaderFrom] = p.decoded("From")
	msg.Headers[HeaderTo] = p.decoded("To")
	msg.Headers[HeaderDate] = p.header.Get("Date")
	msg.Headers[HeaderMessageID] = p.header.Get("Message-Id")
	msg.Headers[HeaderAttachments] = strconv.Itoa(p.attachments())
}

// pick returns the lowest eligible UID and marks it in flight, or 0
func (s *Sender) pick(uids []uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	for _, uid := range uids {
		if _, busy := s.inflight[uid]; busy {
			continue
		}
		if _, seen := s.done[uid]; seen {
			continue
		}
		s.inflight[uid] = struct{}{}
		return uid
	}
	return 0
}

func (s *Sender) release(uid uint32) {
	s.mu.Lock()
	delete(s.inflight, uid)
	s.mu.Unlock()
}

func (s *Sender) consume(ctx context.Context, uid uint32) error {
	defer s.release(uid)
	err := s.session.do(ctx, func(mb Mailbox) error {
		if err := mb.Select(s.cfg.folder()); err != nil {
			return err
		}
		switch {
		case s.cfg.ProcessedFolder != "":
			return mb.Move(uid, s.cfg.ProcessedFolder)
		case s.cfg.DeleteAfterFetch:
			return mb.Delete(uid)
		case s.cfg.markAsRead():
			return mb.MarkSeen(uid)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("post-process uid %d: %w", uid, err)
	}
	s.mu.Lock()
	s.done[uid] = struct{}{}
	s.mu.Unlock()
	return nil
}
