package mail

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	"strconv"
	"strings"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/adapter"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/config"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/pkg/tlsutil"
)

// TLS modes
const (
	TLSNone     = "none"
	TLSStartTLS = "starttls"
	TLSImplicit = "implicit"
)

// Content handling of fetched mail
const (
	ContentBody       = "body"
	ContentAttachment = "attachment"
	ContentRaw        = "raw"
)

// Server is a mail server endpoint
type Server struct {
	Host        string              `json:"host"`
	Port        int                 `json:"port,omitempty"`
	Credentials adapter.Credentials `json:"credentials,omitempty"`
	TLSMode     string              `json:"tls_mode,omitempty"`
	TLS         tlsutil.Client      `json:"tls,omitempty"`
	Timeout     config.Duration     `json:"timeout,omitempty"`
	Retry       adapter.RetryPolicy `json:"retry,omitempty"`
}

func (s Server) validate(component string) error {
	if strings.TrimSpace(s.Host) == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, component, "Validate", "host is required")
	}
	if s.Port < 0 || s.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, component, "Validate", "port out of range")
	}
	switch s.tlsMode() {
	case TLSNone, TLSStartTLS, TLSImplicit:
	default:
		return errors.WrapInvalid(fmt.Errorf("%w: tls_mode %q", errors.ErrInvalidConfig, s.TLSMode), component, "Validate", "tls_mode")
	}
	if err := s.TLS.Validate(); err != nil {
		return errors.WrapInvalid(err, component, "Validate", "tls")
	}
	if err := s.Retry.Validate(); err != nil {
		return errors.WrapInvalid(err, component, "Validate", "retry")
	}
	return nil
}

func (s Server) tlsMode() string {
	if s.TLSMode == "" {
		return TLSImplicit
	}
	return strings.ToLower(s.TLSMode)
}

func (s Server) tlsConfig() (*tls.Config, error) {
	settings := s.TLS
	settings.Enabled = true
	if settings.ServerName == "" {
		settings.ServerName = s.Host
	}
	return settings.Load()
}

func (s Server) addr(plainPort, tlsPort int) string {
	port := s.Port
	if port == 0 {
		port = plainPort
		if s.tlsMode() == TLSImplicit {
			port = tlsPort
		}
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(port))
}

// SenderConfig configures polling an IMAP folder. Filters narrow the search;
// after a message is acknowledged it is moved to ProcessedFolder, deleted,
// or flagged as seen.
type SenderConfig struct {
	adapter.Conversion
	Server
	Folder           string `json:"folder_name,omitempty"`
	UnreadOnly       *bool  `json:"fetch_unread_only,omitempty"`
	SubjectFilter    string `json:"subject_filter,omitempty"`
	FromFilter       string `json:"from_address_filter,omitempty"`
	ContentHandling  string `json:"content_handling,omitempty"`
	MarkAsRead       *bool  `json:"mark_as_read,omitempty"`
	DeleteAfterFetch bool   `json:"delete_after_fetch,omitempty"`
	ProcessedFolder  string `json:"processed_folder,omitempty"`
}

// Validate checks the configuration
func (c *SenderConfig) Validate() error {
	if err := c.Server.validate("mail"); err != nil {
		return err
	}
	switch c.content() {
	case ContentBody, ContentAttachment, ContentRaw:
	default:
		return errors.WrapInvalid(fmt.Errorf("%w: content_handling %q", errors.ErrInvalidConfig, c.ContentHandling),
			"mail", "Validate", "content_handling")
	}
	if c.DeleteAfterFetch && c.ProcessedFolder != "" {
		return errors.WrapInvalid(fmt.Errorf("%w: delete_after_fetch and processed_folder are exclusive", errors.ErrInvalidConfig),
			"mail", "Validate", "post processing")
	}
	return c.Conversion.Validate()
}

func (c *SenderConfig) folder() string {
	if c.Folder == "" {
		return "INBOX"
	}
	return c.Folder
}

func (c *SenderConfig) content() string {
	if c.ContentHandling == "" {
		return ContentBody
	}
	return strings.ToLower(c.ContentHandling)
}

func (c *SenderConfig) unreadOnly() bool { return c.UnreadOnly == nil || *c.UnreadOnly }

func (c *SenderConfig) markAsRead() bool { return c.MarkAsRead == nil || *c.MarkAsRead }

// ReceiverConfig configures sending each payload as an e-mail over SMTP.
// Subject may use the same placeholders as file name patterns. With an
// AttachmentName the payload is attached and Body becomes the text part.
type ReceiverConfig struct {
	adapter.Conversion
	Server
	From           string            `json:"from_address"`
	To             []string          `json:"to_address"`
	Cc             []string          `json:"cc_address,omitempty"`
	Bcc            []string          `json:"bcc_address,omitempty"`
	Subject        string            `json:"subject_template,omitempty"`
	Body           string            `json:"body,omitempty"`
	ContentType    string            `json:"content_type,omitempty"`
	AttachmentName string            `json:"attachment_name,omitempty"`
	Headers        map[string]string `json:"custom_headers,omitempty"`
}

// Validate checks the configuration and every address
func (c *ReceiverConfig) Validate() error {
	if err := c.Server.validate("mail"); err != nil {
		return err
	}
	if c.From == "" || len(c.To) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "mail", "Validate", "from_address and to_address are required")
	}
	for _, a := range c.recipients(c.From) {
		if _, err := mail.ParseAddress(a); err != nil {
			return errors.WrapInvalid(fmt.Errorf("%w: address %q: %v", errors.ErrInvalidConfig, a, err), "mail", "Validate", "addresses")
		}
	}
	if strings.ContainsAny(c.AttachmentName, `/\`) {
		return errors.WrapInvalid(fmt.Errorf("%w: attachment_name cannot contain a path", errors.ErrInvalidConfig), "mail", "Validate", "attachment_name")
	}
	return c.Conversion.Validate()
}

// recipients returns To, Cc and Bcc followed by extra
func (c *ReceiverConfig) recipients(extra ...string) []string {
	out := make([]string, 0, len(c.To)+len(c.Cc)+len(c.Bcc)+len(extra))
	out = append(out, c.To...)
	out = append(out, c.Cc...)
	out = append(out, c.Bcc...)
	return append(out, extra...)
}

func (c *ReceiverConfig) contentType() string {
	if c.ContentType == "" {
		return "text/plain; charset=utf-8"
	}
	return c.ContentType
}
