package mail

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cjbester78/integrix-flow-bridge-backend-sub002/errors"
)

// part is one decoded leaf of a MIME tree
type part struct {
	contentType string
	filename    string
	attachment  bool
	data        []byte
}

// parsed is a fetched e-mail reduced to what the sender needs
type parsed struct {
	header mail.Header
	parts  []part
}

var wordDecoder = &mime.WordDecoder{}

func parseMessage(raw []byte) (*parsed, error) {
	m, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: parse message: %v", errors.ErrInvalidData, err)
	}
	p := &parsed{header: m.Header}
	if err := p.walk(textproto.MIMEHeader(m.Header), m.Body); err != nil {
		return nil, fmt.Errorf("%w: parse message body: %v", errors.ErrInvalidData, err)
	}
	return p, nil
}

func (p *parsed) walk(h textproto.MIMEHeader, body io.Reader) error {
	ct := h.Get("Content-Type")
	if ct == "" {
		ct = "text/plain"
	}
	media, params, err := mime.ParseMediaType(ct)
	if err != nil {
		media, params = "application/octet-stream", nil
	}
	if strings.HasPrefix(media, "multipart/") {
		mr := multipart.NewReader(body, params["boundary"])
		for {
			next, err := mr.NextRawPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			if err := p.walk(next.Header, next); err != nil {
				return err
			}
		}
	}

	data, err := io.ReadAll(decodeTransfer(h.Get("Content-Transfer-Encoding"), body))
	if err != nil {
		return err
	}
	leaf := part{contentType: ct, data: data}
	if disp, dparams, err := mime.ParseMediaType(h.Get("Content-Disposition")); err == nil {
		leaf.attachment = disp == "attachment"
		leaf.filename = dparams["filename"]
	}
	if leaf.filename == "" {
		leaf.filename = params["name"]
	}
	if leaf.filename != "" {
		leaf.attachment = true
		if name, err := wordDecoder.DecodeHeader(leaf.filename); err == nil {
			leaf.filename = name
		}
	}
	p.parts = append(p.parts, leaf)
	return nil
}

func decodeTransfer(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, newlineStripper{r})
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	}
	return r
}

// newlineStripper drops line breaks so base64 bodies wrapped at 76 columns decode
type newlineStripper struct{ r io.Reader }

func (n newlineStripper) Read(p []byte) (int, error) {
	for {
		c, err := n.r.Read(p)
		j := 0
		for _, b := range p[:c] {
			if b != '\r' && b != '\n' {
				p[j] = b
				j++
			}
		}
		if j > 0 || err != nil {
			return j, err
		}
	}
}

// body returns the first text/plain part, then the first text/html part
func (p *parsed) body() (part, bool) {
	for _, want := range []string{"text/plain", "text/html"} {
		for _, pt := range p.parts {
			if !pt.attachment && mediaType(pt.contentType) == want {
				return pt, true
			}
		}
	}
	return part{}, false
}

func (p *parsed) firstAttachment() (part, bool) {
	for _, pt := range p.parts {
		if pt.attachment {
			return pt, true
		}
	}
	return part{}, false
}

func (p *parsed) attachments() int {
	n := 0
	for _, pt := range p.parts {
		if pt.attachment {
			n++
		}
	}
	return n
}

func (p *parsed) decoded(key string) string {
	v := p.header.Get(key)
	if out, err := wordDecoder.DecodeHeader(v); err == nil {
		return out
	}
	return v
}

func mediaType(ct string) string {
	media, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(ct)
	}
	return media
}

// envelope is an outgoing message before it is rendered
type envelope struct {
	from, subject string
	to, cc        []string
	headers       map[string]string
	now           time.Time

	contentType string
	body        []byte

	attachmentName string
	attachmentType string
	attachment     []byte
}

// render writes the message in RFC 5322 form. Bcc recipients are never
// rendered.
func (e *envelope) render() ([]byte, error) {
	var buf bytes.Buffer
	write := func(k, v string) { fmt.Fprintf(&buf, "%s: %s\r\n", k, v) }

	write("From", e.from)
	write("To", strings.Join(e.to, ", "))
	if len(e.cc) > 0 {
		write("Cc", strings.Join(e.cc, ", "))
	}
	write("Subject", mime.QEncoding.Encode("utf-8", oneLine(e.subject)))
	write("Date", e.now.Format(time.RFC1123Z))
	write("Message-ID", "<"+uuid.NewString()+"@flowbridge>")
	write("MIME-Version", "1.0")

	keys := make([]string, 0, len(e.headers))
	for k := range e.headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.ContainsAny(k, ":\r\n ") {
			return nil, fmt.Errorf("%w: header name %q", errors.ErrInvalidConfig, k)
		}
		write(textproto.CanonicalMIMEHeaderKey(k), oneLine(e.headers[k]))
	}

	if e.attachmentName == "" {
		write("Content-Type", e.contentType)
		write("Content-Transfer-Encoding", "quoted-printable")
		buf.WriteString("\r\n")
		if err := writeQP(&buf, e.body); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	mw := multipart.NewWriter(&buf)
	write("Content-Type", mime.FormatMediaType("multipart/mixed", map[string]string{"boundary": mw.Boundary()}))
	buf.WriteString("\r\n")

	text, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {e.contentType},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return nil, err
	}
	if err := writeQP(text, e.body); err != nil {
		return nil, err
	}

	attType := e.attachmentType
	if attType == "" {
		attType = "application/octet-stream"
	}
	att, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {attType},
		"Content-Transfer-Encoding": {"base64"},
		"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": e.attachmentName})},
	})
	if err != nil {
		return nil, err
	}
	if err := writeBase64(att, e.attachment); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeQP(w io.Writer, data []byte) error {
	qp := quotedprintable.NewWriter(w)
	if _, err := qp.Write(data); err != nil {
		return err
	}
	return qp.Close()
}

func writeBase64(w io.Writer, data []byte) error {
	enc := base64.StdEncoding.EncodeToString(data)
	for len(enc) > 76 {
		if _, err := io.WriteString(w, enc[:76]+"\r\n"); err != nil {
			return err
		}
		enc = enc[76:]
	}
	_, err := io.WriteString(w, enc+"\r\n")
	return err
}

func oneLine(s string) string {
	return strings.NewReplacer("\r", "", "\n", " ").Replace(s)
}
