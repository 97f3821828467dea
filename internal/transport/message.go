package transport

import (
	"bytes"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"
	"time"
)

// buildMessage renders msg as an RFC 5322 message with a
// multipart/alternative body.
func buildMessage(msg *Message, now time.Time) ([]byte, error) {
	for _, v := range []string{msg.To, msg.FromEmail, msg.FromName, msg.ReplyTo, msg.Subject, msg.UnsubscribeURL} {
		if strings.ContainsAny(v, "\r\n") {
			return nil, fmt.Errorf("header value contains line break")
		}
	}

	from := mail.Address{Name: msg.FromName, Address: msg.FromEmail}
	to := mail.Address{Address: msg.To}

	var buf bytes.Buffer
	body := multipart.NewWriter(&buf)

	header := func(k, v string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}
	header("From", from.String())
	header("To", to.String())
	if msg.ReplyTo != "" {
		header("Reply-To", (&mail.Address{Address: msg.ReplyTo}).String())
	}
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", now.Format(time.RFC1123Z))
	if msg.JobID != "" {
		header("Message-ID", fmt.Sprintf("<%s@%s>", msg.JobID, domainOf(msg.FromEmail)))
	}
	if msg.UnsubscribeURL != "" {
		header("List-Unsubscribe", "<"+msg.UnsubscribeURL+">")
		header("List-Unsubscribe-Post", "List-Unsubscribe=One-Click")
	}
	header("MIME-Version", "1.0")
	header("Content-Type", "multipart/alternative; boundary="+body.Boundary())
	buf.WriteString("\r\n")

	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=utf-8", msg.Text},
		{"text/html; charset=utf-8", msg.HTML},
	}
	for _, p := range parts {
		if p.content == "" {
			continue
		}
		w, err := body.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create message part: %w", err)
		}
		qp := quotedprintable.NewWriter(w)
		if _, err := qp.Write([]byte(p.content)); err != nil {
			return nil, fmt.Errorf("failed to encode message part: %w", err)
		}
		if err := qp.Close(); err != nil {
			return nil, fmt.Errorf("failed to encode message part: %w", err)
		}
	}

	if err := body.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish message: %w", err)
	}

	return buf.Bytes(), nil
}

func domainOf(email string) string {
	if at := strings.LastIndex(email, "@"); at >= 0 {
		return email[at+1:]
	}
	return "localhost"
}
