package gmail

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime/quotedprintable"
	"strings"
	"time"
)

// defaultTextFallback is the plain-text part emitted when the caller has
// no text rendering of the message.
const defaultTextFallback = "This email requires HTML support. Please view in an HTML-capable email client."

// Composer builds transport-correct RFC 2822 messages and encodes them
// into the Gmail API's raw-message form.
type Composer struct {
	now func() time.Time
}

// NewComposer creates a Composer using the wall clock for boundary
// derivation.
func NewComposer() *Composer {
	return &Composer{now: time.Now}
}

// Compose builds a multipart/alternative message addressed to every
// recipient in order and returns it base64url-encoded (no padding) for
// the messages.send call.
//
// All recipients share a single To header, so each sees the full list;
// callers wanting them hidden from one another must compose one message
// per recipient. textBody may be empty, in which case a fixed fallback
// line is used.
func (c *Composer) Compose(fromName, fromAddr string, recipients []string, subject, htmlBody, textBody string) (string, error) {
	raw, err := c.BuildMIME(fromName, fromAddr, recipients, subject, htmlBody, textBody)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// BuildMIME assembles the RFC 2822 message bytes before transport
// encoding.
func (c *Composer) BuildMIME(fromName, fromAddr string, recipients []string, subject, htmlBody, textBody string) ([]byte, error) {
	if textBody == "" {
		textBody = defaultTextFallback
	}

	// The boundary is derived from a high-resolution timestamp; a
	// collision with body content is possible but vanishingly unlikely.
	boundary := fmt.Sprintf("boundary_%d", c.now().UnixNano())

	encodedHTML, err := encodeQuotedPrintable(htmlBody)
	if err != nil {
		return nil, fmt.Errorf("encode html part: %w", err)
	}

	lines := []string{
		fmt.Sprintf("From: %s <%s>", fromName, fromAddr),
		"To: " + strings.Join(recipients, ", "),
		"Subject: " + EncodeSubject(subject),
		"MIME-Version: 1.0",
		fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q", boundary),
		"",
		"--" + boundary,
		`Content-Type: text/plain; charset="UTF-8"`,
		"",
		textBody,
		"",
		"--" + boundary,
		`Content-Type: text/html; charset="UTF-8"`,
		"Content-Transfer-Encoding: quoted-printable",
		"",
		encodedHTML,
		"",
		"--" + boundary + "--",
	}

	return []byte(strings.Join(lines, "\r\n")), nil
}

// EncodeSubject returns the subject ready for the Subject header: ASCII
// subjects pass through unchanged, anything else is wrapped as an RFC 2047
// UTF-8 B-encoded word, since raw non-ASCII header bytes are not
// transport-safe.
func EncodeSubject(subject string) string {
	if isASCII(subject) {
		return subject
	}
	return "=?UTF-8?B?" + base64.StdEncoding.EncodeToString([]byte(subject)) + "?="
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7F {
			return false
		}
	}
	return true
}

func encodeQuotedPrintable(s string) (string, error) {
	var buf bytes.Buffer
	w := quotedprintable.NewWriter(&buf)
	if _, err := w.Write([]byte(s)); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
