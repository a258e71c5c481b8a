package parser

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"mime"
	"net/textproto"
	"sort"
	"strings"

	"github.com/shineum/mail-track-lite/internal/email"
)

// ownedHeaders are the headers Render writes from Envelope fields; any
// other raw header parsed off the incoming message passes through as-is
// (Date, Reply-To, List-Unsubscribe and the like). Bcc never renders.
var ownedHeaders = map[string]bool{
	"From":                      true,
	"To":                        true,
	"Cc":                        true,
	"Bcc":                       true,
	"Subject":                   true,
	"Message-Id":                true,
	"Mime-Version":              true,
	"Content-Type":              true,
	"Content-Transfer-Encoding": true,
	"Content-Disposition":       true,
}

// Render serializes an Envelope back into raw RFC 5322 message bytes,
// regenerating multipart boundaries. Text leaves are written verbatim;
// everything else is base64 encoded with RFC 2045 line breaks.
func Render(env *email.Envelope) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s\r\n", env.From)
	if len(env.To) > 0 {
		fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(env.To, ", "))
	}
	if len(env.Cc) > 0 {
		fmt.Fprintf(&buf, "Cc: %s\r\n", strings.Join(env.Cc, ", "))
	}
	fmt.Fprintf(&buf, "Subject: %s\r\n", env.Subject)
	if env.MessageID != "" {
		fmt.Fprintf(&buf, "Message-ID: %s\r\n", env.MessageID)
	}
	writePassthroughHeaders(&buf, env.RawHeaders)
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")

	switch node := env.Body.(type) {
	case nil:
		buf.WriteString("\r\n")
	case *email.Leaf:
		writeLeafHeaders(&buf, node)
		buf.WriteString("\r\n")
		writeLeafBody(&buf, node)
	case *email.Composite:
		boundary := randomBoundary()
		fmt.Fprintf(&buf, "Content-Type: multipart/%s; boundary=%q\r\n\r\n", node.Kind, boundary)
		if err := writeComposite(&buf, node, boundary); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown body node type %T", env.Body)
	}

	return buf.Bytes(), nil
}

// writePassthroughHeaders writes the raw headers Render does not own, in
// sorted order for stable output.
func writePassthroughHeaders(buf *bytes.Buffer, headers map[string][]string) {
	keys := make([]string, 0, len(headers))
	for key := range headers {
		if ownedHeaders[textproto.CanonicalMIMEHeaderKey(key)] {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		for _, value := range headers[key] {
			fmt.Fprintf(buf, "%s: %s\r\n", key, value)
		}
	}
}

// writeComposite writes the children of a composite node between boundary
// markers, recursing into nested composites with fresh boundaries.
func writeComposite(buf *bytes.Buffer, c *email.Composite, boundary string) error {
	for _, child := range c.Children {
		fmt.Fprintf(buf, "--%s\r\n", boundary)
		switch node := child.(type) {
		case *email.Leaf:
			writeLeafHeaders(buf, node)
			buf.WriteString("\r\n")
			writeLeafBody(buf, node)
		case *email.Composite:
			nested := randomBoundary()
			fmt.Fprintf(buf, "Content-Type: multipart/%s; boundary=%q\r\n\r\n", node.Kind, nested)
			if err := writeComposite(buf, node, nested); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown body node type %T", child)
		}
	}
	fmt.Fprintf(buf, "--%s--\r\n", boundary)
	return nil
}

// writeLeafHeaders writes the Content-Type, transfer encoding, and
// disposition headers for a leaf part.
func writeLeafHeaders(buf *bytes.Buffer, l *email.Leaf) {
	fmt.Fprintf(buf, "Content-Type: %s\r\n", mime.FormatMediaType(l.MediaType(), l.Params))

	if !isTextual(l) {
		fmt.Fprintf(buf, "Content-Transfer-Encoding: base64\r\n")
	}

	if l.Disposition != "" {
		if l.Filename != "" {
			fmt.Fprintf(buf, "Content-Disposition: %s; filename=%s\r\n",
				l.Disposition, mime.QEncoding.Encode("UTF-8", l.Filename))
		} else {
			fmt.Fprintf(buf, "Content-Disposition: %s\r\n", l.Disposition)
		}
	}
}

// writeLeafBody writes the leaf content, base64 encoded for non-text parts.
func writeLeafBody(buf *bytes.Buffer, l *email.Leaf) {
	if isTextual(l) {
		buf.Write(l.Body)
		buf.WriteString("\r\n")
		return
	}
	buf.WriteString(encodeBase64WithLineBreaks(l.Body))
	buf.WriteString("\r\n")
}

// isTextual reports whether a leaf's content can be written without
// transfer encoding.
func isTextual(l *email.Leaf) bool {
	return l.Type == "text" && l.Disposition != "attachment"
}

// encodeBase64WithLineBreaks encodes bytes to base64 with 76-character line
// breaks per RFC 2045.
func encodeBase64WithLineBreaks(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	var lines []string
	for i := 0; i < len(encoded); i += 76 {
		end := i + 76
		if end > len(encoded) {
			end = len(encoded)
		}
		lines = append(lines, encoded[i:end])
	}
	return strings.Join(lines, "\r\n")
}

// randomBoundary generates a fresh multipart boundary marker.
func randomBoundary() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return fmt.Sprintf("part-%x", b[:])
}
