// Package parser provides RFC 5322 email message parsing with MIME multipart
// support, producing a structured body tree, and the inverse rendering back
// to raw message bytes.
package parser

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"github.com/shineum/mail-track-lite/internal/email"
)

// Parse parses a raw RFC 5322 email message into an Envelope with a body
// tree. Multipart messages become Composite nodes whose children keep their
// original order; everything else becomes a single Leaf. Unrecognized MIME
// parts are logged as warnings and skipped.
func Parse(raw []byte) (*email.Envelope, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	result := &email.Envelope{
		RawHeaders: make(map[string][]string),
	}

	// Copy all headers
	for key, values := range msg.Header {
		result.RawHeaders[key] = values
	}

	// Extract standard header fields
	result.From = msg.Header.Get("From")
	result.Subject = msg.Header.Get("Subject")
	result.MessageID = msg.Header.Get("Message-Id")
	result.To = parseAddressList(msg.Header.Get("To"))
	result.Cc = parseAddressList(msg.Header.Get("Cc"))
	result.Bcc = parseAddressList(msg.Header.Get("Bcc"))

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// If content type is unparseable, treat as plain text
		slog.Warn("failed to parse content type, treating as plain text",
			"content_type", contentType,
			"error", err,
		)
		body, readErr := io.ReadAll(msg.Body)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read message body: %w", readErr)
		}
		result.Body = &email.Leaf{Type: "text", Subtype: "plain", Body: body}
		return result, nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart message missing boundary")
		}
		subtype := strings.TrimPrefix(mediaType, "multipart/")
		node, err := parseMultipart(msg.Body, subtype, boundary)
		if err != nil {
			return nil, fmt.Errorf("failed to parse multipart message: %w", err)
		}
		result.Body = node
	} else {
		body, err := readEncodedBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			return nil, fmt.Errorf("failed to read message body: %w", err)
		}
		result.Body = leafFromMediaType(mediaType, params, "", body)
	}

	return result, nil
}

// parseMultipart processes one multipart body into a Composite node,
// recursing into nested multiparts and preserving child order.
func parseMultipart(body io.Reader, subtype, boundary string) (*email.Composite, error) {
	node := &email.Composite{Kind: compositeKind(subtype)}
	reader := multipart.NewReader(body, boundary)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read next part: %w", err)
		}

		partContentType := part.Header.Get("Content-Type")
		if partContentType == "" {
			partContentType = "text/plain"
		}

		mediaType, params, err := mime.ParseMediaType(partContentType)
		if err != nil {
			slog.Warn("failed to parse part content type, skipping",
				"content_type", partContentType,
				"error", err,
			)
			continue
		}

		// Nested multipart becomes a child Composite
		if strings.HasPrefix(mediaType, "multipart/") {
			nestedBoundary := params["boundary"]
			if nestedBoundary == "" {
				slog.Warn("nested multipart missing boundary, skipping")
				continue
			}
			nestedSubtype := strings.TrimPrefix(mediaType, "multipart/")
			nested, err := parseMultipart(part, nestedSubtype, nestedBoundary)
			if err != nil {
				slog.Warn("failed to parse nested multipart",
					"error", err,
				)
				continue
			}
			node.Children = append(node.Children, nested)
			continue
		}

		content, err := readPartContent(part)
		if err != nil {
			slog.Warn("failed to read part content",
				"content_type", mediaType,
				"error", err,
			)
			continue
		}

		leaf := leafFromMediaType(mediaType, params, part.Header.Get("Content-Disposition"), content)
		leaf.Filename = extractFilename(part, params)
		node.Children = append(node.Children, leaf)
	}

	return node, nil
}

// compositeKind maps a multipart subtype onto the closed CompositeKind set.
// Unknown subtypes (e.g. multipart/signed) are treated as mixed.
func compositeKind(subtype string) email.CompositeKind {
	switch strings.ToLower(subtype) {
	case "mixed":
		return email.Mixed
	case "alternative":
		return email.Alternative
	case "related":
		return email.Related
	default:
		slog.Debug("unknown multipart subtype, treating as mixed",
			"subtype", subtype,
		)
		return email.Mixed
	}
}

// leafFromMediaType builds a Leaf from a parsed media type and its parameters.
func leafFromMediaType(mediaType string, params map[string]string, disposition string, body []byte) *email.Leaf {
	typ, subtype := "text", "plain"
	if i := strings.Index(mediaType, "/"); i > 0 {
		typ = mediaType[:i]
		subtype = mediaType[i+1:]
	}

	leafParams := make(map[string]string, len(params))
	for k, v := range params {
		if k == "boundary" {
			continue
		}
		leafParams[k] = v
	}

	disp := disposition
	if i := strings.Index(disp, ";"); i >= 0 {
		disp = disp[:i]
	}
	disp = strings.ToLower(strings.TrimSpace(disp))

	return &email.Leaf{
		Type:        typ,
		Subtype:     subtype,
		Params:      leafParams,
		Disposition: disp,
		Body:        body,
	}
}

// readPartContent reads the full content of a MIME part, handling
// Content-Transfer-Encoding (base64, quoted-printable).
func readPartContent(part *multipart.Part) ([]byte, error) {
	return readEncodedBody(part, part.Header.Get("Content-Transfer-Encoding"))
}

// readEncodedBody reads a body applying the given transfer encoding.
func readEncodedBody(r io.Reader, encoding string) ([]byte, error) {
	encoding = strings.ToLower(strings.TrimSpace(encoding))

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	switch encoding {
	case "base64":
		cleaned := strings.NewReplacer("\r", "", "\n", "").Replace(string(raw))
		decoded, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			// Try with RawStdEncoding for unpadded base64
			decoded, err = base64.RawStdEncoding.DecodeString(cleaned)
			if err != nil {
				return nil, fmt.Errorf("failed to decode base64 content: %w", err)
			}
		}
		return decoded, nil
	case "quoted-printable":
		// Only reached for top-level bodies: the multipart reader decodes
		// QP parts itself and hides the header.
		decoded, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(raw)))
		if err != nil {
			return nil, fmt.Errorf("failed to decode quoted-printable content: %w", err)
		}
		return decoded, nil
	default:
		// "7bit", "8bit", "binary", or empty: raw content.
		return raw, nil
	}
}

// extractFilename extracts the filename from a MIME part, checking both
// Content-Disposition and Content-Type parameters.
func extractFilename(part *multipart.Part, params map[string]string) string {
	// Try Content-Disposition filename first (via multipart.Part)
	if fn := part.FileName(); fn != "" {
		return fn
	}
	// Fall back to Content-Type "name" parameter
	if name, ok := params["name"]; ok && name != "" {
		return name
	}
	return ""
}

// parseAddressList splits a comma-separated address list into individual addresses.
func parseAddressList(raw string) []string {
	if raw == "" {
		return nil
	}

	addresses, err := mail.ParseAddressList(raw)
	if err != nil {
		// Fall back to simple comma split if RFC 5322 parsing fails
		parts := strings.Split(raw, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}

	result := make([]string, 0, len(addresses))
	for _, addr := range addresses {
		result = append(result, addr.Address)
	}
	return result
}
