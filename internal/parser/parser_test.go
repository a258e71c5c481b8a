package parser

import (
	"bytes"
	"strings"
	"testing"

	"github.com/shineum/mail-track-lite/internal/email"
)

func TestParsePlainTextEmail(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Test Subject",
		"Message-Id: <test123@example.com>",
		"Content-Type: text/plain",
		"",
		"Hello, this is a plain text email.",
	}, "\r\n"))

	env, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if env.From != "sender@example.com" {
		t.Errorf("From: got %q, want %q", env.From, "sender@example.com")
	}
	if len(env.To) != 1 || env.To[0] != "recipient@example.com" {
		t.Errorf("To: got %v, want [recipient@example.com]", env.To)
	}
	if env.Subject != "Test Subject" {
		t.Errorf("Subject: got %q, want %q", env.Subject, "Test Subject")
	}
	if env.MessageID != "<test123@example.com>" {
		t.Errorf("MessageID: got %q, want %q", env.MessageID, "<test123@example.com>")
	}

	leaf, ok := env.Body.(*email.Leaf)
	if !ok {
		t.Fatalf("body: got %T, want *email.Leaf", env.Body)
	}
	if leaf.Type != "text" || leaf.Subtype != "plain" {
		t.Errorf("leaf media type: got %s/%s, want text/plain", leaf.Type, leaf.Subtype)
	}
	if string(leaf.Body) != "Hello, this is a plain text email." {
		t.Errorf("leaf body: got %q", leaf.Body)
	}
}

func TestParseMissingContentTypeDefaultsToPlain(t *testing.T) {
	t.Parallel()

	raw := []byte("From: sender@example.com\r\nSubject: No CT\r\n\r\nbody text")

	env, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	leaf, ok := env.Body.(*email.Leaf)
	if !ok || leaf.Type != "text" || leaf.Subtype != "plain" {
		t.Fatalf("body: got %#v, want text/plain leaf", env.Body)
	}
}

func TestParseQuotedPrintableBody(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"Subject: QP",
		"Content-Type: text/html; charset=utf-8",
		"Content-Transfer-Encoding: quoted-printable",
		"",
		"<p class=3D\"x\">long line that the sender soft-wra=",
		"pped here</p>",
	}, "\r\n"))

	env, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	leaf, ok := env.Body.(*email.Leaf)
	if !ok || !leaf.IsHTML() {
		t.Fatalf("body: got %#v, want HTML leaf", env.Body)
	}
	want := `<p class="x">long line that the sender soft-wrapped here</p>`
	if strings.TrimRight(string(leaf.Body), "\r\n") != want {
		t.Errorf("quoted-printable body not decoded:\ngot  %q\nwant %q", leaf.Body, want)
	}
}

func TestParseMultipartAlternative(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: alice@example.com, bob@example.com",
		"Cc: carol@example.com",
		"Subject: Multipart Test",
		"Content-Type: multipart/alternative; boundary=boundary123",
		"",
		"--boundary123",
		"Content-Type: text/plain",
		"",
		"Plain text body",
		"--boundary123",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<html><body><p>HTML body</p></body></html>",
		"--boundary123--",
	}, "\r\n"))

	env, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(env.To) != 2 {
		t.Fatalf("To: got %d recipients, want 2", len(env.To))
	}
	if len(env.Cc) != 1 || env.Cc[0] != "carol@example.com" {
		t.Errorf("Cc: got %v", env.Cc)
	}

	comp, ok := env.Body.(*email.Composite)
	if !ok {
		t.Fatalf("body: got %T, want *email.Composite", env.Body)
	}
	if comp.Kind != email.Alternative {
		t.Errorf("kind: got %q, want alternative", comp.Kind)
	}
	if len(comp.Children) != 2 {
		t.Fatalf("children: got %d, want 2", len(comp.Children))
	}

	plain := comp.Children[0].(*email.Leaf)
	if plain.Subtype != "plain" || strings.TrimSpace(string(plain.Body)) != "Plain text body" {
		t.Errorf("first child: got %s/%s %q", plain.Type, plain.Subtype, plain.Body)
	}

	html := comp.Children[1].(*email.Leaf)
	if !html.IsHTML() {
		t.Errorf("second child should be HTML, got %s/%s", html.Type, html.Subtype)
	}
	if html.Params["charset"] != "utf-8" {
		t.Errorf("charset param: got %#v", html.Params)
	}
	if !strings.Contains(string(html.Body), "<p>HTML body</p>") {
		t.Errorf("HTML body: got %q", html.Body)
	}
}

func TestParseAttachment(t *testing.T) {
	t.Parallel()

	// "attachment content" base64 encoded
	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: With Attachment",
		"Content-Type: multipart/mixed; boundary=mixbound",
		"",
		"--mixbound",
		"Content-Type: text/plain",
		"",
		"See attached.",
		"--mixbound",
		"Content-Type: application/pdf; name=doc.pdf",
		"Content-Transfer-Encoding: base64",
		"Content-Disposition: attachment; filename=doc.pdf",
		"",
		"YXR0YWNobWVudCBjb250ZW50",
		"--mixbound--",
	}, "\r\n"))

	env, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	comp := env.Body.(*email.Composite)
	if comp.Kind != email.Mixed {
		t.Errorf("kind: got %q, want mixed", comp.Kind)
	}
	if len(comp.Children) != 2 {
		t.Fatalf("children: got %d, want 2", len(comp.Children))
	}

	att := comp.Children[1].(*email.Leaf)
	if att.Type != "application" || att.Subtype != "pdf" {
		t.Errorf("attachment media type: got %s/%s", att.Type, att.Subtype)
	}
	if att.Disposition != "attachment" {
		t.Errorf("disposition: got %q, want attachment", att.Disposition)
	}
	if att.Filename != "doc.pdf" {
		t.Errorf("filename: got %q, want doc.pdf", att.Filename)
	}
	if string(att.Body) != "attachment content" {
		t.Errorf("decoded attachment: got %q", att.Body)
	}
}

func TestParseNestedMultipart(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"Subject: Nested",
		"Content-Type: multipart/mixed; boundary=outer",
		"",
		"--outer",
		"Content-Type: multipart/alternative; boundary=inner",
		"",
		"--inner",
		"Content-Type: text/plain",
		"",
		"plain",
		"--inner",
		"Content-Type: text/html",
		"",
		"<p>html</p>",
		"--inner--",
		"--outer",
		"Content-Type: application/octet-stream",
		"Content-Transfer-Encoding: base64",
		"Content-Disposition: attachment; filename=data.bin",
		"",
		"AQIDBA==",
		"--outer--",
	}, "\r\n"))

	env, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	outer := env.Body.(*email.Composite)
	if outer.Kind != email.Mixed || len(outer.Children) != 2 {
		t.Fatalf("outer: kind=%q children=%d", outer.Kind, len(outer.Children))
	}

	inner, ok := outer.Children[0].(*email.Composite)
	if !ok {
		t.Fatalf("first child: got %T, want nested *email.Composite", outer.Children[0])
	}
	if inner.Kind != email.Alternative || len(inner.Children) != 2 {
		t.Fatalf("inner: kind=%q children=%d", inner.Kind, len(inner.Children))
	}
	if !inner.Children[1].(*email.Leaf).IsHTML() {
		t.Error("inner second child should be HTML")
	}

	bin := outer.Children[1].(*email.Leaf)
	if !bytes.Equal(bin.Body, []byte{1, 2, 3, 4}) {
		t.Errorf("binary attachment: got %v", bin.Body)
	}
}

func TestParseUnknownMultipartSubtypeIsMixed(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"Subject: Signed",
		"Content-Type: multipart/signed; boundary=sig",
		"",
		"--sig",
		"Content-Type: text/plain",
		"",
		"payload",
		"--sig--",
	}, "\r\n"))

	env, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	comp := env.Body.(*email.Composite)
	if comp.Kind != email.Mixed {
		t.Errorf("unknown subtype should map to mixed, got %q", comp.Kind)
	}
}

func TestParseMultipartMissingBoundary(t *testing.T) {
	t.Parallel()

	raw := []byte("From: a@b.c\r\nContent-Type: multipart/mixed\r\n\r\nbody")

	if _, err := Parse(raw); err == nil {
		t.Error("expected error for multipart without boundary")
	}
}

func TestParseAddressListFallback(t *testing.T) {
	t.Parallel()

	// not RFC 5322 parseable, falls back to comma split
	got := parseAddressList("alice@example.com,, bob@@bad")
	if len(got) != 2 || got[0] != "alice@example.com" || got[1] != "bob@@bad" {
		t.Errorf("fallback split: got %v", got)
	}

	if parseAddressList("") != nil {
		t.Error("empty list should be nil")
	}
}

func TestRenderRoundTrip(t *testing.T) {
	t.Parallel()

	env := &email.Envelope{
		From:    "sender@example.com",
		To:      []string{"rcpt@example.com"},
		Subject: "Round Trip",
		Body: &email.Composite{
			Kind: email.Mixed,
			Children: []email.Node{
				&email.Composite{
					Kind: email.Alternative,
					Children: []email.Node{
						&email.Leaf{Type: "text", Subtype: "plain", Body: []byte("plain body")},
						&email.Leaf{Type: "text", Subtype: "html", Body: []byte("<p>html body</p>")},
					},
				},
				&email.Leaf{
					Type:        "application",
					Subtype:     "pdf",
					Disposition: "attachment",
					Filename:    "doc.pdf",
					Body:        []byte("attachment content"),
				},
			},
		},
	}

	raw, err := Render(env)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	back, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse(rendered): %v", err)
	}

	if back.From != env.From || back.Subject != env.Subject {
		t.Errorf("headers: got From=%q Subject=%q", back.From, back.Subject)
	}

	outer := back.Body.(*email.Composite)
	if outer.Kind != email.Mixed || len(outer.Children) != 2 {
		t.Fatalf("outer: kind=%q children=%d", outer.Kind, len(outer.Children))
	}

	inner := outer.Children[0].(*email.Composite)
	if inner.Kind != email.Alternative || len(inner.Children) != 2 {
		t.Fatalf("inner: kind=%q children=%d", inner.Kind, len(inner.Children))
	}
	if got := strings.TrimSpace(string(inner.Children[0].(*email.Leaf).Body)); got != "plain body" {
		t.Errorf("plain leaf: got %q", got)
	}
	if got := strings.TrimSpace(string(inner.Children[1].(*email.Leaf).Body)); got != "<p>html body</p>" {
		t.Errorf("html leaf: got %q", got)
	}

	att := outer.Children[1].(*email.Leaf)
	if att.Filename != "doc.pdf" || string(att.Body) != "attachment content" {
		t.Errorf("attachment: filename=%q body=%q", att.Filename, att.Body)
	}
}

func TestRenderKeepsClientHeaders(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: rcpt@example.com",
		"Date: Tue, 25 Aug 2026 10:00:00 +0000",
		"Reply-To: replies@example.com",
		"List-Unsubscribe: <mailto:unsub@example.com>",
		"Subject: Relay",
		"Content-Type: text/plain",
		"",
		"body",
	}, "\r\n"))

	env, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out, err := Render(env)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	s := string(out)
	for _, header := range []string{
		"Date: Tue, 25 Aug 2026 10:00:00 +0000",
		"Reply-To: replies@example.com",
		"List-Unsubscribe: <mailto:unsub@example.com>",
	} {
		if !strings.Contains(s, header+"\r\n") {
			t.Errorf("client header dropped on render: %q\n%s", header, s)
		}
	}
	if strings.Count(s, "From: sender@example.com") != 1 {
		t.Errorf("From header duplicated:\n%s", s)
	}
	if strings.Count(s, "Content-Type:") != 1 {
		t.Errorf("Content-Type header duplicated:\n%s", s)
	}
}

func TestRenderSingleLeaf(t *testing.T) {
	t.Parallel()

	env := &email.Envelope{
		From:    "sender@example.com",
		To:      []string{"rcpt@example.com"},
		Subject: "Plain",
		Body:    &email.Leaf{Type: "text", Subtype: "html", Body: []byte("<p>hi</p>")},
	}

	raw, err := Render(env)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	s := string(raw)
	if !strings.Contains(s, "Content-Type: text/html") {
		t.Errorf("missing content type header:\n%s", s)
	}
	if !strings.Contains(s, "<p>hi</p>") {
		t.Errorf("missing body:\n%s", s)
	}
	if !strings.Contains(s, "MIME-Version: 1.0") {
		t.Errorf("missing MIME-Version header:\n%s", s)
	}
}
