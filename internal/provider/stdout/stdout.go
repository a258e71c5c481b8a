// Package stdout implements a Provider that prints emails to standard output.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shineum/mail-track-lite/internal/email"
)

// Provider prints email messages to stdout in a human-readable format. It
// reports no provider message id, standing in for a transport that never
// confirms one.
type Provider struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Send prints the envelope to stdout in a readable format.
// It always returns an empty message id and no error.
func (p *Provider) Send(_ context.Context, env *email.Envelope) (string, error) {
	var b strings.Builder

	b.WriteString("========================================\n")
	b.WriteString(fmt.Sprintf("From: %s\n", env.From))
	b.WriteString(fmt.Sprintf("To: %s\n", strings.Join(env.To, ", ")))

	if len(env.Cc) > 0 {
		b.WriteString(fmt.Sprintf("Cc: %s\n", strings.Join(env.Cc, ", ")))
	}

	b.WriteString(fmt.Sprintf("Subject: %s\n", env.Subject))
	b.WriteString("Body:\n")
	writeNode(&b, env.Body, 0)
	b.WriteString("========================================\n")

	_, err := fmt.Fprint(p.writer, b.String())
	if err != nil {
		// Log the write error but still return success since the provider
		// contract says stdout always succeeds conceptually
		return "", nil
	}

	return "", nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

// writeNode prints a body tree outline: text leaves verbatim, binary leaves
// and attachments as a one-line summary.
func writeNode(b *strings.Builder, n email.Node, depth int) {
	indent := strings.Repeat("  ", depth)

	switch node := n.(type) {
	case nil:
		b.WriteString(indent + "(empty)\n")
	case *email.Leaf:
		if node.Type == "text" && node.Disposition != "attachment" {
			b.WriteString(indent + string(node.Body) + "\n")
			return
		}
		name := node.Filename
		if name == "" {
			name = node.MediaType()
		}
		b.WriteString(fmt.Sprintf("%s[%s, %s]\n", indent, name, formatSize(len(node.Body))))
	case *email.Composite:
		b.WriteString(fmt.Sprintf("%smultipart/%s:\n", indent, node.Kind))
		for _, child := range node.Children {
			writeNode(b, child, depth+1)
		}
	}
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
