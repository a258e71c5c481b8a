// Package email defines the core message data model used throughout the proxy.
package email

// CompositeKind identifies the multipart flavor of a composite body node.
// The set is closed: every composite a parsed message can contain is one of
// these three, so code walking a tree can handle them exhaustively.
type CompositeKind string

const (
	Mixed       CompositeKind = "mixed"
	Alternative CompositeKind = "alternative"
	Related     CompositeKind = "related"
)

// Node is a node in a message body tree: either a *Leaf or a *Composite.
type Node interface {
	node()
}

// Leaf is a terminal body part: decoded content with a media type.
type Leaf struct {
	Type        string            // media type, e.g. "text"
	Subtype     string            // media subtype, e.g. "html"
	Params      map[string]string // Content-Type parameters (charset, name, ...)
	Disposition string            // Content-Disposition value, empty if none
	Filename    string            // attachment filename, empty if none
	Body        []byte            // decoded content
}

// Composite groups ordered child nodes under one multipart flavor.
type Composite struct {
	Kind     CompositeKind
	Children []Node
}

func (*Leaf) node()      {}
func (*Composite) node() {}

// IsHTML reports whether the leaf is a text/html body part.
func (l *Leaf) IsHTML() bool {
	return l.Type == "text" && l.Subtype == "html"
}

// MediaType returns the full media type, e.g. "text/html".
func (l *Leaf) MediaType() string {
	return l.Type + "/" + l.Subtype
}

// Envelope represents a parsed email message with its body tree.
type Envelope struct {
	From       string
	To         []string
	Cc         []string
	Bcc        []string
	Subject    string
	MessageID  string
	RawHeaders map[string][]string
	Body       Node // nil when the message has no body at all
}
