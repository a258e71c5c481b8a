package tracking

import (
	"github.com/shineum/mail-track-lite/internal/email"
)

// Rewriter walks a message body tree and injects tracking into every HTML
// leaf. The input tree is never mutated; rewritten paths are rebuilt and
// untouched subtrees are shared with the original.
type Rewriter struct {
	injector *Injector
}

// NewRewriter creates a Rewriter delegating HTML mutation to the injector.
func NewRewriter(injector *Injector) *Rewriter {
	return &Rewriter{injector: injector}
}

// Rewrite returns the rewritten tree plus the pre-injection text of the
// last HTML leaf in depth-first order. Every HTML leaf is independently
// rewritten; when a tree holds more than one, only the last one's original
// text is returned, matching the historical contract relied on by stored
// body snapshots. A tree without HTML comes back unchanged with an empty
// extracted string.
func (r *Rewriter) Rewrite(root email.Node, token string) (email.Node, string) {
	if root == nil {
		return nil, ""
	}
	node, html, _ := r.rewriteNode(root, token)
	return node, html
}

// rewriteNode rewrites one subtree. The boolean reports whether the subtree
// contained an HTML leaf; when it did not, the original node is returned
// as-is so siblings stay byte-identical without a rebuild.
func (r *Rewriter) rewriteNode(n email.Node, token string) (email.Node, string, bool) {
	switch node := n.(type) {
	case *email.Leaf:
		if !node.IsHTML() {
			return node, "", false
		}
		original := string(node.Body)
		clone := *node
		if node.Params != nil {
			clone.Params = make(map[string]string, len(node.Params))
			for k, v := range node.Params {
				clone.Params[k] = v
			}
		}
		clone.Body = []byte(r.injector.Inject(original, token))
		return &clone, original, true

	case *email.Composite:
		children := make([]email.Node, len(node.Children))
		var extracted string
		found := false
		for i, child := range node.Children {
			rewritten, html, ok := r.rewriteNode(child, token)
			children[i] = rewritten
			if ok {
				// last HTML leaf in traversal order wins
				extracted = html
				found = true
			}
		}
		if !found {
			return node, "", false
		}
		return &email.Composite{Kind: node.Kind, Children: children}, extracted, true

	default:
		return n, "", false
	}
}
