// Package tracking implements the send-path instrumentation core: token
// allocation, HTML content injection, and body-tree rewriting.
package tracking

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Endpoints holds the tracking URLs injected content points at.
type Endpoints struct {
	// OpenURL is the open-pixel endpoint; the token is carried as "t".
	OpenURL string

	// ClickURL is the click-redirect endpoint; the destination and token
	// are carried as "url" and "t".
	ClickURL string

	// SiteRoot substitutes for empty anchor hrefs before wrapping.
	SiteRoot string
}

// Options toggles the two injections independently. With both disabled,
// Inject is the identity function.
type Options struct {
	InjectPixel bool
	InjectLinks bool
}

// bodyTagRe matches an opening <body> tag with optional attributes. The
// document is searched as a single unit; the attribute class crosses
// newlines, so a tag split over lines still matches and unrelated lines
// are never touched.
var bodyTagRe = regexp.MustCompile(`(?i)<body(?:\s[^>]*)?>`)

// anchorRe matches a whole opening anchor tag; href rewriting happens only
// inside a match, so hrefs elsewhere in the document are never rewritten.
// The href patterns require the attribute name to stand alone so that
// attributes merely ending in "href" (data-href and the like) never match.
var (
	anchorRe     = regexp.MustCompile(`(?i)<a(\s[^>]*)?>`)
	hrefDoubleRe = regexp.MustCompile(`(?i)(?:^|[\s"'])href\s*=\s*"([^"]*)"`)
	hrefSingleRe = regexp.MustCompile(`(?i)(?:^|[\s"'])href\s*=\s*'([^']*)'`)
)

// Injector rewrites a single HTML fragment, inserting an invisible open
// pixel and wrapping anchor hyperlinks through the click endpoint. The
// token is always passed explicitly so one Injector is safe to share
// across concurrent sends.
type Injector struct {
	endpoints Endpoints
	options   Options
}

// NewInjector creates an Injector for the given endpoints and toggles.
func NewInjector(endpoints Endpoints, options Options) *Injector {
	return &Injector{endpoints: endpoints, options: options}
}

// Inject returns the fragment with the enabled injections applied.
func (in *Injector) Inject(html, token string) string {
	out := html
	if in.options.InjectLinks {
		out = in.injectLinks(out, token)
	}
	if in.options.InjectPixel {
		out = in.injectPixel(out, token)
	}
	return out
}

// injectPixel inserts the open pixel immediately after the opening body tag,
// or appends it at the document end when no body tag can be located.
func (in *Injector) injectPixel(html, token string) string {
	pixel := in.pixelTag(token)
	loc := bodyTagRe.FindStringIndex(html)
	if loc == nil {
		return html + pixel
	}
	return html[:loc[1]] + pixel + html[loc[1]:]
}

// pixelTag builds the invisible 1x1 image tag for the open endpoint.
func (in *Injector) pixelTag(token string) string {
	return fmt.Sprintf(`<img src="%s?t=%s" width="1" height="1" alt="" style="display:none"/>`,
		in.endpoints.OpenURL, url.QueryEscape(token))
}

// injectLinks wraps every anchor href through the click endpoint. Anchors
// without an href attribute are left untouched; other attributes and the
// anchor's inner content are never altered.
func (in *Injector) injectLinks(html, token string) string {
	return anchorRe.ReplaceAllStringFunc(html, func(tag string) string {
		return in.rewriteAnchor(tag, token)
	})
}

// rewriteAnchor rewrites the href value inside one opening anchor tag.
func (in *Injector) rewriteAnchor(tag, token string) string {
	if loc := hrefDoubleRe.FindStringSubmatchIndex(tag); loc != nil {
		return tag[:loc[2]] + in.wrapDestination(tag[loc[2]:loc[3]], token) + tag[loc[3]:]
	}
	if loc := hrefSingleRe.FindStringSubmatchIndex(tag); loc != nil {
		return tag[:loc[2]] + in.wrapDestination(tag[loc[2]:loc[3]], token) + tag[loc[3]:]
	}
	return tag
}

// wrapDestination builds the click-endpoint URL for one original href value.
// An empty href resolves to the site root; &amp;-escaped ampersands in the
// original URL are unescaped before wrapping.
func (in *Injector) wrapDestination(href, token string) string {
	if href == "" {
		href = in.endpoints.SiteRoot
	} else {
		href = strings.ReplaceAll(href, "&amp;", "&")
	}
	return fmt.Sprintf("%s?url=%s&t=%s",
		in.endpoints.ClickURL, url.QueryEscape(href), url.QueryEscape(token))
}
