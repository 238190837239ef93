package host

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// snapshotPolicy keeps the markup visualizations produce (HTML layout plus
// SVG shapes and text) and drops scripts and event handlers.
var snapshotPolicy = func() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("div", "span", "canvas", "svg", "g", "path", "circle", "ellipse",
		"rect", "line", "polyline", "polygon", "text", "tspan", "defs", "clippath",
		"lineargradient", "radialgradient", "stop", "marker", "title")
	p.AllowAttrs("id", "class", "style", "width", "height", "viewBox", "xmlns",
		"transform", "d", "fill", "fill-opacity", "stroke", "stroke-width",
		"stroke-opacity", "stroke-dasharray", "opacity", "x", "y", "x1", "x2",
		"y1", "y2", "cx", "cy", "r", "rx", "ry", "dx", "dy", "points",
		"text-anchor", "dominant-baseline", "font-size", "font-family",
		"font-weight", "clip-path", "offset", "stop-color", "marker-end",
		SkeletonAttr).Globally()
	return p
}()

// HTML renders the committed container, including the container element
func (h *Host) HTML() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return render(h.view())
}

// InnerHTML renders the committed container's children
func (h *Host) InnerHTML() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return renderChildren(h.view())
}

// Snapshot returns the committed container's children sanitized for display
func (h *Host) Snapshot() string {
	return snapshotPolicy.Sanitize(h.InnerHTML())
}

// Query returns the outer HTML of committed nodes matching a CSS selector
func (h *Host) Query(selector string) ([]string, error) {
	sel, err := cascadia.ParseGroup(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	root := h.view()
	var out []string
	goquery.NewDocumentFromNode(root).FindNodes(cascadia.QueryAll(root, sel)...).Each(func(_ int, s *goquery.Selection) {
		if markup, err := goquery.OuterHtml(s); err == nil {
			out = append(out, markup)
		}
	})
	return out, nil
}

// QueryXPath returns the outer HTML of committed nodes matching an XPath expression
func (h *Host) QueryXPath(expr string) ([]string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	nodes, err := htmlquery.QueryAll(h.view(), expr)
	if err != nil {
		return nil, fmt.Errorf("invalid xpath %q: %w", expr, err)
	}
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, htmlquery.OutputHTML(n, true))
	}
	return out, nil
}

// view is the container readers see. A shared-plane execution mutates the
// committed container in place, so its frozen copy stands in until the draft
// settles.
func (h *Host) view() *html.Node {
	if d := h.active; d != nil && d.frozen != nil {
		return d.frozen
	}
	return h.committed
}

func render(n *html.Node) string {
	var b strings.Builder
	if err := html.Render(&b, n); err != nil {
		return ""
	}
	return b.String()
}

func renderChildren(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&b, c); err != nil {
			return ""
		}
	}
	return b.String()
}
