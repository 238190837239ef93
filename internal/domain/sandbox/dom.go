package sandbox

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/dop251/goja"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/GriffinCanCode/Stochify/vizhost/internal/domain/host"
)

const (
	nsHTML = "http://www.w3.org/1999/xhtml"
	nsSVG  = "http://www.w3.org/2000/svg"
	nsMath = "http://www.w3.org/1998/Math/MathML"
)

// DOM exposes the host document to scripts. Every html.Node is represented
// by exactly one JS object for the length of an execution, so expando
// properties such as d3's __data__ stick to the node.
type DOM struct {
	rt        *Runtime
	doc       *html.Node
	nodes     map[*html.Node]*element
	objs      map[*goja.Object]*element
	fragments map[*html.Node]bool
	selectors map[string]cascadia.SelectorGroup
}

func newDOM(rt *Runtime, doc *html.Node) *DOM {
	d := &DOM{rt: rt, doc: doc, selectors: make(map[string]cascadia.SelectorGroup)}
	d.reset()
	return d
}

// reset forgets node wrappers from the previous execution; the document
// object itself stays the same.
func (d *DOM) reset() {
	var docEl *element
	if d.nodes != nil {
		docEl = d.nodes[d.doc]
	}
	d.nodes = make(map[*html.Node]*element)
	d.objs = make(map[*goja.Object]*element)
	d.fragments = make(map[*html.Node]bool)
	if docEl != nil {
		docEl.props = make(map[string]goja.Value)
		d.nodes[d.doc] = docEl
		d.objs[docEl.obj] = docEl
	}
}

// document returns the JS document object
func (d *DOM) document() goja.Value {
	return d.wrap(d.doc)
}

// wrap returns the JS object for n, creating it on first use
func (d *DOM) wrap(n *html.Node) goja.Value {
	if n == nil {
		return goja.Null()
	}
	if e, ok := d.nodes[n]; ok {
		return e.obj
	}
	e := &element{dom: d, node: n, props: make(map[string]goja.Value), fns: make(map[string]goja.Value)}
	e.obj = d.rt.vm.NewDynamicObject(e)
	d.nodes[n] = e
	d.objs[e.obj] = e
	return e.obj
}

// node unwraps a JS node argument, throwing a TypeError for anything else
func (d *DOM) node(v goja.Value, method string) *html.Node {
	if obj, ok := v.(*goja.Object); ok {
		if e, ok := d.objs[obj]; ok {
			return e.node
		}
	}
	panic(d.rt.newError("TypeError", fmt.Sprintf("Failed to execute '%s': parameter is not of type 'Node'", method)))
}

func (d *DOM) optionalNode(v goja.Value, method string) *html.Node {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return d.node(v, method)
}

func (d *DOM) list(nodes []*html.Node) goja.Value {
	items := make([]interface{}, len(nodes))
	for i, n := range nodes {
		items[i] = d.wrap(n)
	}
	return d.rt.vm.NewArray(items...)
}

func (d *DOM) selector(sel string) cascadia.SelectorGroup {
	if g, ok := d.selectors[sel]; ok {
		return g
	}
	g, err := cascadia.ParseGroup(sel)
	if err != nil {
		panic(d.rt.newError("SyntaxError", fmt.Sprintf("'%s' is not a valid selector", sel)))
	}
	d.selectors[sel] = g
	return g
}

// Query returns descendants of root matching sel in document order
func (d *DOM) Query(root *html.Node, sel string) []*html.Node {
	return cascadia.QueryAll(root, d.selector(sel))
}

func (d *DOM) createElement(ns, name string) *html.Node {
	switch ns {
	case nsSVG:
		ns = "svg"
	case nsMath:
		ns = "math"
	default:
		ns = ""
		name = strings.ToLower(name)
	}
	if i := strings.IndexByte(name, ':'); i >= 0 {
		name = name[i+1:]
	}
	return &html.Node{Type: html.ElementNode, DataAtom: atom.Lookup([]byte(name)), Data: name, Namespace: ns}
}

func (d *DOM) createFragment() *html.Node {
	n := &html.Node{Type: html.DocumentNode}
	d.fragments[n] = true
	return n
}

// insert moves child under parent before ref (append when ref is nil)
func (d *DOM) insert(parent, child, ref *html.Node) {
	if d.fragments[child] {
		for c := child.FirstChild; c != nil; {
			next := c.NextSibling
			d.insert(parent, c, ref)
			c = next
		}
		return
	}
	if child.Type == html.DocumentNode || contains(child, parent) {
		panic(d.rt.newError("HierarchyRequestError", "The new child element contains the parent."))
	}
	if ref != nil && ref.Parent != parent {
		panic(d.rt.newError("NotFoundError", "The node before which the new node is to be inserted is not a child of this node."))
	}
	if child == ref {
		return
	}
	if child.Parent != nil {
		child.Parent.RemoveChild(child)
	}
	if ref == nil {
		parent.AppendChild(child)
	} else {
		parent.InsertBefore(child, ref)
	}
}

func (d *DOM) setText(n *html.Node, text string) {
	removeChildren(n)
	if text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
}

func (d *DOM) setInnerHTML(n *html.Node, markup string) {
	if n.Type != html.ElementNode {
		return
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), n)
	if err != nil {
		panic(d.rt.newError("SyntaxError", err.Error()))
	}
	removeChildren(n)
	for _, c := range nodes {
		n.AppendChild(c)
	}
}

// size reports layout dimensions. There is no layout engine: explicit width
// and height attributes or pixel styles win, everything else fills the viewport.
func (d *DOM) size(n *html.Node) (float64, float64) {
	w, h := float64(d.rt.config.ViewportWidth), float64(d.rt.config.ViewportHeight)
	if n.Type != html.ElementNode {
		return 0, 0
	}
	style := parseStyle(attrValue(n, "style"))
	if v, ok := pixels(attrValue(n, "width")); ok {
		w = v
	} else if v, ok := pixels(style.get("width")); ok {
		w = v
	}
	if v, ok := pixels(attrValue(n, "height")); ok {
		h = v
	} else if v, ok := pixels(style.get("height")); ok {
		h = v
	}
	return w, h
}

func (d *DOM) rect(n *html.Node) goja.Value {
	w, h := d.size(n)
	obj := d.rt.vm.NewObject()
	for k, v := range map[string]float64{
		"x": 0, "y": 0, "top": 0, "left": 0,
		"width": w, "height": h, "right": w, "bottom": h,
	} {
		_ = obj.Set(k, v)
	}
	return obj
}

func pixels(s string) (float64, bool) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "px")
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

func nodeType(n *html.Node, fragment bool) int {
	switch {
	case fragment:
		return 11
	case n.Type == html.ElementNode:
		return 1
	case n.Type == html.TextNode:
		return 3
	case n.Type == html.CommentNode:
		return 8
	case n.Type == html.DocumentNode:
		return 9
	}
	return 0
}

func nodeName(n *html.Node) string {
	switch n.Type {
	case html.ElementNode:
		if n.Namespace == "" {
			return strings.ToUpper(n.Data)
		}
		return n.Data
	case html.TextNode:
		return "#text"
	case html.CommentNode:
		return "#comment"
	case html.DocumentNode:
		return "#document"
	}
	return ""
}

func namespaceURI(n *html.Node) string {
	switch n.Namespace {
	case "svg":
		return nsSVG
	case "math":
		return nsMath
	}
	return nsHTML
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode || n.Type == html.CommentNode {
		return n.Data
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			} else if c.Type == html.ElementNode {
				walk(c)
			}
		}
	}
	walk(n)
	return b.String()
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func attrIndex(n *html.Node, key string) int {
	for i, a := range n.Attr {
		if a.Key == key {
			return i
		}
	}
	return -1
}

func setAttribute(n *html.Node, key, val string) {
	if i := attrIndex(n, key); i >= 0 {
		n.Attr[i].Val = val
		return
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttribute(n *html.Node, key string) {
	if i := attrIndex(n, key); i >= 0 {
		n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
	}
}

func removeChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}

// contains reports whether n is other or one of its ancestors
func contains(n, other *html.Node) bool {
	for p := other; p != nil; p = p.Parent {
		if p == n {
			return true
		}
	}
	return false
}

func children(n *html.Node, elementsOnly bool) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !elementsOnly || c.Type == html.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

func sibling(n *html.Node, next, elementsOnly bool) *html.Node {
	step := func(n *html.Node) *html.Node {
		if next {
			return n.NextSibling
		}
		return n.PrevSibling
	}
	for s := step(n); s != nil; s = step(s) {
		if !elementsOnly || s.Type == html.ElementNode {
			return s
		}
	}
	return nil
}

func findElement(n *html.Node, match func(*html.Node) bool) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && match(c) {
			return c
		}
		if found := findElement(c, match); found != nil {
			return found
		}
	}
	return nil
}

func root(n *html.Node) *html.Node {
	for n.Parent != nil {
		n = n.Parent
	}
	return n
}

// comparePosition implements Node.compareDocumentPosition
func comparePosition(a, b *html.Node) int {
	const (
		disconnected = 1
		preceding    = 2
		following    = 4
		containsBit  = 8
		containedBy  = 16
		implSpecific = 32
	)
	if a == b {
		return 0
	}
	pa, pb := ancestry(a), ancestry(b)
	if pa[0] != pb[0] {
		return disconnected | implSpecific | following
	}
	i := 0
	for i < len(pa) && i < len(pb) && pa[i] == pb[i] {
		i++
	}
	switch {
	case i == len(pa):
		return containedBy | following
	case i == len(pb):
		return containsBit | preceding
	}
	for s := pa[i].NextSibling; s != nil; s = s.NextSibling {
		if s == pb[i] {
			return following
		}
	}
	return preceding
}

func ancestry(n *html.Node) []*html.Node {
	var out []*html.Node
	for p := n; p != nil; p = p.Parent {
		out = append(out, p)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
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
		_ = html.Render(&b, c)
	}
	return b.String()
}

func cloneNode(n *html.Node, deep bool) *html.Node {
	if deep {
		return host.Clone(n)
	}
	c := &html.Node{Type: n.Type, DataAtom: n.DataAtom, Data: n.Data, Namespace: n.Namespace}
	c.Attr = append([]html.Attribute(nil), n.Attr...)
	return c
}
