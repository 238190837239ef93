package host

import (
	"golang.org/x/net/html"
)

// Draft is the working container for one execution. A cleared draft sits in
// the document in place of the committed container until Commit or Rollback.
// A shared-plane draft is the committed container itself, so element
// references a snippet keeps across passes stay attached; its rollback image
// restores the subtree in place.
type Draft struct {
	host        *Host
	node        *html.Node
	previous    *html.Node
	image       []snapshot
	frozen      *html.Node
	parent      *html.Node
	next        *html.Node
	sharedPlane bool
	done        bool
}

// snapshot is one node of a rollback image
type snapshot struct {
	node     *html.Node
	data     string
	attr     []html.Attribute
	children []*html.Node
}

// Prepare opens a draft. With usesSharedPlane the committed container is
// drafted in place so earlier traces and the skeleton persist; otherwise an
// empty container is swapped in.
func (h *Host) Prepare(usesSharedPlane bool) *Draft {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.active != nil {
		h.rollbackLocked(h.active)
	}

	prev := h.committed
	d := &Draft{host: h, previous: prev, sharedPlane: usesSharedPlane}
	if usesSharedPlane {
		d.node = prev
		d.parent, d.next = prev.Parent, prev.NextSibling
		d.image = capture(prev, nil)
		d.frozen = Clone(prev)
	} else {
		d.node = &html.Node{
			Type:     html.ElementNode,
			DataAtom: prev.DataAtom,
			Data:     prev.Data,
			Attr:     copyAttrs(prev.Attr, true),
		}
		h.swap(prev, d.node)
	}

	h.active = d
	h.logDraft("prepared", d)
	return d
}

func capture(n *html.Node, image []snapshot) []snapshot {
	s := snapshot{node: n, data: n.Data, attr: copyAttrs(n.Attr, false)}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		s.children = append(s.children, c)
	}
	image = append(image, s)
	for _, c := range s.children {
		image = capture(c, image)
	}
	return image
}

// restore puts every captured node back into its captured place. Nodes the
// execution created fall away with the links that held them.
func (d *Draft) restore() {
	for _, s := range d.image {
		for c := s.node.FirstChild; c != nil; c = s.node.FirstChild {
			s.node.RemoveChild(c)
		}
	}
	for _, s := range d.image {
		s.node.Data = s.data
		s.node.Attr = s.attr
		for _, c := range s.children {
			if c.Parent != nil {
				c.Parent.RemoveChild(c)
			}
			s.node.AppendChild(c)
		}
	}
}

// Node returns the draft container element
func (d *Draft) Node() *html.Node {
	return d.node
}

// SharedPlane reports whether the draft kept the committed children
func (d *Draft) SharedPlane() bool {
	return d.sharedPlane
}

// HasSkeleton reports whether the draft already carries skeleton id
func (d *Draft) HasSkeleton(id string) bool {
	v, ok := attr(d.node, SkeletonAttr)
	return ok && v == id
}

// MarkSkeleton records that skeleton id has been drawn into the draft
func (d *Draft) MarkSkeleton(id string) {
	setAttr(d.node, SkeletonAttr, id)
}

// Commit makes the draft the committed container
func (h *Host) Commit(d *Draft) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if d.done || h.active != d {
		return
	}
	// a snippet may have detached the container; it is the output all the same
	if d.node.Parent == nil {
		h.body.AppendChild(d.node)
	}
	h.committed = d.node
	h.active = nil
	d.done = true
	h.logDraft("committed", d)
}

// Rollback restores the committed container exactly as it was before Prepare
func (h *Host) Rollback(d *Draft) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rollbackLocked(d)
}

func (h *Host) rollbackLocked(d *Draft) {
	if d.done || h.active != d {
		return
	}
	if d.sharedPlane {
		d.restore()
		h.reattach(d)
	} else {
		h.swap(d.node, d.previous)
	}
	h.active = nil
	d.done = true
	h.logDraft("rolled back", d)
}

// reattach returns a shared-plane container to where Prepare found it
func (h *Host) reattach(d *Draft) {
	n := d.node
	if n.Parent == d.parent && n.NextSibling == d.next {
		return
	}
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
	switch {
	case d.parent == nil:
		h.body.AppendChild(n)
	case d.next != nil && d.next.Parent == d.parent:
		d.parent.InsertBefore(n, d.next)
	default:
		d.parent.AppendChild(n)
	}
}

// swap puts in where out is. A detached out leaves in appended to the body.
func (h *Host) swap(out, in *html.Node) {
	if in.Parent != nil {
		in.Parent.RemoveChild(in)
	}
	if parent := out.Parent; parent != nil {
		parent.InsertBefore(in, out)
		parent.RemoveChild(out)
		return
	}
	h.body.AppendChild(in)
}

// Clone deep-copies a node and its subtree
func Clone(n *html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      copyAttrs(n.Attr, false),
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		c.AppendChild(Clone(ch))
	}
	return c
}

func copyAttrs(attrs []html.Attribute, dropSkeleton bool) []html.Attribute {
	out := make([]html.Attribute, 0, len(attrs))
	for _, a := range attrs {
		if dropSkeleton && a.Key == SkeletonAttr {
			continue
		}
		out = append(out, a)
	}
	return out
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
