package host

import (
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/GriffinCanCode/Stochify/vizhost/internal/shared/types"
)

func appendElement(parent *html.Node, tag string, attrs ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: tag}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	parent.AppendChild(n)
	return n
}

func findByID(n *html.Node, id string) *html.Node {
	if v, ok := attr(n, "id"); ok && v == id && n.Type == html.ElementNode {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func TestNewHost(t *testing.T) {
	h := New("", nil)

	st := h.State()
	assert.True(t, st.ContainerPresent)
	assert.Equal(t, types.DisplayVisual, st.DisplayMode)
	assert.Empty(t, st.LastRenderedCode)
	assert.Equal(t, "viz", h.ContainerID())
	assert.Equal(t, `<div id="viz" style="width:100%;height:100%"></div>`, h.HTML())
	assert.NotNil(t, findByID(h.Document(), "viz"))
}

func TestPrepareClearsWithoutSharedPlane(t *testing.T) {
	h := New("viz", nil)

	d := h.Prepare(false)
	appendElement(d.Node(), "svg", "width", "10")
	h.Commit(d)
	require.Equal(t, `<svg width="10"></svg>`, h.InnerHTML())

	d = h.Prepare(false)
	assert.Nil(t, d.Node().FirstChild, "draft starts empty")
	assert.Same(t, d.Node(), findByID(h.Document(), "viz"), "draft is what the document exposes")
	appendElement(d.Node(), "canvas")
	h.Commit(d)

	assert.Equal(t, `<canvas></canvas>`, h.InnerHTML())
}

func TestPrepareKeepsChildrenWithSharedPlane(t *testing.T) {
	h := New("viz", nil)

	first := h.Prepare(true)
	appendElement(first.Node(), "g", "class", "axis")
	h.Commit(first)

	axis := first.Node().FirstChild
	second := h.Prepare(true)
	require.NotNil(t, second.Node().FirstChild)
	assert.Same(t, axis, second.Node().FirstChild, "nodes keep their identity across passes")
	appendElement(second.Node(), "path", "class", "trace")
	h.Commit(second)

	assert.Equal(t, `<g class="axis"></g><path class="trace"></path>`, h.InnerHTML())

	// a reference held since the first pass still reaches the document
	third := h.Prepare(true)
	appendElement(axis, "line")
	h.Commit(third)
	assert.Equal(t, `<g class="axis"><line></line></g><path class="trace"></path>`, h.InnerHTML())
}

func TestSharedPlaneRollbackRestoresInPlace(t *testing.T) {
	h := New("viz", nil)
	d := h.Prepare(false)
	svg := appendElement(d.Node(), "svg", "width", "10")
	text := &html.Node{Type: html.TextNode, Data: "label"}
	appendElement(svg, "text").AppendChild(text)
	h.Commit(d)
	before := h.HTML()
	container := findByID(h.Document(), "viz")

	d = h.Prepare(true)
	svg.Attr = nil
	text.Data = "changed"
	appendElement(svg, "circle")
	d.Node().RemoveChild(svg)
	h.body.AppendChild(svg)
	d.Node().Parent.RemoveChild(d.Node())
	h.Rollback(d)

	assert.Equal(t, before, h.HTML())
	assert.Equal(t, before, render(findByID(h.Document(), "viz")))
	assert.Same(t, container, findByID(h.Document(), "viz"))
	assert.Same(t, svg, container.FirstChild, "restored nodes are the originals")
	assert.Same(t, container, h.body.LastChild)
}

func TestSharedPlaneReadersSeeCommittedOutput(t *testing.T) {
	h := New("viz", nil)
	d := h.Prepare(false)
	appendElement(d.Node(), "svg")
	h.Commit(d)

	d = h.Prepare(true)
	appendElement(d.Node(), "rect")
	assert.Equal(t, "<svg></svg>", h.InnerHTML())
	rects, err := h.Query("rect")
	require.NoError(t, err)
	assert.Empty(t, rects)

	h.Commit(d)
	assert.Equal(t, "<svg></svg><rect></rect>", h.InnerHTML())
}

func TestRollbackRestoresByteIdentical(t *testing.T) {
	h := New("viz", nil)
	d := h.Prepare(false)
	appendElement(appendElement(d.Node(), "svg"), "circle", "r", "4")
	h.Commit(d)
	before := h.HTML()

	d = h.Prepare(true)
	d.Node().FirstChild.Attr = nil
	appendElement(d.Node(), "rect")
	d.Node().Attr = nil
	h.Rollback(d)

	assert.Equal(t, before, h.HTML())
	assert.Equal(t, before, render(findByID(h.Document(), "viz")))
}

func TestRollbackAfterSnippetDetachedContainer(t *testing.T) {
	h := New("viz", nil)
	before := h.HTML()

	d := h.Prepare(false)
	d.Node().Parent.RemoveChild(d.Node())
	h.Rollback(d)

	assert.Equal(t, before, h.HTML())
	assert.NotNil(t, findByID(h.Document(), "viz"))
}

func TestCommitReattachesDetachedContainer(t *testing.T) {
	h := New("viz", nil)

	d := h.Prepare(false)
	appendElement(d.Node(), "p")
	d.Node().Parent.RemoveChild(d.Node())
	h.Commit(d)

	assert.Same(t, d.Node(), findByID(h.Document(), "viz"))
	assert.Equal(t, "<p></p>", h.InnerHTML())
}

func TestPrepareAbandonsActiveDraft(t *testing.T) {
	h := New("viz", nil)
	before := h.HTML()

	stale := h.Prepare(false)
	appendElement(stale.Node(), "span")
	fresh := h.Prepare(false)

	// a late commit of the abandoned draft is ignored
	h.Commit(stale)
	assert.Equal(t, before, h.HTML())

	appendElement(fresh.Node(), "b")
	h.Commit(fresh)
	assert.Equal(t, "<b></b>", h.InnerHTML())

	// exactly one container in the document
	count := 0
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if v, ok := attr(n, "id"); ok && v == "viz" {
			count++
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(h.Document())
	assert.Equal(t, 1, count)
}

func TestSkeletonMarker(t *testing.T) {
	h := New("viz", nil)

	d := h.Prepare(true)
	assert.False(t, d.HasSkeleton("cartesian-2d"))
	d.MarkSkeleton("cartesian-2d")
	h.Commit(d)

	d = h.Prepare(true)
	assert.True(t, d.HasSkeleton("cartesian-2d"))
	assert.False(t, d.HasSkeleton("cartesian-3d"))
	h.Commit(d)

	d = h.Prepare(false)
	assert.False(t, d.HasSkeleton("cartesian-2d"), "cleared container loses its skeleton")
	h.Rollback(d)
}

func TestStateChanges(t *testing.T) {
	h := New("viz", nil)

	var seen atomic.Int32
	var last State
	cancel := h.Subscribe(func(s State) {
		seen.Add(1)
		last = s
	})

	d := h.Prepare(false)
	appendElement(d.Node(), "svg")
	h.Commit(d)
	rendered := h.HTML()

	h.SetLastCode("draw()")
	h.ShowError("boom")
	h.SetDisplayMode(types.DisplayCode)

	assert.Equal(t, int32(3), seen.Load())
	assert.Equal(t, "draw()", last.LastRenderedCode)
	assert.Equal(t, "boom", last.ErrorMessage)
	assert.Equal(t, types.DisplayCode, last.DisplayMode)
	assert.Equal(t, uint64(3), last.Revision)
	assert.Equal(t, rendered, h.HTML(), "mode toggling leaves the container alone")

	h.SetDisplayMode(types.DisplayVisual)
	assert.Equal(t, "draw()", h.State().LastRenderedCode, "switching modes keeps the last code")

	h.ClearError()
	assert.Empty(t, h.State().ErrorMessage)

	cancel()
	h.Settle("next()", "")
	assert.Equal(t, int32(5), seen.Load())
	assert.Equal(t, "next()", h.State().LastRenderedCode)
}

func TestSnapshotSanitizes(t *testing.T) {
	h := New("viz", nil)
	d := h.Prepare(false)
	svg := appendElement(d.Node(), "svg", "width", "100", "onload", "alert(1)")
	appendElement(svg, "circle", "cx", "5", "cy", "5", "r", "3", "fill", "steelblue")
	appendElement(d.Node(), "script").AppendChild(&html.Node{Type: html.TextNode, Data: "alert(1)"})
	h.Commit(d)

	snap := h.Snapshot()
	assert.Contains(t, snap, "<svg")
	assert.Contains(t, snap, `fill="steelblue"`)
	assert.NotContains(t, snap, "onload")
	assert.NotContains(t, snap, "<script")
	assert.True(t, strings.Contains(h.InnerHTML(), "<script"), "raw markup is untouched")
}

func TestQuery(t *testing.T) {
	h := New("viz", nil)
	d := h.Prepare(false)
	svg := appendElement(d.Node(), "svg")
	appendElement(svg, "circle", "class", "dot", "r", "1")
	appendElement(svg, "circle", "class", "dot", "r", "2")
	appendElement(svg, "rect")
	h.Commit(d)

	got, err := h.Query("circle.dot")
	require.NoError(t, err)
	assert.Equal(t, []string{`<circle class="dot" r="1"></circle>`, `<circle class="dot" r="2"></circle>`}, got)

	got, err = h.Query("line")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = h.Query("circle[")
	assert.Error(t, err)
}

func TestQueryXPath(t *testing.T) {
	h := New("viz", nil)
	d := h.Prepare(false)
	svg := appendElement(d.Node(), "svg")
	appendElement(svg, "circle", "r", "1")
	appendElement(svg, "circle", "r", "2")
	h.Commit(d)

	got, err := h.QueryXPath(`//circle[@r="2"]`)
	require.NoError(t, err)
	assert.Equal(t, []string{`<circle r="2"></circle>`}, got)

	_, err = h.QueryXPath("//circle[")
	assert.Error(t, err)
}
