package host

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/GriffinCanCode/Stochify/vizhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/Stochify/vizhost/internal/shared/types"
)

// DefaultContainerID is the id of the output container element
const DefaultContainerID = "viz"

// SkeletonAttr marks a container that already holds a coordinate-plane skeleton
const SkeletonAttr = "data-skeleton"

// State is the externally visible host state
type State struct {
	ContainerPresent bool              `json:"containerPresent"`
	DisplayMode      types.DisplayMode `json:"displayMode"`
	LastRenderedCode string            `json:"lastRenderedCode"`
	ErrorMessage     string            `json:"errorMessage,omitempty"`
	Revision         uint64            `json:"revision"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// Host owns the document and its single output container. The container
// element is created once; each execution works on a draft of it that is
// either committed or rolled back.
type Host struct {
	containerID string
	log         *logging.Logger

	mu        sync.Mutex
	doc       *html.Node
	body      *html.Node
	committed *html.Node
	active    *Draft
	state     State

	subsMu sync.Mutex
	subs   map[int]func(State)
	nextID int
}

// New builds <html><head></head><body><div id="viz"></div></body></html>
func New(containerID string, log *logging.Logger) *Host {
	if containerID == "" {
		containerID = DefaultContainerID
	}

	doc := &html.Node{Type: html.DocumentNode}
	root := element(atom.Html, "html")
	head := element(atom.Head, "head")
	body := element(atom.Body, "body")
	container := element(atom.Div, "div",
		html.Attribute{Key: "id", Val: containerID},
		html.Attribute{Key: "style", Val: "width:100%;height:100%"},
	)
	doc.AppendChild(root)
	root.AppendChild(head)
	root.AppendChild(body)
	body.AppendChild(container)

	return &Host{
		containerID: containerID,
		log:         logging.OrNop(log).Named("host"),
		doc:         doc,
		body:        body,
		committed:   container,
		state: State{
			ContainerPresent: true,
			DisplayMode:      types.DisplayVisual,
			UpdatedAt:        time.Now(),
		},
		subs: make(map[int]func(State)),
	}
}

func element(a atom.Atom, tag string, attrs ...html.Attribute) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: tag, Attr: attrs}
}

// ContainerID returns the output container element id
func (h *Host) ContainerID() string {
	return h.containerID
}

// Document returns the document root. Only the executing pass may mutate it,
// and only between Prepare and Commit or Rollback.
func (h *Host) Document() *html.Node {
	return h.doc
}

// State returns a copy of the current state
func (h *Host) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// ShowError records a message for the error banner
func (h *Host) ShowError(msg string) {
	h.update(func(s *State) { s.ErrorMessage = msg })
}

// ClearError removes the error banner
func (h *Host) ClearError() {
	h.update(func(s *State) { s.ErrorMessage = "" })
}

// SetLastCode records the code of the latest attempt, successful or not
func (h *Host) SetLastCode(code string) {
	h.update(func(s *State) { s.LastRenderedCode = code })
}

// SetDisplayMode switches the visible region. It never clears or re-executes.
func (h *Host) SetDisplayMode(mode types.DisplayMode) {
	h.update(func(s *State) { s.DisplayMode = mode })
}

// Settle applies the outcome of a pass in one state change
func (h *Host) Settle(code, errMsg string) {
	h.update(func(s *State) {
		s.LastRenderedCode = code
		s.ErrorMessage = errMsg
	})
}

func (h *Host) update(fn func(*State)) {
	h.mu.Lock()
	fn(&h.state)
	h.state.Revision++
	h.state.UpdatedAt = time.Now()
	snapshot := h.state
	h.mu.Unlock()

	h.notify(snapshot)
}

// Subscribe registers fn for every state change and returns its cancel func.
// fn runs on the goroutine that changed the state and must not block.
func (h *Host) Subscribe(fn func(State)) func() {
	h.subsMu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	h.subsMu.Unlock()

	return func() {
		h.subsMu.Lock()
		delete(h.subs, id)
		h.subsMu.Unlock()
	}
}

func (h *Host) notify(s State) {
	h.subsMu.Lock()
	fns := make([]func(State), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.subsMu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

func (h *Host) logDraft(action string, d *Draft) {
	h.log.Debug("container "+action,
		zap.Bool("shared_plane", d.sharedPlane),
		zap.Int("children", countChildren(d.node)))
}

func countChildren(n *html.Node) int {
	c := 0
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		c++
	}
	return c
}
