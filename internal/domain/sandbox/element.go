package sandbox

import (
	"sort"
	"strings"

	"github.com/dop251/goja"
	"golang.org/x/net/html"
)

// element is the goja.DynamicObject behind every node object. Known DOM
// properties and methods are resolved live against the html.Node; any other
// property is an expando kept for the rest of the execution.
type element struct {
	dom   *DOM
	node  *html.Node
	obj   *goja.Object
	props map[string]goja.Value
	fns   map[string]goja.Value
	style *goja.Object
}

type method func(e *element, call goja.FunctionCall) goja.Value

func (e *element) isDocument() bool {
	return e.node == e.dom.doc
}

func (e *element) Get(key string) goja.Value {
	if v, ok := e.prop(key); ok {
		return v
	}
	if fn, ok := e.method(key); ok {
		return fn
	}
	if v, ok := e.props[key]; ok {
		return v
	}
	return nil
}

func (e *element) Set(key string, val goja.Value) bool {
	if e.setProp(key, val) {
		return true
	}
	e.props[key] = val
	return true
}

func (e *element) Has(key string) bool {
	if _, ok := e.prop(key); ok {
		return true
	}
	if _, ok := e.lookupMethod(key); ok {
		return true
	}
	_, ok := e.props[key]
	return ok
}

func (e *element) Delete(key string) bool {
	delete(e.props, key)
	return true
}

func (e *element) Keys() []string {
	keys := make([]string, 0, len(e.props))
	for k := range e.props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e *element) lookupMethod(key string) (method, bool) {
	if e.isDocument() {
		if m, ok := documentMethods[key]; ok {
			return m, true
		}
	}
	m, ok := nodeMethods[key]
	return m, ok
}

func (e *element) method(key string) (goja.Value, bool) {
	if fn, ok := e.fns[key]; ok {
		return fn, true
	}
	m, ok := e.lookupMethod(key)
	if !ok {
		return nil, false
	}
	fn := e.dom.rt.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		return m(e, call)
	})
	e.fns[key] = fn
	return fn, true
}

func (e *element) prop(key string) (goja.Value, bool) {
	d, n := e.dom, e.node
	vm := d.rt.vm
	isElement := n.Type == html.ElementNode

	if e.isDocument() {
		switch key {
		case "documentElement":
			return d.wrap(findElement(n, func(*html.Node) bool { return true })), true
		case "head", "body":
			return d.wrap(findElement(n, func(c *html.Node) bool { return c.Data == key && c.Namespace == "" })), true
		case "defaultView":
			return vm.GlobalObject(), true
		case "ownerDocument", "textContent", "parentNode", "parentElement":
			return goja.Null(), true
		}
	}

	switch key {
	case "nodeType":
		return vm.ToValue(nodeType(n, d.fragments[n])), true
	case "nodeName":
		return vm.ToValue(nodeName(n)), true
	case "tagName", "localName":
		if !isElement {
			return goja.Undefined(), true
		}
		if key == "localName" {
			return vm.ToValue(n.Data), true
		}
		return vm.ToValue(nodeName(n)), true
	case "namespaceURI":
		if !isElement {
			return goja.Null(), true
		}
		return vm.ToValue(namespaceURI(n)), true
	case "ownerDocument":
		return d.document(), true
	case "parentNode":
		return d.wrap(n.Parent), true
	case "parentElement":
		if n.Parent != nil && n.Parent.Type == html.ElementNode {
			return d.wrap(n.Parent), true
		}
		return goja.Null(), true
	case "isConnected":
		return vm.ToValue(root(n) == d.doc), true
	case "firstChild":
		return d.wrap(n.FirstChild), true
	case "lastChild":
		return d.wrap(n.LastChild), true
	case "nextSibling":
		return d.wrap(n.NextSibling), true
	case "previousSibling":
		return d.wrap(n.PrevSibling), true
	case "nextElementSibling":
		return d.wrap(sibling(n, true, true)), true
	case "previousElementSibling":
		return d.wrap(sibling(n, false, true)), true
	case "firstElementChild":
		return d.wrap(findChild(n, true)), true
	case "lastElementChild":
		return d.wrap(findChild(n, false)), true
	case "childNodes":
		return d.list(children(n, false)), true
	case "children":
		return d.list(children(n, true)), true
	case "childElementCount":
		return vm.ToValue(len(children(n, true))), true
	case "textContent":
		return vm.ToValue(textContent(n)), true
	case "nodeValue", "data":
		if n.Type == html.TextNode || n.Type == html.CommentNode {
			return vm.ToValue(n.Data), true
		}
		return goja.Null(), true
	}

	if !isElement {
		return nil, false
	}
	switch key {
	case "innerHTML":
		return vm.ToValue(renderChildren(n)), true
	case "outerHTML":
		return vm.ToValue(render(n)), true
	case "id":
		return vm.ToValue(attrValue(n, "id")), true
	case "className":
		return vm.ToValue(attrValue(n, "class")), true
	case "style":
		return e.styleObject(), true
	case "clientWidth", "offsetWidth", "scrollWidth":
		w, _ := d.size(n)
		return vm.ToValue(w), true
	case "clientHeight", "offsetHeight", "scrollHeight":
		_, h := d.size(n)
		return vm.ToValue(h), true
	}
	return nil, false
}

func (e *element) setProp(key string, val goja.Value) bool {
	d, n := e.dom, e.node
	switch key {
	case "textContent", "nodeValue", "data":
		if n.Type == html.TextNode || n.Type == html.CommentNode {
			n.Data = val.String()
			return true
		}
		if key == "textContent" && n.Type == html.ElementNode {
			d.setText(n, stringOrEmpty(val))
			return true
		}
	case "innerHTML":
		d.setInnerHTML(n, stringOrEmpty(val))
		return true
	case "id":
		setAttribute(n, "id", val.String())
		return true
	case "className":
		setAttribute(n, "class", val.String())
		return true
	case "style":
		setAttribute(n, "style", val.String())
		return true
	case "nodeType", "nodeName", "tagName", "parentNode", "firstChild", "lastChild",
		"nextSibling", "previousSibling", "childNodes", "children", "ownerDocument":
		// read-only
		return true
	}
	return false
}

func stringOrEmpty(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

func findChild(n *html.Node, first bool) *html.Node {
	c := n.FirstChild
	if !first {
		c = n.LastChild
	}
	for ; c != nil; c = sibling(c, first, false) {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

var nodeMethods = map[string]method{
	"appendChild": func(e *element, call goja.FunctionCall) goja.Value {
		child := e.dom.node(call.Argument(0), "appendChild")
		e.dom.insert(e.node, child, nil)
		return call.Argument(0)
	},
	"append": func(e *element, call goja.FunctionCall) goja.Value {
		for _, arg := range call.Arguments {
			e.dom.insert(e.node, e.dom.nodeOrText(arg), nil)
		}
		return goja.Undefined()
	},
	"insertBefore": func(e *element, call goja.FunctionCall) goja.Value {
		child := e.dom.node(call.Argument(0), "insertBefore")
		ref := e.dom.optionalNode(call.Argument(1), "insertBefore")
		e.dom.insert(e.node, child, ref)
		return call.Argument(0)
	},
	"removeChild": func(e *element, call goja.FunctionCall) goja.Value {
		child := e.dom.node(call.Argument(0), "removeChild")
		if child.Parent != e.node {
			panic(e.dom.rt.newError("NotFoundError", "The node to be removed is not a child of this node."))
		}
		e.node.RemoveChild(child)
		return call.Argument(0)
	},
	"replaceChild": func(e *element, call goja.FunctionCall) goja.Value {
		next := e.dom.node(call.Argument(0), "replaceChild")
		old := e.dom.node(call.Argument(1), "replaceChild")
		if old.Parent != e.node {
			panic(e.dom.rt.newError("NotFoundError", "The node to be replaced is not a child of this node."))
		}
		if next != old {
			e.dom.insert(e.node, next, old)
			e.node.RemoveChild(old)
		}
		return call.Argument(1)
	},
	"remove": func(e *element, call goja.FunctionCall) goja.Value {
		if e.node.Parent != nil {
			e.node.Parent.RemoveChild(e.node)
		}
		return goja.Undefined()
	},
	"cloneNode": func(e *element, call goja.FunctionCall) goja.Value {
		return e.dom.wrap(cloneNode(e.node, call.Argument(0).ToBoolean()))
	},
	"contains": func(e *element, call goja.FunctionCall) goja.Value {
		other := e.dom.optionalNode(call.Argument(0), "contains")
		return e.dom.rt.vm.ToValue(other != nil && contains(e.node, other))
	},
	"hasChildNodes": func(e *element, call goja.FunctionCall) goja.Value {
		return e.dom.rt.vm.ToValue(e.node.FirstChild != nil)
	},
	"compareDocumentPosition": func(e *element, call goja.FunctionCall) goja.Value {
		other := e.dom.node(call.Argument(0), "compareDocumentPosition")
		return e.dom.rt.vm.ToValue(comparePosition(e.node, other))
	},
	"getRootNode": func(e *element, call goja.FunctionCall) goja.Value {
		return e.dom.wrap(root(e.node))
	},

	"getAttribute": func(e *element, call goja.FunctionCall) goja.Value {
		if i := attrIndex(e.node, call.Argument(0).String()); i >= 0 {
			return e.dom.rt.vm.ToValue(e.node.Attr[i].Val)
		}
		return goja.Null()
	},
	"getAttributeNS": func(e *element, call goja.FunctionCall) goja.Value {
		if i := attrIndex(e.node, call.Argument(1).String()); i >= 0 {
			return e.dom.rt.vm.ToValue(e.node.Attr[i].Val)
		}
		return goja.Null()
	},
	"setAttribute": func(e *element, call goja.FunctionCall) goja.Value {
		setAttribute(e.node, call.Argument(0).String(), call.Argument(1).String())
		return goja.Undefined()
	},
	"setAttributeNS": func(e *element, call goja.FunctionCall) goja.Value {
		setAttribute(e.node, call.Argument(1).String(), call.Argument(2).String())
		return goja.Undefined()
	},
	"removeAttribute": func(e *element, call goja.FunctionCall) goja.Value {
		removeAttribute(e.node, call.Argument(0).String())
		return goja.Undefined()
	},
	"removeAttributeNS": func(e *element, call goja.FunctionCall) goja.Value {
		removeAttribute(e.node, call.Argument(1).String())
		return goja.Undefined()
	},
	"hasAttribute": func(e *element, call goja.FunctionCall) goja.Value {
		return e.dom.rt.vm.ToValue(attrIndex(e.node, call.Argument(0).String()) >= 0)
	},
	"getAttributeNames": func(e *element, call goja.FunctionCall) goja.Value {
		names := make([]interface{}, len(e.node.Attr))
		for i, a := range e.node.Attr {
			names[i] = a.Key
		}
		return e.dom.rt.vm.NewArray(names...)
	},

	"querySelector": func(e *element, call goja.FunctionCall) goja.Value {
		if found := e.dom.Query(e.node, call.Argument(0).String()); len(found) > 0 {
			return e.dom.wrap(found[0])
		}
		return goja.Null()
	},
	"querySelectorAll": func(e *element, call goja.FunctionCall) goja.Value {
		return e.dom.list(e.dom.Query(e.node, call.Argument(0).String()))
	},
	"getElementsByTagName": func(e *element, call goja.FunctionCall) goja.Value {
		tag := call.Argument(0).String()
		if tag == "*" {
			return e.dom.list(e.dom.Query(e.node, "*"))
		}
		return e.dom.list(e.dom.Query(e.node, tag))
	},
	"getElementsByClassName": func(e *element, call goja.FunctionCall) goja.Value {
		fields := strings.Fields(call.Argument(0).String())
		if len(fields) == 0 {
			return e.dom.list(nil)
		}
		return e.dom.list(e.dom.Query(e.node, "."+strings.Join(fields, ".")))
	},
	"matches": func(e *element, call goja.FunctionCall) goja.Value {
		sel := e.dom.selector(call.Argument(0).String())
		return e.dom.rt.vm.ToValue(e.node.Type == html.ElementNode && sel.Match(e.node))
	},
	"closest": func(e *element, call goja.FunctionCall) goja.Value {
		sel := e.dom.selector(call.Argument(0).String())
		for p := e.node; p != nil; p = p.Parent {
			if p.Type == html.ElementNode && sel.Match(p) {
				return e.dom.wrap(p)
			}
		}
		return goja.Null()
	},

	// no events are ever delivered
	"addEventListener":    noop,
	"removeEventListener": noop,
	"focus":               noop,
	"blur":                noop,
	"dispatchEvent": func(e *element, call goja.FunctionCall) goja.Value {
		return e.dom.rt.vm.ToValue(true)
	},

	"getBoundingClientRect": func(e *element, call goja.FunctionCall) goja.Value {
		return e.dom.rect(e.node)
	},
	"getBBox": func(e *element, call goja.FunctionCall) goja.Value {
		return e.dom.rect(e.node)
	},
	"getComputedTextLength": func(e *element, call goja.FunctionCall) goja.Value {
		return e.dom.rt.vm.ToValue(0)
	},
	// no canvas backend
	"getContext": func(e *element, call goja.FunctionCall) goja.Value {
		return goja.Null()
	},
}

var documentMethods = map[string]method{
	"createElement": func(e *element, call goja.FunctionCall) goja.Value {
		return e.dom.wrap(e.dom.createElement(nsHTML, call.Argument(0).String()))
	},
	"createElementNS": func(e *element, call goja.FunctionCall) goja.Value {
		return e.dom.wrap(e.dom.createElement(stringOrEmpty(call.Argument(0)), call.Argument(1).String()))
	},
	"createTextNode": func(e *element, call goja.FunctionCall) goja.Value {
		return e.dom.wrap(&html.Node{Type: html.TextNode, Data: call.Argument(0).String()})
	},
	"createComment": func(e *element, call goja.FunctionCall) goja.Value {
		return e.dom.wrap(&html.Node{Type: html.CommentNode, Data: call.Argument(0).String()})
	},
	"createDocumentFragment": func(e *element, call goja.FunctionCall) goja.Value {
		return e.dom.wrap(e.dom.createFragment())
	},
	"getElementById": func(e *element, call goja.FunctionCall) goja.Value {
		id := call.Argument(0).String()
		return e.dom.wrap(findElement(e.node, func(c *html.Node) bool { return attrValue(c, "id") == id }))
	},
}

func noop(e *element, call goja.FunctionCall) goja.Value {
	return goja.Undefined()
}

// nodeOrText unwraps a node argument or turns any other value into a text node
func (d *DOM) nodeOrText(v goja.Value) *html.Node {
	if obj, ok := v.(*goja.Object); ok {
		if e, ok := d.objs[obj]; ok {
			return e.node
		}
	}
	return &html.Node{Type: html.TextNode, Data: v.String()}
}
